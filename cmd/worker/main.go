// cmd/worker/main.go
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"doc-ingest-service/internal/app"
	"doc-ingest-service/internal/config"
	"doc-ingest-service/internal/extract"
	"doc-ingest-service/internal/observability"
	"doc-ingest-service/internal/repository/postgresql"
	redisrepo "doc-ingest-service/internal/repository/redis"
	"doc-ingest-service/internal/service"
	"doc-ingest-service/internal/worker"
)

// reaperGrace is added to the hard time limit before a claimed task counts as lost.
const reaperGrace = time.Minute

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Postgres
	pool, err := postgresql.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("pg: %v", err)
	}
	defer pool.Close()
	if err := postgresql.Migrate(ctx, pool); err != nil {
		log.Fatalf("pg migrate: %v", err)
	}

	// Redis
	rdb, err := app.NewRedis(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer rdb.Close()

	blobs, err := app.NewBlobStore(ctx, cfg, rdb)
	if err != nil {
		log.Fatalf("blob store: %v", err)
	}
	queue, queueCloser, err := app.NewQueue(cfg, rdb)
	if err != nil {
		log.Fatal(err)
	}
	defer queueCloser.Close()

	// Metrics
	var observer worker.TaskObserver
	var metricsSrv *http.Server
	if cfg.MetricsEnabled {
		h, shutdownMetrics, err := observability.InitMetrics()
		if err != nil {
			log.Fatalf("metrics: %v", err)
		}
		defer func() {
			if err := shutdownMetrics(context.Background()); err != nil {
				log.Printf("[worker] metrics shutdown error=%v", err)
			}
		}()
		pm, err := observability.NewPipelineMetrics()
		if err != nil {
			log.Fatalf("metrics: %v", err)
		}
		observer = pm
		if dr, ok := queue.(service.DepthReporter); ok {
			if err := observability.RegisterQueueDepth(dr.Depth); err != nil {
				log.Printf("[worker] queue depth metric error=%v", err)
			}
		}

		mux := http.NewServeMux()
		mux.Handle("/metrics", h)
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	}

	// DI
	repo := postgresql.NewDocumentRepository(pool)
	statuses := redisrepo.NewStatusRegistry(rdb, cfg.StatusTTL)
	processor := worker.NewProcessor(repo, statuses, blobs, extract.Default(cfg.ExtractTmpDir), worker.Options{
		ChunkSize:     cfg.ChunkSize,
		TimeLimit:     cfg.TaskTimeLimit,
		SoftTimeLimit: cfg.TaskSoftTimeLimit,
		Observer:      observer,
	})
	workers := worker.NewPool(queue, processor, cfg.Workers)
	reaper := worker.NewReaper(queue, statuses, blobs, cfg.TaskTimeLimit+reaperGrace, cfg.ReaperInterval)

	log.Printf("[worker] config workers=%d chunk_size=%d queue_backend=%s blob_backend=%s time_limit=%s redis_addr=%s postgres_dsn=%s",
		cfg.Workers, cfg.ChunkSize, cfg.QueueBackend, cfg.BlobBackend, cfg.TaskTimeLimit, cfg.RedisAddr, config.RedactDSN(cfg.PostgresDSN),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		workers.Run(gctx)
		return nil
	})
	g.Go(func() error { return reaper.Run(gctx) })
	if metricsSrv != nil {
		g.Go(func() error {
			log.Printf("[worker] metrics addr=%s", cfg.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsSrv.Shutdown(shutdownCtx)
		})
	}
	if cfg.RetentionDays > 0 {
		retention := worker.NewRetention(repo, time.Duration(cfg.RetentionDays)*24*time.Hour, cfg.RetentionInterval)
		g.Go(func() error { return retention.Run(gctx) })
		log.Printf("[worker] retention days=%d interval=%s", cfg.RetentionDays, cfg.RetentionInterval)
	}

	if err := g.Wait(); err != nil {
		log.Printf("[worker] stopped with error: %v", err)
		return
	}
	log.Println("[worker] stopped")
}
