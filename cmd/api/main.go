// cmd/api/main.go
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

	_ "doc-ingest-service/docs"
	"doc-ingest-service/internal/app"
	"doc-ingest-service/internal/config"
	"doc-ingest-service/internal/observability"
	"doc-ingest-service/internal/repository/postgresql"
	redisrepo "doc-ingest-service/internal/repository/redis"
	"doc-ingest-service/internal/service"
	httptransport "doc-ingest-service/internal/transport/http"
)

// @title Document Ingest API
// @version 1.0
// @description Upload PDF and DOCX documents for background text extraction and chunking, then poll the task status.
// @BasePath /
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	pool, err := postgresql.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("pg: %v", err)
	}
	defer pool.Close()
	if err := postgresql.Migrate(ctx, pool); err != nil {
		log.Fatalf("pg migrate: %v", err)
	}

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
	var metricsHandler http.Handler
	var uploadOpts []service.UploadOption
	if cfg.MetricsEnabled {
		h, shutdownMetrics, err := observability.InitMetrics()
		if err != nil {
			log.Fatalf("metrics: %v", err)
		}
		defer func() {
			if err := shutdownMetrics(context.Background()); err != nil {
				log.Printf("[api] metrics shutdown error=%v", err)
			}
		}()
		metricsHandler = h

		um, err := observability.NewUploadMetrics()
		if err != nil {
			log.Fatalf("metrics: %v", err)
		}
		uploadOpts = append(uploadOpts, service.WithUploadObserver(um))

		if dr, ok := queue.(service.DepthReporter); ok {
			if err := observability.RegisterQueueDepth(dr.Depth); err != nil {
				log.Printf("[api] queue depth metric error=%v", err)
			}
		}
	}

	// DI
	uploads := service.NewUploadService(blobs, queue, uploadOpts...)
	docs := service.NewDocumentService(
		postgresql.NewDocumentRepository(pool),
		redisrepo.NewStatusRegistry(rdb, cfg.StatusTTL),
	)
	handler := httptransport.NewHandler(uploads, docs)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler: httptransport.Routes(handler, httptransport.RouteOptions{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			Metrics:        metricsHandler,
			UploadRate:     cfg.UploadRateLimit,
			UploadBurst:    cfg.UploadRateBurst,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Printf("[api] config addr=%s queue_backend=%s blob_backend=%s redis_addr=%s postgres_dsn=%s",
		cfg.HTTPAddr, cfg.QueueBackend, cfg.BlobBackend, cfg.RedisAddr, config.RedactDSN(cfg.PostgresDSN),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("[api] listening addr=%s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Printf("[api] stopped with error: %v", err)
		return
	}
	log.Println("[api] stopped")
}
