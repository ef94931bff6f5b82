package httptransport

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"doc-ingest-service/internal/entity"
	"doc-ingest-service/internal/service"
)

const (
	// multipart framing allowance on top of the file itself
	multipartOverhead = 1 << 20
	multipartMemory   = 32 << 20
)

type Handler struct {
	uploads *service.UploadService
	docs    *service.DocumentService
}

func NewHandler(uploads *service.UploadService, docs *service.DocumentService) *Handler {
	return &Handler{uploads: uploads, docs: docs}
}

type uploadResp struct {
	TaskID  string `json:"task_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type taskResultResp struct {
	DocumentID int64 `json:"document_id"`
	NumChunks  int   `json:"num_chunks"`
}

type taskStatusResp struct {
	TaskID   string           `json:"task_id"`
	State    entity.TaskState `json:"state"`
	Progress int              `json:"progress"`
	Message  string           `json:"message"`
	Result   *taskResultResp  `json:"result,omitempty"`
	Error    string           `json:"error,omitempty"`
}

type documentResp struct {
	ID          int64  `json:"id"`
	OwnerID     int64  `json:"owner_id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	UploadTime  string `json:"upload_time"`
	NumChunks   int    `json:"num_chunks"`
}

type documentListResp struct {
	Documents  []documentResp `json:"documents"`
	TotalCount int64          `json:"total_count"`
	Skip       int            `json:"skip"`
	Limit      int            `json:"limit"`
}

type chunkResp struct {
	ID         int64  `json:"id"`
	ChunkIndex int    `json:"chunk_index"`
	Text       string `json:"text"`
}

type chunkListResp struct {
	Document    documentResp `json:"document"`
	Chunks      []chunkResp  `json:"chunks"`
	TotalChunks int          `json:"total_chunks"`
	Skip        int          `json:"skip"`
	Limit       int          `json:"limit"`
}

func toDocumentResp(d entity.Document) documentResp {
	return documentResp{
		ID:          d.ID,
		OwnerID:     d.OwnerID,
		Filename:    d.Filename,
		ContentType: d.ContentType,
		UploadTime:  d.UploadTime.UTC().Format(time.RFC3339),
		NumChunks:   d.NumChunks,
	}
}

// UploadDocument godoc
// @Summary Upload a document
// @Description Validates a PDF or DOCX upload and queues it for background text extraction and chunking.
// @Tags documents
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "PDF or DOCX file, at most 20MB"
// @Param owner_id query int true "owner id"
// @Success 202 {object} uploadResp
// @Failure 400 {object} apiError
// @Failure 413 {object} apiError
// @Failure 429 {object} apiError
// @Failure 500 {object} apiError
// @Router /documents [post]
func (h *Handler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, service.MaxUploadSize+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if isBodyTooLarge(err) {
			writeErr(w, http.StatusRequestEntityTooLarge, msgFileTooLarge)
			return
		}
		writeErr(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	ownerID, err := parseOwnerID(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeErr(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, service.MaxUploadSize+1))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "could not read file")
		return
	}

	id, err := h.uploads.Submit(r.Context(), service.UploadRequest{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		OwnerID:     ownerID,
		Data:        data,
	})
	if err != nil {
		writeServiceErr(w, r, err, "could not queue document")
		return
	}

	writeJSON(w, http.StatusAccepted, uploadResp{
		TaskID:  id.String(),
		Status:  "processing",
		Message: "Document uploaded and queued for processing",
	})
}

// GetTaskStatus godoc
// @Summary Get processing status
// @Description Unknown task ids are reported as PENDING.
// @Tags documents
// @Produce json
// @Param task_id path string true "task id"
// @Success 200 {object} taskStatusResp
// @Failure 500 {object} apiError
// @Router /documents/task/{task_id} [get]
func (h *Handler) GetTaskStatus(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")

	st, err := h.docs.TaskStatus(r.Context(), taskID)
	if err != nil {
		writeServiceErr(w, r, err, "could not read task status")
		return
	}

	resp := taskStatusResp{
		TaskID:   taskID,
		State:    st.State,
		Progress: st.Progress,
		Message:  st.Message,
		Error:    st.Error,
	}
	if st.Result != nil {
		resp.Result = &taskResultResp{DocumentID: st.Result.DocumentID, NumChunks: st.Result.NumChunks}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListDocuments godoc
// @Summary List documents
// @Description Newest first.
// @Tags documents
// @Produce json
// @Param skip query int false "offset" default(0)
// @Param limit query int false "page size, max 1000" default(100)
// @Param owner_id query int false "only this owner's documents"
// @Success 200 {object} documentListResp
// @Failure 400 {object} apiError
// @Failure 500 {object} apiError
// @Router /documents [get]
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	var ownerID *int64
	if raw := r.URL.Query().Get("owner_id"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeErr(w, http.StatusBadRequest, "invalid owner_id")
			return
		}
		ownerID = &v
	}

	res, err := h.docs.ListDocuments(r.Context(), ownerID, page)
	if err != nil {
		writeServiceErr(w, r, err, "could not list documents")
		return
	}

	resp := documentListResp{
		Documents:  make([]documentResp, 0, len(res.Documents)),
		TotalCount: res.Total,
		Skip:       res.Skip,
		Limit:      res.Limit,
	}
	for _, d := range res.Documents {
		resp.Documents = append(resp.Documents, toDocumentResp(d))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetDocumentChunks godoc
// @Summary List a document's chunks
// @Description Chunks in chunk_index order.
// @Tags documents
// @Produce json
// @Param id path int true "document id"
// @Param skip query int false "offset" default(0)
// @Param limit query int false "page size, max 1000" default(100)
// @Success 200 {object} chunkListResp
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Failure 500 {object} apiError
// @Router /documents/{id}/chunks [get]
func (h *Handler) GetDocumentChunks(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return
	}
	page, err := parsePage(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.docs.DocumentChunks(r.Context(), id, page)
	if err != nil {
		writeServiceErr(w, r, err, "could not list chunks")
		return
	}

	resp := chunkListResp{
		Document:    toDocumentResp(*res.Document),
		Chunks:      make([]chunkResp, 0, len(res.Chunks)),
		TotalChunks: res.Document.NumChunks,
		Skip:        res.Skip,
		Limit:       res.Limit,
	}
	for _, c := range res.Chunks {
		resp.Chunks = append(resp.Chunks, chunkResp{ID: c.ID, ChunkIndex: c.Index, Text: c.Text})
	}
	writeJSON(w, http.StatusOK, resp)
}

func parseOwnerID(r *http.Request) (int64, error) {
	raw := r.URL.Query().Get("owner_id")
	if raw == "" {
		raw = r.FormValue("owner_id")
	}
	if raw == "" {
		return 0, errors.New("owner_id is required")
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errors.New("invalid owner_id")
	}
	return v, nil
}

func parsePage(r *http.Request) (service.Page, error) {
	page := service.Page{Limit: service.DefaultPageLimit}
	q := r.URL.Query()
	if raw := q.Get("skip"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return page, errors.New("invalid skip")
		}
		page.Skip = v
	}
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return page, errors.New("invalid limit")
		}
		page.Limit = v
	}
	return page, nil
}

func isBodyTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe) || strings.Contains(err.Error(), "request body too large")
}
