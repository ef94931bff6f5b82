package httptransport

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"doc-ingest-service/internal/repository/postgresql"
	"doc-ingest-service/internal/service"
)

const (
	msgUnsupportedFormat = "File type not allowed. Only PDF and DOCX are accepted."
	msgFileTooLarge      = "File too large. Max size is 20MB."
	msgDocumentNotFound  = "Document not found"
)

type apiError struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, apiError{Message: msg})
}

// writeServiceErr maps service and repository errors to a status code.
// Anything unrecognised is a 500 with the generic msg; the cause is only logged.
func writeServiceErr(w http.ResponseWriter, r *http.Request, err error, msg string) {
	switch {
	case errors.Is(err, service.ErrUnsupportedFormat):
		writeErr(w, http.StatusBadRequest, msgUnsupportedFormat)
	case errors.Is(err, service.ErrFileTooLarge):
		writeErr(w, http.StatusRequestEntityTooLarge, msgFileTooLarge)
	case errors.Is(err, service.ErrInvalidRequest):
		writeErr(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, postgresql.ErrNotFound):
		writeErr(w, http.StatusNotFound, msgDocumentNotFound)
	default:
		log.Printf("[http] req_id=%s path=%s error=%v", middleware.GetReqID(r.Context()), r.URL.Path, err)
		writeErr(w, http.StatusInternalServerError, msg)
	}
}
