package web

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/gradeinsight/gradeport/internal/ingest"
	"github.com/gradeinsight/gradeport/internal/logging"
)

// handleUpload ingests one grade sheet for the tenant in the URL. The file
// arrives either as a multipart "file" field or as the raw request body.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	if tenantID == "" {
		writeError(w, r, http.StatusBadRequest, "missing tenant id", "bad_request")
		return
	}

	data, filename, err := readUploadBody(w, r, s.maxBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.As(err, new(*http.MaxBytesError)) {
			status = http.StatusRequestEntityTooLarge
		}
		writeError(w, r, status, err.Error(), "bad_request")
		return
	}

	report, err := s.ingest.Ingest(r.Context(), tenantID, filename, data)
	if err != nil {
		status, kind := statusForError(err)
		if status == http.StatusServiceUnavailable {
			w.Header().Set("Retry-After", "30")
		}
		writeError(w, r, status, err.Error(), kind)
		return
	}

	writeJSON(w, r, http.StatusOK, report)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"status":         "ok",
		"active_uploads": s.ingest.ActiveUploads(),
	})
}

// readUploadBody extracts the uploaded bytes and original filename from a
// multipart form or a raw body, bounded by maxBody.
func readUploadBody(w http.ResponseWriter, r *http.Request, maxBody int64) ([]byte, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)

	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if strings.HasPrefix(ct, "multipart/") {
		if err := r.ParseMultipartForm(maxBody); err != nil {
			return nil, "", err
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			return nil, "", errors.New("no file field in form")
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			return nil, "", err
		}
		return data, header.Filename, nil
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, "", err
	}
	return data, "upload.csv", nil
}

// statusForError maps an ingest error to an HTTP status and a stable kind
// string for the response body.
func statusForError(err error) (int, string) {
	var ie *ingest.Error
	if !errors.As(err, &ie) {
		return http.StatusInternalServerError, "internal"
	}

	switch ie.Kind {
	case ingest.KindMalformedInput, ingest.KindSchema:
		return http.StatusBadRequest, ie.Kind.String()
	case ingest.KindFileTooLarge:
		return http.StatusRequestEntityTooLarge, ie.Kind.String()
	case ingest.KindTenantUnavailable:
		return http.StatusNotFound, ie.Kind.String()
	case ingest.KindStorageConflict:
		return http.StatusConflict, ie.Kind.String()
	case ingest.KindTooBusy:
		return http.StatusServiceUnavailable, ie.Kind.String()
	case ingest.KindStorageTimeout:
		return http.StatusGatewayTimeout, ie.Kind.String()
	default:
		return http.StatusInternalServerError, ie.Kind.String()
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, message, kind string) {
	logging.FromContext(r.Context()).Warn("request rejected",
		"status", status, "kind", kind, "error", message)

	writeJSON(w, r, status, map[string]string{
		"error": message,
		"kind":  kind,
	})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("json encode failed", "error", err)
	}
}
