package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"modeldrop/internal/config"
	"modeldrop/internal/live"
	"modeldrop/internal/logging"
	"modeldrop/internal/storage"
)

const (
	// uploadField is the multipart field carrying the model file.
	uploadField = "model"
	// multipartMemory is how much of a multipart body is held in memory
	// before parts spill to temporary files.
	multipartMemory = 32 << 20
)

// uploadHandler handles POST /api/upload. It validates the declared content
// type, stores the file under its object key and answers with the file's
// URL. Connected live clients are told about the upload only once the
// object is stored.
//
// Required form field: model (the binary file data)
func (cfg Config) uploadHandler(store storage.Store, events live.Publisher, m *Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rid := RequestIDFromContext(r.Context())

		r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxUploadBytes)
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				m.RecordOperation(opUpload, outcomeRejected)
				clientError(w, r, http.StatusRequestEntityTooLarge, "File too large")
				return
			}
			m.RecordOperation(opUpload, outcomeRejected)
			clientError(w, r, http.StatusBadRequest, "No file uploaded")
			return
		}
		defer func() { _ = r.MultipartForm.RemoveAll() }()

		file, header, err := r.FormFile(uploadField)
		if err != nil {
			m.RecordOperation(opUpload, outcomeRejected)
			clientError(w, r, http.StatusBadRequest, "No file uploaded")
			return
		}
		defer file.Close()

		contentType := header.Header.Get("Content-Type")
		if err := ValidateModelMimeType(contentType); err != nil {
			m.RecordOperation(opUpload, outcomeRejected)
			clientError(w, r, http.StatusBadRequest, "Unsupported file type: "+contentType)
			return
		}

		key := cfg.KeyPrefix + cfg.objectName(header.Filename)

		// The storage call outlives a client that hangs up mid-request.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), cfg.StorageTimeout)
		defer cancel()

		if err := store.Put(ctx, key, file, header.Size, contentType); err != nil {
			m.RecordOperation(opUpload, outcomeError)
			logging.Error("upload_store_failed", logging.Fields{"rid": rid, "key": key, "size": header.Size}, err)
			writeError(w, http.StatusInternalServerError, "Failed to upload file")
			return
		}

		url, err := cfg.fileURL(ctx, store, key)
		if err != nil {
			m.RecordOperation(opUpload, outcomeError)
			logging.Error("upload_url_failed", logging.Fields{"rid": rid, "key": key}, err)
			writeError(w, http.StatusInternalServerError, "Failed to upload file")
			return
		}

		m.RecordOperation(opUpload, outcomeOK)
		m.RecordUpload(header.Size, time.Since(start))
		logging.Info("model_uploaded", logging.Fields{
			"rid":          rid,
			"key":          key,
			"size":         header.Size,
			"content_type": contentType,
			"ms":           time.Since(start).Milliseconds(),
		})

		writeJSON(w, http.StatusOK, urlResponse{URL: url})
		events.Publish(live.UploadEvent(url))
	})
}

// objectName derives the stored name from the client's filename according
// to the configured key strategy.
func (cfg Config) objectName(filename string) string {
	name := SanitizeFilename(filename)
	if cfg.KeyStrategy == config.KeyStrategyTimestamp {
		return fmt.Sprintf("%d-%s", cfg.Now().UnixMilli(), name)
	}
	return name
}

// fileURL returns the URL handed to clients for a stored key: a presigned
// URL when signing is on, the public base URL when one is configured, and
// the store's direct object URL otherwise.
func (cfg Config) fileURL(ctx context.Context, store storage.Store, key string) (string, error) {
	if cfg.SignURLs {
		return store.PresignGet(ctx, key, cfg.SignedURLExpiry)
	}
	if cfg.PublicBaseURL != "" {
		return strings.TrimSuffix(cfg.PublicBaseURL, "/") + "/" + storage.EscapeKey(key), nil
	}
	return store.ObjectURL(key), nil
}
