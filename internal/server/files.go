package server

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"modeldrop/internal/logging"
	"modeldrop/internal/storage"
)

// listHandler handles GET /api/load and GET /api/models. It returns every
// stored model as {name, url}, names relative to the key prefix. An empty
// bucket yields [].
func (cfg Config) listHandler(store storage.Store, m *Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := RequestIDFromContext(r.Context())

		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), cfg.StorageTimeout)
		defer cancel()

		objects, err := store.List(ctx, cfg.KeyPrefix)
		if err != nil {
			m.RecordOperation(opList, outcomeError)
			logging.Error("list_failed", logging.Fields{"rid": rid, "prefix": cfg.KeyPrefix}, err)
			writeError(w, http.StatusInternalServerError, "Failed to list files")
			return
		}

		files := make([]storedFile, 0, len(objects))
		for _, obj := range objects {
			name := strings.TrimPrefix(obj.Key, cfg.KeyPrefix)
			if name == "" {
				continue
			}
			u, err := cfg.fileURL(ctx, store, obj.Key)
			if err != nil {
				m.RecordOperation(opList, outcomeError)
				logging.Error("list_url_failed", logging.Fields{"rid": rid, "key": obj.Key}, err)
				writeError(w, http.StatusInternalServerError, "Failed to list files")
				return
			}
			files = append(files, storedFile{Name: name, URL: u})
		}

		m.RecordOperation(opList, outcomeOK)
		writeJSON(w, http.StatusOK, files)
	})
}

// deleteHandler handles DELETE /api/uploads/{filename}. Deleting a name
// that is not stored still succeeds.
func (cfg Config) deleteHandler(store storage.Store, m *Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := RequestIDFromContext(r.Context())

		name := filenameParam(r)
		if name == "" {
			m.RecordOperation(opDelete, outcomeRejected)
			clientError(w, r, http.StatusBadRequest, "Missing filename")
			return
		}
		key := cfg.KeyPrefix + name

		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), cfg.StorageTimeout)
		defer cancel()

		if err := store.Delete(ctx, key); err != nil {
			m.RecordOperation(opDelete, outcomeError)
			logging.Error("delete_failed", logging.Fields{"rid": rid, "key": key}, err)
			writeError(w, http.StatusInternalServerError, "Failed to delete file")
			return
		}

		m.RecordOperation(opDelete, outcomeOK)
		logging.Info("model_deleted", logging.Fields{"rid": rid, "key": key})
		writeJSON(w, http.StatusOK, messageResponse{Message: "File deleted successfully"})
	})
}

// signedURLHandler handles GET /api/uploads/{filename} and answers with a
// time-limited download URL. Existence is not checked: signing is a local
// computation and a URL for a missing object simply fails when fetched.
func (cfg Config) signedURLHandler(store storage.Store, m *Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := RequestIDFromContext(r.Context())

		name := filenameParam(r)
		if name == "" {
			m.RecordOperation(opSign, outcomeRejected)
			clientError(w, r, http.StatusBadRequest, "Missing filename")
			return
		}
		key := cfg.KeyPrefix + name

		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), cfg.StorageTimeout)
		defer cancel()

		u, err := store.PresignGet(ctx, key, cfg.SignedURLExpiry)
		if err != nil {
			m.RecordOperation(opSign, outcomeError)
			logging.Error("sign_failed", logging.Fields{"rid": rid, "key": key}, err)
			writeError(w, http.StatusInternalServerError, "Failed to sign URL")
			return
		}

		m.RecordOperation(opSign, outcomeOK)
		writeJSON(w, http.StatusOK, urlResponse{URL: u})
	})
}

// filenameParam returns the decoded {filename} path segment. chi matches
// against the raw path when the request carries escaped separators, so the
// value is unescaped in that case only.
func filenameParam(r *http.Request) string {
	name := chi.URLParam(r, "filename")
	if r.URL.RawPath != "" {
		if decoded, err := url.PathUnescape(name); err == nil {
			name = decoded
		}
	}
	return name
}
