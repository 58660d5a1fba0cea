package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"modeldrop/internal/config"
	"modeldrop/internal/live"
	"modeldrop/internal/storage"
)

func decodeURL(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body urlResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return body.URL
}

func TestUpload_StoresAndAnnounces(t *testing.T) {
	s, store, pub := newTestServer(t)
	data := bytes.Repeat([]byte{0x67}, 1024)

	rr := serve(s, uploadRequest(t, "cube.glb", "model/gltf-binary", data))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	wantURL := testBaseURL + "/cube.glb"
	if got := decodeURL(t, rr); got != wantURL {
		t.Errorf("url = %q, want %q", got, wantURL)
	}

	stored, ct, ok := store.Get("cube.glb")
	if !ok {
		t.Fatal("object not stored")
	}
	if !bytes.Equal(stored, data) {
		t.Errorf("stored %d bytes, want %d", len(stored), len(data))
	}
	if ct != "model/gltf-binary" {
		t.Errorf("content type = %q", ct)
	}

	events := pub.Events()
	if len(events) != 1 {
		t.Fatalf("published %d events, want 1", len(events))
	}
	if want := live.UploadEvent(wantURL); events[0] != want {
		t.Errorf("event = %+v, want %+v", events[0], want)
	}

	// The stored model shows up in both list routes.
	for _, path := range []string{"/api/load", "/api/models"} {
		rr := serve(s, httptest.NewRequest(http.MethodGet, path, nil))
		var files []storedFile
		if err := json.Unmarshal(rr.Body.Bytes(), &files); err != nil {
			t.Fatalf("%s: %v", path, err)
		}
		if len(files) != 1 || files[0] != (storedFile{Name: "cube.glb", URL: wantURL}) {
			t.Errorf("%s = %+v", path, files)
		}
	}
}

func TestUpload_AllowListedTypes(t *testing.T) {
	for _, ct := range []string{
		"model/gltf-binary",
		"model/gltf+json",
		"model/stl",
		"model/obj",
		"model/mtl",
		"model/vnd.collada+xml",
		"application/octet-stream",
	} {
		t.Run(ct, func(t *testing.T) {
			s, _, _ := newTestServer(t)
			rr := serve(s, uploadRequest(t, "m.bin", ct, []byte("data")))
			if rr.Code != http.StatusOK {
				t.Errorf("status = %d, body = %s", rr.Code, rr.Body.String())
			}
		})
	}
}

func TestUpload_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		req        func(t *testing.T) *http.Request
		wantStatus int
		wantError  string
	}{
		{
			name: "unsupported type",
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "notes.txt", "text/plain", []byte("hello"))
			},
			wantStatus: http.StatusBadRequest,
			wantError:  "Unsupported file type: text/plain",
		},
		{
			name: "type with parameters",
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "cube.glb", "model/gltf-binary; charset=binary", []byte("x"))
			},
			wantStatus: http.StatusBadRequest,
			wantError:  "Unsupported file type: model/gltf-binary; charset=binary",
		},
		{
			name: "missing type",
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "cube.glb", "", []byte("x"))
			},
			wantStatus: http.StatusBadRequest,
			wantError:  "Unsupported file type: ",
		},
		{
			name: "wrong field name",
			req: func(t *testing.T) *http.Request {
				body, ct := multipartBody(t, "file", "cube.glb", "model/gltf-binary", []byte("x"))
				req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
				req.Header.Set("Content-Type", ct)
				return req
			},
			wantStatus: http.StatusBadRequest,
			wantError:  "No file uploaded",
		},
		{
			name: "not multipart",
			req: func(t *testing.T) *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader(`{"model":"cube"}`))
				req.Header.Set("Content-Type", "application/json")
				return req
			},
			wantStatus: http.StatusBadRequest,
			wantError:  "No file uploaded",
		},
		{
			name: "empty body",
			req: func(t *testing.T) *http.Request {
				return httptest.NewRequest(http.MethodPost, "/api/upload", nil)
			},
			wantStatus: http.StatusBadRequest,
			wantError:  "No file uploaded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, store, pub := newTestServer(t)

			rr := serve(s, tt.req(t))
			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rr.Code, tt.wantStatus, rr.Body.String())
			}
			if got := decodeError(t, rr); got != tt.wantError {
				t.Errorf("error = %q, want %q", got, tt.wantError)
			}

			objects, _ := store.List(context.Background(), "")
			if len(objects) != 0 {
				t.Errorf("rejected upload stored %d objects", len(objects))
			}
			if n := len(pub.Events()); n != 0 {
				t.Errorf("rejected upload published %d events", n)
			}
		})
	}
}

func TestUpload_TooLarge(t *testing.T) {
	s, store, pub := newTestServer(t, func(c *Config) { c.MaxUploadBytes = 1024 })

	rr := serve(s, uploadRequest(t, "big.glb", "model/gltf-binary", bytes.Repeat([]byte{1}, 4096)))
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rr.Code)
	}
	if got := decodeError(t, rr); got != "File too large" {
		t.Errorf("error = %q", got)
	}
	if _, _, ok := store.Get("big.glb"); ok {
		t.Error("oversized upload was stored")
	}
	if n := len(pub.Events()); n != 0 {
		t.Errorf("published %d events", n)
	}
}

func TestUpload_StorageFailure(t *testing.T) {
	s, _, pub := newTestServer(t, func(c *Config) {
		c.Store = failingStore{Memory: storage.NewMemory(testBaseURL), err: errors.New("bucket gone")}
	})

	rr := serve(s, uploadRequest(t, "cube.glb", "model/gltf-binary", []byte("x")))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
	if got := decodeError(t, rr); got != "Failed to upload file" {
		t.Errorf("error = %q", got)
	}
	if n := len(pub.Events()); n != 0 {
		t.Errorf("failed upload published %d events", n)
	}
}

func TestUpload_KeyStrategies(t *testing.T) {
	tests := []struct {
		name    string
		cfg     func(*Config)
		wantKey string
		wantURL string
	}{
		{
			name:    "original",
			cfg:     func(c *Config) {},
			wantKey: "cube.glb",
			wantURL: testBaseURL + "/cube.glb",
		},
		{
			name:    "timestamp",
			cfg:     func(c *Config) { c.KeyStrategy = config.KeyStrategyTimestamp },
			wantKey: "1700000000000-cube.glb",
			wantURL: testBaseURL + "/1700000000000-cube.glb",
		},
		{
			name:    "prefix",
			cfg:     func(c *Config) { c.KeyPrefix = "models/" },
			wantKey: "models/cube.glb",
			wantURL: testBaseURL + "/models/cube.glb",
		},
		{
			name:    "public base url",
			cfg:     func(c *Config) { c.PublicBaseURL = "https://cdn.example.com/assets/" },
			wantKey: "cube.glb",
			wantURL: "https://cdn.example.com/assets/cube.glb",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, store, _ := newTestServer(t, tt.cfg)

			rr := serve(s, uploadRequest(t, "cube.glb", "model/gltf-binary", []byte("x")))
			if rr.Code != http.StatusOK {
				t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
			}
			if got := decodeURL(t, rr); got != tt.wantURL {
				t.Errorf("url = %q, want %q", got, tt.wantURL)
			}
			if _, _, ok := store.Get(tt.wantKey); !ok {
				t.Errorf("object %q not stored", tt.wantKey)
			}
		})
	}
}

func TestUpload_SameNameOverwrites(t *testing.T) {
	s, store, _ := newTestServer(t)

	serve(s, uploadRequest(t, "cube.glb", "model/gltf-binary", []byte("first")))
	serve(s, uploadRequest(t, "cube.glb", "model/gltf-binary", []byte("second")))

	data, _, _ := store.Get("cube.glb")
	if string(data) != "second" {
		t.Errorf("stored %q, want the latest upload", data)
	}
	objects, _ := store.List(context.Background(), "")
	if len(objects) != 1 {
		t.Errorf("%d objects, want 1", len(objects))
	}
}

func TestUpload_SignedURLs(t *testing.T) {
	s, _, pub := newTestServer(t, func(c *Config) { c.SignURLs = true })

	rr := serve(s, uploadRequest(t, "cube.glb", "model/gltf-binary", []byte("x")))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	u := decodeURL(t, rr)
	if !strings.HasPrefix(u, testBaseURL+"/cube.glb?expires=") {
		t.Errorf("url = %q, want a signed URL", u)
	}
	if events := pub.Events(); len(events) != 1 || events[0].URL != u {
		t.Errorf("events = %+v, want the signed URL announced", events)
	}
}
