package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"testing"
)

func TestHelpersWriteStructuredLines(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)

	Info("upload_stored", Fields{"key": "cube.glb", "bytes": 42})
	Error("storage_failed", Fields{"rid": "abc"}, errors.New("boom"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}

	var first map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("line is not JSON: %v", err)
	}
	if first["level"] != "info" || first["message"] != "upload_stored" || first["key"] != "cube.glb" {
		t.Errorf("unexpected first line: %v", first)
	}

	var second map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("line is not JSON: %v", err)
	}
	if second["level"] != "error" || second["error"] != "boom" || second["rid"] != "abc" {
		t.Errorf("unexpected second line: %v", second)
	}
}

func TestSetup(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"defaults", Options{}, false},
		{"json debug", Options{Level: "debug", Format: "json"}, false},
		{"upper case level", Options{Level: "WARN"}, false},
		{"bad level", Options{Level: "loud"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Setup(tt.opts)
			if tt.wantErr && err == nil {
				t.Fatalf("expected error for %+v", tt.opts)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestLoggerAsStdlibWriter(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)

	l := Logger().With().Str("component", "http").Logger()
	log.New(&l, "", 0).Print("http: Accept error: too many open files")

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("line is not JSON: %v (%q)", err, buf.String())
	}
	if line["message"] != "http: Accept error: too many open files" || line["component"] != "http" {
		t.Errorf("unexpected line: %v", line)
	}
}
