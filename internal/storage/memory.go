package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process Store. It backs the "memory" provider for local
// development and the handler tests.
type Memory struct {
	mu      sync.RWMutex
	baseURL string
	objects map[string]memoryObject
	now     func() time.Time
}

type memoryObject struct {
	data        []byte
	contentType string
	modified    time.Time
}

// NewMemory returns an empty store whose object URLs start with baseURL.
func NewMemory(baseURL string) *Memory {
	return &Memory{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		objects: make(map[string]memoryObject),
		now:     time.Now,
	}
}

func (m *Memory) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return fmt.Errorf("memory put %s: %w", key, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memoryObject{data: buf.Bytes(), contentType: contentType, modified: m.now()}
	return nil
}

// List returns keys in lexicographic order, like S3.
func (m *Memory) List(ctx context.Context, prefix string) ([]Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	objects := []Object{}
	for key, obj := range m.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		objects = append(objects, Object{Key: key, Size: int64(len(obj.data)), LastModified: obj.modified})
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *Memory) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	expires := m.now().Add(expiry).Unix()
	return fmt.Sprintf("%s?expires=%d", m.ObjectURL(key), expires), nil
}

func (m *Memory) ObjectURL(key string) string {
	return m.baseURL + "/" + EscapeKey(key)
}

func (m *Memory) Ping(ctx context.Context) error {
	return nil
}

// Get returns a copy of the stored bytes and content type of key.
func (m *Memory) Get(key string) ([]byte, string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, "", false
	}
	return bytes.Clone(obj.data), obj.contentType, true
}
