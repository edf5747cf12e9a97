package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// MemoryStorage is an in-memory Storage for tests and local development,
// the blob counterpart of the store's in-memory database. Presigned URLs
// use the memory:// scheme and resolve through MemoryTransport.
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

var _ Storage = (*MemoryStorage)(nil)

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{objects: make(map[string][]byte)}
}

func (m *MemoryStorage) Put(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryStorage) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryStorage) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *MemoryStorage) PresignUpload(_ context.Context, key string) (string, error) {
	return "memory://" + key, nil
}

func (m *MemoryStorage) PresignDownload(_ context.Context, key string) (string, error) {
	return "memory://" + key, nil
}

// Len returns the number of stored objects.
func (m *MemoryStorage) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// Client returns an http.Client whose memory:// requests resolve against
// this storage, so Upload/Download work unchanged in tests.
func (m *MemoryStorage) Client() *http.Client {
	return &http.Client{Transport: &memoryTransport{storage: m}}
}

type memoryTransport struct {
	storage *MemoryStorage
}

func (t *memoryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "memory" {
		return nil, fmt.Errorf("memory transport cannot serve %s URLs", req.URL.Scheme)
	}
	key := strings.TrimPrefix(req.URL.Host+req.URL.Path, "/")

	switch req.Method {
	case http.MethodPut:
		data, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		if err := t.storage.Put(req.Context(), key, data); err != nil {
			return nil, err
		}
		return memoryResponse(req, http.StatusOK, nil), nil

	case http.MethodGet:
		data, err := t.storage.Get(req.Context(), key)
		if err != nil {
			return memoryResponse(req, http.StatusNotFound, nil), nil
		}
		return memoryResponse(req, http.StatusOK, data), nil

	default:
		return memoryResponse(req, http.StatusMethodNotAllowed, nil), nil
	}
}

func memoryResponse(req *http.Request, status int, body []byte) *http.Response {
	return &http.Response{
		StatusCode:    status,
		Status:        http.StatusText(status),
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
		Header:        make(http.Header),
	}
}
