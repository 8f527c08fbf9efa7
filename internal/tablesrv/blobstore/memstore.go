package blobstore

import (
	"context"
	"io"
	"sync"
)

// MemoryStore keeps blobs in memory. Resolved URLs use the mem:// scheme.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (m *MemoryStore) Store(ctx context.Context, name string, u *Upload) (string, error) {
	if u == nil || u.Body == nil {
		return "", ErrUpload.Msg("empty upload")
	}
	content, err := io.ReadAll(u.Body)
	if err != nil {
		return "", ErrUpload.MsgErr("failed to read upload", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for n := 0; n < maxCollisions; n++ {
		p := CollisionName(name, n)
		if _, ok := m.objects[p]; !ok {
			m.objects[p] = content
			return p, nil
		}
	}
	return "", ErrUpload.Msg("too many objects named " + name)
}

func (m *MemoryStore) Resolve(ctx context.Context, p string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[p]; !ok {
		return "", ErrResolve.Msg("no such object: " + p)
	}
	return "mem://" + p, nil
}

func (m *MemoryStore) Delete(ctx context.Context, p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, p)
	return nil
}

// Paths returns the stored paths, in no particular order.
func (m *MemoryStore) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.objects))
	for p := range m.objects {
		out = append(out, p)
	}
	return out
}

// Content returns the bytes stored at p.
func (m *MemoryStore) Content(p string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[p]
	return b, ok
}
