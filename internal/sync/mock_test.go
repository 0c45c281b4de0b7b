package sync

import (
	"context"
	"errors"
	"io"
	"log/slog"
	stdsync "sync"

	"github.com/skylarkcrm/fieldsync/internal/leadapi"
	"github.com/skylarkcrm/fieldsync/internal/model"
	"github.com/skylarkcrm/fieldsync/internal/outbox"
	"github.com/skylarkcrm/fieldsync/internal/reach"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockStore keeps items in memory and applies patches the way the real
// store does. All methods are safe for concurrent use.
type mockStore struct {
	mu      stdsync.Mutex
	items   []*model.OutboxItem
	loadErr error
	updates int
	removed []string
}

func (m *mockStore) add(items ...*model.OutboxItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, items...)
}

func (m *mockStore) Load(ctx context.Context) ([]*model.OutboxItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	out := make([]*model.OutboxItem, len(m.items))
	for i, it := range m.items {
		cp := *it
		out[i] = &cp
	}
	return out, nil
}

func (m *mockStore) Get(ctx context.Context, id string) (*model.OutboxItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.items {
		if it.ID == id {
			cp := *it
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockStore) Update(ctx context.Context, id string, p outbox.Patch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	for _, it := range m.items {
		if it.ID != id {
			continue
		}
		if p.Status != nil {
			it.Status = *p.Status
		}
		if p.Tries != nil {
			it.Tries = *p.Tries
		}
		if p.LastAttemptAt != nil {
			it.LastAttemptAt = p.LastAttemptAt
		}
		if p.SetError != nil {
			it.LastError = p.SetError
		}
		if p.ClearError {
			it.LastError = nil
		}
		if p.Attachments != nil {
			it.Attachments = p.Attachments
		}
		return nil
	}
	return nil
}

func (m *mockStore) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, id)
	for i, it := range m.items {
		if it.ID == id {
			m.items = append(m.items[:i], m.items[i+1:]...)
			break
		}
	}
	return nil
}

func (m *mockStore) find(id string) *model.OutboxItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.items {
		if it.ID == id {
			return it
		}
	}
	return nil
}

func (m *mockStore) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// mockSubmitter records submissions and fails the ids listed in failIDs.
type mockSubmitter struct {
	mu        stdsync.Mutex
	plain     []leadapi.Submission
	withCard  []leadapi.Submission
	failIDs   map[string]error
	block     chan struct{} // when set, Submit blocks until closed
	callCount int
}

func (m *mockSubmitter) Submit(ctx context.Context, sub leadapi.Submission) error {
	return m.record(&m.plain, sub)
}

func (m *mockSubmitter) SubmitWithCard(ctx context.Context, sub leadapi.Submission, part leadapi.FilePart) error {
	if part.Reader != nil {
		io.Copy(io.Discard, part.Reader)
	}
	return m.record(&m.withCard, sub)
}

func (m *mockSubmitter) record(dst *[]leadapi.Submission, sub leadapi.Submission) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount++
	if err, ok := m.failIDs[sub.ClientLeadID]; ok {
		return err
	}
	*dst = append(*dst, sub)
	return nil
}

func (m *mockSubmitter) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// mockFiles is an in-memory file store keyed by URI.
type mockFiles struct {
	mu      stdsync.Mutex
	blobs   map[string][]byte
	deleted []string
}

func newMockFiles() *mockFiles {
	return &mockFiles{blobs: make(map[string][]byte)}
}

func (m *mockFiles) put(uri string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[uri] = data
}

func (m *mockFiles) Exists(uri string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blobs[uri]
	return ok
}

func (m *mockFiles) Open(uri string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[uri]
	if !ok {
		return nil, errors.New("no such file: " + uri)
	}
	return io.NopCloser(newByteReader(data)), nil
}

func (m *mockFiles) Delete(uri string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, uri)
	m.deleted = append(m.deleted, uri)
	return nil
}

type byteReader struct {
	data []byte
	pos  int
}

func newByteReader(data []byte) *byteReader {
	return &byteReader{data: data}
}

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

// mockProber returns scripted verdicts in order, repeating the last one.
type mockProber struct {
	mu       stdsync.Mutex
	verdicts []bool
	idx      int
}

func (m *mockProber) Check(ctx context.Context) reach.Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.verdicts) == 0 {
		return reach.Result{}
	}
	v := m.verdicts[m.idx]
	if m.idx < len(m.verdicts)-1 {
		m.idx++
	}
	return reach.Result{Reachable: v, OK: v}
}

func queuedItem(formID string) *model.OutboxItem {
	return model.NewOutboxItem(formID, "device-1", map[string]any{"name": "Ada"})
}

func withCard(item *model.OutboxItem, uri string) *model.OutboxItem {
	item.Attachments = append(item.Attachments,
		model.NewPendingAttachment(uri, "card.jpg", "image/jpeg", model.AttachmentImage))
	return item
}
