package outbox

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/skylarkcrm/fieldsync/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test-outbox.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleItem() *model.OutboxItem {
	item := model.NewOutboxItem("form-42", "device-1", map[string]any{
		"name":    "Ada Lovelace",
		"company": "Analytical Engines Ltd",
	})
	item.Attachments = []model.PendingAttachment{
		model.NewPendingAttachment("cards/ada.jpg", "ada.jpg", "image/jpeg", model.AttachmentImage),
	}
	return item
}

func TestOpen_CreatesSchema(t *testing.T) {
	s := openTestStore(t)
	n, err := s.Len(context.Background())
	if err != nil {
		t.Fatalf("Len after open: %v", err)
	}
	if n != 0 {
		t.Errorf("Len = %d, want 0", n)
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox.db")
	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if err := s1.Enqueue(context.Background(), sampleItem()); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("s1.Close: %v", err)
	}

	// Re-opening the same file must not fail or wipe data.
	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer func() { _ = s2.Close() }()
	n, err := s2.Len(context.Background())
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if n != 1 {
		t.Errorf("Len after reopen = %d, want 1", n)
	}
}

func TestOpen_CorruptFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "outbox.db")
	if err := os.WriteFile(path, []byte("this is not a sqlite database, not even close"), 0o600); err != nil {
		t.Fatalf("writing corrupt file: %v", err)
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open over corrupt file: %v", err)
	}
	defer func() { _ = s.Close() }()

	n, err := s.Len(context.Background())
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if n != 0 {
		t.Errorf("Len = %d, want 0 (corrupt file treated as empty)", n)
	}

	// The unreadable original must be preserved alongside, not destroyed.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	found := false
	for _, e := range entries {
		if len(e.Name()) > len("outbox.db") && e.Name()[:len("outbox.db.c")] == "outbox.db.c" {
			found = true
		}
	}
	if !found {
		t.Error("expected the corrupt file to be moved aside, not deleted")
	}
}

func TestEnqueue_LoadRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	item := sampleItem()

	if err := s.Enqueue(ctx, item); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	items, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("Load returned %d items, want 1", len(items))
	}

	got := items[0]
	if got.ID != item.ID || got.ClientLeadID != item.ClientLeadID {
		t.Errorf("identifiers not preserved: got %s/%s", got.ID, got.ClientLeadID)
	}
	if got.Values["name"] != "Ada Lovelace" {
		t.Errorf("values not preserved: %v", got.Values)
	}
	if got.Status != model.StatusQueued {
		t.Errorf("Status = %q, want %q", got.Status, model.StatusQueued)
	}
	if len(got.Attachments) != 1 {
		t.Fatalf("attachments = %d, want 1", len(got.Attachments))
	}
	a := got.Attachments[0]
	if a.LocalURI != "cards/ada.jpg" || a.Status != model.AttachmentPending {
		t.Errorf("attachment not preserved: %+v", a)
	}
}

func TestEnqueue_NewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := model.NewOutboxItem("form-1", "", nil)
	second := model.NewOutboxItem("form-2", "", nil)
	if err := s.Enqueue(ctx, first); err != nil {
		t.Fatalf("Enqueue first: %v", err)
	}
	if err := s.Enqueue(ctx, second); err != nil {
		t.Fatalf("Enqueue second: %v", err)
	}

	items, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("Load returned %d items, want 2", len(items))
	}
	if items[0].ID != second.ID {
		t.Errorf("items[0] = %s, want the most recently enqueued %s", items[0].ID, second.ID)
	}
}

func TestGet_NotFoundReturnsNil(t *testing.T) {
	s := openTestStore(t)
	got, err := s.Get(context.Background(), "no-such-id")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Errorf("Get = %+v, want nil", got)
	}
}

func TestUpdate_PatchesTriesAndErrorTogether(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	item := sampleItem()
	if err := s.Enqueue(ctx, item); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	tries := 1
	failed := model.StatusFailed
	err := s.Update(ctx, item.ID, Patch{
		Status:        &failed,
		Tries:         &tries,
		LastAttemptAt: &now,
		SetError:      &model.SyncError{Code: "http_503", Message: "service unavailable", At: now},
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := s.Get(ctx, item.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Tries != 1 {
		t.Errorf("Tries = %d, want 1", got.Tries)
	}
	if got.Status != model.StatusFailed {
		t.Errorf("Status = %q, want %q", got.Status, model.StatusFailed)
	}
	if got.LastError == nil || got.LastError.Code != "http_503" {
		t.Errorf("LastError = %+v, want http_503", got.LastError)
	}
	if got.LastAttemptAt == nil || !got.LastAttemptAt.Equal(now) {
		t.Errorf("LastAttemptAt = %v, want %v", got.LastAttemptAt, now)
	}
	// Untouched fields survive the patch.
	if got.Values["name"] != "Ada Lovelace" {
		t.Errorf("patch clobbered values: %v", got.Values)
	}
	if len(got.Attachments) != 1 {
		t.Errorf("patch clobbered attachments: %d", len(got.Attachments))
	}
}

func TestUpdate_ReplacesAttachments(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	item := sampleItem()
	if err := s.Enqueue(ctx, item); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	atts := item.Attachments
	atts[0].Status = model.AttachmentFailed
	atts[0].Tries = 1
	atts[0].LastError = &model.SyncError{Code: model.ErrCodeFileMissing, Message: "local file missing", At: time.Now().UTC()}

	if err := s.Update(ctx, item.ID, Patch{Attachments: atts}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := s.Get(ctx, item.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	a := got.Attachments[0]
	if a.Status != model.AttachmentFailed || a.Tries != 1 {
		t.Errorf("attachment patch not applied: %+v", a)
	}
	if a.LastError == nil || a.LastError.Code != model.ErrCodeFileMissing {
		t.Errorf("attachment LastError = %+v, want file_missing", a.LastError)
	}
}

func TestUpdate_MissingItemIsNoOp(t *testing.T) {
	s := openTestStore(t)
	tries := 5
	if err := s.Update(context.Background(), "gone", Patch{Tries: &tries}); err != nil {
		t.Fatalf("Update on missing item: %v", err)
	}
}

func TestRemoveAndClear(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := model.NewOutboxItem("form-1", "", nil)
	b := model.NewOutboxItem("form-2", "", nil)
	for _, item := range []*model.OutboxItem{a, b} {
		if err := s.Enqueue(ctx, item); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	if err := s.Remove(ctx, a.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if n, _ := s.Len(ctx); n != 1 {
		t.Errorf("Len after Remove = %d, want 1", n)
	}

	// Removing again is a no-op.
	if err := s.Remove(ctx, a.ID); err != nil {
		t.Fatalf("second Remove: %v", err)
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if n, _ := s.Len(ctx); n != 0 {
		t.Errorf("Len after Clear = %d, want 0", n)
	}
}

func TestResetTries(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	item := sampleItem()
	if err := s.Enqueue(ctx, item); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	now := time.Now().UTC()
	tries := 3
	failed := model.StatusFailed
	if err := s.Update(ctx, item.ID, Patch{
		Status:   &failed,
		Tries:    &tries,
		SetError: &model.SyncError{Message: "boom", At: now},
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if err := s.ResetTries(ctx, item.ID); err != nil {
		t.Fatalf("ResetTries: %v", err)
	}

	got, err := s.Get(ctx, item.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Tries != 0 {
		t.Errorf("Tries = %d, want 0", got.Tries)
	}
	if got.LastError != nil {
		t.Errorf("LastError = %+v, want nil", got.LastError)
	}
	if got.Status != model.StatusQueued {
		t.Errorf("Status = %q, want %q", got.Status, model.StatusQueued)
	}
	// Values and attachments must survive a reset.
	if got.Values["name"] != "Ada Lovelace" || len(got.Attachments) != 1 {
		t.Error("reset touched values or attachments")
	}
}

func TestResetAllTries(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for range 3 {
		item := model.NewOutboxItem("form-9", "", nil)
		if err := s.Enqueue(ctx, item); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		tries := 2
		failed := model.StatusFailed
		if err := s.Update(ctx, item.ID, Patch{
			Status:   &failed,
			Tries:    &tries,
			SetError: &model.SyncError{Message: "nope", At: time.Now()},
		}); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}

	if err := s.ResetAllTries(ctx); err != nil {
		t.Fatalf("ResetAllTries: %v", err)
	}

	items, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	for _, item := range items {
		if item.Tries != 0 || item.LastError != nil || item.Status != model.StatusQueued {
			t.Errorf("item %s not reset: tries=%d err=%v status=%s",
				item.ID, item.Tries, item.LastError, item.Status)
		}
	}
}

func TestOpen_RecoversInterruptedItems(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox.db")
	s1, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()

	item := sampleItem()
	if err := s1.Enqueue(ctx, item); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	// Simulate a crash mid-attempt: the item was marked syncing and the
	// process died before the network call resolved.
	syncing := model.StatusSyncing
	if err := s1.Update(ctx, item.ID, Patch{Status: &syncing}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = s2.Close() }()

	got, err := s2.Get(ctx, item.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != model.StatusQueued {
		t.Errorf("Status after crash recovery = %q, want %q", got.Status, model.StatusQueued)
	}
}

func TestLoad_MalformedValuesDefaultToEmpty(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	item := sampleItem()
	if err := s.Enqueue(ctx, item); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// Corrupt the persisted payload behind the store's back.
	if _, err := s.db.Exec(
		`UPDATE outbox_items SET values_json = '{"name": <garbage' WHERE id = ?`,
		item.ID); err != nil {
		t.Fatalf("corrupting values_json: %v", err)
	}

	items, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("Load returned %d items, want 1", len(items))
	}
	if items[0].Values == nil || len(items[0].Values) != 0 {
		t.Errorf("Values = %v, want empty map", items[0].Values)
	}
}

func TestSave_AtomicReplace(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for range 2 {
		if err := s.Enqueue(ctx, model.NewOutboxItem("form-old", "", nil)); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	replacement := []*model.OutboxItem{sampleItem()}
	if err := s.Save(ctx, replacement); err != nil {
		t.Fatalf("Save: %v", err)
	}

	items, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(items) != 1 || items[0].FormID != "form-42" {
		t.Errorf("Save did not replace collection: %d items", len(items))
	}
}
