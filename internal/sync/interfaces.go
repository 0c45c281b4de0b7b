// Package sync implements the outbox synchronization engine: the
// single-flight [Runner] that drains queued lead submissions against the
// lead API, the [AutoSync] policy that decides when a run fires, the
// [Watcher] that turns reachability probes into connectivity edges, and the
// [Bus] that broadcasts run status to observers.
//
// The package contains two layers:
//
//   - [Runner] knows how to sync and owns the process-wide mutex.
//   - [AutoSync] knows when to sync and owns the retry backoff. It never
//     guards against concurrent runs itself — that is the Runner's mutex.
package sync

import (
	"context"
	"io"

	"github.com/skylarkcrm/fieldsync/internal/leadapi"
	"github.com/skylarkcrm/fieldsync/internal/model"
	"github.com/skylarkcrm/fieldsync/internal/outbox"
	"github.com/skylarkcrm/fieldsync/internal/reach"
)

// Store provides access to the durable outbox.
// Implemented by [outbox.Store].
type Store interface {
	Load(ctx context.Context) ([]*model.OutboxItem, error)
	Get(ctx context.Context, id string) (*model.OutboxItem, error)
	Update(ctx context.Context, id string, p outbox.Patch) error
	Remove(ctx context.Context, id string) error
}

// Submitter delivers lead submissions to the remote endpoint.
// Implemented by [leadapi.Client].
type Submitter interface {
	Submit(ctx context.Context, sub leadapi.Submission) error
	SubmitWithCard(ctx context.Context, sub leadapi.Submission, part leadapi.FilePart) error
}

// FileStore provides the locally stored attachment bytes.
// Implemented by [files.Dir].
type FileStore interface {
	Exists(uri string) bool
	Open(uri string) (io.ReadCloser, error)
	Delete(uri string) error
}

// Prober answers whether the lead server is reachable.
// Implemented by [reach.Probe].
type Prober interface {
	Check(ctx context.Context) reach.Result
}
