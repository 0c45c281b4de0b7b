package sync

import (
	"context"
	"log/slog"
	stdsync "sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/skylarkcrm/fieldsync/internal/leadapi"
	"github.com/skylarkcrm/fieldsync/internal/model"
	"github.com/skylarkcrm/fieldsync/internal/outbox"
)

// RunOptions carries the caller's view of the world into a run.
type RunOptions struct {
	// Online is the caller's current reachability verdict. An offline run
	// skips the queue without touching the network.
	Online bool
	// Reason names the trigger for logging ("startup", "enqueue",
	// "connectivity", "retry", "manual").
	Reason string
}

// Runner drains the outbox against the lead API. At most one run is in
// flight per process: a run that finds the mutex taken reports SkipBusy
// instead of waiting.
type Runner struct {
	store  Store
	api    Submitter
	files  FileStore
	bus    *Bus
	logger *slog.Logger

	mu stdsync.Mutex

	tracer      trace.Tracer
	runCounter  metric.Int64Counter
	itemCounter metric.Int64Counter
}

// NewRunner builds a Runner. api may be nil when no server is configured
// yet; runs then finish immediately with SkipSettings.
func NewRunner(store Store, api Submitter, files FileStore, bus *Bus, logger *slog.Logger) *Runner {
	meter := otel.Meter("fieldsync/sync")
	runCounter, _ := meter.Int64Counter("fieldsync.sync.runs",
		metric.WithDescription("Completed sync runs, by outcome"))
	itemCounter, _ := meter.Int64Counter("fieldsync.sync.items",
		metric.WithDescription("Outbox items processed, by outcome"))

	return &Runner{
		store:       store,
		api:         api,
		files:       files,
		bus:         bus,
		logger:      logger,
		tracer:      otel.Tracer("fieldsync/sync"),
		runCounter:  runCounter,
		itemCounter: itemCounter,
	}
}

// SyncAll drains every queued item, oldest queue order preserved.
func (r *Runner) SyncAll(ctx context.Context, opts RunOptions) Summary {
	return r.run(ctx, "", opts)
}

// SyncOne attempts only the item with the given id. An unknown id counts
// as an empty run.
func (r *Runner) SyncOne(ctx context.Context, id string, opts RunOptions) Summary {
	return r.run(ctx, id, opts)
}

func (r *Runner) run(ctx context.Context, onlyID string, opts RunOptions) Summary {
	sum := Summary{StartedAt: time.Now()}

	if !r.mu.TryLock() {
		sum.SkippedReason = SkipBusy
		sum.Skipped = 1
		sum.FinishedAt = time.Now()
		r.logger.Debug("sync already in flight, skipping", "reason", opts.Reason)
		return sum
	}
	defer r.mu.Unlock()

	ctx, span := r.tracer.Start(ctx, "sync.run",
		trace.WithAttributes(attribute.String("trigger", opts.Reason)))
	defer span.End()

	r.bus.Publish(Event{Kind: EventRunStarted})

	switch {
	case !opts.Online:
		sum.SkippedReason = SkipOffline
	case r.api == nil:
		sum.SkippedReason = SkipSettings
	}
	if sum.SkippedReason != SkipNone {
		// A skipped run still counts itself, so observers see one
		// skipped unit of work rather than an all-zero summary.
		sum.Skipped = 1
		r.finish(ctx, &sum, opts)
		return sum
	}

	items, err := r.loadItems(ctx, onlyID)
	if err != nil {
		r.logger.Error("loading outbox failed", "error", err)
		sum.Failed++
		r.finish(ctx, &sum, opts)
		return sum
	}
	if len(items) == 0 {
		sum.SkippedReason = SkipEmpty
		sum.Skipped = 1
		r.finish(ctx, &sum, opts)
		return sum
	}

	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		r.syncItem(ctx, item, &sum)
	}

	r.finish(ctx, &sum, opts)
	return sum
}

func (r *Runner) loadItems(ctx context.Context, onlyID string) ([]*model.OutboxItem, error) {
	if onlyID == "" {
		return r.store.Load(ctx)
	}
	item, err := r.store.Get(ctx, onlyID)
	if err != nil || item == nil {
		return nil, err
	}
	return []*model.OutboxItem{item}, nil
}

// syncItem pushes a single item through one attempt and records the
// outcome in the store and the summary.
func (r *Runner) syncItem(ctx context.Context, item *model.OutboxItem, sum *Summary) {
	log := r.logger.With("item", item.ID, "form", item.FormID)

	if item.IsDemo() {
		// Demo forms never leave the device. Mark them so the UI can
		// surface the situation, but don't burn a try on them.
		if err := r.store.Update(ctx, item.ID, outbox.Patch{
			SetError: &model.SyncError{
				Code:    model.ErrCodeDemoForm,
				Message: "demo forms are not submitted",
				At:      time.Now(),
			},
		}); err != nil {
			log.Error("marking demo item failed", "error", err)
		}
		sum.Skipped++
		r.countItem(ctx, "skipped")
		return
	}

	now := time.Now()
	syncing := model.StatusSyncing
	if err := r.store.Update(ctx, item.ID, outbox.Patch{
		Status:        &syncing,
		LastAttemptAt: &now,
	}); err != nil {
		log.Error("marking item syncing failed", "error", err)
		sum.Failed++
		r.countItem(ctx, "failed")
		return
	}

	att := item.PendingAttachment()
	if att != nil && !r.files.Exists(att.LocalURI) {
		r.failItem(ctx, item, att, &model.SyncError{
			Code:    model.ErrCodeFileMissing,
			Message: "attachment file missing: " + att.LocalURI,
			At:      time.Now(),
		}, sum, log)
		return
	}

	if err := r.submit(ctx, item, att); err != nil {
		r.failItem(ctx, item, att, &model.SyncError{
			Code:    leadapi.Code(err),
			Message: err.Error(),
			At:      time.Now(),
		}, sum, log)
		log.Warn("submit failed", "tries", item.Tries+1, "error", err)
		return
	}

	// Attachment bytes are no longer needed; removal failures only leak
	// disk space, never block the sync.
	for i := range item.Attachments {
		if err := r.files.Delete(item.Attachments[i].LocalURI); err != nil {
			log.Warn("deleting attachment file failed", "uri", item.Attachments[i].LocalURI, "error", err)
		}
	}
	if err := r.store.Remove(ctx, item.ID); err != nil {
		log.Error("removing synced item failed", "error", err)
		sum.Failed++
		r.countItem(ctx, "failed")
		return
	}

	sum.Ok++
	r.countItem(ctx, "ok")
	r.bus.Publish(Event{Kind: EventItemSynced, ItemID: item.ID})
	log.Info("lead submitted", "clientLeadId", item.ClientLeadID)
}

// submit performs the actual network call, multipart when a business card
// still needs uploading. The single request carries both the submission
// and the file, so a retry after a half-failure simply re-sends the whole
// thing under the same clientLeadId and the server deduplicates.
func (r *Runner) submit(ctx context.Context, item *model.OutboxItem, att *model.PendingAttachment) error {
	sub := leadapi.Submission{
		FormID:             item.FormID,
		ClientLeadID:       item.ClientLeadID,
		Values:             item.Values,
		CapturedByDeviceID: item.CapturedByDeviceID,
	}

	if att == nil {
		return r.api.Submit(ctx, sub)
	}

	f, err := r.files.Open(att.LocalURI)
	if err != nil {
		return err
	}
	defer f.Close()

	return r.api.SubmitWithCard(ctx, sub, leadapi.FilePart{
		Filename: att.Filename,
		MimeType: att.MimeType,
		Kind:     att.Kind,
		Reader:   f,
	})
}

// failItem records one failed attempt: tries and lastError move together,
// and a pending attachment that was part of the attempt is marked failed
// alongside the item.
func (r *Runner) failItem(ctx context.Context, item *model.OutboxItem, att *model.PendingAttachment, syncErr *model.SyncError, sum *Summary, log *slog.Logger) {
	failed := model.StatusFailed
	tries := item.Tries + 1
	p := outbox.Patch{
		Status:   &failed,
		Tries:    &tries,
		SetError: syncErr,
	}

	if att != nil {
		atts := make([]model.PendingAttachment, len(item.Attachments))
		copy(atts, item.Attachments)
		for i := range atts {
			if atts[i].ID != att.ID {
				continue
			}
			atts[i].Status = model.AttachmentFailed
			atts[i].Tries++
			atts[i].LastError = syncErr
		}
		p.Attachments = atts
	}

	if err := r.store.Update(ctx, item.ID, p); err != nil {
		log.Error("recording failed attempt failed", "error", err)
	}

	sum.Failed++
	r.countItem(ctx, "failed")
	r.bus.Publish(Event{Kind: EventItemFailed, ItemID: item.ID})
}

func (r *Runner) finish(ctx context.Context, sum *Summary, opts RunOptions) {
	sum.FinishedAt = time.Now()

	outcome := "completed"
	if sum.SkippedReason != SkipNone {
		outcome = string(sum.SkippedReason)
	}
	r.runCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))

	r.bus.Publish(Event{Kind: EventRunFinished, Summary: *sum})

	if sum.Completed() {
		r.logger.Info("sync run finished",
			"reason", opts.Reason,
			"ok", sum.Ok,
			"failed", sum.Failed,
			"skipped", sum.Skipped,
			"took", sum.FinishedAt.Sub(sum.StartedAt).Round(time.Millisecond))
	}
}

func (r *Runner) countItem(ctx context.Context, outcome string) {
	r.itemCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
