// Package model defines shared types used across the outbox store, sync
// runner, and lead API client.
package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ItemStatus is the sync state of a queued lead submission. The runner sets
// it explicitly on every transition; no reader should need to infer state
// from tries or error fields.
type ItemStatus string

const (
	// StatusQueued marks an item waiting for its next delivery attempt.
	StatusQueued ItemStatus = "queued"
	// StatusSyncing marks an item with a delivery attempt outstanding.
	// An item found in this state at store open survived a crash and is
	// returned to queued.
	StatusSyncing ItemStatus = "syncing"
	// StatusFailed marks an item whose last delivery attempt failed. It
	// remains eligible for the next run.
	StatusFailed ItemStatus = "failed"
)

// AttachmentStatus is the upload state of a pending attachment.
type AttachmentStatus string

const (
	// AttachmentPending marks an attachment not yet uploaded.
	AttachmentPending AttachmentStatus = "pending"
	// AttachmentUploaded marks an attachment delivered alongside its item.
	AttachmentUploaded AttachmentStatus = "uploaded"
	// AttachmentFailed marks an attachment whose upload failed, including
	// the terminal case where the local bytes are gone.
	AttachmentFailed AttachmentStatus = "failed"
)

// Error codes recorded in [SyncError.Code].
const (
	// ErrCodeFileMissing means the attachment's local bytes no longer
	// exist. Retrying cannot succeed; the operator should delete the item.
	ErrCodeFileMissing = "file_missing"
	// ErrCodeDemoForm means the item belongs to the local-only demo
	// namespace and is never submitted.
	ErrCodeDemoForm = "demo_form"
	// ErrCodeNetwork covers transport-level delivery failures (connection
	// refused, timeout, DNS).
	ErrCodeNetwork = "network"
)

// SyncError is the structured error recorded on an item or attachment after
// a failed attempt. It is replaced wholesale on each failure and cleared on
// success or explicit reset — never partially updated.
type SyncError struct {
	// Code classifies the failure. HTTP failures use "http_<status>";
	// see the ErrCode constants for local classifications.
	Code string `json:"code,omitempty"`

	// Message is the human-readable failure description.
	Message string `json:"message"`

	// At is when the failure was recorded.
	At time.Time `json:"at"`
}

// AttachmentKind distinguishes the artifact types the server accepts.
type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "IMAGE"
	AttachmentPDF   AttachmentKind = "PDF"
)

// PendingAttachment is one binary artifact (the scanned business card)
// associated with an outbox item.
type PendingAttachment struct {
	// ID is the client-generated attachment identifier.
	ID string

	// LocalURI references the locally stored bytes, opaque to everything
	// except the attachment store.
	LocalURI string

	// Filename is the original capture filename sent to the server.
	Filename string

	// MimeType is the sniffed content type of the local bytes.
	MimeType string

	// Kind is the artifact type reported in the multipart payload.
	Kind AttachmentKind

	// Status is the upload state, set by the runner.
	Status AttachmentStatus

	// Tries counts failed upload attempts for this attachment.
	Tries int

	// LastError is the most recent upload failure, nil after success or reset.
	LastError *SyncError
}

// OutboxItem is one pending lead submission in the durable outbox.
type OutboxItem struct {
	// ID identifies the item locally. Stable for the item's lifetime,
	// never reused.
	ID string

	// ClientLeadID is the idempotency key sent to the server. Resubmitting
	// an accepted ClientLeadID is a no-op success, which makes retries
	// after ambiguous network failures safe.
	ClientLeadID string

	// FormID identifies the capture form the values belong to.
	FormID string

	// CapturedByDeviceID identifies the capturing device. Optional.
	CapturedByDeviceID string

	// Values holds the captured field values. The schema is owned by the
	// form definition; the engine treats it as opaque.
	Values map[string]any

	// CreatedAt is the capture timestamp. Immutable.
	CreatedAt time.Time

	// Tries counts failed delivery attempts. It only increases, except via
	// an explicit reset which clears Tries and LastError together.
	Tries int

	// Status is the sync state, set by the runner on every transition.
	// Success is represented by deletion from the store, not by a terminal
	// status value.
	Status ItemStatus

	// LastAttemptAt is when the runner last started a delivery attempt.
	LastAttemptAt *time.Time

	// LastSuccessAt records partial progress such as a completed
	// attachment upload. Items that succeed outright are deleted instead.
	LastSuccessAt *time.Time

	// LastError is the most recent delivery failure, nil after success
	// or reset.
	LastError *SyncError

	// Attachments holds the item's pending artifacts, in capture order.
	// Current usage is zero or one (the business card); the slice keeps
	// the wire format open for more.
	Attachments []PendingAttachment
}

// NewOutboxItem builds a queued item with fresh identifiers for a capture
// that could not be submitted synchronously.
func NewOutboxItem(formID, deviceID string, values map[string]any) *OutboxItem {
	if values == nil {
		values = map[string]any{}
	}
	return &OutboxItem{
		ID:                 uuid.New().String(),
		ClientLeadID:       uuid.New().String(),
		FormID:             formID,
		CapturedByDeviceID: deviceID,
		Values:             values,
		CreatedAt:          time.Now().UTC(),
		Status:             StatusQueued,
	}
}

// NewPendingAttachment builds a pending attachment for locally stored bytes.
func NewPendingAttachment(localURI, filename, mimeType string, kind AttachmentKind) PendingAttachment {
	return PendingAttachment{
		ID:       uuid.New().String(),
		LocalURI: localURI,
		Filename: filename,
		MimeType: mimeType,
		Kind:     kind,
		Status:   AttachmentPending,
	}
}

// PendingAttachment returns the first attachment still awaiting upload, or
// nil when the item can go out as a plain JSON submission.
func (i *OutboxItem) PendingAttachment() *PendingAttachment {
	for idx := range i.Attachments {
		if i.Attachments[idx].Status != AttachmentUploaded {
			return &i.Attachments[idx]
		}
	}
	return nil
}

// demoFormPrefix marks form IDs that exist only on the device (show-floor
// demos). Items in this namespace are never submitted — the tenant does not
// know these forms and would reject them.
const demoFormPrefix = "demo-"

// IsDemo reports whether the item belongs to the local-only demo namespace.
func (i *OutboxItem) IsDemo() bool {
	return strings.HasPrefix(i.FormID, demoFormPrefix)
}

// Normalize fills defaults for records persisted by older builds or mangled
// on disk: unknown statuses return to their initial state and nil maps become
// empty. It never rejects a record.
func (i *OutboxItem) Normalize() {
	switch i.Status {
	case StatusQueued, StatusSyncing, StatusFailed:
	default:
		i.Status = StatusQueued
	}
	if i.Values == nil {
		i.Values = map[string]any{}
	}
	if i.Tries < 0 {
		i.Tries = 0
	}
	for idx := range i.Attachments {
		a := &i.Attachments[idx]
		switch a.Status {
		case AttachmentPending, AttachmentUploaded, AttachmentFailed:
		default:
			a.Status = AttachmentPending
		}
		if a.Kind == "" {
			a.Kind = AttachmentImage
		}
		if a.Tries < 0 {
			a.Tries = 0
		}
	}
}
