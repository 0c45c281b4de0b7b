// Package leadapi wraps the tenant lead-ingestion HTTP API. It provides a
// [Client] with the two submission paths the sync runner needs — plain JSON
// and multipart-with-card — and classification of delivery failures.
//
// The server is idempotent on clientLeadId: resubmitting an accepted
// submission returns success, not a conflict, so retrying after an ambiguous
// network failure is always safe.
package leadapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/skylarkcrm/fieldsync/internal/model"
)

const (
	leadsPath  = "/api/v1/leads"
	healthPath = "/api/v1/health"

	// defaultSubmitTimeout bounds a plain JSON submission.
	defaultSubmitTimeout = 8 * time.Second

	// defaultUploadTimeout bounds a multipart submission carrying a card
	// image, which can be several megabytes over a booth uplink.
	defaultUploadTimeout = 30 * time.Second
)

// Submission is the JSON body of a lead submission. For the multipart path
// the same structure travels in the "payload" form field.
type Submission struct {
	FormID             string         `json:"formId"`
	ClientLeadID       string         `json:"clientLeadId"`
	Values             map[string]any `json:"values"`
	CapturedByDeviceID string         `json:"capturedByDeviceId,omitempty"`
}

// FilePart describes the single file carried by a multipart submission.
type FilePart struct {
	Filename string
	MimeType string
	Kind     model.AttachmentKind
	Reader   io.Reader
}

// StatusError is returned when the server answered with a non-success
// status. It is distinct from transport errors so callers can tell "server
// rejected" from "server unreachable".
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned status %d: %s", e.StatusCode, e.Message)
}

// Code classifies a delivery error into the code recorded on the outbox
// item: "http_<status>" for server rejections, "network" for everything the
// transport ate.
func Code(err error) string {
	var se *StatusError
	if errors.As(err, &se) {
		return fmt.Sprintf("http_%d", se.StatusCode)
	}
	return model.ErrCodeNetwork
}

// Client talks to one tenant's lead-ingestion endpoint. Create one with
// [New]; the zero value is not usable.
type Client struct {
	baseURL  string
	tenantID string
	apiToken string
	hc       *http.Client
	logger   *slog.Logger

	submitTimeout time.Duration
	uploadTimeout time.Duration
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Intended for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// WithTimeouts overrides the per-call submission timeouts. Zero values keep
// the defaults.
func WithTimeouts(submit, upload time.Duration) Option {
	return func(c *Client) {
		if submit > 0 {
			c.submitTimeout = submit
		}
		if upload > 0 {
			c.uploadTimeout = upload
		}
	}
}

// New creates a Client for the given server and tenant.
func New(baseURL, tenantID, apiToken string, logger *slog.Logger, opts ...Option) (*Client, error) {
	u, err := url.ParseRequestURI(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("server URL %q must be a valid http or https URL", baseURL)
	}

	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		tenantID:      tenantID,
		apiToken:      apiToken,
		hc:            &http.Client{},
		logger:        logger,
		submitTimeout: defaultSubmitTimeout,
		uploadTimeout: defaultUploadTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// HealthURL returns the absolute URL of the cheap liveness endpoint, for the
// reachability probe.
func (c *Client) HealthURL() string {
	return c.baseURL + healthPath
}

// Submit delivers a lead without attachment as a JSON body.
func (c *Client) Submit(ctx context.Context, sub Submission) error {
	ctx, cancel := context.WithTimeout(ctx, c.submitTimeout)
	defer cancel()

	body, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("encoding submission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+leadsPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating submission request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuth(req)

	return c.do(req)
}

// SubmitWithCard delivers a lead and its card image in one multipart
// request: a "payload" field with the submission JSON plus the artifact
// type, and a single "file" part.
func (c *Client) SubmitWithCard(ctx context.Context, sub Submission, part FilePart) error {
	ctx, cancel := context.WithTimeout(ctx, c.uploadTimeout)
	defer cancel()

	payload := struct {
		Submission
		Type model.AttachmentKind `json:"type"`
	}{Submission: sub, Type: part.Kind}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding submission payload: %w", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("payload", string(payloadJSON)); err != nil {
		return fmt.Errorf("writing payload field: %w", err)
	}

	fw, err := mw.CreatePart(filePartHeader(part))
	if err != nil {
		return fmt.Errorf("creating file part: %w", err)
	}
	if _, err := io.Copy(fw, part.Reader); err != nil {
		return fmt.Errorf("copying card bytes: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("finalising multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+leadsPath, &buf)
	if err != nil {
		return fmt.Errorf("creating upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.setAuth(req)

	return c.do(req)
}

func (c *Client) setAuth(req *http.Request) {
	req.Header.Set("X-Tenant-ID", c.tenantID)
	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}
}

// do executes the request and maps non-2xx responses to [StatusError].
func (c *Client) do(req *http.Request) error {
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("executing %s: %w", req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	var serverErr struct {
		Message string `json:"message"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&serverErr)
	return &StatusError{StatusCode: resp.StatusCode, Message: serverErr.Message}
}

func filePartHeader(part FilePart) textproto.MIMEHeader {
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="file"; filename=%q`, part.Filename))
	mt := part.MimeType
	if mt == "" {
		mt = "application/octet-stream"
	}
	h.Set("Content-Type", mt)
	return h
}
