package setup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/skylarkcrm/fieldsync/internal/config"
	"github.com/skylarkcrm/fieldsync/internal/leadapi"
	"github.com/skylarkcrm/fieldsync/internal/reach"
)

// Wizard guides the user through first-run configuration.
type Wizard struct {
	prompt *Prompter
	logger *slog.Logger
	w      io.Writer
}

// NewWizard creates a Wizard wired to the given I/O and logger.
func NewWizard(r io.Reader, w io.Writer, logger *slog.Logger) *Wizard {
	return &Wizard{
		prompt: NewPrompter(r, w),
		logger: logger,
		w:      w,
	}
}

// Run executes the interactive setup wizard: server connection, device
// identity, and config file creation. The reachability check is advisory;
// a device being provisioned backstage often has no connectivity yet, so
// an unreachable server only warns.
func (wiz *Wizard) Run(ctx context.Context) error {
	fmt.Fprintf(wiz.w, "\nWelcome to fieldsync Setup!\n")
	fmt.Fprintf(wiz.w, "This wizard configures this device for offline lead capture.\n\n")

	cfgPath, err := config.DefaultPath()
	if err != nil {
		return fmt.Errorf("resolving config path: %w", err)
	}

	if _, statErr := os.Stat(cfgPath); statErr == nil {
		fmt.Fprintf(wiz.w, "  Existing config found at %s\n", cfgPath)
		if !wiz.prompt.Confirm("Overwrite existing configuration?", false) {
			fmt.Fprintf(wiz.w, "\n  Keeping existing config.\n")
			return nil
		}
		fmt.Fprintf(wiz.w, "\n")
	}

	// Step 1: Server connection.
	fmt.Fprintf(wiz.w, "Step 1/3 — Server Connection\n")

	serverURL := wiz.prompt.String("Server URL", "https://api.skylarkcrm.com")
	tenantID := wiz.prompt.String("Tenant ID", "")
	apiToken := wiz.prompt.Optional("API token")

	wiz.checkReachability(ctx, serverURL, tenantID, apiToken)

	// Step 2: Device identity.
	fmt.Fprintf(wiz.w, "Step 2/3 — Device Identity\n")

	hostname, _ := os.Hostname()
	deviceID := wiz.prompt.String("Device label (shown on captured leads)", hostname)
	fmt.Fprintf(wiz.w, "\n")

	// Step 3: Write config.
	fmt.Fprintf(wiz.w, "Step 3/3 — Save Configuration\n")

	cfg := &config.Config{
		ServerURL: serverURL,
		TenantID:  tenantID,
		APIToken:  apiToken,
		DeviceID:  deviceID,
	}

	if err := cfg.Write(cfgPath); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	fmt.Fprintf(wiz.w, "  ✓ Config written to %s\n", cfgPath)

	fmt.Fprintf(wiz.w, "\nSetup complete!\n")
	fmt.Fprintf(wiz.w, "  Run the background agent with: fieldsync agent\n")
	fmt.Fprintf(wiz.w, "  Capture a lead with:           fieldsync enqueue\n")
	fmt.Fprintf(wiz.w, "  Inspect the queue with:        fieldsync queue\n\n")

	return nil
}

// checkReachability probes the health endpoint and reports the verdict.
// Failures never abort setup; leads queue locally either way.
func (wiz *Wizard) checkReachability(ctx context.Context, serverURL, tenantID, apiToken string) {
	fmt.Fprintf(wiz.w, "  Checking server reachability...")

	api, err := leadapi.New(serverURL, tenantID, apiToken, wiz.logger)
	if err != nil {
		fmt.Fprintf(wiz.w, " ✗\n  ⚠ %v\n\n", err)
		return
	}

	res := reach.New(api.HealthURL()).Check(ctx)
	switch {
	case res.OK:
		fmt.Fprintf(wiz.w, " ✓\n\n")
	case res.Reachable:
		fmt.Fprintf(wiz.w, " ✗\n  ⚠ Server responded with status %d — check the tenant ID.\n", res.Status)
		fmt.Fprintf(wiz.w, "    Leads will queue locally until the server accepts them.\n\n")
	default:
		fmt.Fprintf(wiz.w, " ✗\n  ⚠ Server unreachable: %v\n", res.Err)
		fmt.Fprintf(wiz.w, "    That's fine offline — leads queue locally and sync later.\n\n")
	}
}
