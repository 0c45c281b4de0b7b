// Fieldsync is the field-agent companion for Skylark CRM lead capture. It
// keeps captured leads in a durable local outbox and syncs them to the lead
// API whenever the server is reachable, so booth staff can keep capturing
// with no connectivity at all.
//
// Usage:
//
//	fieldsync setup                          # interactive first-run wizard
//	fieldsync agent [--config <path>]        # background agent: auto-sync + reachability watch
//	fieldsync sync-now [--config <path>]     # single sync pass then exit
//	fieldsync enqueue --form <id> [k=v ...]  # capture a lead into the outbox
//	fieldsync queue                          # list pending items
//	fieldsync retry <id>                     # re-attempt one item now
//	fieldsync reset [<id> | --all]           # clear tries/error, back to queued
//	fieldsync delete <id>                    # drop an item and its attachment
//	fieldsync clear                          # drop the whole outbox
//	fieldsync status                         # show config, queue, and reachability
//	fieldsync version                        # print version
//
// Legacy flag-based invocation is still supported for backward compatibility:
//
//	fieldsync --agent [--config <path>] [--verbose]
//	fieldsync --sync-once [--config <path>] [--verbose]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/skylarkcrm/fieldsync/internal/config"
	"github.com/skylarkcrm/fieldsync/internal/files"
	"github.com/skylarkcrm/fieldsync/internal/leadapi"
	"github.com/skylarkcrm/fieldsync/internal/model"
	"github.com/skylarkcrm/fieldsync/internal/outbox"
	"github.com/skylarkcrm/fieldsync/internal/reach"
	"github.com/skylarkcrm/fieldsync/internal/setup"
	syncp "github.com/skylarkcrm/fieldsync/internal/sync"
	"github.com/skylarkcrm/fieldsync/internal/telemetry"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

// run dispatches to the appropriate subcommand or falls back to legacy flags.
func run() error {
	if len(os.Args) < 2 {
		return printUsage()
	}

	cmd := os.Args[1]

	switch cmd {
	case "setup":
		return runSetup()
	case "agent":
		return runSync(os.Args[2:], true)
	case "sync-now":
		return runSync(os.Args[2:], false)
	case "enqueue":
		return runEnqueue(os.Args[2:])
	case "queue":
		return runQueue(os.Args[2:])
	case "retry":
		return runRetry(os.Args[2:])
	case "reset":
		return runReset(os.Args[2:])
	case "delete":
		return runDelete(os.Args[2:])
	case "clear":
		return runClear(os.Args[2:])
	case "status":
		return runStatus()
	case "version":
		fmt.Println("fieldsync", version)
		return nil
	}

	// Legacy flag-based dispatch (--agent, --sync-once).
	if strings.HasPrefix(cmd, "-") {
		return runLegacy()
	}

	return fmt.Errorf("unknown command %q — run 'fieldsync' for usage", cmd)
}

// printUsage shows help and suggests setup if no config exists.
func printUsage() error {
	cfgPath, _ := config.DefaultPath()
	_, cfgErr := os.Stat(cfgPath)

	fmt.Fprintln(os.Stderr, "Fieldsync — offline lead capture outbox for Skylark CRM")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  fieldsync setup                         Interactive first-run wizard")
	fmt.Fprintln(os.Stderr, "  fieldsync agent [--config ...]          Run the background sync agent")
	fmt.Fprintln(os.Stderr, "  fieldsync sync-now [--config ...]       Single sync pass then exit")
	fmt.Fprintln(os.Stderr, "  fieldsync enqueue --form <id> [k=v ...] Capture a lead into the outbox")
	fmt.Fprintln(os.Stderr, "  fieldsync queue                         List pending items")
	fmt.Fprintln(os.Stderr, "  fieldsync retry <id>                    Re-attempt one item now")
	fmt.Fprintln(os.Stderr, "  fieldsync reset [<id> | --all]          Clear tries/error, back to queued")
	fmt.Fprintln(os.Stderr, "  fieldsync delete <id>                   Drop an item and its attachment")
	fmt.Fprintln(os.Stderr, "  fieldsync clear                         Drop the whole outbox")
	fmt.Fprintln(os.Stderr, "  fieldsync status                        Show config, queue, reachability")
	fmt.Fprintln(os.Stderr, "  fieldsync version                       Print version")
	fmt.Fprintln(os.Stderr, "")

	if cfgErr != nil {
		fmt.Fprintln(os.Stderr, "No config file found. Run 'fieldsync setup' to get started.")
	}

	os.Exit(1)
	return nil // unreachable
}

// --- Subcommands -------------------------------------------------------------

// runSetup launches the interactive setup wizard.
func runSetup() error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	wiz := setup.NewWizard(os.Stdin, os.Stdout, logger)
	return wiz.Run(ctx)
}

// runSync handles both "agent" and "sync-now" subcommands.
func runSync(args []string, daemon bool) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	defaultCfg, _ := config.DefaultPath()
	cfgPath := fs.String("config", defaultCfg, "path to config.yaml")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return startSync(*cfgPath, *verbose, daemon)
}

// runLegacy supports the old --agent / --sync-once flag interface.
func runLegacy() error {
	defaultCfg, _ := config.DefaultPath()
	cfgPath := flag.String("config", defaultCfg, "path to config.yaml")
	agent := flag.Bool("agent", false, "run the background sync agent")
	syncOnce := flag.Bool("sync-once", false, "run a single sync pass then exit")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	if !*agent && !*syncOnce {
		return printUsage()
	}
	if *agent && *syncOnce {
		return fmt.Errorf("--agent and --sync-once are mutually exclusive")
	}

	return startSync(*cfgPath, *verbose, *agent)
}

// runEnqueue captures a lead into the outbox, then attempts an immediate
// sync so the lead lands on the server right away when connectivity is
// there.
func runEnqueue(args []string) error {
	fs := flag.NewFlagSet("enqueue", flag.ExitOnError)
	defaultCfg, _ := config.DefaultPath()
	cfgPath := fs.String("config", defaultCfg, "path to config.yaml")
	formID := fs.String("form", "", "form this lead was captured with (required)")
	cardPath := fs.String("card", "", "path to a scanned business card (image or PDF)")
	noSync := fs.Bool("no-sync", false, "queue only, skip the immediate sync attempt")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *formID == "" {
		return fmt.Errorf("--form is required")
	}

	values, err := parseValues(fs.Args())
	if err != nil {
		return err
	}

	env, err := openEnv(*cfgPath, false)
	if err != nil {
		return err
	}
	defer env.close()

	item := model.NewOutboxItem(*formID, env.cfg.DeviceID, values)

	if *cardPath != "" {
		att, err := storeCard(env.files, *cardPath)
		if err != nil {
			return err
		}
		item.Attachments = append(item.Attachments, att)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := env.store.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("enqueueing lead: %w", err)
	}
	fmt.Printf("Queued lead %s (form %s, %d field(s))\n", item.ID, item.FormID, len(values))

	if *noSync {
		return nil
	}

	sum := env.engine().RunOnce(ctx)
	printSummary(sum)
	return nil
}

// runQueue lists the outbox, newest first.
func runQueue(args []string) error {
	fs := flag.NewFlagSet("queue", flag.ExitOnError)
	defaultCfg, _ := config.DefaultPath()
	cfgPath := fs.String("config", defaultCfg, "path to config.yaml")
	if err := fs.Parse(args); err != nil {
		return err
	}

	env, err := openEnv(*cfgPath, false)
	if err != nil {
		return err
	}
	defer env.close()

	ctx := context.Background()
	items, err := env.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading outbox: %w", err)
	}
	if len(items) == 0 {
		fmt.Println("Outbox is empty.")
		return nil
	}

	fmt.Printf("%d pending item(s):\n\n", len(items))
	for _, item := range items {
		fmt.Printf("  %s\n", item.ID)
		fmt.Printf("    form:     %s\n", item.FormID)
		fmt.Printf("    status:   %s (tries: %d)\n", item.Status, item.Tries)
		fmt.Printf("    captured: %s\n", item.CreatedAt.Local().Format(time.RFC822))
		if len(item.Attachments) > 0 {
			att := item.Attachments[0]
			if size, sizeErr := env.files.Size(att.LocalURI); sizeErr == nil {
				fmt.Printf("    card:     %s (%s, %s, %s)\n", att.Filename, att.MimeType, humanSize(size), att.Status)
			} else {
				fmt.Printf("    card:     %s (%s, %s, bytes missing)\n", att.Filename, att.MimeType, att.Status)
			}
		}
		if item.LastError != nil {
			fmt.Printf("    error:    [%s] %s\n", item.LastError.Code, item.LastError.Message)
		}
		fmt.Println()
	}
	return nil
}

// runRetry re-attempts a single item immediately.
func runRetry(args []string) error {
	fs := flag.NewFlagSet("retry", flag.ExitOnError)
	defaultCfg, _ := config.DefaultPath()
	cfgPath := fs.String("config", defaultCfg, "path to config.yaml")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: fieldsync retry <item-id>")
	}
	id := fs.Arg(0)

	env, err := openEnv(*cfgPath, false)
	if err != nil {
		return err
	}
	defer env.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	item, err := env.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("loading item: %w", err)
	}
	if item == nil {
		return fmt.Errorf("no item %q in the outbox", id)
	}

	sum := env.engine().RetryOne(ctx, id)
	printSummary(sum)
	return nil
}

// runReset clears tries and error state so items are attempted fresh.
func runReset(args []string) error {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	defaultCfg, _ := config.DefaultPath()
	cfgPath := fs.String("config", defaultCfg, "path to config.yaml")
	all := fs.Bool("all", false, "reset every item in the outbox")
	if err := fs.Parse(args); err != nil {
		return err
	}

	env, err := openEnv(*cfgPath, false)
	if err != nil {
		return err
	}
	defer env.close()

	ctx := context.Background()
	switch {
	case *all:
		if err := env.store.ResetAllTries(ctx); err != nil {
			return fmt.Errorf("resetting outbox: %w", err)
		}
		fmt.Println("All items reset to queued.")
	case fs.NArg() == 1:
		if err := env.store.ResetTries(ctx, fs.Arg(0)); err != nil {
			return fmt.Errorf("resetting item: %w", err)
		}
		fmt.Printf("Item %s reset to queued.\n", fs.Arg(0))
	default:
		return fmt.Errorf("usage: fieldsync reset <item-id> | fieldsync reset --all")
	}
	return nil
}

// runDelete drops one item and its attachment bytes.
func runDelete(args []string) error {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	defaultCfg, _ := config.DefaultPath()
	cfgPath := fs.String("config", defaultCfg, "path to config.yaml")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: fieldsync delete <item-id>")
	}
	id := fs.Arg(0)

	env, err := openEnv(*cfgPath, false)
	if err != nil {
		return err
	}
	defer env.close()

	ctx := context.Background()
	item, err := env.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("loading item: %w", err)
	}
	if item == nil {
		return fmt.Errorf("no item %q in the outbox", id)
	}

	for _, att := range item.Attachments {
		_ = env.files.Delete(att.LocalURI)
	}
	if err := env.store.Remove(ctx, id); err != nil {
		return fmt.Errorf("deleting item: %w", err)
	}
	fmt.Printf("Deleted %s.\n", id)
	return nil
}

// runClear drops the whole outbox.
func runClear(args []string) error {
	fs := flag.NewFlagSet("clear", flag.ExitOnError)
	defaultCfg, _ := config.DefaultPath()
	cfgPath := fs.String("config", defaultCfg, "path to config.yaml")
	yes := fs.Bool("yes", false, "skip the confirmation prompt")
	if err := fs.Parse(args); err != nil {
		return err
	}

	env, err := openEnv(*cfgPath, false)
	if err != nil {
		return err
	}
	defer env.close()

	ctx := context.Background()
	items, err := env.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading outbox: %w", err)
	}
	if len(items) == 0 {
		fmt.Println("Outbox is already empty.")
		return nil
	}

	if !*yes {
		prompt := setup.NewPrompter(os.Stdin, os.Stdout)
		if !prompt.Confirm(fmt.Sprintf("Delete all %d pending lead(s)? They have NOT been submitted", len(items)), false) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	for _, item := range items {
		for _, att := range item.Attachments {
			_ = env.files.Delete(att.LocalURI)
		}
	}
	if err := env.store.Clear(ctx); err != nil {
		return fmt.Errorf("clearing outbox: %w", err)
	}
	fmt.Printf("Cleared %d item(s).\n", len(items))
	return nil
}

// runStatus prints the current configuration and outbox state.
func runStatus() error {
	cfgPath, _ := config.DefaultPath()

	fmt.Println("Fieldsync Status")
	fmt.Println("────────────────")

	cfg, loadErr := config.Load(cfgPath)
	if loadErr != nil {
		if errors.Is(loadErr, os.ErrNotExist) {
			fmt.Printf("  Config:   not found (%s)\n", cfgPath)
		} else {
			fmt.Printf("  Config:   %s (invalid: %v)\n", cfgPath, loadErr)
		}
		// The outbox may still hold leads captured before setup broke.
		if dbPath, pathErr := outbox.DefaultDBPath(); pathErr == nil {
			if info, statErr := os.Stat(dbPath); statErr == nil {
				fmt.Printf("  Outbox:   %s (%s)\n", dbPath, humanSize(info.Size()))
			}
		}
		fmt.Println("\nRun 'fieldsync setup' to configure this device.")
		return nil
	}

	fmt.Printf("  Config:   %s ✓\n", cfgPath)
	if cfg.Configured() {
		fmt.Printf("  Server:   %s (tenant %s)\n", cfg.ServerURL, cfg.TenantID)
	} else {
		fmt.Printf("  Server:   not configured — leads queue locally\n")
	}
	fmt.Printf("  Device:   %s\n", cfg.DeviceID)

	// Outbox state.
	dbPath := filepath.Join(cfg.DataDir, "outbox.db")
	store, err := outbox.Open(dbPath)
	if err != nil {
		fmt.Printf("  Outbox:   cannot open (%v)\n", err)
		return nil
	}
	defer store.Close()

	ctx := context.Background()
	items, err := store.Load(ctx)
	if err != nil {
		fmt.Printf("  Outbox:   cannot read (%v)\n", err)
		return nil
	}

	var failed int
	for _, item := range items {
		if item.Status == model.StatusFailed {
			failed++
		}
	}
	if info, statErr := os.Stat(dbPath); statErr == nil {
		fmt.Printf("  Outbox:   %d pending, %d failed (%s, %s)\n", len(items), failed, dbPath, humanSize(info.Size()))
	} else {
		fmt.Printf("  Outbox:   %d pending, %d failed\n", len(items), failed)
	}

	// Reachability.
	if cfg.Configured() {
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
		api, apiErr := leadapi.New(cfg.ServerURL, cfg.TenantID, cfg.APIToken, logger)
		if apiErr == nil {
			res := reach.New(api.HealthURL()).Check(ctx)
			switch {
			case res.OK:
				fmt.Printf("  Server:   reachable ✓ (%s)\n", res.Latency.Round(time.Millisecond))
			case res.Reachable:
				fmt.Printf("  Server:   responding with status %d\n", res.Status)
			default:
				fmt.Printf("  Server:   unreachable (%v)\n", res.Err)
			}
		}
	}

	return nil
}

// --- Sync core (shared by subcommand and legacy paths) -----------------------

// startSync is the shared implementation for agent and sync-now modes.
func startSync(cfgPath string, verbose, daemon bool) error {
	env, err := openEnv(cfgPath, verbose)
	if err != nil {
		return err
	}
	defer env.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	engine := env.engine()

	if !daemon {
		env.logger.Info("running single sync pass")
		sum := engine.RunOnce(ctx)
		printSummary(sum)
		return nil
	}

	// Agent mode: log sync events as they stream by, run until signalled.
	events, cancel := engine.Bus().Subscribe(64)
	defer cancel()
	go logEvents(env.logger, events)

	env.logger.Info("agent starting", "probe_interval", env.cfg.ProbeInterval)
	engine.Run(ctx)
	env.logger.Info("shutdown complete")
	return nil
}

// logEvents mirrors bus events into the agent log at debug level; run
// summaries are already logged by the runner itself.
func logEvents(logger *slog.Logger, events <-chan syncp.Event) {
	for ev := range events {
		switch ev.Kind {
		case syncp.EventItemSynced:
			logger.Debug("item synced", "item", ev.ItemID)
		case syncp.EventItemFailed:
			logger.Debug("item failed", "item", ev.ItemID)
		case syncp.EventConnectivity:
			logger.Debug("connectivity changed", "online", ev.Online)
		}
	}
}

// --- Environment wiring ------------------------------------------------------

// env bundles everything a subcommand needs: config, store, file store, and
// an optional API client.
type env struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *outbox.Store
	files   *files.Dir
	api     *leadapi.Client
	probe   *reach.Probe
	cleanup []func()
}

// openEnv loads config and opens the outbox. The API client and probe stay
// nil on an unconfigured device; sync runs then skip with a settings hint.
func openEnv(cfgPath string, verbose bool) (*env, error) {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading config from %q: %w (run 'fieldsync setup')", cfgPath, err)
	}

	e := &env{cfg: cfg, logger: logger}

	// Telemetry (optional).
	if cfg.Telemetry != nil {
		telCfg := telemetry.Config{
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			Insecure:     cfg.Telemetry.Insecure,
			ServiceName:  cfg.Telemetry.ServiceName,
			DeviceID:     cfg.DeviceID,
			Headers:      cfg.Telemetry.Headers,
		}
		shutdownTel, telErr := telemetry.Setup(context.Background(), telCfg)
		if telErr != nil {
			logger.Error("telemetry setup failed, continuing without telemetry", "error", telErr)
		} else {
			logger.Debug("telemetry enabled", "endpoint", cfg.Telemetry.OTLPEndpoint)
			e.cleanup = append(e.cleanup, func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTel(flushCtx); err != nil {
					logger.Error("telemetry shutdown error", "error", err)
				}
			})
		}
	}

	// Outbox store.
	dbPath := filepath.Join(cfg.DataDir, "outbox.db")
	store, err := outbox.Open(dbPath)
	if err != nil {
		e.close()
		return nil, fmt.Errorf("opening outbox at %q: %w", dbPath, err)
	}
	e.store = store
	e.cleanup = append(e.cleanup, func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Error("closing outbox", "error", closeErr)
		}
	})

	// Attachment store.
	fileStore, err := files.NewDir(filepath.Join(cfg.DataDir, "attachments"))
	if err != nil {
		e.close()
		return nil, err
	}
	e.files = fileStore

	// Lead API client (only when configured).
	if cfg.Configured() {
		api, apiErr := leadapi.New(cfg.ServerURL, cfg.TenantID, cfg.APIToken, logger)
		if apiErr != nil {
			e.close()
			return nil, fmt.Errorf("initialising lead API client: %w", apiErr)
		}
		e.api = api
		e.probe = reach.New(api.HealthURL())
	}

	return e, nil
}

// engine builds a sync engine over the open environment.
func (e *env) engine() *syncp.Engine {
	var api syncp.Submitter
	if e.api != nil {
		api = e.api
	}
	var probe syncp.Prober
	if e.probe != nil {
		probe = e.probe
	}
	return syncp.NewEngine(e.store, api, e.files, probe, syncp.EngineConfig{
		ProbeInterval:  e.cfg.ProbeInterval,
		InitialBackoff: e.cfg.RetryBackoffInitial,
		MaxBackoff:     e.cfg.RetryBackoffMax,
	}, e.logger)
}

// close runs cleanup in reverse registration order.
func (e *env) close() {
	for i := len(e.cleanup) - 1; i >= 0; i-- {
		e.cleanup[i]()
	}
}

// --- Helpers -----------------------------------------------------------------

// parseValues turns "k=v" command-line pairs into a lead values map.
func parseValues(args []string) (map[string]any, error) {
	values := make(map[string]any, len(args))
	for _, arg := range args {
		key, val, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid field %q — expected key=value", arg)
		}
		values[key] = val
	}
	return values, nil
}

// storeCard copies a card scan into managed storage and builds the pending
// attachment record.
func storeCard(store *files.Dir, path string) (model.PendingAttachment, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.PendingAttachment{}, fmt.Errorf("opening card file: %w", err)
	}
	defer f.Close()

	uri, mimeType, err := store.Put(f, filepath.Base(path))
	if err != nil {
		return model.PendingAttachment{}, err
	}

	kind := model.AttachmentImage
	if mimeType == "application/pdf" {
		kind = model.AttachmentPDF
	}
	return model.NewPendingAttachment(uri, filepath.Base(path), mimeType, kind), nil
}

// printSummary reports a finished run on stdout.
func printSummary(sum syncp.Summary) {
	switch sum.SkippedReason {
	case syncp.SkipOffline:
		fmt.Println("Server unreachable — leads stay queued and sync later.")
	case syncp.SkipSettings:
		fmt.Println("No server configured — run 'fieldsync setup' first. Leads stay queued.")
	case syncp.SkipBusy:
		fmt.Println("Another sync is already running.")
	case syncp.SkipEmpty:
		fmt.Println("Outbox is empty — nothing to sync.")
	default:
		fmt.Printf("Sync finished: %d submitted, %d failed, %d skipped (took %s).\n",
			sum.Ok, sum.Failed, sum.Skipped,
			sum.FinishedAt.Sub(sum.StartedAt).Round(time.Millisecond))
	}
}

// humanSize returns a human-readable file size string.
func humanSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
