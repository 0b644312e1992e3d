package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/inbox-sweep/internal/action"
	"github.com/nhle/inbox-sweep/internal/app"
	"github.com/nhle/inbox-sweep/internal/buffer"
	"github.com/nhle/inbox-sweep/internal/credential"
	"github.com/nhle/inbox-sweep/internal/logger"
	"github.com/nhle/inbox-sweep/internal/metrics"
	"github.com/nhle/inbox-sweep/internal/model"
	"github.com/nhle/inbox-sweep/internal/source/email"
	"github.com/nhle/inbox-sweep/internal/store"
	appsync "github.com/nhle/inbox-sweep/internal/sync"
	"github.com/nhle/inbox-sweep/internal/ui/setup"
)

// Version information, injected at build time.
var version = "dev"

// pollInterval is how often the feeder checks for new mail while the
// window is idle.
const pollInterval = 2 * time.Minute

func main() {
	configPath := flag.String("config", model.DefaultConfigPath(), "Path to YAML configuration file")
	savePassword := flag.Bool("save-password", false, "Store $"+credential.PasswordEnv+" in the keyring and exit")
	forgetPassword := flag.Bool("forget-password", false, "Remove the stored password from the keyring and exit")
	runSetup := flag.Bool("setup", false, "Edit the account settings before starting")
	history := flag.Int("history", 0, "Print the N most recent actions and exit")
	showVersion := flag.Bool("version", false, "Show version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("sweep version %s\n", version)
		return
	}

	cfg, err := model.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cannot load config: %v\n", err)
		os.Exit(1)
	}

	if *savePassword || *forgetPassword {
		if err := managePassword(cfg.Account.Username, *savePassword); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		return
	}

	if *history > 0 {
		if err := printHistory(cfg.Store.Path, *history); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		return
	}

	if *runSetup || cfg.Account.IMAPHost == "" {
		if err := setupAccount(*configPath, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func managePassword(username string, save bool) error {
	key := credential.PasswordKey(username)
	if !save {
		return credential.Delete(key)
	}
	pw := os.Getenv(credential.PasswordEnv)
	if pw == "" {
		return fmt.Errorf("%s is empty", credential.PasswordEnv)
	}
	if err := credential.Set(key, pw); err != nil {
		return err
	}
	fmt.Printf("Stored password for %s\n", username)
	return nil
}

// setupAccount asks for the connection settings, writes them to the
// config file and stores the password in the keyring.
func setupAccount(path string, cfg *model.AppConfig) error {
	acct := setup.FromConfig(cfg.Account)
	if err := acct.Run(); err != nil {
		return err
	}
	acct.Apply(&cfg.Account)
	if err := model.SaveConfig(path, cfg); err != nil {
		return err
	}
	if err := credential.Set(credential.PasswordKey(cfg.Account.Username), acct.Password); err != nil {
		return err
	}
	fmt.Printf("Saved account settings to %s\n", path)
	return nil
}

func printHistory(dbPath string, limit int) error {
	db, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer db.Close()

	entries, err := db.RecentActions(context.Background(), limit)
	if err != nil {
		return err
	}
	for _, e := range entries {
		status := "ok"
		if !e.Success {
			status = "failed"
		}
		fmt.Printf("%s  %-11s %-6s %s\n", e.CreatedAt.Local().Format("2006-01-02 15:04"), e.Kind, status, e.Sender)
	}
	return nil
}

func run(cfg *model.AppConfig) error {
	// The terminal belongs to the UI; stderr logging would corrupt it.
	if cfg.Logging.Output == "stderr" || cfg.Logging.Output == "stdout" {
		cfg.Logging.Output = filepath.Join(model.DefaultConfigDir(), "sweep.log")
	}
	logFile, err := logger.Initialize(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	logger.Info("Starting sweep", "version", version, "account", cfg.Account.Username)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer db.Close()

	password, err := credential.Password(cfg.Account.Username)
	if err != nil {
		return err
	}

	if cfg.Metrics.Listen != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Listen); err != nil {
				logger.Error("Metrics endpoint stopped", "error", err)
			}
		}()
	}

	provider := email.NewProvider(cfg.Account, password, db)
	if err := provider.ValidateConnection(ctx); err != nil {
		return fmt.Errorf("connecting to %s: %w", cfg.Account.IMAPHost, err)
	}

	feeder := appsync.NewFeeder(provider, db, appsync.WithSkipProtected(cfg.Buffer.SkipProtected))
	buf := buffer.New(nil, feeder.Refill, buffer.ConfigFrom(cfg.Buffer))
	go buf.Refill(ctx)

	unsub := action.NewHTTPUnsubscriber(nil)
	unsub.Timeout = time.Duration(cfg.Unsubscribe.TimeoutMS) * time.Millisecond
	unsub.Backoff = time.Duration(cfg.Unsubscribe.RetryBackoffMS) * time.Millisecond

	orch := action.New(
		action.WithUndoWindow(cfg.Undo.Window()),
		action.WithRecorder(db),
		action.WithHTTPUnsubscriber(unsub),
	)
	go orch.RunSweeper(ctx, time.Duration(cfg.Undo.SweepIntervalSec)*time.Second)
	go feeder.Poll(ctx, pollInterval, buf.Refill)

	root := app.New(ctx, app.Deps{
		Buffer:       buf,
		Orchestrator: orch,
		Caps:         action.CapabilitiesOf(provider),
		Feeder:       feeder,
	})

	p := tea.NewProgram(root, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("running UI: %w", err)
	}
	logger.Info("Sweep finished", "pending_undo", orch.Pending())
	return nil
}
