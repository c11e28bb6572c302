// Package cli is the extractor command line: one-off extractions, the saved
// catalog (connections, targets, jobs), the upload history, the scheduler
// and the MCP server.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"extractor/internal/config"
	"extractor/internal/etl"
	"extractor/internal/etl/sources"
	"extractor/internal/metrics"
	"extractor/internal/metrics/prompush"
	"extractor/internal/secret"
	"extractor/internal/service"
	"extractor/internal/storage"

	"github.com/spf13/cobra"
)

// app holds the state shared by every command. Storage and services are
// opened on first use so "sources" and "--help" never touch the data dir.
type app struct {
	stdout io.Writer
	stderr io.Writer

	envFile string
	dataDir string

	cfg     *config.Config
	secrets secret.SecretStore

	db          *storage.DB
	connections *service.ConnectionService
	targets     *service.TargetService
	etl         *service.ETLService
	approvals   *storage.ApprovalStore

	// newUploader replaces the delivery pipeline when set.
	newUploader etl.UploaderFactory
}

// exitError carries a process exit code without printing anything more.
type exitError struct{ code int }

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// Main runs the CLI with os.Args and returns the process exit code.
func Main() int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return Run(ctx, os.Args[1:], os.Stdout, os.Stderr)
}

// Run executes the command line args and returns the exit code.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	return a.run(ctx, args)
}

func (a *app) run(ctx context.Context, args []string) int {
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	err := root.ExecuteContext(ctx)
	a.close()

	var ee *exitError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &ee):
		return ee.code
	default:
		fmt.Fprintln(a.stderr, "Error:", err)
		return 1
	}
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "extractor",
		Short: "Extract tables from files, APIs and databases and deliver them to a remote datasheet",
		Long: `
Extractor reads a source (CSV, JSON, XLSX, HTTP, SQL or NoSQL engine),
normalizes it into a string table, optionally writes it to a CSV/XLSX file
and delivers it in batches to a remote datasheet API.
`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadConfig()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.envFile, "env-file", "", "load variables from this file (default .env when present)")
	flags.StringVar(&a.dataDir, "data-dir", "", "directory holding extractor.db (default $EXTRACTOR_DATA_DIR or ~/.local/share/extractor)")

	root.AddCommand(
		a.newExtractCommand(),
		a.newSourcesCommand(),
		a.newConnectionsCommand(),
		a.newTargetsCommand(),
		a.newJobsCommand(),
		a.newHistoryCommand(),
		a.newServeCommand(),
		a.newMCPCommand(),
		a.newApprovalsCommand(),
	)
	return root
}

func (a *app) loadConfig() error {
	if err := config.LoadEnvFile(a.envFile); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if a.dataDir != "" {
		cfg.DataDir = a.dataDir
	}
	a.cfg = cfg
	sources.SetQueryTimeout(cfg.Run.QueryTimeout)

	if cfg.PushgatewayURL != "" {
		backend, err := prompush.NewBackend("extractor", cfg.PushgatewayURL)
		if err != nil {
			return err
		}
		metrics.SetBackend(backend)
	}
	return nil
}

// open initializes storage and services.
func (a *app) open() error {
	if a.db != nil {
		return nil
	}
	db, err := storage.New(a.cfg.DBPath())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	a.db = db
	if a.secrets == nil {
		if a.secrets, err = secret.Open(a.cfg.SecretStore, a.cfg.DataDir); err != nil {
			return err
		}
	}

	a.connections = service.NewConnectionService(storage.NewDBConnectionStore(db), a.secrets)
	a.connections.QueryTimeout = a.cfg.Run.QueryTimeout
	sources.SetConnectorProvider(a.connections)

	a.targets = service.NewTargetService(storage.NewTargetStore(db), a.secrets, a.cfg.UploadDefaults())

	a.etl = service.NewETLService(storage.NewETLStore(db), a.targets, service.LogEmitter{})
	a.etl.JobTimeout = a.cfg.Run.JobTimeout
	if a.newUploader != nil {
		a.etl.SetUploaderFactory(a.newUploader)
	}

	a.approvals = storage.NewApprovalStore(db)
	return nil
}

func (a *app) close() {
	if a.etl != nil {
		a.etl.Stop()
	}
	if a.connections != nil {
		a.connections.Close()
		sources.SetConnectorProvider(nil)
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			log.Printf("cli: close database: %v", err)
		}
		a.db = nil
	}
	if err := metrics.Flush(); err != nil {
		log.Printf("cli: push metrics: %v", err)
	}
}

// withServices wraps a RunE so storage and services are open first.
func (a *app) withServices(run func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := a.open(); err != nil {
			return err
		}
		return run(cmd, args)
	}
}
