package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/isceproc/isceproc/pkg/config"
	"github.com/isceproc/isceproc/pkg/engine"
	"github.com/isceproc/isceproc/pkg/isce"
	"github.com/isceproc/isceproc/pkg/runner"
	"github.com/isceproc/isceproc/pkg/stores"
	"github.com/isceproc/isceproc/pkg/telemetry"
	"github.com/isceproc/isceproc/pkg/transports/ssh"
	"github.com/isceproc/isceproc/pkg/workflow"
)

// app holds what the processing commands share.
type app struct {
	cfg   *config.Config
	dir   string
	tel   *telemetry.Telemetry
	env   *isce.Environment
	local *runner.Local

	// remote is set when the config has an ssh section.
	remote *runner.Remote

	// store is nil until openStore is called.
	store *stores.SQLiteStore
}

// newApp loads the config and environment and sets up telemetry. The
// returned context carries the telemetry and its logger.
func newApp(ctx context.Context) (*app, context.Context, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, ctx, err
	}

	dir, err := filepath.Abs(procDir)
	if err != nil {
		return nil, ctx, fmt.Errorf("failed to resolve processing directory: %w", err)
	}

	tel, err := telemetry.NewTelemetry(cfg.Telemetry())
	if err != nil {
		return nil, ctx, fmt.Errorf("failed to set up telemetry: %w", err)
	}
	if err := tel.StartMetricsServer(); err != nil {
		return nil, ctx, fmt.Errorf("failed to start metrics server: %w", err)
	}

	env, err := isce.FromOS()
	if err != nil {
		return nil, ctx, err
	}

	a := &app{
		cfg:   cfg,
		dir:   dir,
		tel:   tel,
		env:   env,
		local: runner.NewLocal(tel),
	}

	if cfg.SSH != nil {
		client, err := ssh.NewSSHClient(cfg.SSH)
		if err != nil {
			return nil, ctx, fmt.Errorf("failed to create ssh client: %w", err)
		}
		a.remote, err = runner.NewRemote(client, dir, cfg.SSH.RemoteDir, tel)
		if err != nil {
			return nil, ctx, err
		}
	}

	return a, tel.WithContext(ctx), nil
}

// openStore opens the run history database of the processing directory.
func (a *app) openStore(ctx context.Context) (*stores.SQLiteStore, error) {
	if a.store != nil {
		return a.store, nil
	}

	path := a.cfg.Store.Path
	if !filepath.IsAbs(path) && path != ":memory:" {
		path = filepath.Join(a.dir, path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}

	store, err := stores.Open(ctx, stores.Config{Path: path, BusyTimeout: a.cfg.Store.BusyTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open run history: %w", err)
	}
	a.store = store
	return store, nil
}

// Close releases the store and connection and flushes telemetry.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.remote != nil {
		errs = append(errs, a.remote.Close())
	}
	errs = append(errs, a.tel.Shutdown(ctx))
	if err := errors.Join(errs...); err != nil {
		log.Warn().Err(err).Msg("cleanup failed")
	}
}

// builder returns a plan builder using the run-file executor kind; an
// empty kind selects the configured default.
func (a *app) builder(kind, processor string) (*workflow.Builder, error) {
	if kind == "" {
		kind = a.cfg.Executor.Default
	}
	exec, err := workflow.NewExecutor(kind, a.local, a.remote, a.env, processor, a.cfg.Executor.Shell)
	if err != nil {
		return nil, err
	}
	return &workflow.Builder{
		Runner:      a.local,
		Executor:    exec,
		Env:         a.env,
		Tel:         a.tel,
		MaxRetries:  a.cfg.Executor.MaxRetries,
		StepTimeout: a.cfg.Executor.StepTimeout,
	}, nil
}

// loadProject reads a template for the processing directory.
func (a *app) loadProject(templateFile string) (*workflow.Project, error) {
	return workflow.Load(templateFile, a.dir)
}

// execute builds and runs the plan for req, recording it in the history.
func (a *app) execute(ctx context.Context, p *workflow.Project, req workflow.Request, executor string) error {
	b, err := a.builder(executor, p.Options.Processor)
	if err != nil {
		return err
	}
	plan, err := b.Build(p, req)
	if err != nil {
		return err
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}

	scheduler := engine.NewScheduler(engine.NewStoreState(store), a.tel,
		engine.WithEventPublisher(&progress{w: os.Stdout}))
	run, err := scheduler.Execute(ctx, plan)
	if run != nil {
		printSummary(run)
	}
	return err
}

func printSummary(run *engine.Run) {
	fmt.Printf("\nRun %s %s in %s\n", run.ID, run.Status, run.Duration.Round(time.Second))
	fmt.Printf("  steps: %d total, %d succeeded, %d failed, %d skipped, %d cancelled\n",
		run.Summary.Total, run.Summary.Succeeded, run.Summary.Failed,
		run.Summary.Skipped, run.Summary.Cancelled)
	if run.Status == engine.RunStatusFailed {
		fmt.Printf("  resume with: isceproc stack <template> --resume\n")
	}
}
