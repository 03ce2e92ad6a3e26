// Package app wires configuration into a runnable pipeline.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sort"

	"wireframe/internal/artifact"
	"wireframe/internal/config"
	"wireframe/internal/model"
	"wireframe/internal/pipeline"
	"wireframe/internal/raster"
	"wireframe/internal/runlog"
	"wireframe/internal/runner"
	"wireframe/internal/status"
	"wireframe/internal/vectorize"
)

type App struct {
	cfg         *config.Config
	store       artifact.Store
	transformer raster.Transformer
	loader      model.Loader
	converter   vectorize.Converter
	runs        runlog.Store
	hub         *status.Hub
	server      *status.Server
	closers     []func() error
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	store, err := chooseArtifactStore(cfg)
	if err != nil {
		return nil, err
	}
	runs, closeRuns, err := chooseRunLog(ctx, cfg, store)
	if err != nil {
		return nil, err
	}
	a := &App{
		cfg:         cfg,
		store:       store,
		transformer: chooseTransformer(cfg),
		loader:      chooseLoader(cfg, store),
		converter:   chooseConverter(cfg),
		runs:        runs,
		hub:         status.NewHub(),
	}
	if closeRuns != nil {
		a.closers = append(a.closers, closeRuns)
	}
	if cfg.Serve.Addr != "" {
		a.server = status.NewServer(cfg.Serve.Addr, a.Handler())
	}
	return a, nil
}

// Store is the artifact store the pipeline reads and writes.
func (a *App) Store() artifact.Store { return a.store }

// Handler serves run status.
func (a *App) Handler() http.Handler {
	return status.NewHandler(a.hub, a.runs)
}

// Run loads the models and executes the pipeline once for the configured
// mission. The error is only for setup problems; stage failures are in
// the returned result.
func (a *App) Run(ctx context.Context) (runner.RunResult, error) {
	rc, err := runner.NewRunContext(runner.RunConfig{
		MissionID:       a.cfg.Run.MissionID,
		SourceDirectory: a.cfg.Run.SourceDir,
		SaveDirectory:   a.cfg.Run.SaveDir,
		ModelReferences: a.cfg.Run.Models,
	})
	if err != nil {
		return runner.RunResult{}, err
	}

	defer func() {
		if err := a.loader.Close(); err != nil {
			log.Printf("models: release: %v", err)
		}
	}()
	predictors, loadErrs := model.LoadAll(ctx, a.loader, rc.ModelReferences(), pipeline.ModelRoofEdge, pipeline.ModelBoundary)
	names := make([]string, 0, len(loadErrs))
	for name := range loadErrs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		log.Printf("models: %s not loaded: %v", name, loadErrs[name])
	}
	if len(loadErrs) == 0 {
		log.Printf("models: loaded %v", rc.ModelNames())
	}

	stages := pipeline.Stages(a.transformer,
		predictors[pipeline.ModelRoofEdge], predictors[pipeline.ModelBoundary],
		a.converter, a.cfg.Convert.Thin)
	seq := runner.NewSequencer(a.store, stages,
		runner.WithScratchRoot(a.cfg.Run.ScratchDir),
		runner.WithObservers(runlog.NewRecorder(a.runs), a.hub),
	)
	return seq.Run(ctx, rc), nil
}

// Start serves the status endpoints when an address is configured. It
// blocks until Shutdown.
func (a *App) Start() error {
	if a.server == nil {
		return nil
	}
	return a.server.Start()
}

func (a *App) Serving() bool { return a.server != nil }

func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if a.server != nil {
		errs = append(errs, a.server.Shutdown(ctx))
	}
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}
