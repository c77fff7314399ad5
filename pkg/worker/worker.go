// Package worker implements the worker lifecycle: generations are installed
// (precaching build assets), activated (dropping caches of other versions and
// claiming clients) and then answer fetch events and control messages.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	cachepkg "github.com/pario-ai/edgeworker/pkg/cache/sqlite"
	"github.com/pario-ai/edgeworker/pkg/config"
	"github.com/pario-ai/edgeworker/pkg/journal"
	"github.com/pario-ai/edgeworker/pkg/manifest"
	"github.com/pario-ai/edgeworker/pkg/models"
	"github.com/pario-ai/edgeworker/pkg/network"
	"github.com/pario-ai/edgeworker/pkg/router"
	"github.com/pario-ai/edgeworker/pkg/strategy"
)

// ErrInstallFailed wraps the cause of a failed install.
var ErrInstallFailed = errors.New("worker install failed")

// Deps are the shared collaborators of every worker generation.
type Deps struct {
	Storage *cachepkg.Storage
	Network network.Fetcher
	Journal *journal.Journal
	Logger  *zap.Logger
}

// Worker is one generation of the worker, bound to a cache version and a
// build manifest.
type Worker struct {
	id       string
	version  string
	cfg      *config.Config
	manifest *models.Manifest
	deps     Deps
	logger   *zap.Logger

	document *strategy.Cache
	asset    *strategy.Cache
	data     *strategy.Cache
	router   *router.Router
	handlers []MessageHandler

	mu          sync.RWMutex
	state       models.WorkerState
	installedAt time.Time
}

// New builds a worker generation and opens its caches.
func New(ctx context.Context, cfg *config.Config, m *models.Manifest, deps Deps) (*Worker, error) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	id := uuid.NewString()
	w := &Worker{
		id:       id,
		version:  cfg.Version,
		cfg:      cfg,
		manifest: m,
		deps:     deps,
		logger:   deps.Logger.With(zap.String("worker", id), zap.String("version", cfg.Version)),
		state:    models.StateParsed,
	}

	descs := cfg.Caches.All(cfg.Version)
	caches := make([]*strategy.Cache, len(descs))
	for i, d := range descs {
		c, err := strategy.New(ctx, deps.Storage, d, deps.Network, w.logger)
		if err != nil {
			return nil, fmt.Errorf("open cache %s: %w", d.Name, err)
		}
		caches[i] = c.WithPrecacheConcurrency(cfg.Precache.Concurrency)
	}
	w.document, w.asset, w.data = caches[0], caches[1], caches[2]
	w.router = router.New(w.document, w.data, w.asset, deps.Network, manifest.NewAssetSet(m))
	return w, nil
}

// ID returns the worker's unique identifier.
func (w *Worker) ID() string { return w.id }

// Version returns the cache version tag of the worker.
func (w *Worker) Version() string { return w.version }

// State returns the current lifecycle state.
func (w *Worker) State() models.WorkerState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

func (w *Worker) setState(s models.WorkerState) {
	w.mu.Lock()
	w.state = s
	if s == models.StateInstalled {
		w.installedAt = time.Now()
	}
	w.mu.Unlock()
	w.logger.Debug("worker state", zap.String("state", string(s)))
}

// Info summarizes the worker.
func (w *Worker) Info() *models.WorkerInfo {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return &models.WorkerInfo{
		ID:          w.id,
		Version:     w.version,
		State:       w.state,
		Assets:      len(w.manifest.Assets),
		InstalledAt: w.installedAt,
	}
}

// DocumentCache returns the cache serving page navigations.
func (w *Worker) DocumentCache() *strategy.Cache { return w.document }

// AssetCache returns the cache serving build assets.
func (w *Worker) AssetCache() *strategy.Cache { return w.asset }

// DataCache returns the cache serving loader data.
func (w *Worker) DataCache() *strategy.Cache { return w.data }

// SetMessageHandlers replaces the handlers run for every message.
func (w *Worker) SetMessageHandlers(hs ...MessageHandler) {
	w.handlers = hs
}

// Install precaches the manifest assets, minus the excluded suffixes. On
// failure the worker becomes redundant and the error wraps
// ErrInstallFailed.
func (w *Worker) Install(ctx context.Context) error {
	w.logger.Info("worker installing")
	w.setState(models.StateInstalling)

	urls := manifest.PrecacheList(w.manifest, w.cfg.Precache.ExcludeSuffixes)
	if err := w.asset.PreCacheURLs(ctx, urls); err != nil {
		w.setState(models.StateRedundant)
		w.record(ctx, models.EventInstall, "", err)
		return fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}

	w.setState(models.StateInstalled)
	w.record(ctx, models.EventInstall, fmt.Sprintf("precached %d assets", len(urls)), nil)
	w.logger.Info("worker installed", zap.Int("precached", len(urls)))
	return nil
}

// Activate deletes caches of other versions and claims clients, running
// both concurrently and waiting for both. If either fails the worker
// becomes redundant.
func (w *Worker) Activate(ctx context.Context, claim func(context.Context) (int, error)) error {
	w.setState(models.StateActivating)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		deleted, err := strategy.ClearOldCaches(gctx, w.deps.Storage, w.cfg.Caches.Names(), w.version)
		if len(deleted) > 0 {
			w.logger.Info("deleted old caches", zap.Strings("caches", deleted))
		}
		w.record(gctx, models.EventCleanup, strings.Join(deleted, ","), err)
		return err
	})
	g.Go(func() error {
		if claim == nil {
			return nil
		}
		n, err := claim(gctx)
		w.record(gctx, models.EventClaim, fmt.Sprintf("%d clients", n), err)
		return err
	})
	if err := g.Wait(); err != nil {
		w.setState(models.StateRedundant)
		w.record(ctx, models.EventActivate, "", err)
		return fmt.Errorf("activate: %w", err)
	}

	w.setState(models.StateActivated)
	w.record(ctx, models.EventActivate, "", nil)
	w.logger.Info("worker activated")
	return nil
}

// Retire marks the worker redundant.
func (w *Worker) Retire(ctx context.Context) {
	w.setState(models.StateRedundant)
	w.record(ctx, models.EventRedundant, "", nil)
}

// Fetch answers an intercepted request.
func (w *Worker) Fetch(r *http.Request) (*http.Response, models.RequestKind, error) {
	return w.router.Handle(r)
}

// Message dispatches msg to every handler concurrently and waits for all of
// them. Handler errors are joined.
func (w *Worker) Message(ctx context.Context, msg models.Message) error {
	errs := make([]error, len(w.handlers))
	var wg sync.WaitGroup
	for i, h := range w.handlers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = h.HandleMessage(ctx, msg)
		}()
	}
	wg.Wait()

	err := errors.Join(errs...)
	w.record(ctx, models.EventMessage, msg.Type, err)
	return err
}

// Wait blocks until background cache work has finished.
func (w *Worker) Wait() {
	w.document.Wait()
	w.asset.Wait()
	w.data.Wait()
}

func (w *Worker) record(ctx context.Context, event, detail string, err error) {
	ev := models.LifecycleEvent{
		WorkerID: w.id,
		Version:  w.version,
		Event:    event,
		Detail:   detail,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	if jerr := w.deps.Journal.Record(context.WithoutCancel(ctx), ev); jerr != nil {
		w.logger.Warn("journal record failed", zap.Error(jerr))
	}
}
