package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pario-ai/edgeworker/pkg/config"
	"github.com/pario-ai/edgeworker/pkg/models"
)

// ErrNotActive is returned when no worker has been activated yet.
var ErrNotActive = errors.New("no active worker")

// clientTTL bounds how long an idle client stays in the clients table.
const clientTTL = 24 * time.Hour

type client struct {
	worker   *Worker
	lastSeen time.Time
}

// Registration owns the active and waiting worker generations and the
// clients they control.
type Registration struct {
	deps Deps

	// lifecycle serializes install and activation.
	lifecycle sync.Mutex

	mu      sync.Mutex
	active  *Worker
	waiting *Worker
	clients map[string]*client
	now     func() time.Time
}

// NewRegistration creates an empty registration.
func NewRegistration(deps Deps) *Registration {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Registration{
		deps:    deps,
		clients: make(map[string]*client),
		now:     time.Now,
	}
}

// Register installs a new worker generation for cfg and m. Without an
// active worker, or with skip_waiting enabled, it is activated right away;
// otherwise it waits for a skip-waiting message. A failed install leaves
// the registration unchanged.
func (r *Registration) Register(ctx context.Context, cfg *config.Config, m *models.Manifest) (*Worker, error) {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	w, err := New(ctx, cfg, m, r.deps)
	if err != nil {
		return nil, err
	}
	w.SetMessageHandlers(
		NewNavigationHandler(w.DocumentCache(), w.logger),
		NewSkipWaitHandler(r),
	)

	if err := w.Install(ctx); err != nil {
		return nil, err
	}

	r.mu.Lock()
	prev := r.waiting
	r.waiting = w
	hasActive := r.active != nil
	r.mu.Unlock()

	if prev != nil {
		prev.Retire(ctx)
	}

	if !hasActive || cfg.SkipWaiting {
		return w, r.activateWaiting(ctx)
	}
	r.deps.Logger.Info("worker waiting", zap.String("worker", w.ID()))
	return w, nil
}

// SkipWaiting activates the waiting worker, if there is one.
func (r *Registration) SkipWaiting(ctx context.Context) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	r.mu.Lock()
	w := r.waiting
	r.mu.Unlock()
	if w == nil {
		return nil
	}
	w.record(ctx, models.EventSkipWaiting, "", nil)
	return r.activateWaiting(ctx)
}

// activateWaiting activates the waiting worker and only then publishes
// it: it becomes the active worker, takes over every client, and the
// previous active worker is retired. Until then fetches stay with the
// previous worker. A failed activation drops the waiting worker and keeps
// the active one. The caller holds the lifecycle lock.
func (r *Registration) activateWaiting(ctx context.Context) error {
	r.mu.Lock()
	w := r.waiting
	r.mu.Unlock()
	if w == nil {
		return nil
	}

	err := w.Activate(ctx, r.claim)

	r.mu.Lock()
	r.waiting = nil
	if err != nil {
		r.mu.Unlock()
		return err
	}
	old := r.active
	r.active = w
	for _, c := range r.clients {
		c.worker = w
	}
	r.mu.Unlock()

	if old != nil {
		old.Retire(ctx)
	}
	return nil
}

// claim prunes idle clients and reports how many the activating worker
// takes over when it is published.
func (r *Registration) claim(context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked()
	return len(r.clients), nil
}

// Navigate records a page load by clientID and returns the active worker,
// which controls the client from now on. It returns nil before the first
// activation.
func (r *Registration) Navigate(clientID string) *Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return nil
	}
	if clientID != "" {
		r.clients[clientID] = &client{worker: r.active, lastSeen: r.now()}
		if len(r.clients)%1024 == 0 {
			r.pruneLocked()
		}
	}
	return r.active
}

// Controller returns the worker controlling clientID, or nil when the
// client is unknown or its worker is no longer active.
func (r *Registration) Controller(clientID string) *Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[clientID]
	if !ok || c.worker != r.active {
		return nil
	}
	c.lastSeen = r.now()
	return c.worker
}

// Active returns the active worker, or nil.
func (r *Registration) Active() *Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Waiting returns the waiting worker, or nil.
func (r *Registration) Waiting() *Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.waiting
}

// PostMessage delivers msg to the active worker.
func (r *Registration) PostMessage(ctx context.Context, msg models.Message) error {
	w := r.Active()
	if w == nil {
		return ErrNotActive
	}
	if err := w.Message(ctx, msg); err != nil {
		return fmt.Errorf("message %s: %w", msg.Type, err)
	}
	return nil
}

// Status reports the registration state.
func (r *Registration) Status() models.RegistrationStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := models.RegistrationStatus{Clients: len(r.clients)}
	if r.active != nil {
		st.Active = r.active.Info()
	}
	if r.waiting != nil {
		st.Waiting = r.waiting.Info()
	}
	return st
}

// Wait blocks until background cache work of the current workers is done.
func (r *Registration) Wait() {
	r.mu.Lock()
	workers := []*Worker{r.active, r.waiting}
	r.mu.Unlock()
	for _, w := range workers {
		if w != nil {
			w.Wait()
		}
	}
}

// Close retires the active and waiting workers so the journal no longer
// counts their versions as live. The registration is empty afterwards.
func (r *Registration) Close(ctx context.Context) {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	r.mu.Lock()
	workers := []*Worker{r.active, r.waiting}
	r.active, r.waiting = nil, nil
	r.mu.Unlock()

	for _, w := range workers {
		if w != nil {
			w.Wait()
			w.Retire(ctx)
		}
	}
}

func (r *Registration) pruneLocked() {
	cutoff := r.now().Add(-clientTTL)
	for id, c := range r.clients {
		if c.lastSeen.Before(cutoff) {
			delete(r.clients, id)
		}
	}
}
