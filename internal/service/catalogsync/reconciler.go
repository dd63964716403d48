// Package catalogsync keeps the local catalog and each user's remote copy
// eventually consistent.
//
// Inbound batches are merged insert-only: a product already present locally,
// or deleted locally, is never touched by a remote record. Outbound pushes
// follow local commits. Remote failures are recorded in the session status
// and returned to explicit callers; they never undo local state.
package catalogsync

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"smartshop/internal/domain"
	"smartshop/internal/feed"
	"smartshop/internal/metrics"
	"smartshop/internal/remote"
)

type State string

const (
	StateIdle      State = "Idle"
	StateListening State = "Listening"
	StateSynced    State = "Synced"
	StateError     State = "Error"
)

// Status describes one user's sync session.
type Status struct {
	State      State     `json:"state"`
	LastError  string    `json:"lastError,omitempty"`
	LastSyncAt time.Time `json:"lastSyncAt,omitempty"`
	Inserted   int       `json:"inserted"`
}

// Catalog is the part of the local catalog store the reconciler needs.
type Catalog interface {
	List(ctx context.Context) ([]domain.Product, error)
	InsertIfAbsent(ctx context.Context, p domain.Product) (bool, error)
}

type session struct {
	cancel context.CancelFunc
	done   chan struct{}
	status Status
}

type Reconciler struct {
	catalog   Catalog
	mirror    remote.Mirror
	publisher feed.Publisher
	metrics   *metrics.Metrics
	logger    *log.Logger
	retry     time.Duration
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
	statuses map[string]Status
}

// New builds a Reconciler. metrics and logger may be nil.
func New(catalog Catalog, mirror remote.Mirror, publisher feed.Publisher, m *metrics.Metrics, logger *log.Logger) *Reconciler {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Reconciler{
		catalog:   catalog,
		mirror:    mirror,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		retry:     time.Second,
		now:       time.Now,
		sessions:  make(map[string]*session),
		statuses:  make(map[string]Status),
	}
}

// Start subscribes to the user's remote catalog and merges every delivered
// batch. Starting an active session is a no-op. The session outlives ctx's
// cancellation and ends on Stop or Close.
func (r *Reconciler) Start(ctx context.Context, userID string) error {
	if userID == "" {
		return domain.ErrUnauthenticated
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, running := r.sessions[userID]; running {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sess := &session{
		cancel: cancel,
		done:   make(chan struct{}),
		status: Status{State: StateListening},
	}
	r.sessions[userID] = sess
	r.logger.Printf("sync: start user=%s", userID)

	go func() {
		defer close(sess.done)
		r.run(runCtx, userID)
	}()
	return nil
}

// run keeps a subscription open until ctx is done, re-subscribing with
// backoff when the mirror refuses one.
func (r *Reconciler) run(ctx context.Context, userID string) {
	delay := r.retry
	for {
		snapshots, err := r.mirror.Subscribe(ctx, userID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.fail(userID, "subscribe", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay = min(delay*2, 30*time.Second)
			continue
		}
		delay = r.retry

		for snap := range snapshots {
			if snap.Err != nil {
				r.fail(userID, "feed", snap.Err)
				continue
			}
			if _, err := r.Apply(ctx, userID, snap.Products); err != nil && ctx.Err() == nil {
				r.logger.Printf("sync: apply user=%s error=%v", userID, err)
			}
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// Apply merges one remote batch into the local catalog and returns how many
// products were inserted. Applying the same batch again inserts nothing.
func (r *Reconciler) Apply(ctx context.Context, userID string, products []domain.Product) (int, error) {
	inserted := 0
	for _, p := range products {
		if err := p.Validate(); err != nil || p.ID == "" {
			r.logger.Printf("sync: skip remote product user=%s id=%s error=%v", userID, p.ID, err)
			continue
		}
		ok, err := r.catalog.InsertIfAbsent(ctx, p)
		if err != nil {
			err = domain.Storage("merge remote product", err)
			r.setError(userID, err)
			return inserted, err
		}
		if ok {
			inserted++
		}
	}
	if inserted > 0 {
		if err := r.publisher.Publish(ctx, feed.TopicCatalog); err != nil {
			r.logger.Printf("sync: publish user=%s error=%v", userID, err)
		}
		r.logger.Printf("sync: merged user=%s inserted=%d batch=%d", userID, inserted, len(products))
	}
	r.metrics.AddSyncInserted(inserted)

	r.update(userID, func(s *Status) {
		s.State = StateSynced
		s.LastError = ""
		s.LastSyncAt = r.now().UTC()
		s.Inserted += inserted
	})
	return inserted, nil
}

// PushUpsert sends one product to the user's remote catalog.
func (r *Reconciler) PushUpsert(ctx context.Context, userID string, p domain.Product) error {
	if userID == "" {
		return domain.ErrUnauthenticated
	}
	if err := r.mirror.Upsert(ctx, userID, p); err != nil {
		return r.fail(userID, "push", err)
	}
	r.clearError(userID)
	return nil
}

// PushDelete removes one product from the user's remote catalog.
func (r *Reconciler) PushDelete(ctx context.Context, userID, productID string) error {
	if userID == "" {
		return domain.ErrUnauthenticated
	}
	if err := r.mirror.Delete(ctx, userID, productID); err != nil {
		return r.fail(userID, "push delete", err)
	}
	r.clearError(userID)
	return nil
}

// SyncToCloud uploads one snapshot of the whole local catalog in a single
// batch and returns how many products it carried.
func (r *Reconciler) SyncToCloud(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, domain.ErrUnauthenticated
	}
	products, err := r.catalog.List(ctx)
	if err != nil {
		return 0, domain.Storage("snapshot catalog", err)
	}
	if err := r.mirror.UpsertBatch(ctx, userID, products); err != nil {
		return 0, r.fail(userID, "resync", err)
	}
	r.logger.Printf("sync: resync user=%s products=%d", userID, len(products))
	r.update(userID, func(s *Status) {
		if s.State == StateError {
			s.State = r.resting(userID)
		}
		s.LastError = ""
		s.LastSyncAt = r.now().UTC()
	})
	return len(products), nil
}

// Status reports the user's session state. Users without a session are Idle.
func (r *Reconciler) Status(userID string) Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.sessions[userID]; ok {
		return sess.status
	}
	if st, ok := r.statuses[userID]; ok {
		return st
	}
	return Status{State: StateIdle}
}

// Stop ends the user's session and waits for it to exit.
func (r *Reconciler) Stop(userID string) {
	r.mu.Lock()
	sess, ok := r.sessions[userID]
	if ok {
		delete(r.sessions, userID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	sess.cancel()
	<-sess.done

	r.mu.Lock()
	st := sess.status
	st.State = StateIdle
	r.statuses[userID] = st
	r.mu.Unlock()
	r.logger.Printf("sync: stop user=%s", userID)
}

// Close stops every session.
func (r *Reconciler) Close() {
	r.mu.Lock()
	users := make([]string, 0, len(r.sessions))
	for userID := range r.sessions {
		users = append(users, userID)
	}
	r.mu.Unlock()
	for _, userID := range users {
		r.Stop(userID)
	}
}

// fail records err as the user's sync error and returns it as a SyncError.
func (r *Reconciler) fail(userID, op string, err error) error {
	var syncErr *domain.SyncError
	if !errors.As(err, &syncErr) {
		syncErr = &domain.SyncError{Op: op, Err: err}
	}
	r.metrics.IncSyncError(op)
	r.logger.Printf("sync: %s user=%s error=%v", op, userID, err)
	r.setError(userID, syncErr)
	return syncErr
}

func (r *Reconciler) setError(userID string, err error) {
	r.update(userID, func(s *Status) {
		s.State = StateError
		s.LastError = err.Error()
	})
}

// clearError clears an error left by an earlier push.
func (r *Reconciler) clearError(userID string) {
	r.update(userID, func(s *Status) {
		if s.State == StateError {
			s.State = r.resting(userID)
			s.LastError = ""
		}
	})
}

// resting is the state a user returns to after an error clears. Called
// with r.mu held.
func (r *Reconciler) resting(userID string) State {
	if _, ok := r.sessions[userID]; ok {
		return StateListening
	}
	return StateIdle
}

func (r *Reconciler) update(userID string, fn func(*Status)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.sessions[userID]; ok {
		fn(&sess.status)
		return
	}
	st, ok := r.statuses[userID]
	if !ok {
		st = Status{State: StateIdle}
	}
	fn(&st)
	if st.State == StateSynced {
		// Batches applied outside a session leave the user idle.
		st.State = StateIdle
	}
	r.statuses[userID] = st
}
