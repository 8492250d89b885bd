package tracker

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stibe881/traumfunke/internal/domain"
	"github.com/stibe881/traumfunke/internal/generator"
	"github.com/stibe881/traumfunke/internal/notify"
)

// Store is the tracker's view of the authoritative request store. Adapters
// exist for the HTTP API (sdk) and for a local engine.
type Store interface {
	// ListPending returns the user's non-terminal requests inside the
	// visibility window, newest first.
	ListPending(ctx context.Context) ([]domain.StoryRequest, error)
	// CreateRequest inserts a queued request under the given ID.
	CreateRequest(ctx context.Context, in NewRequest) (domain.StoryRequest, error)
	// CancelRequest removes a request. Coins are not refunded.
	CancelRequest(ctx context.Context, id string) error
	// MarkStarted durably claims the start flag. False means another
	// caller claimed it first.
	MarkStarted(ctx context.Context, id string) (bool, error)
	// SetFailed records a hard start failure.
	SetFailed(ctx context.Context, id, message string) error
}

// Starter invokes the generation pipeline for one request.
type Starter interface {
	Start(ctx context.Context, req domain.StoryRequest) error
}

// NewRequest is client-side input for an optimistic insert.
type NewRequest struct {
	ID        string
	ProfileID string
	Title     string
	Theme     string
	Language  string
	IsEpisode bool
	SeriesID  string
}

var ErrUnknownRequest = errors.New("unknown request")

// Tracker reconciles three sources of request state into one tracked view:
// optimistic local inserts, push notifications, and focus refetches. The
// store is authoritative; pushes and focus only trigger refetches, their
// payloads are never applied directly.
type Tracker struct {
	UserID  string
	Store   Store
	Starter Starter
	Logger  *slog.Logger
	Now     func() time.Time

	mu        sync.Mutex
	view      map[string]domain.StoryRequest
	inserting map[string]bool
	started   map[string]bool
	onChange  func([]domain.StoryRequest)

	// reconcileCh has capacity 1: any number of triggers while a
	// reconcile is pending coalesce into one refetch.
	reconcileCh chan struct{}
}

func New(userID string, store Store, starter Starter, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		UserID:      userID,
		Store:       store,
		Starter:     starter,
		Logger:      logger,
		view:        make(map[string]domain.StoryRequest),
		inserting:   make(map[string]bool),
		started:     make(map[string]bool),
		reconcileCh: make(chan struct{}, 1),
	}
}

func (t *Tracker) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

// SetOnChange registers a callback invoked with a fresh snapshot after
// every change to the tracked view.
func (t *Tracker) SetOnChange(fn func([]domain.StoryRequest)) {
	t.mu.Lock()
	t.onChange = fn
	t.mu.Unlock()
}

// Snapshot returns the tracked view, newest first.
func (t *Tracker) Snapshot() []domain.StoryRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() []domain.StoryRequest {
	res := make([]domain.StoryRequest, 0, len(t.view))
	for _, r := range t.view {
		res = append(res, r)
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt != res[j].CreatedAt {
			return res[i].CreatedAt > res[j].CreatedAt
		}
		return res[i].ID > res[j].ID
	})
	return res
}

func (t *Tracker) notifyLocked() {
	if t.onChange != nil {
		t.onChange(t.snapshotLocked())
	}
}

// TrackNewRequest shows the request immediately and then creates it on the
// store. Calling it again with the same ID is a no-op returning the
// existing entry. If the remote create fails the optimistic entry is
// removed again.
func (t *Tracker) TrackNewRequest(ctx context.Context, in NewRequest) (domain.StoryRequest, error) {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	now := t.now().UTC().Format(time.RFC3339)
	optimistic := domain.StoryRequest{
		ID:        in.ID,
		UserID:    t.UserID,
		Title:     in.Title,
		Theme:     in.Theme,
		Language:  in.Language,
		Status:    domain.StatusQueued,
		IsEpisode: in.IsEpisode,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if in.ProfileID != "" {
		optimistic.ProfileID = &in.ProfileID
	}
	if in.SeriesID != "" {
		optimistic.SeriesID = &in.SeriesID
	}

	t.mu.Lock()
	if existing, ok := t.view[in.ID]; ok {
		t.mu.Unlock()
		return existing, nil
	}
	t.view[in.ID] = optimistic
	t.inserting[in.ID] = true
	t.notifyLocked()
	t.mu.Unlock()

	created, err := t.Store.CreateRequest(ctx, in)

	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inserting, in.ID)
	if err != nil {
		delete(t.view, in.ID)
		t.notifyLocked()
		return domain.StoryRequest{}, err
	}
	t.view[in.ID] = created
	t.notifyLocked()
	return created, nil
}

// OnRemoteChange handles a push notification. Events for other users are
// ignored; everything else just schedules a refetch. The event payload is
// a hint, never applied to the view.
func (t *Tracker) OnRemoteChange(ev notify.ChangeEvent) {
	if ev.UserID != t.UserID {
		return
	}
	t.ScheduleReconcile()
}

// OnFocus schedules a refetch when the client regains focus.
func (t *Tracker) OnFocus() {
	t.ScheduleReconcile()
}

// ScheduleReconcile requests a reconcile. Triggers arriving while one is
// already pending coalesce.
func (t *Tracker) ScheduleReconcile() {
	select {
	case t.reconcileCh <- struct{}{}:
	default:
	}
}

// Reconcile replaces the tracked view with the store's pending set.
// Last write wins: whatever the store returns is the new truth, except for
// optimistic inserts whose remote create has not returned yet.
func (t *Tracker) Reconcile(ctx context.Context) error {
	fetched, err := t.Store.ListPending(ctx)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	next := make(map[string]domain.StoryRequest, len(fetched))
	for _, r := range fetched {
		next[r.ID] = r
	}
	for id := range t.inserting {
		if _, ok := next[id]; !ok {
			next[id] = t.view[id]
		}
	}
	t.view = next
	for id := range t.started {
		if _, ok := next[id]; !ok {
			delete(t.started, id)
		}
	}
	t.notifyLocked()
	return nil
}

// MaybeStartGeneration starts the pipeline for a queued request at most
// once. The start is marked before the pipeline is invoked, first in
// memory and then durably on the store; only the caller that wins both
// marks invokes the starter. A timeout from the starter is tolerated (the
// pipeline may have received the call), any other error marks the request
// failed.
func (t *Tracker) MaybeStartGeneration(ctx context.Context, id string) error {
	t.mu.Lock()
	req, ok := t.view[id]
	if !ok {
		t.mu.Unlock()
		return ErrUnknownRequest
	}
	if req.Status != domain.StatusQueued || t.started[id] {
		t.mu.Unlock()
		return nil
	}
	t.started[id] = true
	t.mu.Unlock()

	claimed, err := t.Store.MarkStarted(ctx, id)
	if err != nil {
		t.mu.Lock()
		delete(t.started, id)
		t.mu.Unlock()
		return err
	}
	if !claimed {
		t.Logger.Debug("start already claimed", "request_id", id)
		return nil
	}

	err = t.Starter.Start(ctx, req)
	if err == nil {
		return nil
	}
	if generator.IsTimeout(err) {
		t.Logger.Warn("start invocation timed out, leaving request queued", "request_id", id)
		t.ScheduleReconcile()
		return nil
	}
	t.Logger.Error("start invocation failed", "request_id", id, "err", err)
	if ferr := t.Store.SetFailed(ctx, id, err.Error()); ferr != nil {
		t.Logger.Error("recording start failure", "request_id", id, "err", ferr)
	}
	msg := err.Error()
	t.mu.Lock()
	if r, ok := t.view[id]; ok {
		r.Status = domain.StatusFailed
		r.ErrorMessage = &msg
		t.view[id] = r
		t.notifyLocked()
	}
	t.mu.Unlock()
	t.ScheduleReconcile()
	return err
}

// Cancel removes a request, store first. The local entry only goes away
// once the store confirmed, except when the store no longer knows the ID.
func (t *Tracker) Cancel(ctx context.Context, id string) error {
	t.mu.Lock()
	_, ok := t.view[id]
	t.mu.Unlock()
	if !ok {
		return ErrUnknownRequest
	}
	if err := t.Store.CancelRequest(ctx, id); err != nil {
		return err
	}
	t.mu.Lock()
	delete(t.view, id)
	delete(t.started, id)
	t.notifyLocked()
	t.mu.Unlock()
	return nil
}

// Run performs an initial reconcile and then serves coalesced reconcile
// triggers until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) error {
	if err := t.Reconcile(ctx); err != nil {
		t.Logger.Warn("initial reconcile failed", "err", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.reconcileCh:
			if err := t.Reconcile(ctx); err != nil {
				t.Logger.Warn("reconcile failed", "err", err)
			}
		}
	}
}
