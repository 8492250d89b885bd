package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stibe881/traumfunke/internal/domain"
	"github.com/stibe881/traumfunke/internal/notify"
)

type fakeStore struct {
	mu        sync.Mutex
	pending   []domain.StoryRequest
	claimed   map[string]bool
	failed    map[string]string
	created   []NewRequest
	createErr error
	createGate chan struct{}
	listCalls  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		claimed: make(map[string]bool),
		failed:  make(map[string]string),
	}
}

func (s *fakeStore) ListPending(ctx context.Context) ([]domain.StoryRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	out := make([]domain.StoryRequest, len(s.pending))
	copy(out, s.pending)
	return out, nil
}

func (s *fakeStore) CreateRequest(ctx context.Context, in NewRequest) (domain.StoryRequest, error) {
	if s.createGate != nil {
		<-s.createGate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return domain.StoryRequest{}, s.createErr
	}
	s.created = append(s.created, in)
	req := domain.StoryRequest{
		ID:        in.ID,
		UserID:    "user-1",
		Title:     in.Title,
		Theme:     in.Theme,
		Status:    domain.StatusQueued,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	s.pending = append(s.pending, req)
	return req, nil
}

func (s *fakeStore) CancelRequest(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.pending {
		if r.ID == id {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return nil
		}
	}
	return errors.New("not found")
}

func (s *fakeStore) MarkStarted(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimed[id] {
		return false, nil
	}
	s.claimed[id] = true
	return true, nil
}

func (s *fakeStore) SetFailed(ctx context.Context, id, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed[id] = message
	return nil
}

type fakeStarter struct {
	mu    sync.Mutex
	calls int
	err   error
	block chan struct{}
}

func (f *fakeStarter) Start(ctx context.Context, req domain.StoryRequest) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.err
}

func (f *fakeStarter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestTracker(store Store, starter Starter) *Tracker {
	return New("user-1", store, starter, slog.New(slog.NewTextHandler(discard{}, nil)))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func queuedRequest(id string) domain.StoryRequest {
	return domain.StoryRequest{
		ID:        id,
		UserID:    "user-1",
		Status:    domain.StatusQueued,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

func TestTrackNewRequestIdempotent(t *testing.T) {
	store := newFakeStore()
	tr := newTestTracker(store, &fakeStarter{})
	ctx := context.Background()

	first, err := tr.TrackNewRequest(ctx, NewRequest{ID: "req-1", Title: "dragons"})
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	second, err := tr.TrackNewRequest(ctx, NewRequest{ID: "req-1", Title: "dragons"})
	if err != nil {
		t.Fatalf("track again: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("ids differ: %s vs %s", first.ID, second.ID)
	}
	if len(tr.Snapshot()) != 1 {
		t.Fatalf("expected one tracked entry, got %d", len(tr.Snapshot()))
	}
	if len(store.created) != 1 {
		t.Fatalf("expected one store create, got %d", len(store.created))
	}
}

func TestTrackNewRequestRollsBackOnError(t *testing.T) {
	store := newFakeStore()
	store.createErr = errors.New("boom")
	tr := newTestTracker(store, &fakeStarter{})

	if _, err := tr.TrackNewRequest(context.Background(), NewRequest{Title: "dragons"}); err == nil {
		t.Fatal("expected create error")
	}
	if len(tr.Snapshot()) != 0 {
		t.Fatalf("optimistic entry should be removed, got %d entries", len(tr.Snapshot()))
	}
}

func TestMaybeStartGenerationAtMostOnce(t *testing.T) {
	store := newFakeStore()
	starter := &fakeStarter{}
	tr := newTestTracker(store, starter)
	ctx := context.Background()

	store.pending = []domain.StoryRequest{queuedRequest("req-1")}
	if err := tr.Reconcile(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = tr.MaybeStartGeneration(ctx, "req-1")
		}()
	}
	wg.Wait()

	if got := starter.callCount(); got != 1 {
		t.Fatalf("starter invoked %d times, want 1", got)
	}
}

func TestMaybeStartGenerationDurableClaimLoses(t *testing.T) {
	store := newFakeStore()
	store.claimed["req-1"] = true
	starter := &fakeStarter{}
	tr := newTestTracker(store, starter)
	ctx := context.Background()

	store.pending = []domain.StoryRequest{queuedRequest("req-1")}
	if err := tr.Reconcile(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if err := tr.MaybeStartGeneration(ctx, "req-1"); err != nil {
		t.Fatalf("maybe start: %v", err)
	}
	if starter.callCount() != 0 {
		t.Fatal("starter must not run when the durable claim is lost")
	}
}

func TestMaybeStartGenerationTimeoutLeavesQueued(t *testing.T) {
	store := newFakeStore()
	starter := &fakeStarter{err: context.DeadlineExceeded}
	tr := newTestTracker(store, starter)
	ctx := context.Background()

	store.pending = []domain.StoryRequest{queuedRequest("req-1")}
	if err := tr.Reconcile(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if err := tr.MaybeStartGeneration(ctx, "req-1"); err != nil {
		t.Fatalf("timeout must be tolerated, got %v", err)
	}
	if msg, ok := store.failed["req-1"]; ok {
		t.Fatalf("timeout must not mark failed, got %q", msg)
	}
	snap := tr.Snapshot()
	if len(snap) != 1 || snap[0].Status != domain.StatusQueued {
		t.Fatalf("request should stay queued, got %+v", snap)
	}
}

func TestMaybeStartGenerationHardErrorMarksFailed(t *testing.T) {
	store := newFakeStore()
	starter := &fakeStarter{err: errors.New("pipeline rejected request")}
	tr := newTestTracker(store, starter)
	ctx := context.Background()

	store.pending = []domain.StoryRequest{queuedRequest("req-1")}
	if err := tr.Reconcile(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if err := tr.MaybeStartGeneration(ctx, "req-1"); err == nil {
		t.Fatal("expected hard error")
	}
	if store.failed["req-1"] != "pipeline rejected request" {
		t.Fatalf("failure not recorded: %q", store.failed["req-1"])
	}
	snap := tr.Snapshot()
	if len(snap) != 1 || snap[0].Status != domain.StatusFailed {
		t.Fatalf("view should show failed, got %+v", snap)
	}
	if snap[0].ErrorMessage == nil || *snap[0].ErrorMessage != "pipeline rejected request" {
		t.Fatal("error message missing from view")
	}
}

func TestMaybeStartGenerationIgnoresNonQueued(t *testing.T) {
	store := newFakeStore()
	starter := &fakeStarter{}
	tr := newTestTracker(store, starter)
	ctx := context.Background()

	req := queuedRequest("req-1")
	req.Status = domain.StatusProcessing
	store.pending = []domain.StoryRequest{req}
	if err := tr.Reconcile(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if err := tr.MaybeStartGeneration(ctx, "req-1"); err != nil {
		t.Fatalf("maybe start: %v", err)
	}
	if starter.callCount() != 0 {
		t.Fatal("non-queued request must not start")
	}
}

func TestOnRemoteChangeForeignUserIgnored(t *testing.T) {
	store := newFakeStore()
	tr := newTestTracker(store, &fakeStarter{})

	tr.OnRemoteChange(notify.ChangeEvent{Type: notify.ChangeUpdate, RequestID: "x", UserID: "someone-else"})
	select {
	case <-tr.reconcileCh:
		t.Fatal("foreign-user event must not schedule a reconcile")
	default:
	}

	tr.OnRemoteChange(notify.ChangeEvent{Type: notify.ChangeUpdate, RequestID: "x", UserID: "user-1"})
	select {
	case <-tr.reconcileCh:
	default:
		t.Fatal("own event must schedule a reconcile")
	}
}

func TestScheduleReconcileCoalesces(t *testing.T) {
	tr := newTestTracker(newFakeStore(), &fakeStarter{})
	for i := 0; i < 10; i++ {
		tr.ScheduleReconcile()
	}
	<-tr.reconcileCh
	select {
	case <-tr.reconcileCh:
		t.Fatal("repeat triggers must coalesce into one")
	default:
	}
}

func TestReconcileFullReplace(t *testing.T) {
	store := newFakeStore()
	tr := newTestTracker(store, &fakeStarter{})
	ctx := context.Background()

	store.pending = []domain.StoryRequest{queuedRequest("old-1"), queuedRequest("old-2")}
	if err := tr.Reconcile(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if err := tr.MaybeStartGeneration(ctx, "old-1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	replacement := queuedRequest("new-1")
	store.mu.Lock()
	store.pending = []domain.StoryRequest{replacement}
	store.mu.Unlock()
	if err := tr.Reconcile(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	snap := tr.Snapshot()
	if len(snap) != 1 || snap[0].ID != "new-1" {
		t.Fatalf("full replace failed: %+v", snap)
	}
	tr.mu.Lock()
	_, stillMarked := tr.started["old-1"]
	tr.mu.Unlock()
	if stillMarked {
		t.Fatal("started marks for dropped requests must be pruned")
	}
}

func TestReconcilePreservesInFlightInsert(t *testing.T) {
	store := newFakeStore()
	store.createGate = make(chan struct{})
	tr := newTestTracker(store, &fakeStarter{})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := tr.TrackNewRequest(ctx, NewRequest{ID: "req-1", Title: "dragons"})
		done <- err
	}()

	deadline := time.After(2 * time.Second)
	for len(tr.Snapshot()) == 0 {
		select {
		case <-deadline:
			t.Fatal("optimistic entry never appeared")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	if err := tr.Reconcile(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(tr.Snapshot()) != 1 {
		t.Fatal("in-flight insert must survive a reconcile")
	}

	close(store.createGate)
	if err := <-done; err != nil {
		t.Fatalf("track: %v", err)
	}
}

func TestCancelRemovesEntry(t *testing.T) {
	store := newFakeStore()
	tr := newTestTracker(store, &fakeStarter{})
	ctx := context.Background()

	store.pending = []domain.StoryRequest{queuedRequest("req-1")}
	if err := tr.Reconcile(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if err := tr.Cancel(ctx, "req-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if len(tr.Snapshot()) != 0 {
		t.Fatal("cancelled request must leave the view")
	}
	if err := tr.Cancel(ctx, "req-1"); !errors.Is(err, ErrUnknownRequest) {
		t.Fatalf("expected ErrUnknownRequest, got %v", err)
	}
}

func TestSnapshotNewestFirst(t *testing.T) {
	store := newFakeStore()
	tr := newTestTracker(store, &fakeStarter{})
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 20, 0, 0, 0, time.UTC)
	var reqs []domain.StoryRequest
	for i := 0; i < 3; i++ {
		r := queuedRequest(fmt.Sprintf("req-%d", i))
		r.CreatedAt = base.Add(time.Duration(i) * time.Minute).Format(time.RFC3339)
		reqs = append(reqs, r)
	}
	store.pending = reqs
	if err := tr.Reconcile(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	snap := tr.Snapshot()
	if snap[0].ID != "req-2" || snap[2].ID != "req-0" {
		t.Fatalf("expected newest first, got %v %v %v", snap[0].ID, snap[1].ID, snap[2].ID)
	}
}

func TestRunServesCoalescedTriggers(t *testing.T) {
	store := newFakeStore()
	tr := newTestTracker(store, &fakeStarter{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go tr.Run(ctx)

	deadline := time.After(2 * time.Second)
	for {
		store.mu.Lock()
		calls := store.listCalls
		store.mu.Unlock()
		if calls >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("initial reconcile never ran")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	tr.OnFocus()
	deadline = time.After(2 * time.Second)
	for {
		store.mu.Lock()
		calls := store.listCalls
		store.mu.Unlock()
		if calls >= 2 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("focus trigger never reconciled")
		default:
			time.Sleep(time.Millisecond)
		}
	}
}
