package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stibe881/traumfunke/internal/config"
	"github.com/stibe881/traumfunke/internal/db"
	"github.com/stibe881/traumfunke/internal/domain"
	"github.com/stibe881/traumfunke/internal/engine"
	"github.com/stibe881/traumfunke/internal/migrate"
	"github.com/stibe881/traumfunke/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	now    *time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	now := time.Date(2026, 1, 1, 20, 0, 0, 0, time.UTC)
	env := &testEnv{Ctx: context.Background(), now: &now}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return *env.now }
	eng.Events.Now = eng.Now
	env.Engine = eng
	return env
}

func (env *testEnv) advance(d time.Duration) {
	*env.now = env.now.Add(d)
}

func TestCreateRequestDebitsCoins(t *testing.T) {
	env := newTestEnv(t)
	req, err := env.Engine.CreateRequest(env.Ctx, engine.CreateRequestInput{
		UserID: "user-1",
		Title:  "The Dragon of Bremen",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if req.Status != domain.StatusQueued {
		t.Fatalf("new request should be queued, got %s", req.Status)
	}
	balance, err := env.Engine.CoinBalance(env.Ctx, "user-1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	want := config.Default().Coins.StartingBalance - config.Default().Coins.StoryCost
	if balance != want {
		t.Fatalf("balance = %d, want %d", balance, want)
	}
}

func TestCreateRequestIdempotentByID(t *testing.T) {
	env := newTestEnv(t)
	in := engine.CreateRequestInput{ID: "req-1", UserID: "user-1", Title: "Stars"}
	first, err := env.Engine.CreateRequest(env.Ctx, in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := env.Engine.CreateRequest(env.Ctx, in)
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if first.ID != second.ID || first.CreatedAt != second.CreatedAt {
		t.Fatal("resubmitting the same id must return the existing row")
	}
	balance, _ := env.Engine.CoinBalance(env.Ctx, "user-1")
	want := config.Default().Coins.StartingBalance - config.Default().Coins.StoryCost
	if balance != want {
		t.Fatalf("resubmit double-charged: balance %d, want %d", balance, want)
	}
}

func TestCreateRequestInsufficientCoins(t *testing.T) {
	env := newTestEnv(t)
	cfg := config.Default()
	cfg.Coins.StartingBalance = 5
	env.Engine.Config = cfg

	_, err := env.Engine.CreateRequest(env.Ctx, engine.CreateRequestInput{UserID: "user-1", Title: "Stars"})
	if !errors.Is(err, engine.ErrInsufficientCoins) {
		t.Fatalf("expected ErrInsufficientCoins, got %v", err)
	}
	items, err := env.Engine.Repo.ListRequests(env.Ctx, repo.RequestFilters{UserID: "user-1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 0 {
		t.Fatal("no request row must exist after a failed debit")
	}
}

func TestStatusTransitions(t *testing.T) {
	env := newTestEnv(t)
	req, err := env.Engine.CreateRequest(env.Ctx, engine.CreateRequestInput{UserID: "user-1", Title: "Stars"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, status := range []string{
		domain.StatusProcessing,
		domain.StatusGeneratingText,
		domain.StatusGeneratingImages,
		domain.StatusRenderingClips,
	} {
		req, err = env.Engine.UpdateRequestStatus(env.Ctx, req.ID, status, nil)
		if err != nil || req.Status != status {
			t.Fatalf("to %s: %v", status, err)
		}
	}
	// backward transition rejected
	if _, err := env.Engine.UpdateRequestStatus(env.Ctx, req.ID, domain.StatusProcessing, nil); !errors.Is(err, engine.ErrInvalidTransition) {
		t.Fatalf("backward transition must fail, got %v", err)
	}
	// failed allowed from any non-terminal
	msg := "renderer crashed"
	req, err = env.Engine.UpdateRequestStatus(env.Ctx, req.ID, domain.StatusFailed, &msg)
	if err != nil {
		t.Fatalf("to failed: %v", err)
	}
	if req.ErrorMessage == nil || *req.ErrorMessage != msg {
		t.Fatal("error message lost")
	}
	// terminal rows reject further reports
	if _, err := env.Engine.UpdateRequestStatus(env.Ctx, req.ID, domain.StatusFinished, nil); !errors.Is(err, engine.ErrInvalidTransition) {
		t.Fatalf("terminal transition must fail, got %v", err)
	}
}

func TestStatusSkipAheadAllowed(t *testing.T) {
	env := newTestEnv(t)
	req, err := env.Engine.CreateRequest(env.Ctx, engine.CreateRequestInput{UserID: "user-1", Title: "Stars"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	req, err = env.Engine.UpdateRequestStatus(env.Ctx, req.ID, domain.StatusRenderingClips, nil)
	if err != nil || req.Status != domain.StatusRenderingClips {
		t.Fatalf("skip ahead: %v", err)
	}
}

func TestMarkGenerationStartedClaimsOnce(t *testing.T) {
	env := newTestEnv(t)
	req, err := env.Engine.CreateRequest(env.Ctx, engine.CreateRequestInput{UserID: "user-1", Title: "Stars"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	claimed, err := env.Engine.MarkGenerationStarted(env.Ctx, req.ID)
	if err != nil || !claimed {
		t.Fatalf("first claim should win: %v %v", claimed, err)
	}
	claimed, err = env.Engine.MarkGenerationStarted(env.Ctx, req.ID)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if claimed {
		t.Fatal("second claim must lose")
	}
	got, _ := env.Engine.Repo.GetRequest(env.Ctx, req.ID)
	if got.GenerationStartedAt == nil {
		t.Fatal("generation_started_at not persisted")
	}
}

func TestCancelRequestNonRefundable(t *testing.T) {
	env := newTestEnv(t)
	req, err := env.Engine.CreateRequest(env.Ctx, engine.CreateRequestInput{UserID: "user-1", Title: "Stars"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	before, _ := env.Engine.CoinBalance(env.Ctx, "user-1")
	if err := env.Engine.CancelRequest(env.Ctx, req.ID, "user-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	after, _ := env.Engine.CoinBalance(env.Ctx, "user-1")
	if before != after {
		t.Fatalf("cancel refunded coins: %d -> %d", before, after)
	}
	if _, err := env.Engine.Repo.GetRequest(env.Ctx, req.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatal("cancelled row must be gone")
	}
}

func TestCancelRequestForeignUser(t *testing.T) {
	env := newTestEnv(t)
	req, err := env.Engine.CreateRequest(env.Ctx, engine.CreateRequestInput{UserID: "user-1", Title: "Stars"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := env.Engine.CancelRequest(env.Ctx, req.ID, "user-2"); !errors.Is(err, engine.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestRecordStoryFinishesRequest(t *testing.T) {
	env := newTestEnv(t)
	req, err := env.Engine.CreateRequest(env.Ctx, engine.CreateRequestInput{UserID: "user-1", Title: "Stars", Language: "de"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	story, err := env.Engine.RecordStory(env.Ctx, req.ID, "", "Es war einmal...", "https://cdn/cover.png")
	if err != nil {
		t.Fatalf("record story: %v", err)
	}
	if story.Title != "Stars" || story.Language != "de" {
		t.Fatalf("story metadata not inherited: %+v", story)
	}
	got, _ := env.Engine.Repo.GetRequest(env.Ctx, req.ID)
	if got.Status != domain.StatusFinished {
		t.Fatalf("request should be finished, got %s", got.Status)
	}
	found, err := env.Engine.FindStoryForRequest(env.Ctx, req.ID)
	if err != nil || found.ID != story.ID {
		t.Fatalf("story lookup by request: %v", err)
	}
	// second completion rejected
	if _, err := env.Engine.RecordStory(env.Ctx, req.ID, "", "again", ""); !errors.Is(err, engine.ErrInvalidTransition) {
		t.Fatalf("duplicate completion must fail, got %v", err)
	}
}

func TestListPendingVisibilityWindow(t *testing.T) {
	env := newTestEnv(t)

	old, err := env.Engine.CreateRequest(env.Ctx, engine.CreateRequestInput{UserID: "user-1", Title: "Old"})
	if err != nil {
		t.Fatalf("create old: %v", err)
	}
	env.advance(11 * time.Minute)
	fresh, err := env.Engine.CreateRequest(env.Ctx, engine.CreateRequestInput{UserID: "user-1", Title: "Fresh"})
	if err != nil {
		t.Fatalf("create fresh: %v", err)
	}
	done, err := env.Engine.CreateRequest(env.Ctx, engine.CreateRequestInput{UserID: "user-1", Title: "Done"})
	if err != nil {
		t.Fatalf("create done: %v", err)
	}
	if _, err := env.Engine.RecordStory(env.Ctx, done.ID, "", "text", ""); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if _, err := env.Engine.CreateRequest(env.Ctx, engine.CreateRequestInput{UserID: "user-2", Title: "Other"}); err != nil {
		t.Fatalf("create other user: %v", err)
	}

	items, err := env.Engine.ListPending(env.Ctx, "user-1")
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(items) != 1 || items[0].ID != fresh.ID {
		t.Fatalf("expected only the fresh request, got %+v", items)
	}
	for _, it := range items {
		if it.ID == old.ID {
			t.Fatal("request older than the window leaked into the view")
		}
	}
}

func TestEpisodeNumbering(t *testing.T) {
	env := newTestEnv(t)
	first, err := env.Engine.CreateRequest(env.Ctx, engine.CreateRequestInput{
		UserID: "user-1", Title: "Moon Fox 1", IsEpisode: true, SeriesID: "series-1",
	})
	if err != nil {
		t.Fatalf("create episode: %v", err)
	}
	if first.EpisodeNumber == nil || *first.EpisodeNumber != 1 {
		t.Fatalf("first episode number = %v, want 1", first.EpisodeNumber)
	}
	if _, err := env.Engine.RecordStory(env.Ctx, first.ID, "", "text", ""); err != nil {
		t.Fatalf("finish: %v", err)
	}
	second, err := env.Engine.CreateRequest(env.Ctx, engine.CreateRequestInput{
		UserID: "user-1", Title: "Moon Fox 2", IsEpisode: true, SeriesID: "series-1",
	})
	if err != nil {
		t.Fatalf("create second episode: %v", err)
	}
	if second.EpisodeNumber == nil || *second.EpisodeNumber != 2 {
		t.Fatalf("second episode number = %v, want 2", second.EpisodeNumber)
	}
}
