package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stibe881/traumfunke/internal/config"
	"github.com/stibe881/traumfunke/internal/domain"
	"github.com/stibe881/traumfunke/internal/events"
	"github.com/stibe881/traumfunke/internal/repo"
)

// Engine owns all mutations of the request store. Each operation runs in a
// single transaction together with its event, so readers and the notify
// pump never observe a half-applied change.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

// New wires an engine over an open database.
func New(conn *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     conn,
		Repo:   repo.Repo{DB: conn},
		Events: events.Writer{},
		Config: cfg,
		Now:    time.Now,
	}
}

var (
	ErrInsufficientCoins = errors.New("insufficient coins")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrForbidden         = errors.New("forbidden")
)

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowRFC3339() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

type CreateRequestInput struct {
	ID        string
	UserID    string
	ProfileID string
	Title     string
	Theme     string
	Language  string
	IsEpisode bool
	SeriesID  string
}

// CreateRequest debits the user's coins and inserts a queued request. The
// ID may be supplied by the client (it generates one before calling, so the
// row can be shown optimistically); resubmitting the same ID returns the
// existing row instead of double-charging.
func (e Engine) CreateRequest(ctx context.Context, in CreateRequestInput) (domain.StoryRequest, error) {
	if in.UserID == "" {
		return domain.StoryRequest{}, fmt.Errorf("user id required")
	}
	if in.Title == "" && in.Theme == "" {
		return domain.StoryRequest{}, fmt.Errorf("title or theme required")
	}
	if in.IsEpisode && in.SeriesID == "" {
		return domain.StoryRequest{}, fmt.Errorf("episode requires series id")
	}
	if in.Language != "" && !e.Config.KnownLanguage(in.Language) {
		return domain.StoryRequest{}, fmt.Errorf("unsupported language %q", in.Language)
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if existing, err := e.Repo.GetRequest(ctx, in.ID); err == nil {
		if existing.UserID != in.UserID {
			return domain.StoryRequest{}, ErrForbidden
		}
		return existing, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.StoryRequest{}, err
	}
	if in.ProfileID != "" {
		p, err := e.Repo.GetProfile(ctx, in.ProfileID)
		if err != nil {
			return domain.StoryRequest{}, fmt.Errorf("profile: %w", err)
		}
		if p.UserID != in.UserID {
			return domain.StoryRequest{}, ErrForbidden
		}
	}
	if err := e.EnsureStartingBalance(ctx, in.UserID); err != nil {
		return domain.StoryRequest{}, err
	}

	cost := e.Config.Coins.StoryCost
	if in.IsEpisode {
		cost = e.Config.Coins.EpisodeCost
	}
	now := e.nowRFC3339()
	req := domain.StoryRequest{
		ID:        in.ID,
		UserID:    in.UserID,
		Title:     in.Title,
		Theme:     in.Theme,
		Language:  in.Language,
		Status:    domain.StatusQueued,
		IsEpisode: in.IsEpisode,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if in.ProfileID != "" {
		req.ProfileID = &in.ProfileID
	}
	if in.SeriesID != "" {
		req.SeriesID = &in.SeriesID
	}
	if in.IsEpisode {
		n, err := e.Repo.NextEpisodeNumber(ctx, in.SeriesID)
		if err != nil {
			return domain.StoryRequest{}, err
		}
		req.EpisodeNumber = &n
	}

	err := e.inTx(ctx, func(tx *sql.Tx) error {
		balance, err := e.Repo.CoinBalanceTx(ctx, tx, in.UserID)
		if err != nil {
			return err
		}
		if balance < cost {
			return ErrInsufficientCoins
		}
		reason := "story"
		if in.IsEpisode {
			reason = "episode"
		}
		if err := e.Repo.InsertCoinEntry(ctx, tx, domain.CoinEntry{
			UserID:    in.UserID,
			Amount:    -cost,
			Reason:    reason,
			RequestID: req.ID,
			CreatedAt: now,
		}); err != nil {
			return err
		}
		if err := e.Repo.InsertRequest(ctx, tx, req); err != nil {
			return err
		}
		if err := e.Events.Append(ctx, tx, events.TypeCoinsDebited, in.UserID, "coins", req.ID, map[string]any{"amount": -cost, "reason": reason}); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.TypeRequestCreated, in.UserID, "request", req.ID, map[string]any{"status": req.Status})
	})
	if err != nil {
		return domain.StoryRequest{}, err
	}
	return req, nil
}

// EnsureStartingBalance grants the configured starting coins to users who
// have no ledger rows yet.
func (e Engine) EnsureStartingBalance(ctx context.Context, userID string) error {
	rows, err := e.Repo.ListCoinEntries(ctx, userID, 1)
	if err != nil {
		return err
	}
	if len(rows) > 0 {
		return nil
	}
	now := e.nowRFC3339()
	return e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertCoinEntry(ctx, tx, domain.CoinEntry{
			UserID:    userID,
			Amount:    e.Config.Coins.StartingBalance,
			Reason:    "starting_balance",
			CreatedAt: now,
		}); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.TypeCoinsCredited, userID, "coins", "", map[string]any{"amount": e.Config.Coins.StartingBalance, "reason": "starting_balance"})
	})
}

func ensureStatusTransition(from, to string) error {
	if !domain.KnownStatus(to) {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	if domain.TerminalStatus(from) {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, from)
	}
	if to == domain.StatusFailed {
		return nil
	}
	fromRank, _ := domain.StatusRank(from)
	toRank, ok := domain.StatusRank(to)
	if !ok || toRank <= fromRank {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// UpdateRequestStatus applies a pipeline progress report. Transitions only
// move forward; reports against terminal rows are rejected.
func (e Engine) UpdateRequestStatus(ctx context.Context, id, status string, errMsg *string) (domain.StoryRequest, error) {
	req, err := e.Repo.GetRequest(ctx, id)
	if err != nil {
		return domain.StoryRequest{}, err
	}
	if err := ensureStatusTransition(req.Status, status); err != nil {
		return domain.StoryRequest{}, err
	}
	if status != domain.StatusFailed {
		errMsg = nil
	}
	now := e.nowRFC3339()
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.UpdateRequestStatus(ctx, tx, id, status, errMsg, now); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.TypeRequestUpdated, req.UserID, "request", id, map[string]any{"status": status})
	})
	if err != nil {
		return domain.StoryRequest{}, err
	}
	req.Status = status
	req.ErrorMessage = errMsg
	req.UpdatedAt = now
	return req, nil
}

// MarkGenerationStarted records the durable start flag. The false return
// means another caller already claimed the request.
func (e Engine) MarkGenerationStarted(ctx context.Context, id string) (bool, error) {
	return e.Repo.ClaimGenerationStart(ctx, id, e.nowRFC3339())
}

// RecordStory stores the finished artifact and moves its request to
// finished in one transaction.
func (e Engine) RecordStory(ctx context.Context, requestID, title, text, coverURL string) (domain.Story, error) {
	req, err := e.Repo.GetRequest(ctx, requestID)
	if err != nil {
		return domain.Story{}, err
	}
	if domain.TerminalStatus(req.Status) {
		return domain.Story{}, fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, req.Status)
	}
	now := e.nowRFC3339()
	story := domain.Story{
		ID:            uuid.NewString(),
		UserID:        req.UserID,
		RequestID:     req.ID,
		Title:         title,
		Language:      req.Language,
		Text:          text,
		CoverURL:      coverURL,
		SeriesID:      req.SeriesID,
		EpisodeNumber: req.EpisodeNumber,
		CreatedAt:     now,
	}
	if story.Title == "" {
		story.Title = req.Title
	}
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertStory(ctx, tx, story); err != nil {
			return err
		}
		if err := e.Repo.UpdateRequestStatus(ctx, tx, req.ID, domain.StatusFinished, nil, now); err != nil {
			return err
		}
		if err := e.Events.Append(ctx, tx, events.TypeStoryCreated, req.UserID, "story", story.ID, map[string]any{"request_id": req.ID}); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.TypeRequestUpdated, req.UserID, "request", req.ID, map[string]any{"status": domain.StatusFinished})
	})
	if err != nil {
		return domain.Story{}, err
	}
	return story, nil
}

// CancelRequest removes a request. Coins already spent stay spent; work the
// pipeline has begun is not interrupted, its later callbacks just find no
// row.
func (e Engine) CancelRequest(ctx context.Context, id, userID string) error {
	req, err := e.Repo.GetRequest(ctx, id)
	if err != nil {
		return err
	}
	if userID != "" && req.UserID != userID {
		return ErrForbidden
	}
	return e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.DeleteRequest(ctx, tx, id); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.TypeRequestCancelled, req.UserID, "request", id, map[string]any{"status": req.Status})
	})
}

// ListPending returns a user's pending requests inside the visibility
// window, newest first.
func (e Engine) ListPending(ctx context.Context, userID string) ([]domain.StoryRequest, error) {
	cutoff := e.now().UTC().Add(-e.Config.VisibilityWindow()).Format(time.RFC3339)
	return e.Repo.ListPendingRequests(ctx, userID, cutoff)
}

func (e Engine) FindStoryForRequest(ctx context.Context, requestID string) (domain.Story, error) {
	return e.Repo.GetStoryByRequest(ctx, requestID)
}

func (e Engine) CoinBalance(ctx context.Context, userID string) (int, error) {
	if err := e.EnsureStartingBalance(ctx, userID); err != nil {
		return 0, err
	}
	return e.Repo.CoinBalance(ctx, userID)
}

// GrantCoins credits a user's ledger. Used by admin tooling.
func (e Engine) GrantCoins(ctx context.Context, userID string, amount int, reason string) error {
	if amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	if reason == "" {
		reason = "grant"
	}
	now := e.nowRFC3339()
	return e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertCoinEntry(ctx, tx, domain.CoinEntry{
			UserID:    userID,
			Amount:    amount,
			Reason:    reason,
			CreatedAt: now,
		}); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.TypeCoinsCredited, userID, "coins", "", map[string]any{"amount": amount, "reason": reason})
	})
}

type CreateProfileInput struct {
	UserID   string
	Name     string
	Age      int
	Language string
}

func (e Engine) CreateProfile(ctx context.Context, in CreateProfileInput) (domain.ChildProfile, error) {
	if in.UserID == "" || in.Name == "" {
		return domain.ChildProfile{}, fmt.Errorf("user id and name required")
	}
	if in.Language != "" && !e.Config.KnownLanguage(in.Language) {
		return domain.ChildProfile{}, fmt.Errorf("unsupported language %q", in.Language)
	}
	p := domain.ChildProfile{
		ID:        uuid.NewString(),
		UserID:    in.UserID,
		Name:      in.Name,
		Age:       in.Age,
		Language:  in.Language,
		CreatedAt: e.nowRFC3339(),
	}
	if err := e.Repo.InsertProfile(ctx, p); err != nil {
		return domain.ChildProfile{}, err
	}
	return p, nil
}

func (e Engine) DeleteProfile(ctx context.Context, id, userID string) error {
	p, err := e.Repo.GetProfile(ctx, id)
	if err != nil {
		return err
	}
	if userID != "" && p.UserID != userID {
		return ErrForbidden
	}
	return e.Repo.DeleteProfile(ctx, id)
}
