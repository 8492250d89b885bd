package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stibe881/traumfunke/internal/config"
	"github.com/stibe881/traumfunke/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const requestColumns = `id,user_id,profile_id,title,theme,language,status,error_message,is_episode,episode_number,series_id,generation_started_at,created_at,updated_at`

func scanRequest(scan func(dest ...any) error) (domain.StoryRequest, error) {
	var r domain.StoryRequest
	var profileID, title, theme, language, errMsg, seriesID, startedAt sql.NullString
	var episodeNumber sql.NullInt64
	var isEpisode int
	err := scan(&r.ID, &r.UserID, &profileID, &title, &theme, &language, &r.Status, &errMsg,
		&isEpisode, &episodeNumber, &seriesID, &startedAt, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return r, ErrNotFound
	}
	if err != nil {
		return r, err
	}
	if profileID.Valid {
		r.ProfileID = &profileID.String
	}
	if title.Valid {
		r.Title = title.String
	}
	if theme.Valid {
		r.Theme = theme.String
	}
	if language.Valid {
		r.Language = language.String
	}
	if errMsg.Valid {
		r.ErrorMessage = &errMsg.String
	}
	r.IsEpisode = isEpisode != 0
	if episodeNumber.Valid {
		n := int(episodeNumber.Int64)
		r.EpisodeNumber = &n
	}
	if seriesID.Valid {
		r.SeriesID = &seriesID.String
	}
	if startedAt.Valid {
		r.GenerationStartedAt = &startedAt.String
	}
	return r, nil
}

func (r Repo) InsertRequest(ctx context.Context, tx *sql.Tx, req domain.StoryRequest) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO story_requests(`+requestColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		req.ID, req.UserID, nullableStringPtr(req.ProfileID), nullable(req.Title), nullable(req.Theme), nullable(req.Language),
		req.Status, nullableStringPtr(req.ErrorMessage), boolToInt(req.IsEpisode), nullableIntPtr(req.EpisodeNumber),
		nullableStringPtr(req.SeriesID), nullableStringPtr(req.GenerationStartedAt), req.CreatedAt, req.UpdatedAt)
	return err
}

func (r Repo) GetRequest(ctx context.Context, id string) (domain.StoryRequest, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM story_requests WHERE id=?`, id)
	return scanRequest(row.Scan)
}

// ListPendingRequests returns non-terminal requests for a user created after
// the cutoff, newest first. This is the reconciliation query: created_at is
// RFC3339 so string comparison orders correctly.
func (r Repo) ListPendingRequests(ctx context.Context, userID, cutoff string) ([]domain.StoryRequest, error) {
	pending := domain.PendingStatuses()
	placeholders := strings.Repeat("?,", len(pending))
	placeholders = placeholders[:len(placeholders)-1]
	args := []any{userID}
	for _, s := range pending {
		args = append(args, s)
	}
	args = append(args, cutoff)
	query := `SELECT ` + requestColumns + ` FROM story_requests WHERE user_id=? AND status IN (` + placeholders + `) AND created_at >= ? ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.StoryRequest
	for rows.Next() {
		req, err := scanRequest(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, req)
	}
	return res, rows.Err()
}

type RequestFilters struct {
	UserID          string
	Status          string
	SeriesID        string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListRequests(ctx context.Context, f RequestFilters) ([]domain.StoryRequest, error) {
	var clauses []string
	var args []any
	if f.UserID != "" {
		clauses = append(clauses, "user_id=?")
		args = append(args, f.UserID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.SeriesID != "" {
		clauses = append(clauses, "series_id=?")
		args = append(args, f.SeriesID)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + requestColumns + ` FROM story_requests ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.StoryRequest
	for rows.Next() {
		req, err := scanRequest(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, req)
	}
	return res, rows.Err()
}

func (r Repo) UpdateRequestStatus(ctx context.Context, tx *sql.Tx, id, status string, errMsg *string, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE story_requests SET status=?, error_message=?, updated_at=? WHERE id=?`,
		status, nullableStringPtr(errMsg), updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimGenerationStart sets generation_started_at if not already set.
// Returns false when another caller claimed the row first.
func (r Repo) ClaimGenerationStart(ctx context.Context, id, ts string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE story_requests SET generation_started_at=?, updated_at=? WHERE id=? AND generation_started_at IS NULL`, ts, ts, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r Repo) DeleteRequest(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM story_requests WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertStory(ctx context.Context, tx *sql.Tx, s domain.Story) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO stories(id,user_id,request_id,title,language,text,cover_url,series_id,episode_number,created_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.UserID, s.RequestID, s.Title, nullable(s.Language), nullable(s.Text), nullable(s.CoverURL),
		nullableStringPtr(s.SeriesID), nullableIntPtr(s.EpisodeNumber), s.CreatedAt)
	return err
}

func scanStory(scan func(dest ...any) error) (domain.Story, error) {
	var s domain.Story
	var language, text, coverURL, seriesID sql.NullString
	var episodeNumber sql.NullInt64
	err := scan(&s.ID, &s.UserID, &s.RequestID, &s.Title, &language, &text, &coverURL, &seriesID, &episodeNumber, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if language.Valid {
		s.Language = language.String
	}
	if text.Valid {
		s.Text = text.String
	}
	if coverURL.Valid {
		s.CoverURL = coverURL.String
	}
	if seriesID.Valid {
		s.SeriesID = &seriesID.String
	}
	if episodeNumber.Valid {
		n := int(episodeNumber.Int64)
		s.EpisodeNumber = &n
	}
	return s, nil
}

const storyColumns = `id,user_id,request_id,title,language,text,cover_url,series_id,episode_number,created_at`

func (r Repo) GetStory(ctx context.Context, id string) (domain.Story, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+storyColumns+` FROM stories WHERE id=?`, id)
	return scanStory(row.Scan)
}

// GetStoryByRequest resolves the story a finished request produced.
func (r Repo) GetStoryByRequest(ctx context.Context, requestID string) (domain.Story, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+storyColumns+` FROM stories WHERE request_id=?`, requestID)
	return scanStory(row.Scan)
}

func (r Repo) ListStories(ctx context.Context, userID string, limit int) ([]domain.Story, error) {
	query := `SELECT ` + storyColumns + ` FROM stories WHERE user_id=? ORDER BY created_at DESC, id DESC`
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Story
	for rows.Next() {
		s, err := scanStory(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// NextEpisodeNumber returns 1 + the highest episode number in a series.
func (r Repo) NextEpisodeNumber(ctx context.Context, seriesID string) (int, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(episode_number),0) FROM stories WHERE series_id=?`, seriesID)
	var max int
	if err := row.Scan(&max); err != nil {
		return 0, err
	}
	return max + 1, nil
}

func (r Repo) InsertProfile(ctx context.Context, p domain.ChildProfile) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO child_profiles(id,user_id,name,age,language,created_at) VALUES (?,?,?,?,?,?)`,
		p.ID, p.UserID, p.Name, nullableInt(p.Age), nullable(p.Language), p.CreatedAt)
	return err
}

func (r Repo) GetProfile(ctx context.Context, id string) (domain.ChildProfile, error) {
	var p domain.ChildProfile
	var age sql.NullInt64
	var language sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,user_id,name,age,language,created_at FROM child_profiles WHERE id=?`, id).
		Scan(&p.ID, &p.UserID, &p.Name, &age, &language, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if age.Valid {
		p.Age = int(age.Int64)
	}
	if language.Valid {
		p.Language = language.String
	}
	return p, nil
}

func (r Repo) ListProfiles(ctx context.Context, userID string) ([]domain.ChildProfile, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,user_id,name,age,language,created_at FROM child_profiles WHERE user_id=? ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ChildProfile
	for rows.Next() {
		var p domain.ChildProfile
		var age sql.NullInt64
		var language sql.NullString
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &age, &language, &p.CreatedAt); err != nil {
			return nil, err
		}
		if age.Valid {
			p.Age = int(age.Int64)
		}
		if language.Valid {
			p.Language = language.String
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) DeleteProfile(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM child_profiles WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertCoinEntry(ctx context.Context, tx *sql.Tx, e domain.CoinEntry) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO coin_ledger(user_id,amount,reason,request_id,created_at) VALUES (?,?,?,?,?)`,
		e.UserID, e.Amount, e.Reason, nullable(e.RequestID), e.CreatedAt)
	return err
}

func (r Repo) CoinBalance(ctx context.Context, userID string) (int, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(SUM(amount),0) FROM coin_ledger WHERE user_id=?`, userID)
	var balance int
	if err := row.Scan(&balance); err != nil {
		return 0, err
	}
	return balance, nil
}

func (r Repo) CoinBalanceTx(ctx context.Context, tx *sql.Tx, userID string) (int, error) {
	row := tx.QueryRowContext(ctx, `SELECT COALESCE(SUM(amount),0) FROM coin_ledger WHERE user_id=?`, userID)
	var balance int
	if err := row.Scan(&balance); err != nil {
		return 0, err
	}
	return balance, nil
}

func (r Repo) ListCoinEntries(ctx context.Context, userID string, limit int) ([]domain.CoinEntry, error) {
	query := `SELECT id,user_id,amount,reason,COALESCE(request_id,''),created_at FROM coin_ledger WHERE user_id=? ORDER BY id DESC`
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CoinEntry
	for rows.Next() {
		var e domain.CoinEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Amount, &e.Reason, &e.RequestID, &e.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) LatestEvents(ctx context.Context, limit int, userID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if userID != "" {
		clauses = append(clauses, "user_id=?")
		args = append(args, userID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,user_id,entity_kind,entity_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.queryEvents(ctx, `SELECT id,ts,type,user_id,entity_kind,entity_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
}

// LatestEventID returns the most recent event ID.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var userID, entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &userID, &e.EntityKind, &entityID, &payload); err != nil {
			return nil, err
		}
		if userID.Valid {
			e.UserID = userID.String
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) UpsertAppConfig(ctx context.Context, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = r.DB.ExecContext(ctx, `INSERT INTO app_config(id,config_json,created_at,updated_at) VALUES (1,?,?,?)
ON CONFLICT(id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, string(payload), now, now)
	return err
}

func (r Repo) GetAppConfig(ctx context.Context) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM app_config WHERE id=1`).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	return &cfg, cfg.Validate()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableInt(v int) any {
	if v == 0 {
		return nil
	}
	return v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
