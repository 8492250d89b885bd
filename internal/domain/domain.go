package domain

// Story request statuses as reported by the generation pipeline. Transitions
// only move forward along this sequence; failed is reachable from any
// non-terminal status.
const (
	StatusQueued           = "queued"
	StatusProcessing       = "processing"
	StatusGeneratingText   = "generating_text"
	StatusGeneratingImages = "generating_images"
	StatusRenderingClips   = "rendering_clips"
	StatusFinished         = "finished"
	StatusFailed           = "failed"
)

var statusRank = map[string]int{
	StatusQueued:           0,
	StatusProcessing:       1,
	StatusGeneratingText:   2,
	StatusGeneratingImages: 3,
	StatusRenderingClips:   4,
	StatusFinished:         5,
}

// KnownStatus reports whether s is part of the recognized status set.
func KnownStatus(s string) bool {
	if s == StatusFailed {
		return true
	}
	_, ok := statusRank[s]
	return ok
}

// TerminalStatus reports whether s admits no further transitions.
func TerminalStatus(s string) bool {
	return s == StatusFinished || s == StatusFailed
}

// StatusRank returns the position of s in the forward sequence and whether
// s participates in it (failed does not).
func StatusRank(s string) (int, bool) {
	r, ok := statusRank[s]
	return r, ok
}

// PendingStatuses is the non-terminal set used by tracked-view queries.
func PendingStatuses() []string {
	return []string{StatusQueued, StatusProcessing, StatusGeneratingText, StatusGeneratingImages, StatusRenderingClips}
}

// StoryRequest is one outstanding unit of generation work. Rows are created
// by a client (or by the server for episodes) and mutated by the generation
// pipeline, except for the optimistic processing/failed writes made by the
// tracker.
type StoryRequest struct {
	ID                  string  `json:"id"`
	UserID              string  `json:"user_id"`
	ProfileID           *string `json:"profile_id,omitempty"`
	Title               string  `json:"title,omitempty"`
	Theme               string  `json:"theme,omitempty"`
	Language            string  `json:"language,omitempty"`
	Status              string  `json:"status" enum:"queued,processing,generating_text,generating_images,rendering_clips,finished,failed"`
	ErrorMessage        *string `json:"error_message,omitempty"`
	IsEpisode           bool    `json:"is_episode,omitempty"`
	EpisodeNumber       *int    `json:"episode_number,omitempty"`
	SeriesID            *string `json:"series_id,omitempty"`
	GenerationStartedAt *string `json:"generation_started_at,omitempty" format:"date-time"`
	CreatedAt           string  `json:"created_at" format:"date-time"`
	UpdatedAt           string  `json:"updated_at" format:"date-time"`
}

// Story is the finished artifact a request resolves to.
type Story struct {
	ID            string  `json:"id"`
	UserID        string  `json:"user_id"`
	RequestID     string  `json:"request_id"`
	Title         string  `json:"title"`
	Language      string  `json:"language,omitempty"`
	Text          string  `json:"text,omitempty"`
	CoverURL      string  `json:"cover_url,omitempty"`
	SeriesID      *string `json:"series_id,omitempty"`
	EpisodeNumber *int    `json:"episode_number,omitempty"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
}

// ChildProfile is the child a story is generated for.
type ChildProfile struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	Age       int    `json:"age,omitempty"`
	Language  string `json:"language,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// CoinEntry is one row of the per-user coin ledger. Balance is the sum of
// Amount over all rows; debits are negative.
type CoinEntry struct {
	ID        int64  `json:"id"`
	UserID    string `json:"user_id"`
	Amount    int    `json:"amount"`
	Reason    string `json:"reason"`
	RequestID string `json:"request_id,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	UserID     string `json:"user_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
