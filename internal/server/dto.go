package server

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/stibe881/traumfunke/internal/domain"
)

type CreateRequestBody struct {
	ID        *string `json:"id,omitempty" doc:"Client-generated UUID for optimistic tracking"`
	ProfileID *string `json:"profile_id,omitempty"`
	Title     string  `json:"title,omitempty"`
	Theme     string  `json:"theme,omitempty"`
	Language  string  `json:"language,omitempty"`
	IsEpisode bool    `json:"is_episode,omitempty"`
	SeriesID  *string `json:"series_id,omitempty"`
}

type StatusCallbackBody struct {
	Status       string  `json:"status"`
	ErrorMessage *string `json:"error_message,omitempty"`
}

type StoryCallbackBody struct {
	Title    string `json:"title,omitempty"`
	Text     string `json:"text"`
	CoverURL string `json:"cover_url,omitempty"`
}

type CreateProfileBody struct {
	Name     string `json:"name"`
	Age      int    `json:"age,omitempty"`
	Language string `json:"language,omitempty"`
}

type paginatedRequests struct {
	Items      []domain.StoryRequest `json:"items"`
	NextCursor string                `json:"next_cursor,omitempty"`
}

type coinsResponse struct {
	UserID  string `json:"user_id"`
	Balance int    `json:"balance"`
}

type startResponse struct {
	Started bool   `json:"started"`
	Status  string `json:"status"`
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 200 {
		return 200
	}
	return limit
}

func composeCursor(createdAt, id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(createdAt + "|" + id))
}

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return "", "", err
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed cursor")
	}
	return parts[0], parts[1], nil
}
