package traumfunkesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Traumfunke HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// StoryRequest mirrors the API request model.
type StoryRequest struct {
	ID                  string  `json:"id"`
	UserID              string  `json:"user_id"`
	ProfileID           *string `json:"profile_id,omitempty"`
	Title               string  `json:"title,omitempty"`
	Theme               string  `json:"theme,omitempty"`
	Language            string  `json:"language,omitempty"`
	Status              string  `json:"status"`
	ErrorMessage        *string `json:"error_message,omitempty"`
	IsEpisode           bool    `json:"is_episode,omitempty"`
	EpisodeNumber       *int    `json:"episode_number,omitempty"`
	SeriesID            *string `json:"series_id,omitempty"`
	GenerationStartedAt *string `json:"generation_started_at,omitempty"`
	CreatedAt           string  `json:"created_at"`
	UpdatedAt           string  `json:"updated_at"`
}

// Story mirrors the API story model.
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
	CreatedAt     string  `json:"created_at"`
}

// ChildProfile mirrors the API profile model.
type ChildProfile struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	Age       int    `json:"age,omitempty"`
	Language  string `json:"language,omitempty"`
	CreatedAt string `json:"created_at"`
}

// CoinBalance mirrors the API coins response.
type CoinBalance struct {
	UserID  string `json:"user_id"`
	Balance int    `json:"balance"`
}

// StartResult reports whether a start call won the at-most-once claim.
type StartResult struct {
	Started bool   `json:"started"`
	Status  string `json:"status"`
}

// CreateRequestInput is the body for CreateRequest. ID may be set to a
// client-generated UUID for optimistic tracking.
type CreateRequestInput struct {
	ID        string `json:"id,omitempty"`
	ProfileID string `json:"profile_id,omitempty"`
	Title     string `json:"title,omitempty"`
	Theme     string `json:"theme,omitempty"`
	Language  string `json:"language,omitempty"`
	IsEpisode bool   `json:"is_episode,omitempty"`
	SeriesID  string `json:"series_id,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateRequest creates a story request.
func (c *Client) CreateRequest(ctx context.Context, in CreateRequestInput) (StoryRequest, error) {
	var resp StoryRequest
	err := c.do(ctx, http.MethodPost, "v0/requests", in, &resp)
	return resp, err
}

// ListPending returns the pending requests inside the visibility window,
// newest first.
func (c *Client) ListPending(ctx context.Context) ([]StoryRequest, error) {
	var resp []StoryRequest
	err := c.do(ctx, http.MethodGet, "v0/requests/pending", nil, &resp)
	return resp, err
}

// GetRequest fetches one request.
func (c *Client) GetRequest(ctx context.Context, id string) (StoryRequest, error) {
	var resp StoryRequest
	err := c.do(ctx, http.MethodGet, "v0/requests/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// CancelRequest removes a request. Coins are not refunded.
func (c *Client) CancelRequest(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "v0/requests/"+url.PathEscape(id), nil, nil)
}

// StartRequest asks the server to start generation at most once.
func (c *Client) StartRequest(ctx context.Context, id string) (StartResult, error) {
	var resp StartResult
	err := c.do(ctx, http.MethodPost, "v0/requests/"+url.PathEscape(id)+"/start", nil, &resp)
	return resp, err
}

// FindStory fetches the story a finished request produced.
func (c *Client) FindStory(ctx context.Context, requestID string) (Story, error) {
	var resp Story
	err := c.do(ctx, http.MethodGet, "v0/requests/"+url.PathEscape(requestID)+"/story", nil, &resp)
	return resp, err
}

// ListStories returns the caller's stories.
func (c *Client) ListStories(ctx context.Context, limit int) ([]Story, error) {
	endpoint := "v0/stories"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Story
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CreateProfile creates a child profile.
func (c *Client) CreateProfile(ctx context.Context, name string, age int, language string) (ChildProfile, error) {
	body := map[string]any{"name": name}
	if age > 0 {
		body["age"] = age
	}
	if language != "" {
		body["language"] = language
	}
	var resp ChildProfile
	err := c.do(ctx, http.MethodPost, "v0/profiles", body, &resp)
	return resp, err
}

// ListProfiles returns the caller's child profiles.
func (c *Client) ListProfiles(ctx context.Context) ([]ChildProfile, error) {
	var resp []ChildProfile
	err := c.do(ctx, http.MethodGet, "v0/profiles", nil, &resp)
	return resp, err
}

// Coins returns the caller's coin balance.
func (c *Client) Coins(ctx context.Context) (CoinBalance, error) {
	var resp CoinBalance
	err := c.do(ctx, http.MethodGet, "v0/coins", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
