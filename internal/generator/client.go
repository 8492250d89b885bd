package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// Client invokes the generation pipeline's start endpoint. The pipeline
// acknowledges quickly and reports progress back through status callbacks,
// so the only interesting distinction on error is timeout versus hard
// failure.
type Client struct {
	Endpoint string
	Secret   string
	Timeout  time.Duration

	HTTPClient *http.Client
}

type StartRequest struct {
	RequestID string `json:"request_id"`
	UserID    string `json:"user_id"`
	Title     string `json:"title,omitempty"`
	Theme     string `json:"theme,omitempty"`
	Language  string `json:"language,omitempty"`
	IsEpisode bool   `json:"is_episode,omitempty"`
	SeriesID  string `json:"series_id,omitempty"`
}

func (c Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c Client) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return 30 * time.Second
}

// Start asks the pipeline to begin generating. Callers treat timeout errors
// (see IsTimeout) as "maybe started" and leave the request alone.
func (c Client) Start(ctx context.Context, req StartRequest) error {
	if c.Endpoint == "" {
		return errors.New("generator endpoint not configured")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.Secret != "" {
		httpReq.Header.Set("X-Generator-Secret", c.Secret)
	}
	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("generator returned %d: %s", resp.StatusCode, string(bytes.TrimSpace(msg)))
}

// IsTimeout reports whether err means the pipeline may still have received
// the start call: deadline exceeded or a network timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
