package generator

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestStartSendsSecretAndBody(t *testing.T) {
	var gotSecret, gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSecret = r.Header.Get("X-Generator-Secret")
		gotContentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := Client{Endpoint: srv.URL, Secret: "s3cret", Timeout: time.Second}
	err := c.Start(context.Background(), StartRequest{RequestID: "req-1", UserID: "user-1", Theme: "dragons"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if gotSecret != "s3cret" {
		t.Fatalf("secret header = %q", gotSecret)
	}
	if gotContentType != "application/json" {
		t.Fatalf("content type = %q", gotContentType)
	}
}

func TestStartRejectionIsHardError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no capacity", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := Client{Endpoint: srv.URL, Timeout: time.Second}
	err := c.Start(context.Background(), StartRequest{RequestID: "req-1"})
	if err == nil {
		t.Fatal("expected error")
	}
	if IsTimeout(err) {
		t.Fatal("rejection must not classify as timeout")
	}
}

func TestStartTimeoutClassified(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	c := Client{Endpoint: srv.URL, Timeout: 50 * time.Millisecond}
	err := c.Start(context.Background(), StartRequest{RequestID: "req-1"})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !IsTimeout(err) {
		t.Fatalf("error not classified as timeout: %v", err)
	}
}

func TestIsTimeout(t *testing.T) {
	if !IsTimeout(context.DeadlineExceeded) {
		t.Fatal("deadline exceeded is a timeout")
	}
	if IsTimeout(nil) {
		t.Fatal("nil is not a timeout")
	}
	if IsTimeout(errors.New("boom")) {
		t.Fatal("plain errors are not timeouts")
	}
}

func TestStartRequiresEndpoint(t *testing.T) {
	c := Client{}
	if err := c.Start(context.Background(), StartRequest{RequestID: "req-1"}); err == nil {
		t.Fatal("expected configuration error")
	}
}
