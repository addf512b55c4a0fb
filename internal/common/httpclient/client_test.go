package httpclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDoSendsBearerAndHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer token, got %q", r.Header.Get("Authorization"))
		}
		if r.Header.Get("Idempotency-Key") != "k1" {
			t.Errorf("missing idempotency key")
		}
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"code":14001}`))
	}))
	defer server.Close()

	c := New(server.URL, time.Second, func() string { return "tok" })
	info, err := c.Do(context.Background(), http.MethodPost, "/api/v1/scores", map[string]string{"Idempotency-Key": "k1"}, []byte(`{}`))
	if err != nil {
		t.Fatalf("do failed: %v", err)
	}
	if info.OK() || info.StatusCode != http.StatusConflict || string(info.Body) != `{"code":14001}` {
		t.Fatalf("unexpected response: %+v", info)
	}
}

func TestDoTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	c := New(server.URL, 20*time.Millisecond, nil)
	_, err := c.Do(context.Background(), http.MethodGet, "/", nil, nil)
	if !IsTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if IsTimeout(errors.New("connection refused")) || IsTimeout(nil) {
		t.Fatalf("plain errors must not count as timeouts")
	}
}
