package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func testClient(t *testing.T, handler http.Handler) *hubClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &hubClient{
		base:   srv.URL,
		uxrDir: t.TempDir(),
		http:   srv.Client(),
	}
}

func TestClientGetJSON(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("path = %q, want /health", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"healthy","revision":7}`))
	}))

	var resp struct {
		Status   string `json:"status"`
		Revision uint64 `json:"revision"`
	}
	if err := client.getJSON(context.Background(), "/health", nil, &resp); err != nil {
		t.Fatalf("getJSON failed: %v", err)
	}
	if resp.Status != "healthy" || resp.Revision != 7 {
		t.Errorf("resp = %+v, want healthy/7", resp)
	}
}

func TestClientQueryEncoding(t *testing.T) {
	var gotQuery url.Values
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		_, _ = w.Write([]byte(`{}`))
	}))

	query := url.Values{}
	query.Set("limit", "5")
	query.Set("since", "2026-01-02T15:04:05Z")
	if err := client.getJSON(context.Background(), "/agent/tests", query, nil); err != nil {
		t.Fatalf("getJSON failed: %v", err)
	}
	if gotQuery.Get("limit") != "5" {
		t.Errorf("limit = %q, want 5", gotQuery.Get("limit"))
	}
	if gotQuery.Get("since") != "2026-01-02T15:04:05Z" {
		t.Errorf("since = %q", gotQuery.Get("since"))
	}
}

func TestClientDecodesAPIError(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"unknown run"}`))
	}))

	err := client.getJSON(context.Background(), "/agent/tests/nope", nil, nil)
	if err == nil {
		t.Fatal("expected an error for a 404 response")
	}
	if !strings.Contains(err.Error(), "unknown run") {
		t.Errorf("error should carry the hub message, got: %v", err)
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("error should carry the status code, got: %v", err)
	}
}

func TestClientNonJSONErrorBody(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream exploded"))
	}))

	err := client.getJSON(context.Background(), "/health", nil, nil)
	if err == nil {
		t.Fatal("expected an error for a 502 response")
	}
	if !strings.Contains(err.Error(), "502") {
		t.Errorf("error should carry the status code, got: %v", err)
	}
}

func TestClientPostJSON(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		_, _ = w.Write([]byte(`{"success":true,"id":"run-1"}`))
	}))

	var resp struct {
		Success bool   `json:"success"`
		ID      string `json:"id"`
	}
	in := map[string]string{"label": "repro"}
	if err := client.postJSON(context.Background(), "/agent/debug/export", in, &resp); err != nil {
		t.Fatalf("postJSON failed: %v", err)
	}
	if !resp.Success || resp.ID != "run-1" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestClientDialHintWhenHubDown(t *testing.T) {
	// Point at a port nothing listens on. The workspace holds no lock, so
	// the hint should say the hub is not running.
	client := &hubClient{
		base:   "http://127.0.0.1:1",
		uxrDir: t.TempDir(),
		http:   &http.Client{Timeout: 2 * time.Second},
	}

	err := client.getJSON(context.Background(), "/health", nil, nil)
	if err == nil {
		t.Fatal("expected a connection error")
	}
	if !strings.Contains(err.Error(), "no hub running") {
		t.Errorf("error should hint the hub is down, got: %v", err)
	}
	if !strings.Contains(err.Error(), "uxr serve") {
		t.Errorf("error should suggest 'uxr serve', got: %v", err)
	}
}
