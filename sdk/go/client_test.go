package prosyncsdk

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLoginStoresToken(t *testing.T) {
	var gotAuth string
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body["username"] != "admin" || body["password"] != "secret" {
			t.Fatalf("unexpected login body: %v", body)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"token": "tok-1",
			"user":  map[string]any{"id": "u1", "name": "Admin", "isAdmin": true},
		})
	})
	mux.HandleFunc("/v1/me", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "u1", "name": "Admin"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL + "/")
	u, err := c.Login(context.Background(), "admin", "secret", false)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if u.ID != "u1" || !u.IsAdmin || c.BearerToken != "tok-1" {
		t.Fatalf("unexpected login result: %+v token=%q", u, c.BearerToken)
	}
	if _, err := c.Me(context.Background()); err != nil {
		t.Fatalf("me: %v", err)
	}
	if gotAuth != "Bearer tok-1" {
		t.Fatalf("expected bearer header, got %q", gotAuth)
	}
}

func TestAPIErrorCarriesCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = io.WriteString(w, `{"error":{"code":"busy","message":"sync operation already running"}}`)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Pull(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.Code != "busy" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestProjectPaths(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.EscapedPath())
		_, _ = io.WriteString(w, `{"id":"x"}`)
	}))
	defer srv.Close()

	c := New(srv.URL)
	ctx := context.Background()
	if _, err := c.Project(ctx, "p 1"); err != nil {
		t.Fatalf("project: %v", err)
	}
	if _, err := c.ToggleTask(ctx, "p1", "t1"); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if _, err := c.SetStatus(ctx, "p1", "REVIEW"); err != nil {
		t.Fatalf("status: %v", err)
	}
	want := []string{
		"GET /v1/projects/p%201",
		"POST /v1/projects/p1/tasks/t1/toggle",
		"PUT /v1/projects/p1/status",
	}
	if len(paths) != len(want) {
		t.Fatalf("expected %d requests, got %v", len(want), paths)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Fatalf("request %d: expected %q, got %q", i, want[i], paths[i])
		}
	}
}

func TestScriptReturnsText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/sql")
		_, _ = io.WriteString(w, "DELETE FROM tasks;\n")
	}))
	defer srv.Close()

	script, err := New(srv.URL).Script(context.Background())
	if err != nil {
		t.Fatalf("script: %v", err)
	}
	if script != "DELETE FROM tasks;\n" {
		t.Fatalf("unexpected script %q", script)
	}
}
