package app

import (
	"context"
	"testing"

	"prosync/internal/config"
	"prosync/internal/remote"
	"prosync/internal/repo"
)

func TestOpenBackends(t *testing.T) {
	ctx := context.Background()
	for _, backend := range []string{config.BackendLocal, config.BackendSQL} {
		cfg := config.Default()
		cfg.Backend = backend
		a, err := Open(ctx, t.TempDir(), cfg, nil)
		if err != nil {
			t.Fatalf("%s: open: %v", backend, err)
		}
		switch backend {
		case config.BackendSQL:
			if _, ok := a.Store.(*repo.SQL); !ok {
				t.Fatalf("expected relational store, got %T", a.Store)
			}
		default:
			if _, ok := a.Store.(*repo.Local); !ok {
				t.Fatalf("expected local store, got %T", a.Store)
			}
		}
		views, err := a.Engine.ListProjectViews(ctx)
		if err != nil {
			t.Fatalf("%s: list: %v", backend, err)
		}
		if len(views) != 1 {
			t.Fatalf("%s: expected seeded welcome project, got %d", backend, len(views))
		}
		if a.Sync.Fetcher != nil || a.Sync.Writer != nil {
			t.Fatalf("%s: collaborators should be unset by default", backend)
		}
		if err := a.Close(); err != nil {
			t.Fatalf("%s: close: %v", backend, err)
		}
	}
}

func TestOpenWiresRemotes(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Sync.RemoteURL = "https://example.com/snapshot.json"
	cfg.Sync.Writer.Kind = config.WriterHTTP
	cfg.Sync.Writer.URL = "https://example.com/sync"
	cfg.Sync.Writer.Token = "t"
	cfg.Sync.AutoInterval = "1m"
	a, err := Open(ctx, t.TempDir(), cfg, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()
	if f, ok := a.Sync.Fetcher.(remote.HTTPFetcher); !ok || f.URL != cfg.Sync.RemoteURL {
		t.Fatalf("unexpected fetcher %#v", a.Sync.Fetcher)
	}
	if w, ok := a.Sync.Writer.(remote.HTTPWriter); !ok || w.Token != "t" {
		t.Fatalf("unexpected writer %#v", a.Sync.Writer)
	}
	if a.Interval().Minutes() != 1 {
		t.Fatalf("unexpected interval %v", a.Interval())
	}
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Backend = "mongo"
	if _, err := Open(context.Background(), t.TempDir(), cfg, nil); err == nil {
		t.Fatalf("expected config error")
	}
}
