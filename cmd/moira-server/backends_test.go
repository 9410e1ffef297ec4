package main

import (
	"context"
	"io"
	"log/slog"
	"testing"

	fssink "github.com/hyunkyoun/moira/artifact/fs"
	memsink "github.com/hyunkyoun/moira/artifact/memory"
	"github.com/hyunkyoun/moira/id"
	memstore "github.com/hyunkyoun/moira/store/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpenStoreMemory(t *testing.T) {
	var cl closers
	st, err := openStore(context.Background(), StoreConfig{Driver: "memory"}, discardLogger(), &cl)
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	if _, ok := st.(*memstore.Store); !ok {
		t.Errorf("store = %T, want *memory.Store", st)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Errorf("Migrate: %v", err)
	}
	if len(cl) != 0 {
		t.Errorf("memory store registered %d closers", len(cl))
	}
}

func TestOpenStoreErrors(t *testing.T) {
	tests := []StoreConfig{
		{Driver: "sqlite"},
		{Driver: "redis", DSN: "not a url"},
	}
	for _, cfg := range tests {
		var cl closers
		if _, err := openStore(context.Background(), cfg, discardLogger(), &cl); err == nil {
			t.Errorf("openStore(%+v) succeeded, want error", cfg)
		}
	}
}

func TestOpenStoreRedisRegistersCloser(t *testing.T) {
	var cl closers
	// The client connects lazily, so no server is needed here.
	if _, err := openStore(context.Background(), StoreConfig{Driver: "redis", DSN: "redis://127.0.0.1:1/0"}, discardLogger(), &cl); err != nil {
		t.Fatalf("openStore: %v", err)
	}
	if len(cl) != 1 {
		t.Fatalf("registered %d closers, want 1", len(cl))
	}
	cl.close(discardLogger())
}

func TestOpenSink(t *testing.T) {
	var cl closers

	sink, err := openSink(ArtifactsConfig{Driver: "memory"}, discardLogger(), &cl)
	if err != nil {
		t.Fatalf("openSink(memory): %v", err)
	}
	if _, ok := sink.(*memsink.Sink); !ok {
		t.Errorf("sink = %T, want *memory.Sink", sink)
	}

	dir := t.TempDir()
	sink, err = openSink(ArtifactsConfig{Driver: "fs", Dir: dir}, discardLogger(), &cl)
	if err != nil {
		t.Fatalf("openSink(fs): %v", err)
	}
	fs, ok := sink.(*fssink.Sink)
	if !ok {
		t.Fatalf("sink = %T, want *fs.Sink", sink)
	}
	h, err := fs.Store(context.Background(), id.NewJobID(), "workflow_summary.json", []byte(`{}`))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if h.Size != 2 {
		t.Errorf("size = %d, want 2", h.Size)
	}

	if _, err := openSink(ArtifactsConfig{Driver: "s3"}, discardLogger(), &cl); err == nil {
		t.Error("expected error for unknown sink driver")
	}
}
