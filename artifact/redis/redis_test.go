//go:build integration

package redis_test

import (
	"context"
	"errors"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hyunkyoun/moira"
	"github.com/hyunkyoun/moira/artifact"
	redisartifact "github.com/hyunkyoun/moira/artifact/redis"
	"github.com/hyunkyoun/moira/id"
	"github.com/hyunkyoun/moira/store/storetest"
)

func newClient(t *testing.T) *goredis.Client {
	t.Helper()
	client := goredis.NewClient(&goredis.Options{Addr: storetest.RedisAddr(t)})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestSinkRoundTrip(t *testing.T) {
	ctx := context.Background()
	sink := redisartifact.New(newClient(t))
	jobID := id.NewJobID()

	h, err := sink.Store(ctx, jobID, "quality_control_qc.csv", []byte("sample,detP\nA,0.01\n"))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if h.JobID.String() != jobID.String() || h.Name != "quality_control_qc.csv" {
		t.Errorf("handle = %+v", h)
	}
	if h.Size != int64(len("sample,detP\nA,0.01\n")) || h.Digest == "" {
		t.Errorf("size/digest = %d/%q", h.Size, h.Digest)
	}

	got, err := sink.Load(ctx, h)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(got) != "sample,detP\nA,0.01\n" {
		t.Errorf("Load = %q", got)
	}
}

func TestSinkOverwriteReplacesBlobAndHandle(t *testing.T) {
	ctx := context.Background()
	sink := redisartifact.New(newClient(t))
	jobID := id.NewJobID()

	first, err := sink.Store(ctx, jobID, "report.txt", []byte("draft"))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	second, err := sink.Store(ctx, jobID, "report.txt", []byte("final version"))
	if err != nil {
		t.Fatalf("Store overwrite: %v", err)
	}
	if first.Digest == second.Digest {
		t.Fatal("overwrite should change the digest")
	}

	got, err := sink.Load(ctx, first)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(got) != "final version" {
		t.Errorf("Load = %q, want the replacement", got)
	}

	list, err := sink.List(ctx, jobID)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("List = %d handles, want 1", len(list))
	}
	if list[0].Digest != second.Digest || list[0].Size != second.Size {
		t.Errorf("indexed handle = %+v, want %+v", list[0], second)
	}
}

func TestSinkListSortedAndScopedToJob(t *testing.T) {
	ctx := context.Background()
	sink := redisartifact.New(newClient(t))
	a, b := id.NewJobID(), id.NewJobID()

	for _, name := range []string{"perform_pca_tissue.png", "create_heatmap_heatmap.png", "dmp.csv"} {
		if _, err := sink.Store(ctx, a, name, []byte(name)); err != nil {
			t.Fatalf("Store %s: %v", name, err)
		}
	}
	if _, err := sink.Store(ctx, b, "other.txt", []byte("b")); err != nil {
		t.Fatalf("Store: %v", err)
	}

	list, err := sink.List(ctx, a)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"create_heatmap_heatmap.png", "dmp.csv", "perform_pca_tissue.png"}
	if len(list) != len(want) {
		t.Fatalf("List = %d handles, want %d", len(list), len(want))
	}
	for i, h := range list {
		if h.Name != want[i] {
			t.Errorf("List[%d] = %q, want %q", i, h.Name, want[i])
		}
	}

	empty, err := sink.List(ctx, id.NewJobID())
	if err != nil {
		t.Fatalf("List unknown job: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("List unknown job = %d handles, want 0", len(empty))
	}
}

func TestSinkLoadMissing(t *testing.T) {
	ctx := context.Background()
	sink := redisartifact.New(newClient(t))

	h := artifact.Handle{JobID: id.NewJobID(), Name: "absent.txt"}
	if _, err := sink.Load(ctx, h); !errors.Is(err, moira.ErrArtifactNotFound) {
		t.Fatalf("expected ErrArtifactNotFound, got %v", err)
	}
}

func TestSinkRejectsInvalidName(t *testing.T) {
	sink := redisartifact.New(newClient(t))
	if _, err := sink.Store(context.Background(), id.NewJobID(), "../escape", []byte("x")); err == nil {
		t.Fatal("expected invalid name error")
	}
}

func TestSinkTTLAppliesToBlobAndIndex(t *testing.T) {
	ctx := context.Background()
	client := newClient(t)
	sink := redisartifact.New(client, redisartifact.WithTTL(time.Hour))
	jobID := id.NewJobID()

	if _, err := sink.Store(ctx, jobID, "out.txt", []byte("x")); err != nil {
		t.Fatalf("Store: %v", err)
	}

	keys := []string{
		"moira:artifact:" + jobID.String() + ":out.txt",
		"moira:artifacts:" + jobID.String(),
	}
	for _, key := range keys {
		ttl, err := client.TTL(ctx, key).Result()
		if err != nil {
			t.Fatalf("TTL %s: %v", key, err)
		}
		if ttl <= 0 || ttl > time.Hour {
			t.Errorf("TTL %s = %v, want within (0, 1h]", key, ttl)
		}
	}
}

func TestSinkWithoutTTLPersists(t *testing.T) {
	ctx := context.Background()
	client := newClient(t)
	sink := redisartifact.New(client)
	jobID := id.NewJobID()

	if _, err := sink.Store(ctx, jobID, "out.txt", []byte("x")); err != nil {
		t.Fatalf("Store: %v", err)
	}
	ttl, err := client.TTL(ctx, "moira:artifacts:"+jobID.String()).Result()
	if err != nil {
		t.Fatalf("TTL: %v", err)
	}
	// -1 means the key exists without an expiry.
	if ttl != -1 {
		t.Errorf("TTL = %v, want no expiry", ttl)
	}
}
