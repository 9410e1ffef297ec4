package stream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/hyunkyoun/moira/job"
)

func dial(t *testing.T, srv *httptest.Server, query string) (func() (*Event, error), func()) {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?" + query
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, br, _, err := ws.Dial(ctx, url)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	// The server writes right after the handshake, so frames may already
	// sit in the handshake reader.
	var rd io.Reader = conn
	if br != nil {
		rd = br
	}
	rw := struct {
		io.Reader
		io.Writer
	}{rd, conn}

	codec := GetCodec(strings.TrimPrefix(query, "format="))
	next := func() (*Event, error) {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		data, _, err := wsutil.ReadServerData(rw)
		if err != nil {
			return nil, err
		}
		return codec.Decode(data)
	}
	return next, func() { _ = conn.Close() }
}

func snapshotOf(j *job.Job) SnapshotFunc {
	return func(context.Context) (*Event, error) { return StatusEvent(j), nil }
}

func TestServeStreamsUntilFinalEvent(t *testing.T) {
	for _, format := range []string{CodecNameJSON, CodecNameMsgpack} {
		t.Run(format, func(t *testing.T) {
			b := NewBroker(testLogger())
			j := testJob()
			topic := JobTopic(j.ID.String())

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_ = b.Serve(w, r, topic, snapshotOf(j))
			}))
			defer srv.Close()

			next, closeConn := dial(t, srv, "format="+format)
			defer closeConn()

			snap, err := next()
			if err != nil {
				t.Fatalf("read snapshot: %v", err)
			}
			if snap.Type != EventJobStatus {
				t.Fatalf("first event = %q, want %q", snap.Type, EventJobStatus)
			}

			// The subscription is registered before the snapshot is written.
			ctx := context.Background()
			running := j.Clone()
			running.State = job.StateRunning
			_ = b.OnJobStarted(ctx, running)

			done := running.Clone()
			done.State = job.StateCompleted
			_ = b.OnJobCompleted(ctx, done, time.Second)

			for _, want := range []EventType{EventJobStarted, EventJobCompleted} {
				evt, err := next()
				if err != nil {
					t.Fatalf("read %s: %v", want, err)
				}
				if evt.Type != want {
					t.Fatalf("event = %q, want %q", evt.Type, want)
				}
			}

			if _, err := next(); err == nil {
				t.Fatal("expected the stream to close after the final event")
			}
		})
	}
}

func TestServeClosesAfterFinalSnapshot(t *testing.T) {
	b := NewBroker(testLogger())
	j := testJob()
	j.State = job.StateCancelled

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = b.Serve(w, r, JobTopic(j.ID.String()), snapshotOf(j))
	}))
	defer srv.Close()

	next, closeConn := dial(t, srv, "format=json")
	defer closeConn()

	evt, err := next()
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if !evt.Final {
		t.Fatal("snapshot of a cancelled job should be final")
	}
	if _, err := next(); err == nil {
		t.Fatal("expected close after final snapshot")
	}
}

func TestServeRejectsInvalidTopic(t *testing.T) {
	b := NewBroker(testLogger())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if err := b.Serve(rec, req, "bogus", nil); err == nil {
		t.Fatal("expected invalid topic error")
	}
}

func TestServeDeliversOutcomeReachedDuringSnapshot(t *testing.T) {
	b := NewBroker(testLogger())
	j := testJob()
	j.State = job.StateRunning

	// The job completes after its state was read but before the snapshot
	// reaches the client.
	snapshot := func(ctx context.Context) (*Event, error) {
		stale := StatusEvent(j)
		done := j.Clone()
		done.State = job.StateCompleted
		_ = b.OnJobCompleted(ctx, done, time.Second)
		return stale, nil
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = b.Serve(w, r, JobTopic(j.ID.String()), snapshot)
	}))
	defer srv.Close()

	next, closeConn := dial(t, srv, "format=json")
	defer closeConn()

	snap, err := next()
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if snap.Final {
		t.Fatal("snapshot should still show the job running")
	}

	evt, err := next()
	if err != nil {
		t.Fatalf("read final event: %v", err)
	}
	if evt.Type != EventJobCompleted || !evt.Final {
		t.Fatalf("event = %q (final=%v), want final %q", evt.Type, evt.Final, EventJobCompleted)
	}
	if _, err := next(); err == nil {
		t.Fatal("expected the stream to close after the final event")
	}
}

func TestServeSnapshotErrorClosesStream(t *testing.T) {
	b := NewBroker(testLogger())
	j := testJob()

	errc := make(chan error, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		errc <- b.Serve(w, r, JobTopic(j.ID.String()), func(context.Context) (*Event, error) {
			return nil, io.ErrUnexpectedEOF
		})
	}))
	defer srv.Close()

	next, closeConn := dial(t, srv, "format=json")
	defer closeConn()

	if _, err := next(); err == nil {
		t.Fatal("expected the stream to close without events")
	}
	if err := <-errc; !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("Serve() = %v, want %v", err, io.ErrUnexpectedEOF)
	}
	if n := b.Stats().SubscriberCount; n != 0 {
		t.Errorf("subscribers = %d, want 0", n)
	}
}
