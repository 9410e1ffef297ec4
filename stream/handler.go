package stream

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/hyunkyoun/moira/id"
)

// writeTimeout bounds a single frame write to a slow client.
const writeTimeout = 10 * time.Second

// SnapshotFunc loads the current state of the watched entity.
type SnapshotFunc func(ctx context.Context) (*Event, error)

// Serve upgrades the request to a WebSocket and streams events published
// on topic until the client disconnects, the request context ends, or a
// final event for the topic has been written.
//
// snapshot, when non-nil, is called once the subscription is registered
// and its event is written first, so an outcome reached while the
// snapshot loads is still delivered. A final snapshot closes the stream
// right away.
//
// The wire format is chosen by the "format" query parameter ("json" or
// "msgpack"). Authorization is the caller's job.
func (b *Broker) Serve(w http.ResponseWriter, r *http.Request, topic string, snapshot SnapshotFunc) error {
	if err := ValidateTopic(topic); err != nil {
		return err
	}
	codec := GetCodec(r.URL.Query().Get("format"))

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return err
	}
	defer conn.Close()

	subID := id.NewSubscriberID().String()
	sub := b.Subscribe(subID, topic)
	defer b.RemoveSubscriber(subID)

	logger := b.logger.With(slog.String("subscriber", subID), slog.String("topic", topic))
	logger.Debug("stream client attached", slog.String("format", codec.Name()))

	// Reading is only used to notice the client going away and to answer
	// control frames.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := wsutil.ReadClientData(conn); err != nil {
				return
			}
		}
	}()

	if snapshot != nil {
		snap, err := snapshot(ctx)
		if err != nil {
			closeWith(conn, ws.StatusInternalServerError, "snapshot unavailable")
			return err
		}
		if err := writeEvent(conn, codec, snap); err != nil {
			return err
		}
		if snap.Final {
			return closeNormal(conn)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-sub.C():
			if !ok {
				// Broker shut down.
				return closeNormal(conn)
			}
			if err := writeEvent(conn, codec, evt); err != nil {
				logger.Debug("stream write failed", slog.String("error", err.Error()))
				return nil
			}
			sub.AddCredits(1)
			if evt.Final && evt.Topic == topic {
				return closeNormal(conn)
			}
		}
	}
}

func writeEvent(conn net.Conn, codec Codec, evt *Event) error {
	data, err := codec.Encode(evt)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck // best-effort deadline
	return wsutil.WriteServerMessage(conn, codec.OpCode(), data)
}

func closeNormal(conn net.Conn) error {
	body := ws.NewCloseFrameBody(ws.StatusNormalClosure, "")
	return ws.WriteFrame(conn, ws.NewCloseFrame(body))
}

func closeWith(conn net.Conn, code ws.StatusCode, reason string) {
	body := ws.NewCloseFrameBody(code, reason)
	_ = ws.WriteFrame(conn, ws.NewCloseFrame(body)) //nolint:errcheck // connection is being dropped
}
