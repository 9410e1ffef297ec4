package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/hyunkyoun/moira/backoff"
	"github.com/hyunkyoun/moira/stream"
)

// errStreamEnded marks a stream the server closed after the final event.
var errStreamEnded = errors.New("stream ended")

// Watch streams a job's lifecycle events. The first event is a status
// snapshot. The channel is closed after the job's final event, when ctx
// ends, or when the stream cannot be re-established.
//
// A dropped connection is re-dialed per WithReconnect; each reconnect
// starts with a fresh snapshot, so events in the gap are summarized
// rather than replayed.
func (c *Client) Watch(ctx context.Context, jobID string) (<-chan *stream.Event, error) {
	conn, rd, err := c.dialEvents(ctx, jobID)
	if err != nil {
		return nil, err
	}

	ch := make(chan *stream.Event, 64)
	go c.watchLoop(ctx, jobID, conn, rd, ch)
	return ch, nil
}

func (c *Client) watchLoop(ctx context.Context, jobID string, conn net.Conn, rd io.Reader, ch chan<- *stream.Event) {
	defer close(ch)

	// Unblock reads when the caller gives up.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer func() { stop() }()

	for attempt := 0; ; {
		err := c.readEvents(ctx, conn, rd, ch)
		_ = conn.Close()
		if errors.Is(err, errStreamEnded) || ctx.Err() != nil {
			return
		}

		attempt++
		if attempt > c.maxRetries {
			c.logger.Warn("event stream lost",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
			return
		}
		if backoff.Sleep(ctx, c.redial.Delay(attempt)) != nil {
			return
		}

		next, nextRd, dialErr := c.dialEvents(ctx, jobID)
		if dialErr != nil {
			c.logger.Debug("event stream redial failed", slog.String("error", dialErr.Error()))
			continue
		}
		stop()
		conn, rd = next, nextRd
		stop = context.AfterFunc(ctx, func() { _ = conn.Close() })
		attempt = 0
	}
}

// readEvents forwards decoded events until the final one or an error.
func (c *Client) readEvents(ctx context.Context, conn net.Conn, rd io.Reader, ch chan<- *stream.Event) error {
	codec := stream.GetCodec(c.format)
	rw := struct {
		io.Reader
		io.Writer
	}{rd, conn}

	for {
		data, _, err := wsutil.ReadServerData(rw)
		if err != nil {
			var closed wsutil.ClosedError
			if errors.As(err, &closed) && closed.Code == ws.StatusNormalClosure {
				return errStreamEnded
			}
			return err
		}

		evt, err := codec.Decode(data)
		if err != nil {
			c.logger.Warn("invalid stream event", slog.String("error", err.Error()))
			continue
		}

		select {
		case ch <- evt:
		case <-ctx.Done():
			return ctx.Err()
		}
		if evt.Final {
			return errStreamEnded
		}
	}
}

func (c *Client) dialEvents(ctx context.Context, jobID string) (net.Conn, io.Reader, error) {
	u := c.baseURL + jobPath(jobID, "/events") + "?format=" + stream.GetCodec(c.format).Name()
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}

	header := http.Header{}
	if c.owner != "" {
		header.Set(c.ownerHeader, c.owner)
	}

	var rejected *APIError
	dialer := ws.Dialer{
		Header: ws.HandshakeHeaderHTTP(header),
		OnStatusError: func(status int, _ []byte, resp io.Reader) {
			r, err := http.ReadResponse(bufio.NewReader(resp), nil)
			if err != nil {
				rejected = &APIError{StatusCode: status, Code: "unknown", Message: http.StatusText(status)}
				return
			}
			defer r.Body.Close()
			rejected = decodeAPIError(r)
		},
	}

	conn, br, _, err := dialer.Dial(ctx, u)
	if err != nil {
		if rejected != nil {
			return nil, nil, rejected
		}
		return nil, nil, fmt.Errorf("moira/client: dial events: %w", err)
	}

	// Frames written right after the handshake may already be buffered.
	var rd io.Reader = conn
	if br != nil {
		rd = br
	}
	return conn, rd, nil
}
