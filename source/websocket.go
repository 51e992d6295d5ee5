// Package source provides snapshot sources for the tracking loop.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/smkim0508/Portable-Brain/core"
)

const (
	// Maximum snapshot size accepted from the device bridge.
	maxMessageSize = 2048 * 2048

	// Time allowed to write the close message to the peer.
	writeWait = time.Second

	// DefaultBuffer is how many unread snapshots are kept before the oldest is dropped.
	DefaultBuffer = 64
)

// ErrClosed is returned by Poll once the connection has ended and every
// buffered snapshot was read.
var ErrClosed = errors.New("source: connection closed")

// WebSocketSource receives JSON encoded snapshots pushed by a device bridge.
// A reader goroutine decodes messages into a bounded buffer; Poll takes one
// snapshot at a time and reports no snapshot when none arrives in time.
type WebSocketSource struct {
	conn    *websocket.Conn
	logger  *zap.Logger
	updates chan core.UIState

	done    chan struct{}
	readErr error

	closeOnce sync.Once
}

// Dial connects to the bridge at url.
func Dial(ctx context.Context, url string, header http.Header, logger *zap.Logger) (*WebSocketSource, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return newWebSocketSource(conn, logger), nil
}

func newWebSocketSource(conn *websocket.Conn, logger *zap.Logger) *WebSocketSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &WebSocketSource{
		conn:    conn,
		logger:  logger.Named("websocket_source"),
		updates: make(chan core.UIState, DefaultBuffer),
		done:    make(chan struct{}),
	}
	go s.readPump()
	return s
}

// readPump pumps snapshots from the connection into the buffer.
func (s *WebSocketSource) readPump() {
	defer close(s.done)
	s.conn.SetReadLimit(maxMessageSize)

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read error", zap.Error(err))
			}
			s.readErr = err
			return
		}

		var st core.UIState
		if err := json.Unmarshal(message, &st); err != nil {
			s.logger.Error("failed to unmarshal snapshot", zap.Error(err), zap.Int("bytes", len(message)))
			continue
		}
		if st.Timestamp.IsZero() {
			st.Timestamp = time.Now().UTC()
		}
		s.push(st)
	}
}

// push buffers st, dropping the oldest unread snapshot when full.
func (s *WebSocketSource) push(st core.UIState) {
	for {
		select {
		case s.updates <- st:
			return
		default:
		}
		select {
		case <-s.updates:
			s.logger.Warn("snapshot buffer full, dropped oldest")
		default:
		}
	}
}

// Poll implements core.SnapshotSource. It returns nil, nil when no snapshot
// arrives before ctx's deadline.
func (s *WebSocketSource) Poll(ctx context.Context) (*core.UIState, error) {
	select {
	case st := <-s.updates:
		return &st, nil
	default:
	}

	select {
	case st := <-s.updates:
		return &st, nil
	case <-s.done:
		// drain what the reader buffered before it stopped
		select {
		case st := <-s.updates:
			return &st, nil
		default:
		}
		return nil, fmt.Errorf("%w: %w", ErrClosed, s.readErr)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, ctx.Err()
	}
}

// Close sends a close frame and waits for the reader to exit.
func (s *WebSocketSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		err = s.conn.Close()
		<-s.done
	})
	return err
}
