package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const closeWriteTimeout = time.Second

// Conn is a websocket connection to a remote speech session. Writes are
// serialized; reads happen only inside Listen.
type Conn struct {
	conn *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
}

func Dial(ctx context.Context, url string, header http.Header) (*Conn, error) {
	ctx, span := tracer.Start(ctx, "dial realtime session")
	defer span.End()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if resp != nil {
		span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))
	}
	if err != nil {
		err = fmt.Errorf("failed to open websocket connection: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	return &Conn{conn: conn}, nil
}

// Listen passes every text message to handle, in order, until the connection
// closes or ctx is done. A normal closure returns nil.
func (c *Conn) Listen(ctx context.Context, handle func(raw []byte)) error {
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	for {
		msgType, msg, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || c.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure) || errors.Is(err, websocket.ErrCloseSent) {
				return nil
			}
			return fmt.Errorf("failed to read websocket message: %w", err)
		}
		if msgType == websocket.TextMessage {
			handle(msg)
		}
	}
}

func (c *Conn) WriteJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("failed to write websocket message: %w", err)
	}
	return nil
}

func (c *Conn) WriteBinary(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("failed to write websocket message: %w", err)
	}
	return nil
}

// Close sends a normal closure frame and closes the connection. It is safe to
// call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeWriteTimeout))
		c.writeMu.Unlock()

		err = c.conn.Close()
	})
	return err
}
