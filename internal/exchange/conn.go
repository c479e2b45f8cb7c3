package exchange

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

const writeWait = 10 * time.Second

// Conn wraps a websocket connection so that the receive loop, a keepalive
// pinger and shutdown can share it. Writes are serialised; reads must come
// from a single goroutine.
type Conn struct {
	ws          *websocket.Conn
	readTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// Dial opens a websocket connection to rawURL.
func Dial(ctx context.Context, rawURL string) (*Conn, error) {
	c, _, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", rawURL)
	}
	return NewConn(c), nil
}

func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// SetReadTimeout makes ReadMessage fail when no frame arrives within d.
// Zero disables the deadline.
func (c *Conn) SetReadTimeout(d time.Duration) {
	c.readTimeout = d
}

func (c *Conn) ReadMessage() ([]byte, error) {
	if c.readTimeout > 0 {
		if err := c.ws.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return nil, errors.Wrap(err, "set read deadline")
		}
	}
	_, message, err := c.ws.ReadMessage()
	if err != nil {
		return nil, errors.Wrap(ErrConnectionLost, err.Error())
	}
	return message, nil
}

func (c *Conn) WriteJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return errors.Wrap(err, "set write deadline")
	}
	if err := c.ws.WriteJSON(v); err != nil {
		return errors.Wrap(err, "write json")
	}
	return nil
}

// Shutdown sends a normal close frame and closes the connection.
func (c *Conn) Shutdown() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()
	return c.Close()
}

// Close is safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.ws.Close()
	})
	return err
}
