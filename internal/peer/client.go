package peer

import (
	"context"
	"fmt"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Client is a websocket connection to one bank's control endpoint. It
// multiplexes request/reply pairs by ID and dispatches subscription pushes
// to registered watchers. Client implements Handle.
type Client struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger

	mu      sync.Mutex
	pending map[string]chan Message
	subs    map[string][]func(string)
	closed  bool
}

// Dial opens a control connection to addr (host:port).
func Dial(ctx context.Context, addr string, logger zerolog.Logger) (*Client, error) {
	url := fmt.Sprintf("ws://%s/websocket", addr)
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	clientCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:    conn,
		ctx:     clientCtx,
		cancel:  cancel,
		logger:  logger,
		pending: make(map[string]chan Message),
		subs:    make(map[string][]func(string)),
	}
	go c.readLoop()
	return c, nil
}

// Control probes for a named control by reading it once. A server-side
// error reply maps to ErrControlInaccessible.
func (c *Client) Control(ctx context.Context, name string) (Control, error) {
	ctl := &wsControl{client: c, name: name}
	if _, err := ctl.Read(ctx); err != nil {
		return nil, err
	}
	return ctl, nil
}

// Close tears the connection down and fails all pending requests.
func (c *Client) Close() error {
	c.cancel()
	return c.conn.Close(websocket.StatusNormalClosure, "")
}

func (c *Client) readLoop() {
	for {
		var msg Message
		if err := wsjson.Read(c.ctx, c.conn, &msg); err != nil {
			c.shutdown(err)
			return
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg Message) {
	c.mu.Lock()
	if msg.ID != "" {
		if ch, ok := c.pending[msg.ID]; ok {
			delete(c.pending, msg.ID)
			c.mu.Unlock()
			ch <- msg
			return
		}
		c.mu.Unlock()
		return
	}
	watchers := append([]func(string){}, c.subs[msg.Control]...)
	c.mu.Unlock()

	for _, fn := range watchers {
		fn(msg.Value)
	}
}

func (c *Client) shutdown(err error) {
	c.mu.Lock()
	c.closed = true
	pending := c.pending
	c.pending = make(map[string]chan Message)
	c.mu.Unlock()

	c.logger.Debug().Err(err).Msg("control connection closed")
	for _, ch := range pending {
		close(ch)
	}
	c.cancel()
}

// roundTrip sends a request and waits for its correlated reply.
func (c *Client) roundTrip(ctx context.Context, msg Message) (Message, error) {
	msg.ID = uuid.NewString()
	ch := make(chan Message, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Message{}, ErrClientClosed
	}
	c.pending[msg.ID] = ch
	c.mu.Unlock()

	if err := wsjson.Write(ctx, c.conn, msg); err != nil {
		c.mu.Lock()
		delete(c.pending, msg.ID)
		c.mu.Unlock()
		return Message{}, err
	}

	select {
	case reply, ok := <-ch:
		if !ok {
			return Message{}, ErrClientClosed
		}
		return reply, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, msg.ID)
		c.mu.Unlock()
		return Message{}, ctx.Err()
	}
}

// wsControl is one named control reached through a Client.
type wsControl struct {
	client *Client
	name   string
}

func (w *wsControl) Name() string { return w.name }

func (w *wsControl) Read(ctx context.Context) (string, error) {
	reply, err := w.client.roundTrip(ctx, Message{Type: MsgRead, Control: w.name})
	if err != nil {
		return "", err
	}
	if reply.Type == MsgError {
		return "", fmt.Errorf("%w: %s", ErrControlInaccessible, reply.Error)
	}
	return reply.Value, nil
}

func (w *wsControl) Write(ctx context.Context, value string) error {
	reply, err := w.client.roundTrip(ctx, Message{Type: MsgWrite, Control: w.name, Value: value})
	if err != nil {
		return err
	}
	if reply.Type == MsgError {
		return fmt.Errorf("%w: %s", ErrControlInaccessible, reply.Error)
	}
	return nil
}

func (w *wsControl) Subscribe(ctx context.Context, fn func(value string)) error {
	reply, err := w.client.roundTrip(ctx, Message{Type: MsgSubscribe, Control: w.name})
	if err != nil {
		return err
	}
	if reply.Type == MsgError {
		return fmt.Errorf("%w: %s", ErrControlInaccessible, reply.Error)
	}

	c := w.client
	c.mu.Lock()
	c.subs[w.name] = append(c.subs[w.name], fn)
	c.mu.Unlock()

	// The subscribe ack carries the current value; deliver it so the
	// watcher starts consistent.
	if reply.Type == MsgValue {
		fn(reply.Value)
	}
	return nil
}
