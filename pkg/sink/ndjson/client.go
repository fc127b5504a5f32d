package ndjson

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/logflow/jsonimport/internal/model"
	"github.com/logflow/jsonimport/pkg/sink"
)

// Options configures a client connection.
type Options struct {
	// Network is "tcp" or "unix".
	Network string

	// Address is host:port for tcp or a socket path for unix.
	Address string

	// Token is passed opaquely in the Hello handshake.
	Token string

	// Client identifies this process to the server.
	Client string

	// Timeout bounds dialing and every request. Zero means no timeout.
	Timeout time.Duration
}

// Client is a sink.Sink session over one connection.
type Client struct {
	opts     Options
	conn     net.Conn
	scanner  *bufio.Scanner
	mu       sync.Mutex
	writeMu  sync.Mutex
	pending  map[string]chan Message
	readDone chan struct{}
	once     sync.Once
	session  string
}

var _ sink.Sink = (*Client)(nil)

// Dial connects to a sink server and performs the Hello handshake.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	if opts.Network == "" {
		opts.Network = "tcp"
	}

	d := net.Dialer{Timeout: opts.Timeout}
	conn, err := d.DialContext(ctx, opts.Network, opts.Address)
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", opts.Network, opts.Address, err)
	}

	c := &Client{
		opts:     opts,
		conn:     conn,
		scanner:  bufio.NewScanner(conn),
		pending:  make(map[string]chan Message),
		readDone: make(chan struct{}),
	}
	c.scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	go c.readLoop()

	var hello HelloResponse
	if err := c.call(ctx, MethodHello, HelloRequest{Client: opts.Client, Token: opts.Token}, &hello); err != nil {
		c.conn.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}
	c.session = hello.Session
	return c, nil
}

// NewFactory returns a sink.Factory dialing a fresh connection per session.
func NewFactory(opts Options) sink.Factory {
	return sink.FactoryFunc(func(ctx context.Context) (sink.Sink, error) {
		return Dial(ctx, opts)
	})
}

// Session returns the id the server assigned in the handshake.
func (c *Client) Session() string {
	return c.session
}

// Request sends a request and waits for the correlated response.
func (c *Client) Request(ctx context.Context, method string, data any) (Message, error) {
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	msg, err := NewRequest(method, data)
	if err != nil {
		return Message{}, err
	}

	ch := make(chan Message, 1)
	c.mu.Lock()
	c.pending[msg.ID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, msg.ID)
		c.mu.Unlock()
	}()

	raw, err := json.Marshal(msg)
	if err != nil {
		return Message{}, err
	}
	raw = append(raw, '\n')

	c.writeMu.Lock()
	_, err = c.conn.Write(raw)
	c.writeMu.Unlock()
	if err != nil {
		return Message{}, fmt.Errorf("write: %w", err)
	}

	select {
	case resp := <-ch:
		if resp.Error != "" {
			return resp, fmt.Errorf("server error: %s", resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case <-c.readDone:
		return Message{}, fmt.Errorf("connection closed")
	}
}

func (c *Client) call(ctx context.Context, method string, req, resp any) error {
	msg, err := c.Request(ctx, method, req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	if resp == nil || len(msg.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(msg.Data, resp); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	return nil
}

// OpenTimeline implements sink.Sink.
func (c *Client) OpenTimeline(ctx context.Context, id model.TimelineID) error {
	return c.call(ctx, MethodOpenTimeline, OpenTimelineRequest{TimelineID: id.String()}, nil)
}

// DeclareKey implements sink.Sink.
func (c *Client) DeclareKey(ctx context.Context, key string) (sink.KeyHandle, error) {
	var resp DeclareKeyResponse
	if err := c.call(ctx, MethodDeclareKey, DeclareKeyRequest{Key: key}, &resp); err != nil {
		return 0, err
	}
	return sink.KeyHandle(resp.Handle), nil
}

// SetTimelineMetadata implements sink.Sink.
func (c *Client) SetTimelineMetadata(ctx context.Context, attrs []sink.KeyedValue) error {
	wire, err := EncodeAttrs(attrs)
	if err != nil {
		return err
	}
	return c.call(ctx, MethodTimelineMetadata, TimelineMetadataRequest{Attrs: wire}, nil)
}

// SendEvent implements sink.Sink.
func (c *Client) SendEvent(ctx context.Context, ordering model.Ordering, attrs []sink.KeyedValue) error {
	wire, err := EncodeAttrs(attrs)
	if err != nil {
		return err
	}
	return c.call(ctx, MethodEvent, EventRequest{Ordering: ordering.String(), Attrs: wire}, nil)
}

// Ping checks that the server is responsive.
func (c *Client) Ping(ctx context.Context) error {
	var pong PingResponse
	if err := c.call(ctx, MethodPing, nil, &pong); err != nil {
		return err
	}
	if !pong.Pong {
		return fmt.Errorf("unexpected ping response")
	}
	return nil
}

// Close implements sink.Sink.
func (c *Client) Close(context.Context) error {
	var err error
	c.once.Do(func() {
		err = c.conn.Close()
	})
	return err
}

func (c *Client) readLoop() {
	defer close(c.readDone)

	for c.scanner.Scan() {
		var msg Message
		if err := json.Unmarshal(c.scanner.Bytes(), &msg); err != nil {
			continue
		}
		if msg.Type != MsgTypeRes {
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[msg.ID]
		c.mu.Unlock()
		if ok {
			ch <- msg
		}
	}
}
