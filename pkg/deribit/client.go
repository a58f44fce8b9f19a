// Package deribit is a JSON-RPC websocket client for Deribit crypto options.
package deribit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	MainnetURL = "wss://www.deribit.com/ws/api/v2"
	TestnetURL = "wss://test.deribit.com/ws/api/v2"
)

var (
	ErrNotConnected     = errors.New("deribit websocket not connected")
	ErrNotAuthenticated = errors.New("deribit session not authenticated")
)

// RPCError is an error object returned by the venue.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("deribit error %d: %s", e.Code, e.Message)
}

type request struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type response struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

type Options struct {
	URL          string        `mapstructure:"url"`
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	Timeout      time.Duration `mapstructure:"timeout"`
	PingInterval time.Duration `mapstructure:"ping_interval"`
	RiskFreeRate float64       `mapstructure:"risk_free_rate"`
}

type Client struct {
	opts   Options
	logger *logrus.Logger
	now    func() time.Time

	mu            sync.Mutex
	writeMu       sync.Mutex
	conn          *websocket.Conn
	stop          context.CancelFunc
	connected     bool
	authenticated bool
	pending       map[int64]chan response
	nextID        atomic.Int64
}

func NewClient(opts Options, logger *logrus.Logger) *Client {
	if opts.URL == "" {
		opts.URL = TestnetURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	return &Client{
		opts:    opts,
		logger:  logger,
		now:     time.Now,
		pending: make(map[int64]chan response),
	}
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: c.opts.Timeout,
	}

	conn, _, err := dialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to websocket: %w", err)
	}

	// the dial context only bounds the handshake; the connection lives
	// until Close or a read failure
	connCtx, stop := context.WithCancel(context.Background())
	c.conn = conn
	c.stop = stop
	c.connected = true
	c.authenticated = false

	go c.readLoop(conn)
	go c.keepAlive(connCtx, conn)

	c.logger.WithField("url", c.opts.URL).Info("Connected to Deribit")
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	c.writeMu.Lock()
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	c.handleDisconnect(conn)
	return nil
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// call sends one JSON-RPC request and decodes its result into out.
func (c *Client) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	conn := c.conn
	id := c.nextID.Add(1)
	ch := make(chan response, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	err := conn.WriteJSON(request{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to send %s: %w", method, err)
	}

	timer := time.NewTimer(c.opts.Timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%s: timed out after %v", method, c.opts.Timeout)
	case resp, ok := <-ch:
		if !ok {
			return ErrNotConnected
		}
		if resp.Error != nil {
			return fmt.Errorf("%s: %w", method, resp.Error)
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("parsing %s result: %w", method, err)
		}
		return nil
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var resp response
		if err := conn.ReadJSON(&resp); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.logger.WithError(err).Debug("Deribit read loop ended")
			}
			c.handleDisconnect(conn)
			return
		}

		c.mu.Lock()
		if ch, ok := c.pending[resp.ID]; ok {
			select {
			case ch <- resp:
			default:
			}
		}
		c.mu.Unlock()
	}
}

func (c *Client) keepAlive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			current := c.connected && c.conn == conn
			c.mu.Unlock()
			if !current {
				return
			}

			c.writeMu.Lock()
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				c.logger.WithError(err).Error("Failed to send ping")
				c.handleDisconnect(conn)
				return
			}
		}
	}
}

func (c *Client) handleDisconnect(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != conn {
		return
	}
	c.connected = false
	c.authenticated = false
	c.conn = nil
	if c.stop != nil {
		c.stop()
		c.stop = nil
	}
	conn.Close()

	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}
