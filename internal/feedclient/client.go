// Package feedclient follows an analyzer's /v1/feed stream and reconnects
// with backoff when the connection drops.
package feedclient

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/cheese-analyzer/pkg/analysisdto"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "disconnected"
	}
}

var ErrGaveUp = errors.New("feed: reconnect attempts exhausted")

type EventHandler func(analysisdto.Event)

type StateHandler func(State)

type HeaderProvider func() map[string]string

type Option func(*Client)

// WithMaxAttempts bounds consecutive failed dials. Zero means retry forever.
func WithMaxAttempts(n int) Option {
	return func(c *Client) { c.maxAttempts = n }
}

func WithPingInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pingInterval = d
		}
	}
}

func WithHeaderProvider(h HeaderProvider) Option {
	return func(c *Client) { c.headers = h }
}

func WithStateHandler(fn StateHandler) Option {
	return func(c *Client) { c.onState = fn }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// withBackoff replaces the reconnect schedule; tests use it.
func withBackoff(fn func(attempt int) time.Duration) Option {
	return func(c *Client) { c.backoff = fn }
}

type Client struct {
	url          string
	maxAttempts  int
	pingInterval time.Duration
	dialTimeout  time.Duration
	headers      HeaderProvider
	onState      StateHandler
	backoff      func(attempt int) time.Duration
	logger       *zap.Logger

	mu    sync.RWMutex
	state State
}

func New(url string, opts ...Option) *Client {
	c := &Client{
		url:          url,
		maxAttempts:  5,
		pingInterval: 30 * time.Second,
		dialTimeout:  10 * time.Second,
		backoff:      backoffDuration,
		logger:       zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Run delivers events to fn until ctx is done or reconnecting gives up.
// A cancelled ctx returns nil and leaves the client disconnected.
func (c *Client) Run(ctx context.Context, fn EventHandler) error {
	failures := 0
	for {
		if failures == 0 {
			c.setState(StateConnecting)
		} else {
			c.setState(StateReconnecting)
			if !sleep(ctx, c.backoff(failures)) {
				c.setState(StateDisconnected)
				return nil
			}
		}

		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.setState(StateDisconnected)
				return nil
			}
			failures++
			c.logger.Warn("feed_dial_failed", zap.Int("attempt", failures), zap.Error(err))
			if c.maxAttempts > 0 && failures >= c.maxAttempts {
				c.setState(StateFailed)
				return ErrGaveUp
			}
			continue
		}

		failures = 0
		c.setState(StateConnected)
		err = c.consume(ctx, conn, fn)
		if ctx.Err() != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "")
			c.setState(StateDisconnected)
			return nil
		}
		_ = conn.Close(websocket.StatusGoingAway, "reconnect")
		c.logger.Info("feed_disconnected", zap.Error(err))
		// 끊김 직후 바로 재접속하지 않는다.
		failures = 1
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dctx, c.url, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      c.buildHeaders(),
	})
	return conn, err
}

// consume reads until the connection fails. A ping loop runs alongside and
// tears the connection down after two missed pongs.
func (c *Client) consume(ctx context.Context, conn *websocket.Conn, fn EventHandler) error {
	cctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.pingLoop(cctx, conn, cancel)
	}()

	for {
		var ev analysisdto.Event
		if err := wsjson.Read(cctx, conn, &ev); err != nil {
			return err
		}
		if fn != nil {
			fn(ev)
		}
	}
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn, abort context.CancelFunc) {
	t := time.NewTicker(c.pingInterval)
	defer t.Stop()
	misses := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := conn.Ping(pctx)
			cancel()
			if err == nil {
				misses = 0
				continue
			}
			misses++
			if misses >= 2 {
				c.logger.Warn("feed_ping_failed", zap.Error(err))
				abort()
				return
			}
		}
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if changed && c.onState != nil {
		c.onState(s)
	}
}

func (c *Client) buildHeaders() http.Header {
	hdr := http.Header{}
	if c.headers == nil {
		return hdr
	}
	for k, v := range c.headers() {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		hdr.Set(k, v)
	}
	return hdr
}

// backoffDuration doubles from 100ms and stops growing after six attempts.
func backoffDuration(attempt int) time.Duration {
	attempt = min(max(attempt, 1), 6)
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
