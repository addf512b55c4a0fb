package signal

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"redlight/pkg/utils/logger"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSChannelConfig configures the websocket client of the signal relay.
type WSChannelConfig struct {
	URL              string
	Header           http.Header
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	InitialFrameWait time.Duration
}

// WSChannel subscribes to the relay over a websocket and reconnects with
// exponential backoff until the subscription is closed.
type WSChannel struct {
	cfg    WSChannelConfig
	dialer *websocket.Dialer
}

// NewWSChannel validates cfg and fills defaults.
func NewWSChannel(cfg WSChannelConfig) (*WSChannel, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("relay url is required")
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 5 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 75 * time.Second
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 15 * time.Second
	}
	if cfg.InitialFrameWait <= 0 {
		cfg.InitialFrameWait = 3 * time.Second
	}
	return &WSChannel{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
	}, nil
}

// Subscribe connects to the relay. When the first connection succeeds the
// initial frame is delivered before Subscribe returns; otherwise connecting
// continues in the background and Subscribe does not fail.
func (c *WSChannel) Subscribe(ctx context.Context, handler Handler) (Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	runCtx, cancel := context.WithCancel(ctx)
	sub := &wsSubscription{cancel: cancel, done: make(chan struct{})}

	conn, err := c.dial(runCtx)
	if err != nil {
		logger.Warn(ctx, "signal relay unreachable, retrying in background", zap.Error(err))
		conn = nil
	} else if !c.readInitialFrame(conn, handler) {
		_ = conn.Close()
		conn = nil
	}

	go func() {
		defer close(sub.done)
		c.run(runCtx, conn, handler)
	}()
	return sub, nil
}

func (c *WSChannel) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial relay failed: %w", err)
	}
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	return conn, nil
}

func (c *WSChannel) readInitialFrame(conn *websocket.Conn, handler Handler) bool {
	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.InitialFrameWait))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		return false
	}
	handler(DecodeFrame(payload))
	return true
}

func (c *WSChannel) run(ctx context.Context, conn *websocket.Conn, handler Handler) {
	for {
		if conn == nil {
			conn = c.reconnect(ctx, handler)
			if conn == nil {
				return
			}
		}
		err := c.readLoop(ctx, conn, handler)
		_ = conn.Close()
		conn = nil
		if ctx.Err() != nil {
			return
		}
		logger.Warn(ctx, "signal relay connection lost", zap.Error(err))
	}
}

func (c *WSChannel) reconnect(ctx context.Context, handler Handler) *websocket.Conn {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.InitialBackoff
	policy.MaxInterval = c.cfg.MaxBackoff
	policy.MaxElapsedTime = 0

	var conn *websocket.Conn
	op := func() error {
		next, err := c.dial(ctx)
		if err != nil {
			return err
		}
		if !c.readInitialFrame(next, handler) {
			_ = next.Close()
			return fmt.Errorf("relay closed before initial frame")
		}
		conn = next
		return nil
	}
	notify := func(err error, wait time.Duration) {
		logger.Debug(ctx, "signal relay reconnect scheduled", zap.Error(err), zap.Duration("wait", wait))
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(policy, ctx), notify); err != nil {
		return nil
	}
	logger.Info(ctx, "signal relay reconnected")
	return conn
}

func (c *WSChannel) readLoop(ctx context.Context, conn *websocket.Conn, handler Handler) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	for {
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		handler(DecodeFrame(payload))
	}
}

type wsSubscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *wsSubscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
	return nil
}

var _ Channel = (*WSChannel)(nil)
