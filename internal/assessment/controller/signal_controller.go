package controller

import (
	"context"
	"net/http"
	"time"

	"redlight/internal/assessment/signal"
	pkgerrors "redlight/pkg/errors"
	"redlight/pkg/utils/logger"
	"redlight/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultPingInterval = 30 * time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultReadTimeout  = 75 * time.Second

	relayBuffer = 8
)

// RelayConfig tunes websocket keepalive for the signal relay.
type RelayConfig struct {
	PingInterval time.Duration `yaml:"pingInterval"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
}

// SignalController exposes the signal for reading, setting and streaming.
type SignalController struct {
	broadcaster *signal.Broadcaster
	cfg         RelayConfig
	upgrader    websocket.Upgrader
}

// NewSignalController creates a new SignalController.
func NewSignalController(broadcaster *signal.Broadcaster, cfg RelayConfig) *SignalController {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	return &SignalController{
		broadcaster: broadcaster,
		cfg:         cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Get returns the current signal.
func (h *SignalController) Get(c *gin.Context) {
	current, err := h.broadcaster.Current(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, signal.Frame{Current: string(current)})
}

// Put sets and broadcasts the signal.
func (h *SignalController) Put(c *gin.Context) {
	var req signal.Frame
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	sig, ok := signal.Parse(req.Current)
	if !ok {
		response.Error(c, pkgerrors.New(pkgerrors.SignalInvalid).WithDetail("value", req.Current))
		return
	}
	if err := h.broadcaster.Set(c.Request.Context(), sig); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, signal.Frame{Current: string(sig)})
}

// Stream upgrades to a websocket and pushes {"current": ...} frames: the
// current value first, then every change, until the client goes away.
func (h *SignalController) Stream(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn(c.Request.Context(), "signal relay upgrade failed", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	frames := make(chan string, relayBuffer)
	sub, err := h.broadcaster.Subscribe(ctx, func(value string) {
		enqueueLatest(frames, value)
	})
	if err != nil {
		logger.Error(ctx, "signal relay subscribe failed", zap.Error(err))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "signal unavailable"),
			time.Now().Add(h.cfg.WriteTimeout))
		return
	}
	defer func() { _ = sub.Close() }()

	go h.readPump(conn, cancel)
	logger.Debug(ctx, "signal relay client connected")
	h.writePump(ctx, conn, frames)
	logger.Debug(ctx, "signal relay client disconnected")
}

func (h *SignalController) writePump(ctx context.Context, conn *websocket.Conn, frames <-chan string) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(h.cfg.WriteTimeout))
			return
		case value := <-frames:
			sig, ok := signal.Parse(value)
			if !ok {
				logger.Warn(ctx, "dropping malformed signal frame", zap.String("value", value))
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, signal.EncodeFrame(sig)); err != nil {
				logger.Debug(ctx, "signal relay write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains client frames so pongs and close frames are processed.
func (h *SignalController) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	}
}

// enqueueLatest never blocks. Older frames are dropped when the client lags.
func enqueueLatest(frames chan string, value string) {
	for {
		select {
		case frames <- value:
			return
		default:
		}
		select {
		case <-frames:
		default:
		}
	}
}
