package signal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"redlight/internal/common/cache"
	pkgerrors "redlight/pkg/errors"
	"redlight/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultSignalKey     = "assessment:signal:current"
	defaultSignalChannel = "assessment:signal"
	defaultOpTimeout     = 3 * time.Second
)

// BroadcasterConfig names the redis key and channel holding the signal.
type BroadcasterConfig struct {
	Key       string        `yaml:"key"`
	Channel   string        `yaml:"channel"`
	OpTimeout time.Duration `yaml:"opTimeout"`
}

// Broadcaster stores the authoritative signal in redis and fans changes out
// over pub/sub. It is also a Channel for in-service subscribers such as the
// websocket relay.
type Broadcaster struct {
	cache     cache.Cache
	key       string
	channel   string
	opTimeout time.Duration
}

// NewBroadcaster creates a Broadcaster backed by the given cache.
func NewBroadcaster(c cache.Cache, cfg BroadcasterConfig) (*Broadcaster, error) {
	if c == nil {
		return nil, fmt.Errorf("cache is required")
	}
	if cfg.Key == "" {
		cfg.Key = defaultSignalKey
	}
	if cfg.Channel == "" {
		cfg.Channel = defaultSignalChannel
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = defaultOpTimeout
	}
	return &Broadcaster{
		cache:     c,
		key:       cfg.Key,
		channel:   cfg.Channel,
		opTimeout: cfg.OpTimeout,
	}, nil
}

// Set stores sig and publishes it to every subscriber.
func (b *Broadcaster) Set(ctx context.Context, sig Signal) error {
	if _, ok := Parse(string(sig)); !ok {
		return pkgerrors.New(pkgerrors.SignalInvalid).WithDetail("value", string(sig))
	}
	opCtx, cancel := context.WithTimeout(ctx, b.opTimeout)
	defer cancel()

	if err := b.cache.Set(opCtx, b.key, string(sig), 0); err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.SignalBroadcastFail, "store signal failed")
	}
	receivers, err := b.cache.Publish(opCtx, b.channel, EncodeFrame(sig))
	if err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.SignalBroadcastFail, "publish signal failed")
	}
	logger.Info(ctx, "signal broadcast",
		zap.String("signal", string(sig)),
		zap.Int64("receivers", receivers),
	)
	return nil
}

// Current returns the stored signal. A missing or unreadable value is GREEN.
func (b *Broadcaster) Current(ctx context.Context) (Signal, error) {
	opCtx, cancel := context.WithTimeout(ctx, b.opTimeout)
	defer cancel()

	raw, err := b.cache.Get(opCtx, b.key)
	if err != nil {
		return "", pkgerrors.Wrap(err, pkgerrors.CacheError)
	}
	if raw == "" {
		return Green, nil
	}
	sig, ok := Parse(raw)
	if !ok {
		logger.Warn(ctx, "stored signal is malformed, reporting green", zap.String("raw", raw))
		return Green, nil
	}
	return sig, nil
}

// Subscribe delivers the current value, then every published value, until
// the subscription is closed or ctx ends.
func (b *Broadcaster) Subscribe(ctx context.Context, handler Handler) (Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	sub, err := b.cache.Subscribe(ctx, b.channel)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.CacheError)
	}
	current, err := b.Current(ctx)
	if err != nil {
		_ = sub.Close()
		return nil, err
	}
	handler(string(current))

	s := &broadcastSubscription{sub: sub, done: make(chan struct{})}
	go s.forward(ctx, handler)
	return s, nil
}

type broadcastSubscription struct {
	sub  cache.Subscription
	done chan struct{}
	once sync.Once
}

func (s *broadcastSubscription) forward(ctx context.Context, handler Handler) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			_ = s.sub.Close()
			return
		case msg, ok := <-s.sub.Messages():
			if !ok {
				return
			}
			handler(DecodeFrame([]byte(msg.Payload)))
		}
	}
}

func (s *broadcastSubscription) Close() error {
	var err error
	s.once.Do(func() {
		err = s.sub.Close()
		<-s.done
	})
	return err
}

var _ Channel = (*Broadcaster)(nil)

// StoredGate permits submitting only while the stored signal is GREEN. A
// signal that cannot be read keeps the gate closed.
type StoredGate struct {
	broadcaster *Broadcaster
}

// NewStoredGate creates a gate over b.
func NewStoredGate(b *Broadcaster) *StoredGate {
	return &StoredGate{broadcaster: b}
}

// CanSubmit reports whether the stored signal is GREEN.
func (g *StoredGate) CanSubmit() bool {
	ctx := context.Background()
	sig, err := g.broadcaster.Current(ctx)
	if err != nil {
		logger.Warn(ctx, "read signal for gate failed, treating as red", zap.Error(err))
		return false
	}
	return sig == Green
}
