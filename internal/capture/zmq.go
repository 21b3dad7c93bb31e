package capture

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/pebbe/zmq4"

	"threshcam/internal/frame"
	"threshcam/internal/logger"
	"threshcam/internal/wire"
)

type ZMQConfig struct {
	Endpoint string
	// PollInterval bounds how long a receive blocks before ctx is checked again.
	PollInterval time.Duration
}

// ZMQ pulls CBOR frame messages from a PUSH peer.
type ZMQ struct {
	cfg     ZMQConfig
	socket  *zmq4.Socket
	pool    *frame.Pool
	logger  logger.Logger
	skipped uint64
}

func OpenZMQ(cfg ZMQConfig, pool *frame.Pool, log logger.Logger) (*ZMQ, error) {
	if log == nil {
		log = logger.Nop{}
	}
	if pool == nil {
		pool = frame.NewPool(2)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 200 * time.Millisecond
	}

	socket, err := zmq4.NewSocket(zmq4.PULL)
	if err != nil {
		return nil, err
	}
	if err := socket.SetRcvtimeo(cfg.PollInterval); err != nil {
		_ = socket.Close()
		return nil, err
	}
	if err := socket.SetRcvhwm(2); err != nil {
		_ = socket.Close()
		return nil, err
	}
	if err := socket.Connect(cfg.Endpoint); err != nil {
		_ = socket.Close()
		return nil, fmt.Errorf("connect %s: %w", cfg.Endpoint, err)
	}

	log.Info("ZMQ", "frame feed connected", map[string]interface{}{"endpoint": cfg.Endpoint})
	return &ZMQ{cfg: cfg, socket: socket, pool: pool, logger: log}, nil
}

// NextFrame waits for the next well-formed message. Malformed messages are
// logged and skipped.
func (z *ZMQ) NextFrame(ctx context.Context) (*frame.Frame, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		msg, err := z.socket.RecvBytes(0)
		if err != nil {
			if zmq4.AsErrno(err) == zmq4.Errno(syscall.EAGAIN) {
				continue
			}
			return nil, fmt.Errorf("zmq receive: %w", err)
		}

		m, err := wire.Unmarshal(msg)
		if err != nil {
			z.skipped++
			z.logger.Warning("ZMQ", "skipped malformed frame message", map[string]interface{}{
				"error":   err.Error(),
				"skipped": z.skipped,
			})
			continue
		}

		f, err := z.pool.Get(m.Width, m.Height)
		if err != nil {
			return nil, err
		}
		if err := m.CopyTo(f); err != nil {
			z.pool.Put(f)
			return nil, err
		}
		if f.Captured.IsZero() {
			f.Captured = time.Now()
		}
		return f, nil
	}
}

func (z *ZMQ) Close() error {
	return z.socket.Close()
}
