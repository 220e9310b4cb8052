package invalidation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSBus carries invalidations over core NATS pub/sub. Delivery is at most
// once; a peer that misses a message keeps serving the entry until its L1 TTL
// runs out.
type NATSBus struct {
	conn    *nats.Conn
	subject string
	owned   bool
	logger  *zap.Logger
}

// DialNATS connects to url and returns a bus that closes the connection on
// Close. An empty subject means DefaultSubject.
func DialNATS(url, subject string, logger *zap.Logger) (*NATSBus, error) {
	conn, err := nats.Connect(url,
		nats.Name("spawncache"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("invalidation: connect %s: %w", url, err)
	}
	b := NewNATSBus(conn, subject, logger)
	b.owned = true
	return b, nil
}

// NewNATSBus wraps an existing connection. The caller keeps ownership of conn.
func NewNATSBus(conn *nats.Conn, subject string, logger *zap.Logger) *NATSBus {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSBus{
		conn:    conn,
		subject: subject,
		logger:  logger.Named("invalidation"),
	}
}

func (b *NATSBus) Publish(_ context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := b.conn.Publish(b.subject, data); err != nil {
		return fmt.Errorf("invalidation: publish: %w", err)
	}
	return nil
}

// Subscribe delivers decoded messages to h. Each delivery gets a context
// derived from ctx with a 30 second budget.
func (b *NATSBus) Subscribe(ctx context.Context, h Handler) (func() error, error) {
	sub, err := b.conn.Subscribe(b.subject, func(m *nats.Msg) {
		var msg Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			b.logger.Warn("dropping malformed invalidation", zap.Error(err))
			return
		}
		msgCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		h(msgCtx, msg)
	})
	if err != nil {
		return nil, fmt.Errorf("invalidation: subscribe: %w", err)
	}
	return sub.Unsubscribe, nil
}

// Close drains the connection if the bus opened it.
func (b *NATSBus) Close() error {
	if !b.owned {
		return nil
	}
	return b.conn.Drain()
}
