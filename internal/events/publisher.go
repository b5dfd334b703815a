// Package events publishes audit entries to a RabbitMQ topic exchange.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"github.com/punchamoorthee/otaledger/internal/domain"
)

// DefaultExchange is the topic exchange audit entries are published to.
const DefaultExchange = "ledger.audit"

// Channel is the subset of *amqp.Channel used by the publisher.
type Channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher is an audit.Sink. Messages are routed as
// "audit.<table>.<operation>".
type Publisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       Channel
	exchange string
	logger   *zap.Logger
}

func NewPublisher(ch Channel, exchange string, logger *zap.Logger) *Publisher {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{ch: ch, exchange: exchange, logger: logger}
}

// Dial connects to url and declares a durable topic exchange.
func Dial(url, exchange string, logger *zap.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	p := NewPublisher(ch, exchange, logger)
	err = ch.ExchangeDeclare(
		p.exchange, // name
		"topic",    // type
		true,       // durable
		false,      // auto-deleted
		false,      // internal
		false,      // no-wait
		nil,        // arguments
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("exchange declare error: %w", err)
	}
	p.conn = conn
	return p, nil
}

// RoutingKey returns the key an entry is published under.
func RoutingKey(e domain.AuditEntry) string {
	return "audit." + e.TableName + "." + strings.ToLower(e.Operation)
}

// Publish sends one entry as a persistent JSON message.
func (p *Publisher) Publish(ctx context.Context, e domain.AuditEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("event serialization error: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		MessageId:    e.ID,
		Timestamp:    e.OperatedAt,
		Headers: amqp.Table{
			"table":     e.TableName,
			"record_id": e.RecordID,
			"operation": e.Operation,
			"source":    e.Source,
		},
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	key := RoutingKey(e)
	p.mu.Lock()
	err = p.ch.Publish(p.exchange, key, false, false, msg)
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("event publish error: %w", err)
	}
	p.logger.Debug("audit entry published", zap.String("routing_key", key), zap.String("entry_id", e.ID))
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
