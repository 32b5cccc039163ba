package events

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/ruralpay/ledger-engine/internal/models"
)

// Routing keys for committed ledger operations.
const (
	RoutingTopUp    = "ledger.topup.committed"
	RoutingPurchase = "ledger.purchase.committed"
)

// Publisher delivers ledger events. Close releases the broker connection.
type Publisher interface {
	PublishLedgerEvent(ctx context.Context, event models.LedgerEvent) error
	Close()
}

// channel is the subset of *amqp091.Channel the producer uses.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// Producer publishes ledger events to a durable topic exchange.
type Producer struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  channel
	exchange string
	declared bool
}

// Fallback is used when no broker is configured or reachable at startup.
type Fallback struct{}

func (Fallback) PublishLedgerEvent(ctx context.Context, event models.LedgerEvent) error {
	log.Printf("[EVENTS] broker unavailable, event skipped: op=%s account=%s seq=%d", event.Operation, event.AccountID, event.EntrySeq)
	return nil
}

func (Fallback) Close() {}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewProducer dials the broker with a bounded timeout.
func NewProducer(amqpURL, exchange string) (*Producer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &Producer{conn: conn, channel: ch, exchange: exchange}, nil
}

// NewPublisher returns a Producer, or the Fallback when amqpURL is empty or unreachable.
func NewPublisher(amqpURL, exchange string) Publisher {
	if amqpURL == "" {
		log.Println("[EVENTS] no broker configured, using fallback publisher")
		return Fallback{}
	}

	p, err := NewProducer(amqpURL, exchange)
	if err != nil {
		log.Printf("[EVENTS] broker connection failed, using fallback publisher: %v", err)
		return Fallback{}
	}
	log.Printf("[EVENTS] publishing to exchange %s", exchange)
	return p
}

func routingKey(op models.Operation) string {
	if op == models.OperationPurchase {
		return RoutingPurchase
	}
	return RoutingTopUp
}

func (p *Producer) PublishLedgerEvent(ctx context.Context, event models.LedgerEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.publish(ctx, routingKey(event.Operation), event.EventID, body)
	if err == nil {
		return nil
	}

	log.Printf("[EVENTS] publish failed, reopening channel: %v", err)
	if reopenErr := p.reopen(); reopenErr != nil {
		return errors.Join(err, reopenErr)
	}
	return p.publish(ctx, routingKey(event.Operation), event.EventID, body)
}

func (p *Producer) publish(ctx context.Context, key, messageID string, body []byte) error {
	if !p.declared {
		if err := p.channel.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
			return err
		}
		p.declared = true
	}

	return p.channel.PublishWithContext(ctx, p.exchange, key, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    messageID,
		Timestamp:    time.Now(),
		Body:         body,
	})
}

func (p *Producer) reopen() error {
	if p.conn == nil || p.conn.IsClosed() {
		return amqp091.ErrClosed
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	p.channel = ch
	p.declared = false
	return nil
}

func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
