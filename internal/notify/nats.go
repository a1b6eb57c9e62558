package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/nats-io/nats.go"
	"github.com/rongwang/fundchain-server/internal/models"
)

// NatsConfig contains the arguments required to connect to the nats service
type NatsConfig struct {
	Address string `yaml:"server_address"`
	Name    string `yaml:"client_name"`
	Token   string `yaml:"token"`
	Subject string `yaml:"subject"`
}

// publishConn is the part of *nats.Conn the publisher uses
type publishConn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NatsPublisher publishes settlement events to a subject per event kind,
// "<subject>.deposit.minted" and "<subject>.withdraw.burned". A mail worker
// subscribed to them delivers the user facing notification.
type NatsPublisher struct {
	conn    publishConn
	subject string
}

// NatsConnect connects to the nats server described by cfg
func NatsConnect(cfg NatsConfig) (*NatsPublisher, error) {
	if _, err := url.Parse(cfg.Address); err != nil {
		return nil, fmt.Errorf("invalid nats address: %w", err)
	}
	conn, err := nats.Connect(cfg.Address, nats.Name(cfg.Name), nats.Token(cfg.Token))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return newNatsPublisher(conn, cfg.Subject), nil
}

func newNatsPublisher(conn publishConn, subject string) *NatsPublisher {
	if subject == "" {
		subject = "fundchain.settlement"
	}
	return &NatsPublisher{conn: conn, subject: subject}
}

func (p *NatsPublisher) DepositMinted(_ context.Context, d *models.Deposit) error {
	return p.publish(DepositEvent(d))
}

func (p *NatsPublisher) WithdrawBurned(_ context.Context, w *models.Withdraw) error {
	return p.publish(WithdrawEvent(w))
}

func (p *NatsPublisher) publish(e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", e.Kind, err)
	}
	if err := p.conn.Publish(p.subject+"."+e.Kind, data); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", e.Kind, err)
	}
	return nil
}

// Disconnect drains pending messages and closes the connection
func (p *NatsPublisher) Disconnect() error {
	return p.conn.Drain()
}
