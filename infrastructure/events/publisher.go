// Package events mirrors account activity entries onto a RabbitMQ topic
// exchange so external systems can follow session and campaign lifecycles.
// The publisher is optional: a nil *Publisher is safe to call and does
// nothing, which is the behavior when AMQP_URL is not configured.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/marianovz/wa-blast/domains/activity"
	"github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

type Publisher struct {
	conn     *amqp091.Connection
	exchange string
}

type activityPayload struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func New(url, exchange string) (*Publisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(
		exchange, "topic", true, false, false, false, nil,
	); err != nil {
		conn.Close()
		return nil, err
	}

	return &Publisher{conn: conn, exchange: exchange}, nil
}

// PublishActivity mirrors one activity entry. Routing key is
// "activity.<action>" so consumers can bind by action class.
func (p *Publisher) PublishActivity(ctx context.Context, entry activity.Entry) error {
	if p == nil {
		return nil
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	body, err := json.Marshal(activityPayload{
		ID:        entry.ID,
		AccountID: entry.AccountID,
		Action:    entry.Action,
		Detail:    entry.Description,
		Timestamp: entry.CreatedAt,
	})
	if err != nil {
		return err
	}

	key := "activity." + entry.Action
	err = ch.PublishWithContext(
		ctx, p.exchange, key, false, false,
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err == nil {
		logrus.WithFields(logrus.Fields{
			"key":      key,
			"exchange": p.exchange,
		}).Debug("[EVENTS] Activity published")
	}
	return err
}

func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.conn.Close()
}
