package notifier

import (
	"context"
	"encoding/json"

	"github.com/Astemirdum/lending-service/lending/internal/model"
	"github.com/IBM/sarama"
)

// Notifier dispatches a due-reminder to a borrower. Failures are retryable:
// the scheduler leaves the record unmarked and tries again on the next tick.
type Notifier interface {
	Send(ctx context.Context, email, subject, body string) error
}

type kafkaNotifier struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaNotifier publishes reminders to the given topic; the mail relay
// consumes them downstream.
func NewKafkaNotifier(producer sarama.SyncProducer, topic string) Notifier {
	return &kafkaNotifier{
		producer: producer,
		topic:    topic,
	}
}

func (n *kafkaNotifier) Send(_ context.Context, email, subject, body string) error {
	data, err := json.Marshal(model.ReminderMsg{
		Email:   email,
		Subject: subject,
		Body:    body,
	})
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: n.topic,
		Key:   sarama.StringEncoder(email),
		Value: sarama.ByteEncoder(data),
	}
	_, _, err = n.producer.SendMessage(msg)
	return err
}
