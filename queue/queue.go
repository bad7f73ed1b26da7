// Package queue is a thin wrapper around the NATS message bus that
// exposes subjects as byte channels.
package queue

import (
	nats "github.com/nats-io/go-nats"
	"github.com/sirupsen/logrus"
)

var logger *logrus.Entry

func init() {
	logger = logrus.WithField("package", "queue")
}

// NATS is a connection to a NATS server.
type NATS struct {
	conn *nats.Conn
}

// NewNATS connects to the NATS server at url.
func NewNATS(url string) (*NATS, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}

	return &NATS{conn: conn}, nil
}

// SenderOn returns a channel that publishes everything sent into it on
// the given subject. Closing the channel stops the pump.
func (q *NATS) SenderOn(subject string) chan<- []byte {
	logger := logger.WithField("subject", subject)

	ch := make(chan []byte)
	go func() {
		for msg := range ch {
			if err := q.conn.Publish(subject, msg); err != nil {
				logger.WithError(err).Error("unable to publish message")
			}
		}
	}()

	return ch
}

// ReceiverOn returns a channel fed by a subscription on the given
// subject. Subscribers in the same queue group split the work.
func (q *NATS) ReceiverOn(subject, group string) (<-chan []byte, error) {
	logger := logger.WithField("subject", subject)

	msgs := make(chan *nats.Msg, 64)
	_, err := q.conn.ChanQueueSubscribe(subject, group, msgs)
	if err != nil {
		return nil, err
	}

	ch := make(chan []byte)
	go func() {
		for msg := range msgs {
			logger.Debug("received message")
			ch <- msg.Data
		}
	}()

	return ch, nil
}

// Close drains the connection.
func (q *NATS) Close() {
	q.conn.Close()
}
