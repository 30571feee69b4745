package remote

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
)

// Header names on every change message.
const (
	HeaderOperation = "x-operation"
	HeaderTable     = "x-table"
)

// Kafka appends every replayed operation to a change-log topic keyed by
// {table}:{id}, so one record always lands on one partition in order.
// Deletes are tombstones (nil value).
type Kafka struct {
	brokers []string
	w       *kafka.Writer
}

func NewKafka(brokers []string, topic string) (*Kafka, error) {
	if len(brokers) == 0 {
		return nil, errors.New("remote: no kafka brokers")
	}
	return &Kafka{
		brokers: brokers,
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			// Synchronous: the engine removes an entry only after the
			// broker acknowledged it.
			Async:        false,
			WriteTimeout: 5 * time.Second,
			MaxAttempts:  1,
		},
	}, nil
}

func message(op, table, id string, payload []byte) kafka.Message {
	return kafka.Message{
		Key:   []byte(Key(table, id)),
		Value: payload,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: HeaderOperation, Value: []byte(op)},
			{Key: HeaderTable, Value: []byte(table)},
		},
	}
}

func (k *Kafka) write(ctx context.Context, op, table, id string, payload []byte) error {
	if err := checkTable(table); err != nil {
		return err
	}
	return k.w.WriteMessages(ctx, message(op, table, id, payload))
}

func (k *Kafka) Insert(ctx context.Context, table, id string, payload []byte) error {
	return k.write(ctx, "insert", table, id, payload)
}

func (k *Kafka) Update(ctx context.Context, table, id string, payload []byte) error {
	return k.write(ctx, "update", table, id, payload)
}

func (k *Kafka) Delete(ctx context.Context, table, id string) error {
	return k.write(ctx, "delete", table, id, nil)
}

// Ping succeeds when any broker accepts a TCP connection.
func (k *Kafka) Ping(ctx context.Context) error {
	var err error
	for _, b := range k.brokers {
		var conn *kafka.Conn
		conn, err = kafka.DialContext(ctx, "tcp", b)
		if err == nil {
			return conn.Close()
		}
	}
	return err
}

func (k *Kafka) Close() error { return k.w.Close() }
