package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/quizsync/engine/internal/ratebreaker"
)

// KafkaAuditLog publishes audit events to a Kafka topic via
// github.com/segmentio/kafka-go, generalizing
// services/ledger/internal/public/publisher.go's asynchronous-publish
// shape (a keyed writer wrapped by a circuit breaker) from epoch payloads
// to audit events. This is the production AuditLog backend.
type KafkaAuditLog struct {
	writer  *kafka.Writer
	breaker *ratebreaker.Breaker
	log     *slog.Logger
}

// NewKafkaAuditLog constructs a writer for topic across brokers.
func NewKafkaAuditLog(brokers []string, topic string, log *slog.Logger) *KafkaAuditLog {
	if log == nil {
		log = slog.Default()
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaAuditLog{
		writer:  writer,
		breaker: ratebreaker.New("audit-kafka-writer", ratebreaker.Config{}, log),
		log:     log,
	}
}

// Append publishes ev, keyed by SessionID so all events for one session
// land on the same partition and preserve the ordering §5 requires.
// Append does not retry: a failed write is logged and returned, and the
// session actor logs it and carries on without re-sending the event.
func (k *KafkaAuditLog) Append(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	msg := kafka.Message{Key: []byte(ev.SessionID), Value: payload}

	err = k.breaker.Execute(ctx, func(opCtx context.Context) error {
		return k.writer.WriteMessages(opCtx, msg)
	})
	if err != nil {
		k.log.Error("audit_append_failed", slog.String("sessionId", ev.SessionID), slog.String("type", ev.Type), slog.Any("err", err))
		return err
	}
	return nil
}

func (k *KafkaAuditLog) Close() error {
	return k.writer.Close()
}
