package postback

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/rpattn/loadflow/internal/apperr"
	"github.com/rpattn/loadflow/internal/domain"
)

// KafkaOptions configures the kafka handler.
type KafkaOptions struct {
	Brokers      []string      `mapstructure:"brokers" validate:"required,min=1,dive,required"`
	Topic        string        `mapstructure:"topic" validate:"required"`
	KeyField     string        `mapstructure:"key_field"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"min=0"`
}

// MessageWriter is the subset of *kafka.Writer the handler uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaHandler publishes one JSON message per row, keyed by load number.
type KafkaHandler struct {
	opts   KafkaOptions
	writer MessageWriter
}

func decodeKafkaOptions(options map[string]any) (KafkaOptions, error) {
	opts := KafkaOptions{KeyField: domain.KeyLoadNumber, WriteTimeout: 10 * time.Second}
	err := decodeOptions(options, &opts)
	return opts, err
}

func NewKafkaHandler(options map[string]any) (Handler, error) {
	opts, err := decodeKafkaOptions(options)
	if err != nil {
		return nil, err
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(opts.Brokers...),
		Topic:        opts.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: opts.WriteTimeout,
	}
	return &KafkaHandler{opts: opts, writer: w}, nil
}

// NewKafkaHandlerWithWriter builds a handler around an existing writer.
func NewKafkaHandlerWithWriter(options map[string]any, w MessageWriter) (Handler, error) {
	opts, err := decodeKafkaOptions(options)
	if err != nil {
		return nil, err
	}
	return &KafkaHandler{opts: opts, writer: w}, nil
}

func (h *KafkaHandler) key(row *domain.Row) []byte {
	for _, field := range []string{h.opts.KeyField, "load.loadNumber"} {
		if v, ok := row.Get(field); ok && v != nil {
			if s := cellText(v); s != "" {
				return []byte(s)
			}
		}
	}
	return nil
}

func (h *KafkaHandler) Deliver(ctx context.Context, batch Batch) (string, error) {
	msgs := make([]kafka.Message, 0, len(batch.Rows))
	for _, row := range batch.Rows {
		value, err := json.Marshal(row)
		if err != nil {
			return "", fmt.Errorf("%w: encode row %d: %v", apperr.ErrPostback, row.Index, err)
		}
		msg := kafka.Message{Key: h.key(row), Value: value, Time: batch.Time}
		if batch.RunID != "" {
			msg.Headers = []kafka.Header{{Key: "run_id", Value: []byte(batch.RunID)}}
		}
		msgs = append(msgs, msg)
	}
	if err := h.writer.WriteMessages(ctx, msgs...); err != nil {
		return "", fmt.Errorf("%w: publish to %s: %v", apperr.ErrPostback, h.opts.Topic, err)
	}
	return fmt.Sprintf("%s (%d messages)", h.opts.Topic, len(msgs)), nil
}

func (h *KafkaHandler) Close() error {
	return h.writer.Close()
}
