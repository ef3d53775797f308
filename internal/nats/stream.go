package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/capitalize-ai/mirror-speech/internal/model"
)

const (
	// StreamName is the name of the turn record stream.
	StreamName = "TURNS"

	// RecordPrefix is the prefix for all turn record subjects.
	RecordPrefix = "turns"
)

// StreamManager handles JetStream stream operations.
type StreamManager struct {
	client *Client
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{client: client}
}

// EnsureStream ensures the turn record stream exists.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream: %w", err)
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", RecordPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      30 * 24 * time.Hour,
		MaxBytes:    1024 * 1024 * 1024,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Finished speech turns",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// RecordSubject returns the subject for a turn record.
func RecordSubject(sessionID string, outcome model.Outcome) string {
	return fmt.Sprintf("%s.%s.%s", RecordPrefix, sessionID, outcome)
}

// RecordFilter returns the filter subject for all records of a session.
func RecordFilter(sessionID string) string {
	return fmt.Sprintf("%s.%s.>", RecordPrefix, sessionID)
}

// PublishRecord publishes a turn record to JetStream.
func (m *StreamManager) PublishRecord(ctx context.Context, rec *model.TurnRecord) (uint64, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal record: %w", err)
	}

	ack, err := m.client.JetStream().Publish(ctx, RecordSubject(rec.SessionID, rec.Outcome), data)
	if err != nil {
		return 0, fmt.Errorf("failed to publish record: %w", err)
	}

	return ack.Sequence, nil
}

// Records retrieves up to limit turn records of a session stored after a
// sequence. It also reports the last sequence read and whether more may follow.
func (m *StreamManager) Records(ctx context.Context, sessionID string, afterSequence uint64, limit int) ([]model.TurnRecord, uint64, bool, error) {
	consumerConfig := jetstream.ConsumerConfig{
		FilterSubject: RecordFilter(sessionID),
		AckPolicy:     jetstream.AckNonePolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	}
	if afterSequence > 0 {
		consumerConfig.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		consumerConfig.OptStartSeq = afterSequence + 1
	}

	consumer, err := m.client.JetStream().CreateConsumer(ctx, StreamName, consumerConfig)
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to create consumer: %w", err)
	}

	batch, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to fetch records: %w", err)
	}

	var records []model.TurnRecord
	var lastSequence uint64
	for msg := range batch.Messages() {
		var rec model.TurnRecord
		if err := json.Unmarshal(msg.Data(), &rec); err != nil {
			continue
		}
		if meta, err := msg.Metadata(); err == nil {
			rec.Sequence = meta.Sequence.Stream
			lastSequence = meta.Sequence.Stream
		}
		records = append(records, rec)
	}

	if err := batch.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, jetstream.ErrNoMessages) {
		return nil, 0, false, fmt.Errorf("batch error: %w", err)
	}

	return records, lastSequence, len(records) == limit, nil
}
