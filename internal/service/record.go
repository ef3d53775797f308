// Package service provides the turn record business logic.
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/capitalize-ai/mirror-speech/internal/model"
	"github.com/capitalize-ai/mirror-speech/pkg/logger"
)

const (
	defaultRecordLimit = 50
	maxRecordLimit     = 100
)

// RecordStore persists turn records.
type RecordStore interface {
	PublishRecord(ctx context.Context, rec *model.TurnRecord) (uint64, error)
	Records(ctx context.Context, sessionID string, afterSequence uint64, limit int) ([]model.TurnRecord, uint64, bool, error)
}

// RecordService stores finished turns and pages through them.
type RecordService struct {
	store  RecordStore
	logger *logger.Logger
}

// NewRecordService creates a new record service.
func NewRecordService(store RecordStore, log *logger.Logger) *RecordService {
	return &RecordService{
		store:  store,
		logger: logger.OrGlobal(log).Named("records"),
	}
}

// PublishRecord stores rec and returns its stream sequence.
func (s *RecordService) PublishRecord(ctx context.Context, rec *model.TurnRecord) (uint64, error) {
	seq, err := s.store.PublishRecord(ctx, rec)
	if err != nil {
		return 0, fmt.Errorf("failed to store turn record: %w", err)
	}

	s.logger.Info("turn record stored",
		zap.String("record_id", rec.ID),
		zap.String("session_id", rec.SessionID),
		zap.String("outcome", string(rec.Outcome)),
		zap.Uint64("sequence", seq),
	)
	return seq, nil
}

// List returns a page of a session's records stored after afterSequence.
func (s *RecordService) List(ctx context.Context, sessionID string, afterSequence uint64, limit int) (*model.ListRecordsResponse, error) {
	if limit <= 0 {
		limit = defaultRecordLimit
	}
	if limit > maxRecordLimit {
		limit = maxRecordLimit
	}

	records, lastSeq, hasMore, err := s.store.Records(ctx, sessionID, afterSequence, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get records: %w", err)
	}
	if records == nil {
		records = []model.TurnRecord{}
	}
	if lastSeq == 0 {
		lastSeq = afterSequence
	}

	return &model.ListRecordsResponse{
		Records:      records,
		HasMore:      hasMore,
		LastSequence: lastSeq,
	}, nil
}
