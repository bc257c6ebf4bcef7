// Package ingest is the single entry point for webhook deliveries: it decodes
// the body, dispatches the event and records the outcome.
package ingest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lgulliver/revvault/internal/events"
	"github.com/lgulliver/revvault/internal/metrics"
	"github.com/lgulliver/revvault/pkg/types"
	"github.com/rs/zerolog/log"
)

// Recorder persists delivery records
type Recorder interface {
	Record(ctx context.Context, record *types.DeliveryRecord) error
}

// Handler processes a decoded envelope
type Handler interface {
	Handle(ctx context.Context, env *events.Envelope) (events.Result, error)
}

// Service processes deliveries one at a time per call. It holds no state
// between calls.
type Service struct {
	handler  Handler
	recorder Recorder
}

// NewService creates a service; recorder may be nil
func NewService(handler Handler, recorder Recorder) *Service {
	return &Service{handler: handler, recorder: recorder}
}

// Process handles one delivery body. The returned error is the handling
// error; ledger failures are only logged.
func (s *Service) Process(ctx context.Context, deliveryID string, body []byte) (events.Result, error) {
	startTime := time.Now()

	var (
		res events.Result
		err error
	)
	env, err := events.DecodeEnvelope(body)
	if err != nil {
		res = events.Result{Outcome: types.OutcomeFailed}
	} else {
		res, err = s.handler.Handle(ctx, env)
	}
	elapsed := time.Since(startTime)

	transition := string(res.Transition)
	if transition == "" {
		transition = "none"
	}
	metrics.ObserveEvent(transition, res.Outcome, elapsed)

	logger := log.With().
		Str("delivery_id", deliveryID).
		Str("method", res.Method).
		Str("transition", transition).
		Str("outcome", res.Outcome).
		Dur("duration", elapsed).
		Logger()
	if err != nil {
		logger.Error().Err(err).Msg("delivery failed")
	} else {
		logger.Info().Msg("delivery processed")
	}

	s.record(ctx, deliveryID, env, res, err, elapsed)
	return res, err
}

func (s *Service) record(ctx context.Context, deliveryID string, env *events.Envelope, res events.Result, handleErr error, elapsed time.Duration) {
	if s.recorder == nil {
		return
	}

	record := &types.DeliveryRecord{
		Method:     res.Method,
		Resource:   res.Resource,
		Transition: string(res.Transition),
		Kind:       res.Ref.Kind.String(),
		Name:       res.Ref.Name,
		Revision:   res.Ref.Revision,
		Actor:      res.Actor,
		Outcome:    res.Outcome,
		DurationMs: elapsed.Milliseconds(),
	}
	if id, err := uuid.Parse(deliveryID); err == nil {
		record.ID = id
	}
	if env != nil {
		record.ReceivedAt = env.ReceiveTimestamp
	}
	if handleErr != nil {
		record.Error = handleErr.Error()
	}

	if err := s.recorder.Record(context.WithoutCancel(ctx), record); err != nil {
		log.Warn().Err(err).Str("delivery_id", deliveryID).Msg("failed to record delivery")
	}
}
