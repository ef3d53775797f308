package host

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/mirror-speech/internal/model"
	"github.com/capitalize-ai/mirror-speech/internal/prompt"
	"github.com/capitalize-ai/mirror-speech/internal/timer"
	"github.com/capitalize-ai/mirror-speech/internal/turn"
	"github.com/capitalize-ai/mirror-speech/pkg/logger"
)

const waitFor = 2 * time.Second

type chanPublisher struct {
	events chan model.Event
	err    error
}

func newChanPublisher() *chanPublisher {
	return &chanPublisher{events: make(chan model.Event, 64)}
}

func (p *chanPublisher) Publish(ctx context.Context, ev model.Event) error {
	p.events <- ev
	return p.err
}

func (p *chanPublisher) next(t *testing.T, kind model.Kind) model.Event {
	t.Helper()
	select {
	case ev := <-p.events:
		require.Equal(t, kind, ev.Kind)
		return ev
	case <-time.After(waitFor):
		t.Fatalf("no %s published", kind)
		return model.Event{}
	}
}

type memorySink struct {
	mu      sync.Mutex
	records []*model.TurnRecord
}

func (s *memorySink) PublishRecord(ctx context.Context, rec *model.TurnRecord) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return uint64(len(s.records)), nil
}

func (s *memorySink) last(t *testing.T) *model.TurnRecord {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.records)
	return s.records[len(s.records)-1]
}

func newTestLoop(t *testing.T, cfg Config) (*Loop, *chanPublisher, *memorySink) {
	t.Helper()
	if cfg.Generator == nil {
		cfg.Generator = prompt.Static("Say something")
	}
	if cfg.TickInterval == 0 {
		cfg.TickInterval = time.Millisecond
	}
	pub := newChanPublisher()
	sink := &memorySink{}
	loop, err := NewLoop(cfg, pub, sink, logger.NewNop())
	require.NoError(t, err)
	return loop, pub, sink
}

func runLoop(ctx context.Context, loop *Loop, inbound <-chan model.Event) <-chan error {
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx, inbound) }()
	return done
}

func wait(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(waitFor):
		t.Fatal("loop did not finish")
		return nil
	}
}

func TestLoop_CompleteTurn(t *testing.T) {
	loop, pub, sink := newTestLoop(t, Config{SessionID: "s1", Metadata: map[string]any{"locale": "en"}})
	inbound := make(chan model.Event, 8)
	done := runLoop(context.Background(), loop, inbound)

	pub.next(t, model.KindListenAvailabilityProbe)
	pub.next(t, model.KindSayAvailabilityProbe)

	inbound <- model.NewAvailability(model.KindListenAvailability, true)
	inbound <- model.NewAvailability(model.KindSayAvailability, true)

	question := pub.next(t, model.KindPromptFragment)
	assert.Equal(t, "Say something", question.Fragment.Payload)
	assert.True(t, question.Fragment.Terminal)

	inbound <- model.NewAcknowledgment(question.Fragment.ID)
	inbound <- model.NewFragmentEvent(model.KindAnswerFragment, model.Fragment{ID: 40, Payload: "hello", Terminal: true})

	echo := pub.next(t, model.KindEchoFragment)
	assert.Equal(t, "hello", echo.Fragment.Payload)
	assert.NotEqual(t, question.Fragment.ID, echo.Fragment.ID)

	inbound <- model.NewAcknowledgment(echo.Fragment.ID)
	require.NoError(t, wait(t, done))

	st := loop.Status()
	assert.Equal(t, turn.StateClose, st.State)
	assert.True(t, st.Finished)
	assert.Equal(t, 1, st.Turns)
	assert.Empty(t, st.Failure)

	rec := sink.last(t)
	assert.Equal(t, model.OutcomeClosed, rec.Outcome)
	assert.Equal(t, "s1", rec.SessionID)
	assert.Equal(t, "Say something", rec.Prompt)
	assert.Equal(t, "hello", rec.Answer)
	assert.Equal(t, 1, rec.Turns)
	assert.Equal(t, "en", rec.Metadata["locale"])
	assert.NotEmpty(t, rec.ID)
}

func TestLoop_ServiceTimeout(t *testing.T) {
	clock := timer.NewFakeClock(time.Unix(1700000000, 0))
	loop, pub, sink := newTestLoop(t, Config{
		Clock:    clock,
		Timeouts: turn.Timeouts{ServiceCheck: time.Second},
	})
	inbound := make(chan model.Event, 8)
	done := runLoop(context.Background(), loop, inbound)

	pub.next(t, model.KindListenAvailabilityProbe)
	pub.next(t, model.KindSayAvailabilityProbe)
	inbound <- model.NewAvailability(model.KindSayAvailability, true)

	clock.Advance(2 * time.Second)
	err := wait(t, done)

	var failure *turn.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, turn.ReasonServiceTimeout, failure.Reason)

	rec := sink.last(t)
	assert.Equal(t, model.OutcomeFailed, rec.Outcome)
	assert.Equal(t, "service_timeout", rec.Reason)
	assert.Equal(t, "service_check", rec.State)
	assert.Equal(t, 2*time.Second, rec.Duration())

	st := loop.Status()
	assert.Equal(t, turn.StateFailed, st.State)
	assert.Contains(t, st.Failure, "listen")
}

func TestLoop_IgnoresOutboundKinds(t *testing.T) {
	loop, pub, _ := newTestLoop(t, Config{})
	inbound := make(chan model.Event, 8)
	ctx, cancel := context.WithCancel(context.Background())
	done := runLoop(ctx, loop, inbound)

	pub.next(t, model.KindListenAvailabilityProbe)
	pub.next(t, model.KindSayAvailabilityProbe)

	inbound <- model.NewFragmentEvent(model.KindPromptFragment, model.Fragment{ID: 1, Payload: "x", Terminal: true})
	inbound <- model.NewAvailability(model.KindListenAvailability, true)

	require.Eventually(t, func() bool {
		return loop.Status().State == turn.StateServiceCheck && len(inbound) == 0
	}, waitFor, time.Millisecond)

	cancel()
	assert.ErrorIs(t, wait(t, done), context.Canceled)
}

func TestLoop_PublishErrorsDoNotStopTheTurn(t *testing.T) {
	loop, pub, _ := newTestLoop(t, Config{})
	pub.err = errors.New("bus down")
	inbound := make(chan model.Event, 8)
	done := runLoop(context.Background(), loop, inbound)

	pub.next(t, model.KindListenAvailabilityProbe)
	pub.next(t, model.KindSayAvailabilityProbe)
	inbound <- model.NewAvailability(model.KindListenAvailability, false)

	var failure *turn.Failure
	require.ErrorAs(t, wait(t, done), &failure)
	assert.Equal(t, turn.ReasonServiceUnusable, failure.Reason)
}

func TestNewLoop(t *testing.T) {
	_, err := NewLoop(Config{Generator: prompt.Static("hi")}, nil, nil, nil)
	assert.Error(t, err)

	_, err = NewLoop(Config{}, newChanPublisher(), nil, nil)
	assert.Error(t, err)

	loop, err := NewLoop(Config{Generator: prompt.Static("hi")}, newChanPublisher(), nil, logger.NewNop())
	require.NoError(t, err)
	assert.NotEmpty(t, loop.SessionID())
	assert.Equal(t, turn.StateServiceCheck, loop.Status().State)
}

func TestOutbox(t *testing.T) {
	var o Outbox
	o.Emit(model.NewProbe(model.KindListenAvailabilityProbe))
	o.Emit(model.NewProbe(model.KindSayAvailabilityProbe))
	assert.Equal(t, 2, o.Len())

	events := o.Drain()
	require.Len(t, events, 2)
	assert.Equal(t, model.KindListenAvailabilityProbe, events[0].Kind)
	assert.Zero(t, o.Len())
	assert.Empty(t, o.Drain())
}
