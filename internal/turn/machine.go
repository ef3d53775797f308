// Package turn drives one conversational turn: check that the speech
// services are ready, ask a question, listen for the answer, repeat it back
// and close.
//
// The Machine is fed by the host through HandleEvent and ticked through
// Update. Both are expected on one goroutine; the Machine holds no locks.
package turn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/mirror-speech/internal/availability"
	"github.com/capitalize-ai/mirror-speech/internal/chunk"
	"github.com/capitalize-ai/mirror-speech/internal/model"
	"github.com/capitalize-ai/mirror-speech/internal/timer"
	"github.com/capitalize-ai/mirror-speech/pkg/logger"
	"github.com/capitalize-ai/mirror-speech/pkg/metrics"
)

// DefaultMaxFragmentLen is the fragment bound of the speech services' string buffer.
const DefaultMaxFragmentLen = 1024

// Emitter receives the events a Machine sends to the speech services.
type Emitter interface {
	Emit(ev model.Event)
}

// Generator produces the question spoken at the start of a turn.
type Generator interface {
	Generate(ctx context.Context) (string, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context) (string, error)

// Generate calls f(ctx).
func (f GeneratorFunc) Generate(ctx context.Context) (string, error) {
	return f(ctx)
}

// Timeouts bound how long each state waits for the speech services.
type Timeouts struct {
	ServiceCheck time.Duration
	Ask          time.Duration
	Listen       time.Duration
	Repeat       time.Duration
}

// DefaultTimeouts returns the deadlines used when none are configured.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		ServiceCheck: 15 * time.Second,
		Ask:          30 * time.Second,
		Listen:       60 * time.Second,
		Repeat:       30 * time.Second,
	}
}

// Options configures a Machine.
type Options struct {
	// Endless loops back to listening after every echo instead of closing.
	Endless bool

	Timeouts       Timeouts
	MaxFragmentLen int

	Generator Generator
	Emitter   Emitter

	// Optional
	Clock        timer.Clock
	Logger       *logger.Logger
	OnTransition func(from, to State)
}

// Machine is the conversation state machine for one turn.
type Machine struct {
	endless      bool
	timeouts     Timeouts
	generator    Generator
	emitter      Emitter
	logger       *logger.Logger
	onTransition func(from, to State)

	state     State
	timer     *timer.Timer
	tracker   *availability.Tracker
	assembler *chunk.Assembler
	splitter  *chunk.Splitter

	lastID      model.MessageID
	outstanding model.MessageID

	// Id of the last answer consumed, so late copies are not echoed twice.
	consumed    model.MessageID
	hasConsumed bool

	prompt  string
	answer  string
	echoes  int
	failure *Failure
}

// New creates a Machine in the service check state.
func New(opts Options) (*Machine, error) {
	if opts.Generator == nil {
		return nil, errors.New("generator is required")
	}
	if opts.Emitter == nil {
		return nil, errors.New("emitter is required")
	}

	maxLen := opts.MaxFragmentLen
	if maxLen == 0 {
		maxLen = DefaultMaxFragmentLen
	}
	splitter, err := chunk.NewSplitter(maxLen)
	if err != nil {
		return nil, fmt.Errorf("invalid fragment length: %w", err)
	}

	timeouts := opts.Timeouts
	defaults := DefaultTimeouts()
	if timeouts.ServiceCheck <= 0 {
		timeouts.ServiceCheck = defaults.ServiceCheck
	}
	if timeouts.Ask <= 0 {
		timeouts.Ask = defaults.Ask
	}
	if timeouts.Listen <= 0 {
		timeouts.Listen = defaults.Listen
	}
	if timeouts.Repeat <= 0 {
		timeouts.Repeat = defaults.Repeat
	}

	return &Machine{
		endless:      opts.Endless,
		timeouts:     timeouts,
		generator:    opts.Generator,
		emitter:      opts.Emitter,
		logger:       logger.OrGlobal(opts.Logger).Named("turn"),
		onTransition: opts.OnTransition,
		state:        StateServiceCheck,
		timer:        timer.New(opts.Clock),
		tracker:      availability.NewTracker(),
		assembler:    chunk.NewAssembler(maxLen),
		splitter:     splitter,
	}, nil
}

// CanHandle reports whether the Machine consumes events of kind, in any state.
func (m *Machine) CanHandle(kind model.Kind) bool {
	switch kind {
	case model.KindListenAvailability,
		model.KindSayAvailability,
		model.KindAnswerFragment,
		model.KindOutputAcknowledged:
		return true
	default:
		return false
	}
}

// HandleEvent feeds one inbound event to the Machine. Events that do not fit
// the current state are ignored. Failures are surfaced by the next Update.
func (m *Machine) HandleEvent(ev model.Event) {
	if m.state.Terminal() {
		return
	}
	if err := ev.Validate(); err != nil {
		m.logger.Warn("dropping malformed event", zap.String("kind", string(ev.Kind)), zap.Error(err))
		return
	}

	switch ev.Kind {
	case model.KindListenAvailability:
		m.handleAvailability(availability.ServiceListen, ev.Usable)
	case model.KindSayAvailability:
		m.handleAvailability(availability.ServiceSay, ev.Usable)
	case model.KindAnswerFragment:
		m.handleAnswer(*ev.Fragment)
	case model.KindOutputAcknowledged:
		m.handleAcknowledgment(ev.ID)
	default:
		m.logger.Debug("ignoring event", zap.String("kind", string(ev.Kind)))
	}
}

// Update performs the work of the current state and reports whether the turn
// is finished. Once Done is returned, Err holds the failure, if any.
func (m *Machine) Update(ctx context.Context) Result {
	switch m.state {
	case StateServiceCheck:
		m.updateServiceCheck()
	case StateAskOutput:
		m.updateAskOutput(ctx)
	case StateRepeatOutput:
		m.updateRepeatOutput()
	case StateAskPerformed, StateListenInput, StateRepeatPerformed:
		if m.timer.Expired() {
			m.fail(ReasonStateTimeout, timeoutError(m.passiveTimeout(m.state)))
		}
	}

	if m.state.Terminal() {
		return Done
	}
	return InProgress
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Err returns the failure that ended the turn, or nil.
func (m *Machine) Err() error {
	if m.failure == nil {
		return nil
	}
	return m.failure
}

// Prompt returns the last question spoken.
func (m *Machine) Prompt() string {
	return m.prompt
}

// Answer returns the last complete answer heard.
func (m *Machine) Answer() string {
	return m.answer
}

// Echoes returns how many answers were repeated and acknowledged.
func (m *Machine) Echoes() int {
	return m.echoes
}

// Outstanding returns the id of the output awaiting acknowledgment, or
// NoMessageID.
func (m *Machine) Outstanding() model.MessageID {
	return m.outstanding
}

// Remaining returns the time left before the current state times out.
func (m *Machine) Remaining() time.Duration {
	return m.timer.Remaining()
}

// Endless reports whether the Machine loops instead of closing.
func (m *Machine) Endless() bool {
	return m.endless
}

func (m *Machine) updateServiceCheck() {
	switch {
	case !m.timer.Armed():
		m.emitter.Emit(model.NewProbe(model.KindListenAvailabilityProbe))
		m.emitter.Emit(model.NewProbe(model.KindSayAvailabilityProbe))
		m.timer.Arm(m.timeouts.ServiceCheck)
		m.logger.Debug("availability probes sent", zap.Duration("timeout", m.timeouts.ServiceCheck))
	case m.tracker.FullyUsable():
		m.setState(StateAskOutput)
	case m.timer.Expired():
		pending := m.tracker.Pending()
		m.fail(ReasonServiceTimeout, fmt.Errorf("%v not available: %w", pending, timeoutError(m.timeouts.ServiceCheck)))
	}
}

func (m *Machine) updateAskOutput(ctx context.Context) {
	genCtx, cancel := context.WithTimeout(ctx, m.timeouts.Ask)
	defer cancel()

	text, err := m.generator.Generate(genCtx)
	if err != nil {
		m.fail(ReasonGeneration, err)
		return
	}

	m.prompt = text
	m.send(model.KindPromptFragment, text)
	m.setState(StateAskPerformed)
}

func (m *Machine) updateRepeatOutput() {
	m.send(model.KindEchoFragment, m.answer)
	m.setState(StateRepeatPerformed)
}

func (m *Machine) handleAvailability(kind availability.ServiceKind, usable bool) {
	if m.state != StateServiceCheck {
		m.logger.Debug("ignoring availability outside service check",
			zap.Stringer("service", kind), zap.Stringer("state", m.state))
		return
	}

	if !usable {
		m.tracker.MarkUnusable(kind)
		m.fail(ReasonServiceUnusable, fmt.Errorf("%s service reported unusable", kind))
		return
	}

	m.tracker.MarkUsable(kind)
	if m.tracker.FullyUsable() {
		m.setState(StateAskOutput)
	}
}

func (m *Machine) handleAnswer(f model.Fragment) {
	if m.state != StateListenInput {
		m.logger.Debug("ignoring answer fragment outside listen input",
			zap.Stringer("id", f.ID), zap.Stringer("state", m.state))
		return
	}
	if m.hasConsumed && f.ID == m.consumed {
		m.logger.Debug("ignoring fragment of consumed answer", zap.Stringer("id", f.ID))
		metrics.RecordFragments(string(model.KindAnswerFragment), metrics.FragmentDropped, 1)
		return
	}

	if err := m.assembler.Add(f); err != nil {
		metrics.RecordFragments(string(model.KindAnswerFragment), metrics.FragmentDropped, 1)
		m.logger.Warn("dropping answer fragment", zap.Error(err))
		return
	}
	metrics.RecordFragments(string(model.KindAnswerFragment), metrics.FragmentAccepted, 1)

	if !m.assembler.Complete() {
		return
	}

	if missing := m.assembler.Missing(); len(missing) > 0 {
		m.logger.Warn("answer completed with missing parts",
			zap.Stringer("id", m.assembler.ID()), zap.Any("missing", missing))
	}
	m.answer = m.assembler.String()
	m.consumed = m.assembler.ID()
	m.hasConsumed = true
	m.logger.Info("answer received", zap.Stringer("id", m.assembler.ID()), zap.String("answer", m.answer))
	m.setState(StateRepeatOutput)
}

func (m *Machine) handleAcknowledgment(id model.MessageID) {
	if m.state != StateAskPerformed && m.state != StateRepeatPerformed {
		return
	}
	if id != m.outstanding {
		m.logger.Debug("ignoring stale acknowledgment",
			zap.Stringer("id", id), zap.Stringer("outstanding", m.outstanding))
		return
	}
	m.outstanding = model.NoMessageID

	if m.state == StateAskPerformed {
		m.setState(StateListenInput)
		return
	}

	m.echoes++
	metrics.EchoCyclesTotal.Inc()
	if m.endless {
		m.setState(StateListenInput)
	} else {
		m.setState(StateClose)
	}
}

// send splits text under a fresh id and emits every fragment as kind.
func (m *Machine) send(kind model.Kind, text string) {
	id := m.nextID()
	fragments := m.splitter.Split(id, text)
	for _, f := range fragments {
		m.emitter.Emit(model.NewFragmentEvent(kind, f))
	}
	m.outstanding = id
	metrics.RecordFragments(string(kind), metrics.FragmentSent, len(fragments))
	m.logger.Info("output sent",
		zap.String("kind", string(kind)),
		zap.Stringer("id", id),
		zap.Int("fragments", len(fragments)),
		zap.String("text", text),
	)
}

// nextID returns the next outbound id. Ids count up from 1 and skip
// NoMessageID on wrap, so the single outstanding id is never reused.
func (m *Machine) nextID() model.MessageID {
	m.lastID++
	if m.lastID == model.NoMessageID {
		m.lastID++
	}
	return m.lastID
}

// setState moves to s, resetting the deadline. Passive states arm their
// deadline on entry; the others arm it on their first Update.
func (m *Machine) setState(s State) {
	if s == m.state {
		return
	}
	from := m.state
	m.state = s

	m.timer.Reset()
	if s.passive() {
		m.timer.Arm(m.passiveTimeout(s))
	}
	if s == StateListenInput {
		m.assembler.Clear()
	}

	m.logger.Debug("state transition", zap.Stringer("from", from), zap.Stringer("to", s))
	if m.onTransition != nil {
		m.onTransition(from, s)
	}
}

func (m *Machine) fail(reason Reason, err error) {
	m.failure = &Failure{Reason: reason, State: m.state, Err: err}
	m.logger.Error("turn failed", zap.String("reason", string(reason)), zap.Stringer("state", m.state), zap.Error(err))
	m.setState(StateFailed)
}

func (m *Machine) passiveTimeout(s State) time.Duration {
	switch s {
	case StateAskPerformed:
		return m.timeouts.Ask
	case StateListenInput:
		return m.timeouts.Listen
	case StateRepeatPerformed:
		return m.timeouts.Repeat
	default:
		return 0
	}
}
