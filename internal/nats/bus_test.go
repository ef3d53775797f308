package nats

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/mirror-speech/internal/model"
	"github.com/capitalize-ai/mirror-speech/pkg/logger"
)

func TestSubjects(t *testing.T) {
	assert.Equal(t, "speech.s1.answer_fragment", EventSubject("s1", model.KindAnswerFragment))
	assert.Equal(t, "speech.s1.>", SessionFilter("s1"))
	assert.Equal(t, "turns.s1.closed", RecordSubject("s1", model.OutcomeClosed))
	assert.Equal(t, "turns.s1.>", RecordFilter("s1"))
}

func TestDecodeEvent(t *testing.T) {
	subject := EventSubject("s1", model.KindAnswerFragment)

	ev, err := DecodeEvent(subject, []byte(`{"fragment":{"id":7,"part":0,"payload":"hi","terminal":true}}`))
	require.NoError(t, err)
	assert.Equal(t, model.KindAnswerFragment, ev.Kind)
	require.NotNil(t, ev.Fragment)
	assert.Equal(t, model.MessageID(7), ev.Fragment.ID)
	assert.True(t, ev.Fragment.Terminal)

	ev, err = DecodeEvent(EventSubject("s1", model.KindOutputAcknowledged), []byte(`{"kind":"output_acknowledged","id":3}`))
	require.NoError(t, err)
	assert.Equal(t, model.MessageID(3), ev.ID)
}

func TestDecodeEvent_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		data    string
	}{
		{"not json", EventSubject("s1", model.KindSayAvailability), `{`},
		{"kind mismatch", EventSubject("s1", model.KindSayAvailability), `{"kind":"listen_availability","usable":true}`},
		{"outbound kind", EventSubject("s1", model.KindPromptFragment), `{"fragment":{"id":1,"payload":"x","terminal":true}}`},
		{"fragment missing", EventSubject("s1", model.KindAnswerFragment), `{}`},
		{"ack without id", EventSubject("s1", model.KindOutputAcknowledged), `{}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeEvent(tc.subject, []byte(tc.data))
			assert.ErrorIs(t, err, model.ErrInvalidEvent)
		})
	}
}

func TestEncodeEvent(t *testing.T) {
	data, err := EncodeEvent(model.NewFragmentEvent(model.KindEchoFragment, model.Fragment{ID: 2, Payload: "hi", Terminal: true}))
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "echo_fragment", got["kind"])

	_, err = EncodeEvent(model.NewAvailability(model.KindSayAvailability, true))
	assert.ErrorIs(t, err, model.ErrInvalidEvent)
}

func TestBusDeliver(t *testing.T) {
	b := &Bus{sessionID: "s1", logger: logger.NewNop()}
	out := make(chan model.Event, 1)
	handle := b.deliver(context.Background(), out)

	handle(&nats.Msg{Subject: EventSubject("s1", model.KindSayAvailability), Data: []byte(`{"usable":true}`)})
	require.Len(t, out, 1)
	ev := <-out
	assert.Equal(t, model.KindSayAvailability, ev.Kind)
	assert.True(t, ev.Usable)

	handle(&nats.Msg{Subject: EventSubject("s1", model.KindAnswerFragment), Data: []byte(`{}`)})
	assert.Empty(t, out)
}

func TestBusDeliver_DropsAfterTurnEnds(t *testing.T) {
	b := &Bus{sessionID: "s1", logger: logger.NewNop()}
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan model.Event)
	handle := b.deliver(ctx, out)
	cancel()

	done := make(chan struct{})
	go func() {
		handle(&nats.Msg{Subject: EventSubject("s1", model.KindOutputAcknowledged), Data: []byte(`{"id":4}`)})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callback blocked after the turn ended")
	}
}
