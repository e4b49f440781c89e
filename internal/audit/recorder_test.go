package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecorderDeliversAndDrains(t *testing.T) {
	var buf bytes.Buffer
	r := NewRecorder(Config{BufferSize: 16}, NewJSONWriterSink(&buf))

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		r.Record(ctx, Event{Action: ActionLogin, AccountID: "a1", Success: true})
	}
	r.Close()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 5)

	var event Event
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &event))
	require.Equal(t, ActionLogin, event.Action)
	require.Equal(t, "a1", event.AccountID)
	require.True(t, event.Success)
	require.False(t, event.Timestamp.IsZero())
}

func TestRecorderDropsWhenFull(t *testing.T) {
	blocked := make(chan struct{})
	release := make(chan struct{})
	sink := sinkFunc(func(context.Context, Event) {
		close(blocked)
		<-release
	})

	r := NewRecorder(Config{BufferSize: 1, DropIfFull: true}, sink)
	ctx := context.Background()

	// First event occupies the sink, second fills the buffer, the rest drop.
	r.Record(ctx, Event{Action: ActionLogin})
	<-blocked
	r.Record(ctx, Event{Action: ActionLogin})
	for i := 0; i < 10; i++ {
		r.Record(ctx, Event{Action: ActionLogin})
	}

	require.Positive(t, r.Dropped())
	close(release)
	r.Close()
}

func TestRecorderNilSafe(t *testing.T) {
	var r *Recorder
	r.Record(context.Background(), Event{Action: ActionLogin})
	r.Close()
	require.Zero(t, r.Dropped())
}

func TestChannelSink(t *testing.T) {
	sink := NewChannelSink(1)
	sink.Emit(context.Background(), Event{Action: ActionRegister})

	select {
	case event := <-sink.Events():
		require.Equal(t, ActionRegister, event.Action)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

type sinkFunc func(context.Context, Event)

func (f sinkFunc) Emit(ctx context.Context, event Event) { f(ctx, event) }
