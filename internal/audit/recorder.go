package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Config controls recorder buffering.
type Config struct {
	BufferSize int
	DropIfFull bool
}

// Recorder forwards events to a sink on a dedicated goroutine. Record never
// blocks the caller when DropIfFull is set; with an unset flag it waits only
// as long as the caller's context allows. A nil *Recorder is a valid no-op,
// so components take it unconditionally.
type Recorder struct {
	cfg       Config
	sink      Sink
	ch        chan Event
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func NewRecorder(cfg Config, sink Sink) *Recorder {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	r := &Recorder{
		cfg:  cfg,
		sink: sink,
		ch:   make(chan Event, cfg.BufferSize),
		done: make(chan struct{}),
	}

	r.wg.Add(1)
	go r.run()

	return r
}

func (r *Recorder) run() {
	defer r.wg.Done()

	for {
		select {
		case event := <-r.ch:
			r.sink.Emit(context.Background(), event)
		case <-r.done:
			// Drain whatever is already buffered, then stop.
			for {
				select {
				case event := <-r.ch:
					r.sink.Emit(context.Background(), event)
				default:
					return
				}
			}
		}
	}
}

// Record enqueues the event, stamping the time if unset.
func (r *Recorder) Record(ctx context.Context, event Event) {
	if r == nil || r.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if r.cfg.DropIfFull {
		select {
		case r.ch <- event:
		case <-r.done:
		default:
			r.dropped.Add(1)
		}
		return
	}

	select {
	case r.ch <- event:
	case <-ctx.Done():
	case <-r.done:
	}
}

// Close drains buffered events and stops the recorder goroutine.
func (r *Recorder) Close() {
	if r == nil {
		return
	}
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		close(r.done)
		r.wg.Wait()
	})
}

// Dropped reports how many events were discarded under backpressure.
func (r *Recorder) Dropped() uint64 {
	if r == nil {
		return 0
	}
	return r.dropped.Load()
}
