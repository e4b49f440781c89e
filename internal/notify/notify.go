// Package notify is the outbound notification sink. Delivery is
// asynchronous and best-effort; the credential flows never wait on it and
// never observe its failures.
package notify

import (
	"context"
	"log/slog"
	"sync"
)

// Notifier is what the credential flows depend on. Implementations must
// return quickly; real delivery happens elsewhere.
type Notifier interface {
	Welcome(ctx context.Context, email, displayName string)
	TwoFactorEnabled(ctx context.Context, email string)
	SuspiciousLogin(ctx context.Context, email, reason string)
}

// NoOp discards all notifications.
type NoOp struct{}

func (NoOp) Welcome(context.Context, string, string)         {}
func (NoOp) TwoFactorEnabled(context.Context, string)        {}
func (NoOp) SuspiciousLogin(context.Context, string, string) {}

type message struct {
	kind   string
	email  string
	detail string
}

// Async hands messages to a delivery goroutine through a buffered channel,
// dropping on overflow. The default implementation logs the intent; a real
// mailer slots in behind the same channel.
type Async struct {
	log       *slog.Logger
	ch        chan message
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewAsync(log *slog.Logger, buffer int) *Async {
	if buffer <= 0 {
		buffer = 64
	}
	a := &Async{
		log:  log,
		ch:   make(chan message, buffer),
		done: make(chan struct{}),
	}
	a.wg.Add(1)
	go a.run()
	return a
}

func (a *Async) run() {
	defer a.wg.Done()
	for {
		select {
		case m := <-a.ch:
			a.deliver(m)
		case <-a.done:
			for {
				select {
				case m := <-a.ch:
					a.deliver(m)
				default:
					return
				}
			}
		}
	}
}

func (a *Async) deliver(m message) {
	a.log.Info("notification dispatched",
		"kind", m.kind,
		"email", m.email,
		"detail", m.detail,
	)
}

func (a *Async) send(m message) {
	select {
	case a.ch <- m:
	case <-a.done:
	default:
		// Best-effort: overflow is dropped, never queued against the caller.
	}
}

func (a *Async) Welcome(_ context.Context, email, displayName string) {
	a.send(message{kind: "welcome", email: email, detail: displayName})
}

func (a *Async) TwoFactorEnabled(_ context.Context, email string) {
	a.send(message{kind: "2fa_enabled", email: email})
}

func (a *Async) SuspiciousLogin(_ context.Context, email, reason string) {
	a.send(message{kind: "suspicious_login", email: email, detail: reason})
}

// Close drains pending messages and stops the delivery goroutine.
func (a *Async) Close() {
	a.closeOnce.Do(func() {
		close(a.done)
		a.wg.Wait()
	})
}
