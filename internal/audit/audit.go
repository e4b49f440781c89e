// Package audit emits security events to a pluggable sink. Emission is
// fire-and-forget: a failed or slow sink can never fail the operation that
// produced the event.
package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Event is one security event record.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	Action    string            `json:"action"`
	AccountID string            `json:"account_id,omitempty"`
	Resource  string            `json:"resource,omitempty"`
	ClientIP  string            `json:"client_ip,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Actions recorded by the credential subsystem.
const (
	ActionRegister            = "auth.register"
	ActionLogin               = "auth.login"
	ActionTokenIssued         = "auth.token_issued"
	ActionTokenRefreshed      = "auth.token_refreshed"
	ActionTokenReuseDetected  = "auth.token_reuse_detected"
	ActionLogout              = "auth.logout"
	ActionLogoutAll           = "auth.logout_all"
	ActionAccountLocked       = "auth.account_locked"
	ActionTwoFactorEnabled    = "auth.2fa_enabled"
	ActionTwoFactorDisabled   = "auth.2fa_disabled"
	ActionTwoFactorVerified   = "auth.2fa_verified"
	ActionTwoFactorFailed     = "auth.2fa_failed"
	ActionTwoFactorLocked     = "auth.2fa_locked"
	ActionBackupCodesReplaced = "auth.backup_codes_replaced"
)

// Sink receives emitted events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops every event.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{writer: w}
}

func (s *JSONWriterSink) Emit(_ context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}

// ChannelSink writes events into a buffered channel. Test helper and
// integration point for external consumers.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan Event, buffer)}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}
