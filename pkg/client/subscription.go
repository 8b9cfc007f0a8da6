package client

import "liveboard/pkg/types"

// Subscription is a scoped view over one event kind. Handlers run on
// the manager's read goroutine; keep them short or hand off.
type Subscription struct {
	m       *Manager
	id      int
	kind    types.EventKind
	scopeID string
	handler func(payload any)
}

// Subscribe registers a handler for envelopes of the given kind. A
// non-empty scopeID further narrows delivery to payloads whose
// challengeId (or, failing that, id) field matches. Empty payloads and
// teardown markers never reach the handler.
func (m *Manager) Subscribe(kind types.EventKind, scopeID string, handler func(payload any)) *Subscription {
	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()

	m.nextSubID++
	sub := &Subscription{
		m:       m,
		id:      m.nextSubID,
		kind:    kind,
		scopeID: scopeID,
		handler: handler,
	}
	m.subs[sub.id] = sub
	return sub
}

// Cancel removes the subscription. Idempotent, and safe to call after
// the manager is closed.
func (s *Subscription) Cancel() {
	s.m.handlersMu.Lock()
	defer s.m.handlersMu.Unlock()
	delete(s.m.subs, s.id)
}

func (s *Subscription) deliver(env types.Envelope) {
	if env.Type != s.kind {
		return
	}
	if env.EmptyPayload() {
		return
	}
	// A payload carrying type "close" is a teardown marker, not data.
	if v, ok := env.PayloadField("type"); ok && types.FieldString(v) == "close" {
		return
	}
	if s.scopeID != "" && !s.matchesScope(env) {
		return
	}
	s.handler(env.Payload)
}

// matchesScope checks the payload against the subscription scope. The
// challenge link wins when present; standalone challenge records match
// on their own id.
func (s *Subscription) matchesScope(env types.Envelope) bool {
	if v, ok := env.PayloadField("challengeId"); ok {
		return types.FieldString(v) == s.scopeID
	}
	if v, ok := env.PayloadField("id"); ok {
		return types.FieldString(v) == s.scopeID
	}
	return false
}
