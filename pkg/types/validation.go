package types

import (
	"encoding/json"
	"strconv"
)

// Valid reports whether k belongs to the closed kind set. The switch is
// exhaustive on purpose: adding a kind without updating it is a
// compile-reviewable change, not a silent pass-through.
func (k EventKind) Valid() bool {
	switch k {
	case KindUser, KindProcess, KindTribe, KindChallenge,
		KindActualState, KindTargetState, KindMentalContrast,
		KindObstacle, KindHypothesis, KindExperiment,
		KindTask, KindResult, KindLearning,
		KindHeartbeat, KindForceLogout, KindError:
		return true
	default:
		return false
	}
}

// Control reports whether k is a protocol-internal kind rather than an
// entity event.
func (k EventKind) Control() bool {
	switch k {
	case KindHeartbeat, KindForceLogout, KindError:
		return true
	default:
		return false
	}
}

// PayloadField extracts a named field from an object payload. Returns
// false for non-object payloads.
func (e Envelope) PayloadField(name string) (any, bool) {
	obj, ok := e.Payload.(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := obj[name]
	return v, ok
}

// PayloadID returns the payload's id field normalized to a string, so
// numeric and string keys compare uniformly.
func (e Envelope) PayloadID() (string, bool) {
	v, ok := e.PayloadField("id")
	if !ok {
		return "", false
	}
	return FieldString(v), true
}

// PayloadDeleted reports whether the payload marks a removal. The CRUD
// contract represents deletions as deleted == true plus identifying
// keys; consumers must treat those as removals, never upserts.
func (e Envelope) PayloadDeleted() bool {
	v, ok := e.PayloadField("deleted")
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// EmptyPayload reports whether the payload carries nothing worth
// delivering: absent entirely, or an empty collection echoed back by a
// handshake.
func (e Envelope) EmptyPayload() bool {
	switch p := e.Payload.(type) {
	case nil:
		return true
	case []any:
		return len(p) == 0
	case map[string]any:
		return len(p) == 0
	default:
		return false
	}
}

// FieldString normalizes a decoded JSON scalar for comparison. JSON
// numbers arrive as float64; ids must compare equal whether the
// producer sent 7 or "7".
func FieldString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case json.Number:
		return s.String()
	case bool:
		return strconv.FormatBool(s)
	default:
		return ""
	}
}
