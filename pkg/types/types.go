package types

import (
	"encoding/json"
	"time"
)

// EventKind identifies the entity or control message carried by an
// envelope. The set is closed: every consumer switches exhaustively and
// Valid rejects anything outside it.
type EventKind string

// Entity kinds, one per record type the tracking tool synchronizes.
const (
	KindUser           EventKind = "USER_EVENT"
	KindProcess        EventKind = "PROCESS_EVENT"
	KindTribe          EventKind = "TRIBE_EVENT"
	KindChallenge      EventKind = "CHALLENGE_EVENT"
	KindActualState    EventKind = "ACTUAL_STATE_EVENT"
	KindTargetState    EventKind = "TARGET_STATE_EVENT"
	KindMentalContrast EventKind = "MENTAL_CONTRAST_EVENT"
	KindObstacle       EventKind = "OBSTACLE_EVENT"
	KindHypothesis     EventKind = "HYPOTHESIS_EVENT"
	KindExperiment     EventKind = "EXPERIMENT_EVENT"
	KindTask           EventKind = "TASK_EVENT"
	KindResult         EventKind = "RESULT_EVENT"
	KindLearning       EventKind = "LEARNING_EVENT"
)

// Control kinds. These never originate from entity writes and are never
// throttled by the broadcast scheduler.
const (
	KindHeartbeat   EventKind = "HEARTBEAT_EVENT"
	KindForceLogout EventKind = "SESSION_FORCE_LOGOUT"
	KindError       EventKind = "ERROR_EVENT"
)

// Envelope is the unit exchanged over the wire in both directions.
// Payload stays opaque to the core: entity shapes belong to the CRUD
// layer, the core only looks at id, deleted and foreign-key fields.
type Envelope struct {
	Type      EventKind `json:"type"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp int64     `json:"timestamp,omitempty"`
}

// ForceLogoutPayload is the control payload sent to sessions being
// terminated by a newer login.
type ForceLogoutPayload struct {
	UserID    string `json:"userId"`
	Email     string `json:"email,omitempty"`
	Timestamp int64  `json:"timestamp"`
	Reason    string `json:"reason"`
	Countdown int    `json:"countdown"`
}

// NowMillis returns the current time in the wire's millisecond unit.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// NewEnvelope builds a timestamped envelope.
func NewEnvelope(kind EventKind, payload any) Envelope {
	return Envelope{Type: kind, Payload: payload, Timestamp: NowMillis()}
}

// ParseEnvelope decodes a wire frame. A frame that is not JSON, carries
// no type, or carries a type outside the closed set is rejected; the
// caller discards it without touching the connection.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, ErrMalformedEnvelope
	}
	if env.Type == "" {
		return Envelope{}, ErrMissingEventType
	}
	if !env.Type.Valid() {
		return Envelope{}, ErrUnknownEventKind
	}
	return env, nil
}

// Encode renders the envelope for the wire, stamping the timestamp if
// the producer left it unset.
func (e Envelope) Encode() ([]byte, error) {
	if e.Timestamp == 0 {
		e.Timestamp = NowMillis()
	}
	return json.Marshal(e)
}
