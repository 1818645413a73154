// Package envelope implements the wire codec for the actormesh protocol:
// a single tagged-union message type, JSON-encoded, carried identically
// over framed TCP, websocket, HTTP request/response, and API-gateway
// websocket events.
package envelope

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type discriminates the envelope union on the wire.
type Type string

const (
	TypeInvocation   Type = "invocation"
	TypeResponse     Type = "response"
	TypeStreamStart  Type = "streamStart"
	TypeStreamData   Type = "streamData"
	TypeStreamEnd    Type = "streamEnd"
	TypeStreamError  Type = "streamError"
	TypeStreamResume Type = "streamResume"
)

// EndReason tags why a StreamEnd envelope was emitted.
type EndReason string

const (
	EndReasonCompleted EndReason = "completed"
	EndReasonError      EndReason = "error"
	EndReasonCancelled  EndReason = "cancelled"
)

// ActorID is the stable identity of an actor, optionally carrying a
// transport hint (host/port) used for direct dialing. Equality and
// hashing span all three fields; id must be non-empty UTF-8, <= 256 bytes.
type ActorID struct {
	ID   string  `json:"id"`
	Host *string `json:"host,omitempty"`
	Port *uint16 `json:"port,omitempty"`
}

// Key returns a value usable as a map key; two ActorIDs with the same
// Key are considered equal for registry and broker purposes.
func (a ActorID) Key() string {
	host, port := "", uint16(0)
	if a.Host != nil {
		host = *a.Host
	}
	if a.Port != nil {
		port = *a.Port
	}
	return fmt.Sprintf("%s|%s|%d", a.ID, host, port)
}

func (a ActorID) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("envelope: actorID.id must not be empty")
	}
	if len(a.ID) > 256 {
		return fmt.Errorf("envelope: actorID.id exceeds 256 bytes")
	}
	return nil
}

func (a ActorID) String() string {
	if a.Host != nil && a.Port != nil {
		return fmt.Sprintf("%s@%s:%d", a.ID, *a.Host, *a.Port)
	}
	return a.ID
}

// TraceContext is created at the edge and propagated inside every
// envelope belonging to the same logical call or stream.
type TraceContext struct {
	TraceID      string  `json:"traceId"`
	SpanID       string  `json:"spanId"`
	ParentSpanID *string `json:"parentSpanId,omitempty"`
}

// Filter is a tagged union describing server-side stream filtering.
// Exactly one of Predefined/Custom is meaningful, selected by Kind.
type Filter struct {
	Kind       FilterKind        `json:"kind"`
	Name       string            `json:"name,omitempty"`   // for Kind == FilterPredefined
	Params     map[string]string `json:"params,omitempty"` // for Kind == FilterPredefined
	CustomData []byte            `json:"customData,omitempty"`
}

type FilterKind string

const (
	FilterAll        FilterKind = "all"
	FilterPredefined FilterKind = "predefined"
	FilterCustom     FilterKind = "custom"
)

// Envelope is the decoded form of any wire message. Only the fields
// relevant to Type are populated; JSON (de)serialization is handled by
// Encode/Decode below rather than struct tags alone, so that
// unknown-discriminator and missing-field rules in §4.A can be enforced
// explicitly instead of left to encoding/json zero values.
type Envelope struct {
	Type Type `json:"type"`

	// invocation
	CallID               uuid.UUID     `json:"callId,omitempty"`
	ActorID              ActorID       `json:"actorId,omitempty"`
	TargetIdentifier     string        `json:"targetIdentifier,omitempty"`
	ProtocolVersion      uint32        `json:"protocolVersion,omitempty"`
	GenericSubstitutions []string      `json:"genericSubstitutions,omitempty"`
	Arguments            [][]byte      `json:"arguments,omitempty"`
	StreamFilter         *Filter       `json:"streamFilter,omitempty"`
	TraceContext         *TraceContext `json:"traceContext,omitempty"`

	// response
	Result       []byte  `json:"result,omitempty"`
	ErrorMessage *string `json:"errorMessage,omitempty"`

	// stream start/data/end/error/resume
	StreamID       uuid.UUID `json:"streamId,omitempty"`
	SequenceNumber uint64    `json:"sequenceNumber,omitempty"`
	Data           []byte    `json:"data,omitempty"`
	Timestamp      time.Time `json:"timestamp,omitempty"`
	Reason         EndReason `json:"reason,omitempty"`
	LastSequence   uint64    `json:"lastSequence,omitempty"`
}

// ErrProtocol is returned for malformed envelopes: unknown discriminator
// or a required field missing for the envelope's type.
type ErrProtocol struct {
	Reason string
}

func (e *ErrProtocol) Error() string { return "envelope: protocol error: " + e.Reason }

// wireEnvelope mirrors Envelope for JSON transport, using RFC3339 (with
// "Z" for UTC) timestamps and canonical 8-4-4-4-12 UUID strings, per §4.A
// and §6: callID/streamID/sequenceNumber are never elided even when zero.
type wireEnvelope struct {
	Type                 Type              `json:"type"`
	CallID               *string           `json:"callId,omitempty"`
	ActorID              *ActorID          `json:"actorId,omitempty"`
	TargetIdentifier     string            `json:"targetIdentifier,omitempty"`
	ProtocolVersion      *uint32           `json:"protocolVersion,omitempty"`
	GenericSubstitutions []string          `json:"genericSubstitutions,omitempty"`
	Arguments            []string          `json:"arguments,omitempty"` // base64
	StreamFilter         *Filter           `json:"streamFilter,omitempty"`
	TraceContext         *TraceContext     `json:"traceContext,omitempty"`
	Result               *string           `json:"result,omitempty"` // base64
	ErrorMessage         *string           `json:"errorMessage,omitempty"`
	StreamID             *string           `json:"streamId,omitempty"`
	SequenceNumber       *uint64           `json:"sequenceNumber,omitempty"`
	Data                 *string           `json:"data,omitempty"` // base64
	Timestamp            *string           `json:"timestamp,omitempty"`
	Reason               EndReason         `json:"reason,omitempty"`
	LastSequence         *uint64           `json:"lastSequence,omitempty"`
}

// Encode serializes an Envelope to its wire JSON form.
func Encode(e *Envelope) ([]byte, error) {
	w := wireEnvelope{
		Type:                 e.Type,
		TargetIdentifier:     e.TargetIdentifier,
		GenericSubstitutions: e.GenericSubstitutions,
		StreamFilter:         e.StreamFilter,
		TraceContext:         e.TraceContext,
		ErrorMessage:         e.ErrorMessage,
		Reason:               e.Reason,
	}

	// callID/streamID/sequenceNumber must never be elided: always emit
	// the field, even for the zero UUID/zero sequence.
	callID := e.CallID.String()
	w.CallID = &callID
	streamID := e.StreamID.String()
	w.StreamID = &streamID
	seq := e.SequenceNumber
	w.SequenceNumber = &seq
	lastSeq := e.LastSequence
	w.LastSequence = &lastSeq

	if e.ActorID.ID != "" || e.ActorID.Host != nil {
		a := e.ActorID
		w.ActorID = &a
	}
	if e.ProtocolVersion != 0 {
		pv := e.ProtocolVersion
		w.ProtocolVersion = &pv
	}
	if e.Arguments != nil {
		w.Arguments = make([]string, len(e.Arguments))
		for i, a := range e.Arguments {
			w.Arguments[i] = b64Encode(a)
		}
	}
	if e.Result != nil {
		r := b64Encode(e.Result)
		w.Result = &r
	}
	if e.Data != nil {
		d := b64Encode(e.Data)
		w.Data = &d
	}
	if !e.Timestamp.IsZero() {
		ts := e.Timestamp.UTC().Format(time.RFC3339Nano)
		w.Timestamp = &ts
	}

	return json.Marshal(w)
}

// Decode parses the wire JSON form into an Envelope. An unrecognized
// Type yields *ErrProtocol; a missing protocolVersion defaults to 1.
func Decode(raw []byte) (*Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, &ErrProtocol{Reason: "malformed JSON: " + err.Error()}
	}

	switch w.Type {
	case TypeInvocation, TypeResponse, TypeStreamStart, TypeStreamData,
		TypeStreamEnd, TypeStreamError, TypeStreamResume:
	default:
		return nil, &ErrProtocol{Reason: fmt.Sprintf("unknown discriminator %q", w.Type)}
	}

	e := &Envelope{
		Type:                 w.Type,
		TargetIdentifier:     w.TargetIdentifier,
		GenericSubstitutions: w.GenericSubstitutions,
		StreamFilter:         w.StreamFilter,
		TraceContext:         w.TraceContext,
		ErrorMessage:         w.ErrorMessage,
		Reason:               w.Reason,
		ProtocolVersion:      1,
	}

	if w.CallID != nil && *w.CallID != "" {
		id, err := uuid.Parse(*w.CallID)
		if err != nil {
			return nil, &ErrProtocol{Reason: "invalid callId: " + err.Error()}
		}
		e.CallID = id
	}
	if w.StreamID != nil && *w.StreamID != "" {
		id, err := uuid.Parse(*w.StreamID)
		if err != nil {
			return nil, &ErrProtocol{Reason: "invalid streamId: " + err.Error()}
		}
		e.StreamID = id
	}
	if w.ActorID != nil {
		e.ActorID = *w.ActorID
	}
	if w.ProtocolVersion != nil {
		e.ProtocolVersion = *w.ProtocolVersion
	}
	if w.SequenceNumber != nil {
		e.SequenceNumber = *w.SequenceNumber
	}
	if w.LastSequence != nil {
		e.LastSequence = *w.LastSequence
	}
	if w.Arguments != nil {
		e.Arguments = make([][]byte, len(w.Arguments))
		for i, a := range w.Arguments {
			b, err := b64Decode(a)
			if err != nil {
				return nil, &ErrProtocol{Reason: "invalid arguments[" + fmt.Sprint(i) + "]: " + err.Error()}
			}
			e.Arguments[i] = b
		}
	}
	if w.Result != nil {
		b, err := b64Decode(*w.Result)
		if err != nil {
			return nil, &ErrProtocol{Reason: "invalid result: " + err.Error()}
		}
		e.Result = b
	}
	if w.Data != nil {
		b, err := b64Decode(*w.Data)
		if err != nil {
			return nil, &ErrProtocol{Reason: "invalid data: " + err.Error()}
		}
		e.Data = b
	}
	if w.Timestamp != nil && *w.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339Nano, *w.Timestamp)
		if err != nil {
			return nil, &ErrProtocol{Reason: "invalid timestamp: " + err.Error()}
		}
		e.Timestamp = ts
	}

	if err := validateRequiredFields(e); err != nil {
		return nil, err
	}

	return e, nil
}

func validateRequiredFields(e *Envelope) error {
	switch e.Type {
	case TypeInvocation:
		if e.CallID == uuid.Nil {
			return &ErrProtocol{Reason: "invocation envelope missing callId"}
		}
		if e.TargetIdentifier == "" {
			return &ErrProtocol{Reason: "invocation envelope missing targetIdentifier"}
		}
	case TypeResponse:
		if e.CallID == uuid.Nil {
			return &ErrProtocol{Reason: "response envelope missing callId"}
		}
		if e.Result == nil && e.ErrorMessage == nil {
			return &ErrProtocol{Reason: "response envelope must carry result or errorMessage"}
		}
	case TypeStreamResume:
		if e.StreamID == uuid.Nil {
			return &ErrProtocol{Reason: "streamResume envelope missing streamId"}
		}
	case TypeStreamStart, TypeStreamData, TypeStreamEnd, TypeStreamError:
		if e.StreamID == uuid.Nil {
			return &ErrProtocol{Reason: fmt.Sprintf("%s envelope missing streamId", e.Type)}
		}
	}
	return nil
}

// IsStreamTarget reports whether targetIdentifier names a server-side
// stream method, distinguished by the "observe" prefix (§3).
func IsStreamTarget(targetIdentifier string) bool {
	const prefix = "observe"
	return len(targetIdentifier) > len(prefix) && targetIdentifier[:len(prefix)] == prefix
}

// NewCallID / NewStreamID generate the UUIDv4 identifiers callers and the
// server mint for new calls and streams.
func NewCallID() uuid.UUID   { return uuid.New() }
func NewStreamID() uuid.UUID { return uuid.New() }

// Success builds a successful ResponseEnvelope.
func Success(callID uuid.UUID, result []byte) *Envelope {
	return &Envelope{Type: TypeResponse, CallID: callID, Result: result}
}

// Failure builds a failed ResponseEnvelope.
func Failure(callID uuid.UUID, message string) *Envelope {
	return &Envelope{Type: TypeResponse, CallID: callID, ErrorMessage: &message}
}
