// Package wire is the JSON event format shared by the websocket bridge and
// the LiveKit room transport. Every message is an object with a "type"
// discriminator.
package wire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/chriscow/turnkit/pkg/align"
	"github.com/chriscow/turnkit/pkg/dialogue"
	"github.com/chriscow/turnkit/pkg/iu"
)

// Message types.
const (
	TypeUserTurn  = "user_turn"
	TypeASR       = "asr"
	TypeInterrupt = "interrupt"
	TypePlayback  = "playback"

	TypeUpdate = "update"
	TypeTurn   = "turn"
	TypeState  = "state"
	TypeError  = "error"
)

var (
	// ErrUnknownType is returned for an unrecognized inbound type.
	ErrUnknownType = errors.New("unknown message type")
	// ErrNoRecognizer is returned for recognizer events when no gate is wired.
	ErrNoRecognizer = errors.New("recognizer events are not accepted")
)

// Event is a decoded inbound message.
type Event interface {
	Type() string
}

// UserTurn submits finished user text.
type UserTurn struct {
	Text string `json:"text"`
}

// ASR carries one recognizer segment action: add, revoke, commit or end.
type ASR struct {
	Action string `json:"action"`
	Text   string `json:"text"`
}

// Interrupt reports that the user barged in.
type Interrupt struct{}

// Playback reports how far the agent's speech got.
type Playback struct {
	align.Marker
}

func (UserTurn) Type() string  { return TypeUserTurn }
func (ASR) Type() string       { return TypeASR }
func (Interrupt) Type() string { return TypeInterrupt }
func (Playback) Type() string  { return TypePlayback }

type envelope struct {
	Type string `json:"type"`
}

// Decode parses an inbound message.
func Decode(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	var ev Event
	var err error
	switch env.Type {
	case TypeUserTurn:
		var e UserTurn
		err = json.Unmarshal(data, &e)
		ev = e
	case TypeASR:
		var e ASR
		err = json.Unmarshal(data, &e)
		ev = e
	case TypeInterrupt:
		ev = Interrupt{}
	case TypePlayback:
		var e Playback
		err = json.Unmarshal(data, &e)
		ev = e
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return ev, nil
}

// Update is the outbound form of an UpdateMessage.
type Update struct {
	Type    string      `json:"type"`
	Updates []iu.Update `json:"updates"`
}

// Turn is the outbound form of a TurnResult.
type Turn struct {
	Type       string `json:"type"`
	TurnID     int    `json:"turn_id"`
	UserTurnID int    `json:"user_turn_id"`
	Reason     string `json:"reason"`
	Text       string `json:"text"`
	Tokens     int    `json:"tokens"`
	Pending    bool   `json:"pending,omitempty"`
	Aligned    bool   `json:"aligned,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// State reports the orchestrator state.
type State struct {
	Type  string `json:"type"`
	State string `json:"state"`
}

// Error reports a rejected inbound message.
type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// EncodeUpdate encodes an update message.
func EncodeUpdate(msg iu.UpdateMessage) ([]byte, error) {
	return json.Marshal(Update{Type: TypeUpdate, Updates: msg.Updates})
}

// EncodeTurn encodes a turn result.
func EncodeTurn(res dialogue.TurnResult) ([]byte, error) {
	t := Turn{
		Type:       TypeTurn,
		TurnID:     res.TurnID,
		UserTurnID: res.UserTurnID,
		Reason:     res.Reason.String(),
		Text:       res.Text,
		Tokens:     res.Tokens,
		Pending:    res.Pending,
		Aligned:    res.Aligned,
		DurationMS: res.Duration.Milliseconds(),
	}
	if res.Err != nil {
		t.Error = res.Err.Error()
	}
	return json.Marshal(t)
}

// EncodeState encodes an orchestrator state.
func EncodeState(s dialogue.State) ([]byte, error) {
	return json.Marshal(State{Type: TypeState, State: s.String()})
}

// EncodeError encodes an error report.
func EncodeError(err error) ([]byte, error) {
	return json.Marshal(Error{Type: TypeError, Message: err.Error()})
}

// Engine receives decoded events. *dialogue.Orchestrator implements it.
type Engine interface {
	SubmitUserTurn(text string) error
	Interrupt()
	ReportPlayback(m align.Marker)
}

// Segmenter assembles recognizer segments. *turn.Gate implements it.
type Segmenter interface {
	Handle(ctx context.Context, action, text string) error
}

// Dispatch applies ev to the engine. seg may be nil, in which case
// recognizer events are rejected.
func Dispatch(ctx context.Context, ev Event, eng Engine, seg Segmenter) error {
	switch e := ev.(type) {
	case UserTurn:
		return eng.SubmitUserTurn(e.Text)
	case ASR:
		if seg == nil {
			return ErrNoRecognizer
		}
		return seg.Handle(ctx, e.Action, e.Text)
	case Interrupt:
		eng.Interrupt()
		return nil
	case Playback:
		eng.ReportPlayback(e.Marker)
		return nil
	default:
		return fmt.Errorf("%w: %T", ErrUnknownType, ev)
	}
}
