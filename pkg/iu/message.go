package iu

import (
	"encoding/json"
	"fmt"
)

// Action is what an update asks the consumer to do with an IU.
type Action uint8

const (
	// Added appends the IU's payload, provisionally.
	Added Action = iota + 1
	// Revoked undoes an earlier Added or Committed IU.
	Revoked
	// Committed marks the IU safe to act upon irreversibly.
	Committed
)

func (a Action) String() string {
	switch a {
	case Added:
		return "ADD"
	case Revoked:
		return "REVOKE"
	case Committed:
		return "COMMIT"
	default:
		return fmt.Sprintf("Unknown(%d)", a)
	}
}

// MarshalJSON encodes the action as its wire name.
func (a Action) MarshalJSON() ([]byte, error) {
	switch a {
	case Added, Revoked, Committed:
		return json.Marshal(a.String())
	default:
		return nil, fmt.Errorf("cannot encode action %d", a)
	}
}

// UnmarshalJSON decodes an action from its wire name.
func (a *Action) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseAction(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAction parses "ADD", "REVOKE" or "COMMIT".
func ParseAction(s string) (Action, error) {
	switch s {
	case "ADD":
		return Added, nil
	case "REVOKE":
		return Revoked, nil
	case "COMMIT":
		return Committed, nil
	default:
		return 0, fmt.Errorf("unknown action %q", s)
	}
}

// Update pairs an IU snapshot with the action to apply.
type Update struct {
	Action Action `json:"action"`
	IU     IU     `json:"iu"`
}

// UpdateMessage is an ordered batch of updates. Consumers apply every entry
// in order before treating the batch as processed.
type UpdateMessage struct {
	Updates []Update `json:"updates"`
}

// Add appends an Added entry.
func (m *UpdateMessage) Add(u IU) {
	m.Updates = append(m.Updates, Update{Action: Added, IU: u})
}

// Revoke appends a Revoked entry.
func (m *UpdateMessage) Revoke(u IU) {
	m.Updates = append(m.Updates, Update{Action: Revoked, IU: u})
}

// Commit appends a Committed entry.
func (m *UpdateMessage) Commit(u IU) {
	m.Updates = append(m.Updates, Update{Action: Committed, IU: u})
}

// Empty reports whether the message carries no updates.
func (m UpdateMessage) Empty() bool {
	return len(m.Updates) == 0
}

// Len returns the number of updates.
func (m UpdateMessage) Len() int {
	return len(m.Updates)
}
