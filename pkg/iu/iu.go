// Package iu implements incremental units (IUs), the revocable streaming
// units exchanged between pipeline stages, and the update messages that
// carry ADD, REVOKE and COMMIT actions over them.
//
// IUs are stored in an append-only Arena keyed by monotonically increasing
// IDs. Grounding is a back-reference by ID, never an owning pointer, so a
// chain can be walked backward for as long as the arena lives.
package iu

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ID identifies an IU within an Arena. The zero ID means "no IU".
type ID uint64

// Contract violations reported by the Arena.
var (
	ErrUnknownIU        = errors.New("unknown IU")
	ErrAlreadyCommitted = errors.New("IU already committed")
	ErrAlreadyRevoked   = errors.New("IU already revoked")
	ErrRevoked          = errors.New("IU is revoked")
)

// Position locates an IU's payload inside the dialogue.
type Position struct {
	TurnID   int `json:"turn_id"`
	ClauseID int `json:"clause_id"`
	CharID   int `json:"char_id"`
}

// IU is a snapshot of an incremental unit. Consumers only ever see copies;
// the lifecycle flags are changed through the owning Arena.
type IU struct {
	ID         ID        `json:"id"`
	Producer   string    `json:"producer"`
	GroundedIn ID        `json:"grounded_in,omitempty"`
	Payload    string    `json:"payload"`
	Final      bool      `json:"final,omitempty"`
	Committed  bool      `json:"committed"`
	Revoked    bool      `json:"revoked"`
	CreatedAt  time.Time `json:"created_at"`
	Position
}

// Pending reports whether the IU is neither committed nor revoked.
func (u IU) Pending() bool {
	return !u.Committed && !u.Revoked
}

func (u IU) String() string {
	return fmt.Sprintf("IU(%d %q turn=%d clause=%d char=%d)", u.ID, u.Payload, u.TurnID, u.ClauseID, u.CharID)
}

// Arena owns every IU created by a producer.
type Arena struct {
	mu    sync.RWMutex
	units []IU
	now   func() time.Time
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{now: time.Now}
}

// Create appends a new pending IU and returns its snapshot.
func (a *Arena) Create(producer, payload string, groundedIn ID, pos Position) IU {
	a.mu.Lock()
	defer a.mu.Unlock()

	u := IU{
		ID:         ID(len(a.units) + 1),
		Producer:   producer,
		GroundedIn: groundedIn,
		Payload:    payload,
		CreatedAt:  a.now(),
		Position:   pos,
	}
	a.units = append(a.units, u)
	return u
}

// CreateFinal appends a payload-less IU marking the end of a turn.
func (a *Arena) CreateFinal(producer string, groundedIn ID, turnID int) IU {
	a.mu.Lock()
	defer a.mu.Unlock()

	u := IU{
		ID:         ID(len(a.units) + 1),
		Producer:   producer,
		GroundedIn: groundedIn,
		Final:      true,
		CreatedAt:  a.now(),
		Position:   Position{TurnID: turnID},
	}
	a.units = append(a.units, u)
	return u
}

// Commit marks an IU as final. Committing twice, or committing a revoked IU,
// is a contract violation and is reported.
func (a *Arena) Commit(id ID) (IU, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	u, err := a.lookupLocked(id)
	if err != nil {
		return IU{}, err
	}
	switch {
	case u.Committed:
		return *u, fmt.Errorf("commit %d: %w", id, ErrAlreadyCommitted)
	case u.Revoked:
		return *u, fmt.Errorf("commit %d: %w", id, ErrRevoked)
	}
	u.Committed = true
	return *u, nil
}

// Revoke withdraws a pending or committed IU.
func (a *Arena) Revoke(id ID) (IU, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	u, err := a.lookupLocked(id)
	if err != nil {
		return IU{}, err
	}
	if u.Revoked {
		return *u, fmt.Errorf("revoke %d: %w", id, ErrAlreadyRevoked)
	}
	u.Revoked = true
	return *u, nil
}

// Get returns the current snapshot of an IU.
func (a *Arena) Get(id ID) (IU, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	u, err := a.lookupLocked(id)
	if err != nil {
		return IU{}, false
	}
	return *u, true
}

// Chain walks the grounding references backward from id, starting with id
// itself. Only references to older IDs are followed, so the walk terminates.
func (a *Arena) Chain(id ID) []IU {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var chain []IU
	for id != 0 {
		u, err := a.lookupLocked(id)
		if err != nil {
			break
		}
		chain = append(chain, *u)
		if u.GroundedIn >= id {
			break
		}
		id = u.GroundedIn
	}
	return chain
}

// Len returns the number of IUs ever created.
func (a *Arena) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.units)
}

func (a *Arena) lookupLocked(id ID) (*IU, error) {
	if id == 0 || int(id) > len(a.units) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownIU, id)
	}
	return &a.units[id-1], nil
}
