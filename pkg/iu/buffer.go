package iu

import "strings"

// Buffer is a reference consumer: it applies update messages the way a
// downstream renderer must, keeping live units in ADD order.
type Buffer struct {
	units []IU
	final bool
}

// Apply applies every update of msg in order.
func (b *Buffer) Apply(msg UpdateMessage) {
	for _, up := range msg.Updates {
		switch up.Action {
		case Added:
			b.units = append(b.units, up.IU)
		case Revoked:
			b.remove(up.IU.ID)
		case Committed:
			if up.IU.Final {
				b.final = true
				continue
			}
			for i := range b.units {
				if b.units[i].ID == up.IU.ID {
					b.units[i].Committed = true
				}
			}
		}
	}
}

func (b *Buffer) remove(id ID) {
	for i := range b.units {
		if b.units[i].ID == id {
			b.units = append(b.units[:i], b.units[i+1:]...)
			return
		}
	}
}

// Text returns the payloads of every live unit.
func (b *Buffer) Text() string {
	var sb strings.Builder
	for _, u := range b.units {
		sb.WriteString(u.Payload)
	}
	return sb.String()
}

// CommittedText returns the payloads of live committed units.
func (b *Buffer) CommittedText() string {
	var sb strings.Builder
	for _, u := range b.units {
		if u.Committed {
			sb.WriteString(u.Payload)
		}
	}
	return sb.String()
}

// Final reports whether an end-of-turn unit was committed.
func (b *Buffer) Final() bool {
	return b.final
}

// Reset clears the buffer for the next turn.
func (b *Buffer) Reset() {
	b.units = nil
	b.final = false
}
