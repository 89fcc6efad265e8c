// Package dialogue defines the raw conversation transcript model and its
// append-only archive on disk.
package dialogue

import (
	"fmt"
	"time"
)

// IDLayout is the time portion of a dialogue id.
const IDLayout = "2006-01-02_15-04-05"

// Meta holds dialogue-level bookkeeping.
type Meta struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Language  string `json:"language"`
	Platform  string `json:"platform"`
	Version   string `json:"version"`
}

// Turn is a single utterance.
type Turn struct {
	TurnID    int    `json:"turn_id"`
	Speaker   string `json:"speaker"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// Dialogue is a complete conversation transcript. Turn ids are 0-based,
// strictly increasing and gapless.
type Dialogue struct {
	DialogueID   string   `json:"dialogue_id"`
	UserID       string   `json:"user_id"`
	Participants []string `json:"participants"`
	Meta         Meta     `json:"meta"`
	Turns        []Turn   `json:"turns"`
}

// NewID derives a dialogue id from the conversation start time.
func NewID(start time.Time) string {
	return "dlg_" + start.Format(IDLayout)
}

// Validate checks the turn-id contract.
func (d *Dialogue) Validate() error {
	if d.DialogueID == "" {
		return fmt.Errorf("dialogue has no id")
	}
	if d.UserID == "" {
		return fmt.Errorf("dialogue %s has no user_id", d.DialogueID)
	}
	for i, turn := range d.Turns {
		if turn.TurnID != i {
			return fmt.Errorf("dialogue %s: turn %d has turn_id %d", d.DialogueID, i, turn.TurnID)
		}
	}
	return nil
}

// TurnsInSpan returns the turns whose ids fall inside the inclusive span.
// The span is clamped to the dialogue bounds.
func (d *Dialogue) TurnsInSpan(span [2]int) []Turn {
	lo, hi := span[0], span[1]
	if lo < 0 {
		lo = 0
	}
	if hi >= len(d.Turns) {
		hi = len(d.Turns) - 1
	}
	if lo > hi {
		return nil
	}
	out := make([]Turn, 0, hi-lo+1)
	for _, turn := range d.Turns {
		if turn.TurnID >= lo && turn.TurnID <= hi {
			out = append(out, turn)
		}
	}
	return out
}
