package domain

import "fmt"

// Action is one move a combatant can choose for a round
type Action string

const (
	ActionAttack Action = "attack"
	ActionDefend Action = "defend"
	ActionDodge  Action = "dodge"
	ActionTrick  Action = "trick"
)

// ParseAction validates a raw action name
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionAttack, ActionDefend, ActionDodge, ActionTrick:
		return a, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidAction, s)
}

// CombatStatus is the phase of a live battle
type CombatStatus string

const (
	CombatWaiting  CombatStatus = "waiting"
	CombatResolved CombatStatus = "resolved"
	CombatFinished CombatStatus = "finished"
)

// Combatant is one side's live battle record
type Combatant struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	CurrentHP     int     `json:"current_hp"`
	MaxHP         int     `json:"max_hp"`
	Stats         Stats   `json:"stats"`
	PendingAction *Action `json:"pending_action,omitempty"`
}

// CombatState is the round-by-round battle data of an accepted challenge.
// Combatants[0] is always the challenger.
type CombatState struct {
	Round      int          `json:"round"`
	Combatants [2]Combatant `json:"combatants"`
	Log        []string     `json:"log"`
	Status     CombatStatus `json:"status"`
	WinnerID   *string      `json:"winner_id,omitempty"`
}

// Side returns the index of accountID in Combatants, or -1
func (s *CombatState) Side(accountID string) int {
	for i := range s.Combatants {
		if s.Combatants[i].ID == accountID {
			return i
		}
	}
	return -1
}

// PendingCount returns how many combatants have chosen an action this round
func (s *CombatState) PendingCount() int {
	n := 0
	for i := range s.Combatants {
		if s.Combatants[i].PendingAction != nil {
			n++
		}
	}
	return n
}

// Clone returns a deep copy of the state
func (s *CombatState) Clone() *CombatState {
	if s == nil {
		return nil
	}
	out := *s
	for i := range out.Combatants {
		if a := s.Combatants[i].PendingAction; a != nil {
			v := *a
			out.Combatants[i].PendingAction = &v
		}
	}
	out.Log = append([]string(nil), s.Log...)
	if s.WinnerID != nil {
		w := *s.WinnerID
		out.WinnerID = &w
	}
	return &out
}

// Redacted hides a pending action from anyone but its owner so a poller
// cannot read the opponent's choice before the round resolves.
func (s *CombatState) Redacted(viewerID string) *CombatState {
	out := s.Clone()
	if out == nil {
		return nil
	}
	for i := range out.Combatants {
		if out.Combatants[i].ID != viewerID && out.Combatants[i].PendingAction != nil {
			hidden := Action("hidden")
			out.Combatants[i].PendingAction = &hidden
		}
	}
	return out
}
