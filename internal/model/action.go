package model

// ActionStatus is the lifecycle tag of a detected institutional action.
type ActionStatus string

const (
	ActionProposed  ActionStatus = "proposed"
	ActionAdopted   ActionStatus = "adopted"
	ActionInForce   ActionStatus = "in_force"
	ActionWithdrawn ActionStatus = "withdrawn"
	ActionPlanned   ActionStatus = "planned"
)

// Valid reports whether s is a known lifecycle tag.
func (s ActionStatus) Valid() bool {
	switch s {
	case ActionProposed, ActionAdopted, ActionInForce, ActionWithdrawn, ActionPlanned:
		return true
	}
	return false
}

// Action is one detected institutional action.
type Action struct {
	Type        string       `json:"type"`
	Description string       `json:"description"`
	Status      ActionStatus `json:"status"`
	Date        *Date        `json:"date,omitempty"`
	DocumentURL string       `json:"document_url,omitempty"`
}

// ActionKey is the identity of an action: two actions with the same key are
// the same action.
type ActionKey struct {
	Type        string
	Description string
	Date        Date
}

// Key returns the (type, description, date) identity of a.
func (a Action) Key() ActionKey {
	k := ActionKey{Type: a.Type, Description: a.Description}
	if a.Date != nil {
		k.Date = *a.Date
	}
	return k
}

// DedupeActions collapses actions sharing a key, keeping the first one seen.
func DedupeActions(actions []Action) []Action {
	if len(actions) == 0 {
		return actions
	}
	seen := make(map[ActionKey]bool, len(actions))
	out := make([]Action, 0, len(actions))
	for _, a := range actions {
		k := a.Key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, a)
	}
	return out
}
