// internal/models/team.go
package models

// Team is a budget-holding competitor in the auction, human or automated.
type Team struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Logo   string `json:"logo,omitempty"`
	Budget int64  `json:"budget"`
	Items  []Item `json:"players"`

	IsBot bool `json:"isBot"`
	// IsLocal marks the team the local process acts for. Exactly one team
	// carries this flag in single-party mode; in multi-party mode each
	// process designates its own.
	IsLocal bool `json:"isLocal,omitempty"`
}

// Spent returns the total purchase price paid across owned items, derived
// from the initial budget so the accounting invariant is checkable.
func (t *Team) Spent(initialBudget int64) int64 {
	return initialBudget - t.Budget
}
