// internal/auction/events.go
package auction

import "github.com/anirbans/bidball/internal/models"

// EventType is an enum-like type for broadcasting auction transitions.
type EventType string

const (
	EventAuctionStart EventType = "auction_start"
	EventNewItem      EventType = "new_item"   // a round opened for an item
	EventBidPlaced    EventType = "bid_placed" // accepted bid; countdown reset
	EventFinalCall    EventType = "final_call" // advisory, near expiry
	EventSold         EventType = "sold"
	EventUnsold       EventType = "unsold"
	EventReAuction    EventType = "re_auction" // carryover sub-pass starting
	EventAuctionEnd   EventType = "auction_end"
	EventTimerTick    EventType = "timer_tick"
)

// Event holds data about a transition that is broadcast to observers: the
// presentation layer, the narration sink, and the sync publisher all consume
// the same stream.
type Event struct {
	Type EventType `json:"type"`

	Item     *models.Item `json:"item,omitempty"`
	TeamID   string       `json:"teamId,omitempty"`
	TeamName string       `json:"teamName,omitempty"`
	Amount   int64        `json:"amount,omitempty"`
	Timer    int          `json:"timer,omitempty"`

	// Round carries the full round snapshot on state-changing events so
	// observers never have to merge partial updates.
	Round *models.RoundSnapshot `json:"round,omitempty"`

	// Report is set on auction_end only.
	Report *ConclusionReport `json:"report,omitempty"`
}

// Shortfall identifies a team that finished below the minimum roster size.
type Shortfall struct {
	TeamID  string `json:"teamId"`
	Name    string `json:"name"`
	Owned   int    `json:"owned"`
	Minimum int    `json:"minimum"`
}

// ConclusionReport is the final payload delivered when the session
// concludes. An unresolvable shortfall is part of this report, not an error.
type ConclusionReport struct {
	Teams      []models.Team `json:"teams"`
	Shortfalls []Shortfall   `json:"shortfalls,omitempty"`
	Unsold     []models.Item `json:"unsold,omitempty"`
	ReAuctions int           `json:"reAuctions"`
}
