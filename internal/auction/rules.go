// internal/auction/rules.go
package auction

import "time"

// Rules holds the per-session knobs for an auction. Defaults mirror the
// standard BidBall configuration: 1 crore budgets moving in half-lakh steps.
type Rules struct {
	InitialBudget int64 `json:"initialBudget"`
	BidIncrement  int64 `json:"bidIncrement"`

	// BiddingTime is the countdown window in ticks; every accepted bid
	// resets the countdown to this value.
	BiddingTime int `json:"biddingTime"`
	// FinalCallAt is the countdown value at which the advisory final-call
	// notification fires.
	FinalCallAt int `json:"finalCallAt"`

	MinRoster int `json:"minRoster"`
	MaxRoster int `json:"maxRoster"`

	// ReshuffleCarryover controls whether a re-auction sub-pass reshuffles
	// the carryover pool or preserves its order.
	ReshuffleCarryover bool `json:"reshuffleCarryover"`

	// TickInterval is the real-time length of one countdown tick.
	TickInterval time.Duration `json:"-"`
	// PostSaleDelay is the pause between a round resolving and the next
	// round opening, so observers see the outcome.
	PostSaleDelay time.Duration `json:"-"`
	// BotDelayMin/Max bound the randomized deliberation delay before an
	// automated team's scheduled bid fires.
	BotDelayMin time.Duration `json:"-"`
	BotDelayMax time.Duration `json:"-"`
}

// DefaultRules returns the standard BidBall auction configuration.
func DefaultRules() Rules {
	return Rules{
		InitialBudget:      10_000_000,
		BidIncrement:       50_000,
		BiddingTime:        8,
		FinalCallAt:        3,
		MinRoster:          11,
		MaxRoster:          20,
		ReshuffleCarryover: false,
		TickInterval:       time.Second,
		PostSaleDelay:      4 * time.Second,
		BotDelayMin:        time.Second,
		BotDelayMax:        4 * time.Second,
	}
}
