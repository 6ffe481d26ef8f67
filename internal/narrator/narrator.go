// internal/narrator/narrator.go

// Package narrator turns auction events into auctioneer commentary lines.
// It is a pure observer of the event stream; nothing in the state machine
// depends on it.
package narrator

import (
	"fmt"
	"strings"
	"sync"

	"github.com/anirbans/bidball/internal/auction"
)

const openingLine = "Welcome to the BidBall Auction!"

// Narrator holds the auctioneer's current line, updated per event.
type Narrator struct {
	mu   sync.Mutex
	line string
}

// New returns a narrator showing the welcome line.
func New() *Narrator {
	return &Narrator{line: openingLine}
}

// Observe updates the commentary from an event and returns the new line,
// or "" when the event carries no commentary (e.g. ordinary timer ticks).
func (n *Narrator) Observe(ev auction.Event) string {
	line := Describe(ev)
	if line == "" {
		return ""
	}
	n.mu.Lock()
	n.line = line
	n.mu.Unlock()
	return line
}

// Line returns the auctioneer's current line.
func (n *Narrator) Line() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.line
}

// Describe renders the commentary for a single event.
func Describe(ev auction.Event) string {
	switch ev.Type {
	case auction.EventAuctionStart:
		return "Let's get the ball rolling! The auction is now officially open!"
	case auction.EventNewItem:
		if ev.Item == nil {
			return ""
		}
		return fmt.Sprintf("Up next, we have %s! A fantastic player with a base price of ₹%s. Who will start the bidding?",
			ev.Item.Name, FormatAmount(ev.Amount))
	case auction.EventBidPlaced:
		return fmt.Sprintf("A bid of ₹%s from %s! Do I hear more?", FormatAmount(ev.Amount), ev.TeamName)
	case auction.EventFinalCall:
		return "Going once... going twice... any last bids?"
	case auction.EventSold:
		if ev.Item == nil {
			return ""
		}
		return fmt.Sprintf("SOLD! %s goes to %s for a winning bid of ₹%s!",
			ev.Item.Name, ev.TeamName, FormatAmount(ev.Amount))
	case auction.EventUnsold:
		if ev.Item == nil {
			return ""
		}
		return fmt.Sprintf("No bidders for %s. A surprising turn of events, he goes unsold.", ev.Item.Name)
	case auction.EventReAuction:
		round := ev.Timer
		if ev.Round != nil {
			round = ev.Round.ReAuctionRound
		}
		if round < 1 {
			round = 1
		}
		return fmt.Sprintf("Re-auction round %d starting! Teams need more players.", round)
	case auction.EventAuctionEnd:
		if ev.Report != nil && len(ev.Report.Shortfalls) > 0 {
			names := make([]string, 0, len(ev.Report.Shortfalls))
			for _, sf := range ev.Report.Shortfalls {
				names = append(names, sf.Name)
			}
			return fmt.Sprintf("Teams still need players: %s", strings.Join(names, ", "))
		}
		return "Auction complete! All teams have their minimum squads!"
	default:
		return ""
	}
}

// FormatAmount renders an amount in rupees with thousands separators,
// e.g. 1250000 -> "1,250,000".
func FormatAmount(amount int64) string {
	s := fmt.Sprintf("%d", amount)
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	var b strings.Builder
	for i, d := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(d)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
