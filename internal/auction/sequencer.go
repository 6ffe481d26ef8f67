// internal/auction/sequencer.go
package auction

import (
	"log"

	"github.com/anirbans/bidball/internal/models"
)

// Advance moves the sequencer to the next item, or runs shortfall
// evaluation when the queue is exhausted. Normally driven by the
// post-resolution timer; exposed for tests and host recovery paths.
func (s *Session) Advance() {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	if s.replica || s.phase != models.RoomActive {
		return
	}
	s.advanceLocked()
}

// advanceLocked pops the next item into a fresh round. When the primary
// pass is exhausted it evaluates roster shortfalls and either starts a
// carryover sub-pass or concludes. Assumes lock is held.
func (s *Session) advanceLocked() {
	if len(s.queue) > 0 {
		s.openNextRoundLocked()
		return
	}

	shortfalls := s.shortfallsLocked()
	if len(shortfalls) == 0 {
		s.concludeLocked(nil)
		return
	}
	if len(s.carryover) == 0 {
		// Queue and carryover both exhausted with teams still under the
		// minimum: unresolvable, surfaced in the report rather than
		// retried forever.
		s.concludeLocked(shortfalls)
		return
	}

	s.queue = s.carryover
	s.carryover = nil
	if s.Rules.ReshuffleCarryover {
		s.rng.Shuffle(len(s.queue), func(i, j int) {
			s.queue[i], s.queue[j] = s.queue[j], s.queue[i]
		})
	}
	s.reAuctionRound++
	log.Printf("Session %s: re-auction round %d starting with %d unsold item(s)", s.ID, s.reAuctionRound, len(s.queue))
	s.fireEvent(Event{Type: EventReAuction, Timer: s.reAuctionRound})
	s.openNextRoundLocked()
}

// shortfallsLocked returns the teams currently below the minimum roster
// size. Assumes lock is held.
func (s *Session) shortfallsLocked() []Shortfall {
	var out []Shortfall
	for _, t := range s.Teams {
		if len(t.Items) < s.Rules.MinRoster {
			out = append(out, Shortfall{
				TeamID:  t.ID,
				Name:    t.Name,
				Owned:   len(t.Items),
				Minimum: s.Rules.MinRoster,
			})
		}
	}
	return out
}

// concludeLocked transitions the session to concluded, stops all timers,
// and reports final team states. Assumes lock is held.
func (s *Session) concludeLocked(shortfalls []Shortfall) {
	s.round = nil
	s.phase = models.RoomConcluded
	s.stopTimersLocked()

	report := ConclusionReport{
		Teams:      make([]models.Team, 0, len(s.Teams)),
		Shortfalls: shortfalls,
		ReAuctions: s.reAuctionRound,
	}
	for _, t := range s.Teams {
		report.Teams = append(report.Teams, *t)
	}
	// Whatever never sold stays enumerated so no item silently disappears.
	report.Unsold = append(report.Unsold, s.carryover...)
	report.Unsold = append(report.Unsold, s.queue...)

	log.Printf("Session %s: concluded after %d re-auction round(s), %d shortfall(s), %d unsold item(s)",
		s.ID, report.ReAuctions, len(report.Shortfalls), len(report.Unsold))

	s.fireEvent(Event{Type: EventAuctionEnd, Report: &report})
	s.publishLocked()

	if s.OnEnd != nil {
		go s.OnEnd(report)
	}
}
