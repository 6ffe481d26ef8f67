// internal/auction/bot.go
package auction

import (
	"time"

	"github.com/anirbans/bidball/internal/models"
)

const (
	botBaseProbability = 0.5
	botRatingReference = 85.0
	botRatingWeight    = 0.05
	// A candidate bid consuming a large fraction of remaining budget makes
	// the bot markedly more reluctant.
	botBudgetPressureRatio   = 0.3
	botBudgetPressurePenalty = 0.3
	botSkipProbability       = 0.2
)

// scheduleBotsLocked re-evaluates every automated team against the current
// round state. Called on round open and after each accepted bid; a team's
// previously scheduled bid is cancelled before any new decision so a stale
// amount can never be applied. Assumes lock is held.
func (s *Session) scheduleBotsLocked() {
	if s.replica || s.round == nil || s.round.phase != models.RoundOpen {
		return
	}
	r := s.round
	nextAmount := r.leadingPrice + s.Rules.BidIncrement

	for _, team := range s.Teams {
		if !team.IsBot {
			continue
		}
		if t, ok := s.botTimers[team.ID]; ok {
			t.Stop()
			delete(s.botTimers, team.ID)
		}
		if _, hasSkipped := r.skipped[team.ID]; hasSkipped {
			continue
		}
		if r.leader == team.ID {
			continue
		}
		if len(team.Items) >= s.Rules.MaxRoster {
			continue
		}
		if team.Budget < nextAmount {
			continue
		}

		if s.rng.Float64() < s.botBidProbabilityLocked(team, r) {
			s.scheduleBotBidLocked(team.ID, r.id, nextAmount)
		} else if s.rng.Float64() < botSkipProbability {
			s.skipLocked(team.ID)
		}
		// Otherwise no action this round state; the bot reconsiders on the
		// next state change.
	}
}

// botBidProbabilityLocked computes the chance an automated team bids:
// base 0.5, up for item quality above the reference rating, down when the
// leading price would strain the remaining budget. Assumes lock is held.
func (s *Session) botBidProbabilityLocked(team *models.Team, r *round) float64 {
	p := botBaseProbability
	p += (r.item.Rating - botRatingReference) * botRatingWeight
	if float64(r.leadingPrice)/float64(team.Budget) > botBudgetPressureRatio {
		p -= botBudgetPressurePenalty
	}
	return p
}

// scheduleBotBidLocked arms a one-shot timer that places the captured bid
// amount after a randomized deliberation delay. The round id and the exact
// amount travel with the callback: if the round moved on before the delay
// elapsed, the id check (or the increment check in placeBidLocked) drops
// the action. Assumes lock is held.
func (s *Session) scheduleBotBidLocked(teamID string, roundID int, amount int64) {
	delay := s.Rules.BotDelayMin
	if spread := s.Rules.BotDelayMax - s.Rules.BotDelayMin; spread > 0 {
		delay += time.Duration(s.rng.Int63n(int64(spread)))
	}
	s.botTimers[teamID] = time.AfterFunc(delay, func() {
		s.Mu.Lock()
		defer s.Mu.Unlock()
		delete(s.botTimers, teamID)
		if s.round == nil || s.round.id != roundID {
			return
		}
		s.placeBidLocked(teamID, amount)
	})
}
