// internal/auction/snapshot.go
package auction

import (
	"sort"

	"github.com/anirbans/bidball/internal/models"
)

// SessionSnapshot is the field-group view of a session that travels through
// the shared room record: the round and the roster are each replaced
// wholesale on apply, never merged field by field.
type SessionSnapshot struct {
	Phase     models.RoomPhase      `json:"phase"`
	Round     *models.RoundSnapshot `json:"round,omitempty"`
	Teams     []models.Team         `json:"teams"`
	Queue     []models.Item         `json:"queue,omitempty"`
	Carryover []models.Item         `json:"carryover,omitempty"`
}

// Snapshot returns a copy of the current session state.
func (s *Session) Snapshot() SessionSnapshot {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	return s.snapshotLocked()
}

// snapshotLocked builds a SessionSnapshot. Assumes lock is held.
func (s *Session) snapshotLocked() SessionSnapshot {
	snap := SessionSnapshot{
		Phase: s.phase,
		Round: s.roundSnapshotLocked(),
		Teams: make([]models.Team, 0, len(s.Teams)),
	}
	for _, t := range s.Teams {
		tc := *t
		tc.Items = append([]models.Item(nil), t.Items...)
		snap.Teams = append(snap.Teams, tc)
	}
	snap.Queue = append([]models.Item(nil), s.queue...)
	snap.Carryover = append([]models.Item(nil), s.carryover...)
	return snap
}

// roundSnapshotLocked converts the live round to its wire form, or nil when
// no round is active. Assumes lock is held.
func (s *Session) roundSnapshotLocked() *models.RoundSnapshot {
	if s.round == nil {
		return nil
	}
	r := s.round
	skipped := make([]string, 0, len(r.skipped))
	for id := range r.skipped {
		skipped = append(skipped, id)
	}
	sort.Strings(skipped)
	return &models.RoundSnapshot{
		RoundID:        r.id,
		Item:           r.item,
		LeadingPrice:   r.leadingPrice,
		LeaderID:       r.leader,
		Skipped:        skipped,
		Countdown:      r.countdown,
		Phase:          r.phase,
		ReAuctionRound: s.reAuctionRound,
	}
}

// ApplySnapshot overwrites a replica's round and roster state wholesale
// with a remote snapshot. Applying the same snapshot twice is a no-op by
// construction; it is the single entry point for both the poll cycle and
// push notifications. Ignored on authoritative sessions.
func (s *Session) ApplySnapshot(snap SessionSnapshot) {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	if !s.replica {
		return
	}

	s.phase = snap.Phase

	teams := make([]*models.Team, 0, len(snap.Teams))
	for i := range snap.Teams {
		tc := snap.Teams[i]
		tc.Items = append([]models.Item(nil), snap.Teams[i].Items...)
		teams = append(teams, &tc)
	}
	s.Teams = teams

	s.queue = append([]models.Item(nil), snap.Queue...)
	s.carryover = append([]models.Item(nil), snap.Carryover...)

	if snap.Round == nil {
		s.round = nil
		return
	}
	skipped := make(map[string]struct{}, len(snap.Round.Skipped))
	for _, id := range snap.Round.Skipped {
		skipped[id] = struct{}{}
	}
	s.round = &round{
		id:           snap.Round.RoundID,
		item:         snap.Round.Item,
		leadingPrice: snap.Round.LeadingPrice,
		leader:       snap.Round.LeaderID,
		skipped:      skipped,
		countdown:    snap.Round.Countdown,
		phase:        snap.Round.Phase,
	}
	s.reAuctionRound = snap.Round.ReAuctionRound
}
