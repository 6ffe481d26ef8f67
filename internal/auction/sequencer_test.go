// internal/auction/sequencer_test.go
package auction

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anirbans/bidball/internal/models"
)

// TestAdvanceOpensNextItem verifies advancing after a resolution opens a
// fresh round on the next queued item with a clean skip set and countdown.
func TestAdvanceOpensNextItem(t *testing.T) {
	rules := testRules()
	teams := testTeams(rules.InitialBudget, "t1", "t2")
	s, mb := setupTestSession(t, rules, teams, testItems(500_000, "Arjun", "Bhuvi"))

	s.Skip("t2")
	s.PlaceBid("t1")
	tick(s, rules.BiddingTime)
	require.NotNil(t, mb.lastOfType(EventSold))

	s.Advance()

	opened := mb.lastOfType(EventNewItem)
	require.NotNil(t, opened)
	assert.Equal(t, "Bhuvi", opened.Item.Name)

	r := s.CurrentRound()
	require.NotNil(t, r)
	assert.Empty(t, r.Skipped, "skips do not carry between rounds")
	assert.Empty(t, r.LeaderID)
	assert.Equal(t, rules.BiddingTime, r.Countdown)
	assert.Equal(t, int64(500_000), r.LeadingPrice)
}

// TestReAuctionPreservesCarryoverOrder verifies an exhausted primary pass
// with unsold items and unmet rosters starts a sub-pass over the carryover
// pool in the order the items went unsold.
func TestReAuctionPreservesCarryoverOrder(t *testing.T) {
	rules := testRules()
	rules.MinRoster = 1
	teams := testTeams(rules.InitialBudget, "t1", "t2")
	s, mb := setupTestSession(t, rules, teams, testItems(500_000, "Arjun", "Bhuvi", "Chetan"))

	// Every item expires unsold.
	for i := 0; i < 3; i++ {
		tick(s, rules.BiddingTime)
		s.Advance()
	}

	reauctions := mb.eventsOfType(EventReAuction)
	require.Len(t, reauctions, 1)
	assert.Equal(t, 1, reauctions[0].Timer)

	r := s.CurrentRound()
	require.NotNil(t, r)
	assert.Equal(t, "Arjun", r.Item.Name, "sub-pass replays unsold items in order")
	assert.Equal(t, 1, r.ReAuctionRound)

	snap := s.Snapshot()
	require.Len(t, snap.Queue, 2)
	assert.Equal(t, "Bhuvi", snap.Queue[0].Name)
	assert.Equal(t, "Chetan", snap.Queue[1].Name)
	assert.Empty(t, snap.Carryover, "carryover drains into the sub-pass queue")
}

// TestReshuffledCarryoverIsPermutation verifies the optional sub-pass
// reshuffle never loses or duplicates an item.
func TestReshuffledCarryoverIsPermutation(t *testing.T) {
	rules := testRules()
	rules.MinRoster = 1
	rules.ReshuffleCarryover = true
	names := []string{"a", "b", "c", "d", "e"}
	s, _ := setupTestSession(t, rules, testTeams(rules.InitialBudget, "t1"), testItems(500_000, names...))

	for range names {
		tick(s, rules.BiddingTime)
		s.Advance()
	}

	snap := s.Snapshot()
	seen := map[string]int{}
	require.NotNil(t, snap.Round)
	seen[snap.Round.Item.ID]++
	for _, it := range snap.Queue {
		seen[it.ID]++
	}
	require.Len(t, seen, len(names))
	for _, name := range names {
		assert.Equal(t, 1, seen[name])
	}
}

// TestConcludesWhenRostersMet verifies the session ends once the queue is
// exhausted and no team is under the minimum, enumerating whatever never
// sold in the final report.
func TestConcludesWhenRostersMet(t *testing.T) {
	rules := testRules()
	rules.MinRoster = 0
	teams := testTeams(rules.InitialBudget, "t1", "t2")
	s, mb := setupTestSession(t, rules, teams, testItems(500_000, "Arjun", "Bhuvi"))

	tick(s, rules.BiddingTime) // Arjun unsold
	s.Advance()
	s.PlaceBid("t1")
	tick(s, rules.BiddingTime) // Bhuvi sold
	s.Advance()

	assert.Equal(t, models.RoomConcluded, s.Phase())
	end := mb.lastOfType(EventAuctionEnd)
	require.NotNil(t, end)
	require.NotNil(t, end.Report)
	assert.Empty(t, end.Report.Shortfalls)
	assert.Zero(t, end.Report.ReAuctions)
	require.Len(t, end.Report.Unsold, 1)
	assert.Equal(t, "Arjun", end.Report.Unsold[0].Name)
	require.Len(t, end.Report.Teams, 2)
}

// TestConcludesWithoutReAuctionWhenRostersFill verifies filling every
// roster exactly as the primary queue empties ends the session with no
// sub-pass.
func TestConcludesWithoutReAuctionWhenRostersFill(t *testing.T) {
	rules := testRules()
	rules.MinRoster = 1
	teams := testTeams(rules.InitialBudget, "t1", "t2")
	s, mb := setupTestSession(t, rules, teams, testItems(500_000, "Arjun", "Bhuvi"))

	s.PlaceBid("t1")
	tick(s, rules.BiddingTime)
	s.Advance()
	s.PlaceBid("t2")
	tick(s, rules.BiddingTime)
	s.Advance()

	assert.Equal(t, models.RoomConcluded, s.Phase())
	assert.Empty(t, mb.eventsOfType(EventReAuction))
	end := mb.lastOfType(EventAuctionEnd)
	require.NotNil(t, end)
	assert.Empty(t, end.Report.Shortfalls)
	assert.Empty(t, end.Report.Unsold)
	assert.Zero(t, end.Report.ReAuctions)
}

// TestConcludesOnUnresolvableShortfall verifies that running out of both
// queue and carryover with teams still under the minimum ends the session
// and names them in the report instead of retrying forever.
func TestConcludesOnUnresolvableShortfall(t *testing.T) {
	rules := testRules()
	rules.MinRoster = 1
	teams := testTeams(rules.InitialBudget, "t1", "t2")
	s, mb := setupTestSession(t, rules, teams, testItems(500_000, "Arjun"))

	done := make(chan ConclusionReport, 1)
	s.Mu.Lock()
	s.OnEnd = func(report ConclusionReport) { done <- report }
	s.Mu.Unlock()

	s.PlaceBid("t1")
	tick(s, rules.BiddingTime) // Arjun sold to t1; t2 can never reach the minimum
	s.Advance()

	assert.Equal(t, models.RoomConcluded, s.Phase())
	end := mb.lastOfType(EventAuctionEnd)
	require.NotNil(t, end)
	require.Len(t, end.Report.Shortfalls, 1)
	assert.Equal(t, "t2", end.Report.Shortfalls[0].TeamID)
	assert.Equal(t, 0, end.Report.Shortfalls[0].Owned)
	assert.Equal(t, 1, end.Report.Shortfalls[0].Minimum)

	select {
	case report := <-done:
		assert.Len(t, report.Shortfalls, 1)
	case <-time.After(time.Second):
		t.Fatal("conclusion callback never fired")
	}
}

// TestOperationsIgnoredAfterConclusion verifies a concluded session drops
// every late operation.
func TestOperationsIgnoredAfterConclusion(t *testing.T) {
	rules := testRules()
	rules.MinRoster = 0
	teams := testTeams(rules.InitialBudget, "t1")
	s, mb := setupTestSession(t, rules, teams, testItems(500_000, "Arjun"))

	tick(s, rules.BiddingTime)
	s.Advance()
	require.Equal(t, models.RoomConcluded, s.Phase())

	mb.clear()
	s.PlaceBid("t1")
	s.Skip("t1")
	s.Tick()
	s.Advance()

	assert.Empty(t, mb.eventsOfType(EventBidPlaced))
	assert.Empty(t, mb.eventsOfType(EventNewItem))
	assert.Equal(t, models.RoomConcluded, s.Phase())
	assert.Equal(t, rules.InitialBudget, teams[0].Budget)
}
