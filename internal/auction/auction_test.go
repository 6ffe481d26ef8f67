// internal/auction/auction_test.go
package auction

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anirbans/bidball/internal/models"
)

// mockBroadcaster collects every event the session fires so tests can
// assert on the stream without a websocket layer.
type mockBroadcaster struct {
	mu     sync.Mutex
	events []Event
}

func (m *mockBroadcaster) broadcast(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

func (m *mockBroadcaster) eventsOfType(t EventType) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, ev := range m.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (m *mockBroadcaster) lastOfType(t EventType) *Event {
	evs := m.eventsOfType(t)
	if len(evs) == 0 {
		return nil
	}
	return &evs[len(evs)-1]
}

func (m *mockBroadcaster) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = nil
}

// testRules returns the default configuration with all real-time timers
// pushed out to an hour so tests drive Tick and Advance themselves.
func testRules() Rules {
	r := DefaultRules()
	r.TickInterval = time.Hour
	r.PostSaleDelay = time.Hour
	r.BotDelayMin = time.Millisecond
	r.BotDelayMax = 2 * time.Millisecond
	return r
}

func testTeams(budget int64, ids ...string) []*models.Team {
	teams := make([]*models.Team, 0, len(ids))
	for _, id := range ids {
		teams = append(teams, &models.Team{ID: id, Name: "Team " + id, Budget: budget})
	}
	return teams
}

func testItems(basePrice int64, names ...string) []models.Item {
	items := make([]models.Item, 0, len(names))
	for i, name := range names {
		items = append(items, models.Item{
			ID:        name,
			Name:      name,
			Rating:    80 + float64(i),
			BasePrice: basePrice,
		})
	}
	return items
}

// setupTestSession builds a started authoritative session with a fixed
// queue order and a mock broadcaster attached.
func setupTestSession(t *testing.T, rules Rules, teams []*models.Team, items []models.Item) (*Session, *mockBroadcaster) {
	t.Helper()
	s := NewSession(rules, teams)
	mb := &mockBroadcaster{}
	s.BroadcastFn = mb.broadcast
	s.StartWithQueue(items)
	t.Cleanup(s.Teardown)
	return s, mb
}

// tick drives the countdown n units.
func tick(s *Session, n int) {
	for i := 0; i < n; i++ {
		s.Tick()
	}
}

// TestStartOpensFirstRound verifies that starting a session activates it,
// opens a round on the first queued item at its base price, and announces
// both transitions.
func TestStartOpensFirstRound(t *testing.T) {
	rules := testRules()
	s, mb := setupTestSession(t, rules, testTeams(rules.InitialBudget, "t1", "t2"), testItems(500_000, "Arjun", "Bhuvi"))

	assert.Equal(t, models.RoomActive, s.Phase())
	require.Len(t, mb.eventsOfType(EventAuctionStart), 1)

	opened := mb.lastOfType(EventNewItem)
	require.NotNil(t, opened)
	assert.Equal(t, "Arjun", opened.Item.Name)
	assert.Equal(t, int64(500_000), opened.Amount)
	assert.Equal(t, rules.BiddingTime, opened.Timer)

	r := s.CurrentRound()
	require.NotNil(t, r)
	assert.Equal(t, int64(500_000), r.LeadingPrice)
	assert.Empty(t, r.LeaderID)
	assert.Equal(t, models.RoundOpen, r.Phase)
}

// TestStartShufflesCatalog verifies the shuffled queue is a permutation of
// the catalog, nothing dropped and nothing invented.
func TestStartShufflesCatalog(t *testing.T) {
	rules := testRules()
	items := testItems(500_000, "a", "b", "c", "d", "e", "f", "g", "h")
	s := NewSession(rules, testTeams(rules.InitialBudget, "t1"))
	s.Start(items)
	t.Cleanup(s.Teardown)

	snap := s.Snapshot()
	seen := map[string]int{}
	require.NotNil(t, snap.Round)
	seen[snap.Round.Item.ID]++
	for _, it := range snap.Queue {
		seen[it.ID]++
	}
	require.Len(t, seen, len(items))
	for _, it := range items {
		assert.Equal(t, 1, seen[it.ID], "item %s should appear exactly once", it.ID)
	}
}

// TestBidEscalation runs the canonical two-bidder exchange: base 500k, the
// first bid lands at 550k, the counter at 600k, and expiry sells to the
// second bidder at exactly the leading price.
func TestBidEscalation(t *testing.T) {
	rules := testRules()
	teams := testTeams(1_000_000, "t1", "t2")
	teams[1].Budget = 2_000_000
	s, mb := setupTestSession(t, rules, teams, testItems(500_000, "Arjun"))

	tick(s, 3)
	s.PlaceBid("t1")

	bid := mb.lastOfType(EventBidPlaced)
	require.NotNil(t, bid)
	assert.Equal(t, "t1", bid.TeamID)
	assert.Equal(t, int64(550_000), bid.Amount)
	assert.Equal(t, rules.BiddingTime, bid.Timer, "accepted bid should reset the countdown")

	s.PlaceBid("t2")
	r := s.CurrentRound()
	require.NotNil(t, r)
	assert.Equal(t, "t2", r.LeaderID)
	assert.Equal(t, int64(600_000), r.LeadingPrice)

	mb.clear()
	tick(s, rules.BiddingTime)

	sold := mb.lastOfType(EventSold)
	require.NotNil(t, sold)
	assert.Equal(t, "t2", sold.TeamID)
	assert.Equal(t, int64(600_000), sold.Amount)

	assert.Equal(t, int64(1_400_000), teams[1].Budget)
	require.Len(t, teams[1].Items, 1)
	assert.Equal(t, "Arjun", teams[1].Items[0].Name)
	assert.Equal(t, int64(1_000_000), teams[0].Budget, "the outbid team pays nothing")
	assert.Empty(t, teams[0].Items)
}

// TestBidRejectedAfterSkip verifies a skipped team stays out of the round.
func TestBidRejectedAfterSkip(t *testing.T) {
	rules := testRules()
	teams := testTeams(rules.InitialBudget, "t1", "t2")
	s, mb := setupTestSession(t, rules, teams, testItems(500_000, "Arjun"))

	s.Skip("t1")
	s.Skip("t1") // idempotent
	s.PlaceBid("t1")

	assert.Empty(t, mb.eventsOfType(EventBidPlaced))
	r := s.CurrentRound()
	require.NotNil(t, r)
	assert.Equal(t, []string{"t1"}, r.Skipped)
	assert.Empty(t, r.LeaderID)
}

// TestBidRejectedOverBudget verifies a team that cannot cover the next
// increment is ignored without an event.
func TestBidRejectedOverBudget(t *testing.T) {
	rules := testRules()
	teams := testTeams(rules.InitialBudget, "t1", "t2")
	teams[0].Budget = 500_000 // one increment short of base+increment
	s, mb := setupTestSession(t, rules, teams, testItems(500_000, "Arjun"))

	s.PlaceBid("t1")
	assert.Empty(t, mb.eventsOfType(EventBidPlaced))
	assert.Empty(t, s.CurrentRound().LeaderID)
}

// TestBidRejectedAtMaxRoster verifies a full roster disqualifies a team.
func TestBidRejectedAtMaxRoster(t *testing.T) {
	rules := testRules()
	rules.MaxRoster = 1
	teams := testTeams(rules.InitialBudget, "t1", "t2")
	teams[0].Items = []models.Item{{ID: "owned", Name: "owned"}}
	s, mb := setupTestSession(t, rules, teams, testItems(500_000, "Arjun"))

	s.PlaceBid("t1")
	assert.Empty(t, mb.eventsOfType(EventBidPlaced))

	s.PlaceBid("t2")
	assert.Len(t, mb.eventsOfType(EventBidPlaced), 1)
}

// TestBidRejectedUnknownTeam verifies bids and skips from ids outside the
// roster are dropped.
func TestBidRejectedUnknownTeam(t *testing.T) {
	rules := testRules()
	s, mb := setupTestSession(t, rules, testTeams(rules.InitialBudget, "t1"), testItems(500_000, "Arjun"))

	s.PlaceBid("ghost")
	s.Skip("ghost")

	assert.Empty(t, mb.eventsOfType(EventBidPlaced))
	assert.Empty(t, s.CurrentRound().Skipped)
}

// TestStaleBidAmountRejected verifies an amount captured against an older
// leading price fails the increment check after the price moved.
func TestStaleBidAmountRejected(t *testing.T) {
	rules := testRules()
	teams := testTeams(rules.InitialBudget, "t1", "t2")
	s, mb := setupTestSession(t, rules, teams, testItems(500_000, "Arjun"))

	s.PlaceBid("t1") // leading is now 550k; the only legal next amount is 600k

	s.Mu.Lock()
	s.placeBidLocked("t2", 550_000)
	s.Mu.Unlock()

	bids := mb.eventsOfType(EventBidPlaced)
	require.Len(t, bids, 1)
	assert.Equal(t, "t1", s.CurrentRound().LeaderID)
}

// TestBidRejectedAfterResolution verifies the round stops accepting bids
// once it resolves, even before the sequencer advances.
func TestBidRejectedAfterResolution(t *testing.T) {
	rules := testRules()
	teams := testTeams(rules.InitialBudget, "t1", "t2")
	s, mb := setupTestSession(t, rules, teams, testItems(500_000, "Arjun"))

	tick(s, rules.BiddingTime) // expires unsold
	require.NotNil(t, mb.lastOfType(EventUnsold))

	mb.clear()
	s.PlaceBid("t1")
	assert.Empty(t, mb.eventsOfType(EventBidPlaced))
}

// TestFinalCallRequiresLeader verifies the advisory fires only when a
// leading bid exists, and fires again after a bid resets the countdown.
func TestFinalCallRequiresLeader(t *testing.T) {
	rules := testRules()
	teams := testTeams(rules.InitialBudget, "t1", "t2")
	s, mb := setupTestSession(t, rules, teams, testItems(500_000, "Arjun"))

	// No leader: the countdown passes the threshold silently.
	tick(s, rules.BiddingTime-rules.FinalCallAt)
	assert.Empty(t, mb.eventsOfType(EventFinalCall))

	s.PlaceBid("t1")
	tick(s, rules.BiddingTime-rules.FinalCallAt)
	require.Len(t, mb.eventsOfType(EventFinalCall), 1)
	assert.Equal(t, rules.FinalCallAt, mb.lastOfType(EventFinalCall).Timer)

	// A fresh bid resets the countdown and re-arms the final call.
	s.PlaceBid("t2")
	tick(s, rules.BiddingTime-rules.FinalCallAt)
	assert.Len(t, mb.eventsOfType(EventFinalCall), 2)
}

// TestUnsoldGoesToCarryover verifies an expired round with no leader moves
// its item to the carryover pool and charges nobody.
func TestUnsoldGoesToCarryover(t *testing.T) {
	rules := testRules()
	teams := testTeams(rules.InitialBudget, "t1", "t2")
	s, mb := setupTestSession(t, rules, teams, testItems(500_000, "Arjun", "Bhuvi"))

	tick(s, rules.BiddingTime)

	unsold := mb.lastOfType(EventUnsold)
	require.NotNil(t, unsold)
	assert.Equal(t, "Arjun", unsold.Item.Name)

	snap := s.Snapshot()
	require.Len(t, snap.Carryover, 1)
	assert.Equal(t, "Arjun", snap.Carryover[0].Name)
	for _, team := range teams {
		assert.Equal(t, rules.InitialBudget, team.Budget)
		assert.Empty(t, team.Items)
	}
}

// mockSink records sale and budget writes so tests can assert on the
// persistence stream without a database.
type mockSink struct {
	mu      sync.Mutex
	sales   []saleRecord
	budgets []budgetRecord
}

type saleRecord struct {
	itemID   string
	winnerID string
	price    int64
}

type budgetRecord struct {
	teamID    string
	newBudget int64
}

func (m *mockSink) RecordSale(_ context.Context, itemID, winnerID string, price int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sales = append(m.sales, saleRecord{itemID, winnerID, price})
	return nil
}

func (m *mockSink) RecordBudget(_ context.Context, teamID string, newBudget int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.budgets = append(m.budgets, budgetRecord{teamID, newBudget})
	return nil
}

func (m *mockSink) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sales), len(m.budgets)
}

// TestSaleRecordedToSink verifies a sold round mirrors the sale and the
// winner's new budget to the sink without blocking the state machine.
func TestSaleRecordedToSink(t *testing.T) {
	rules := testRules()
	teams := testTeams(rules.InitialBudget, "t1", "t2")
	s, _ := setupTestSession(t, rules, teams, testItems(500_000, "Arjun"))
	sink := &mockSink{}
	s.Mu.Lock()
	s.Sink = sink
	s.Mu.Unlock()

	s.PlaceBid("t1")
	tick(s, rules.BiddingTime)

	require.Eventually(t, func() bool {
		sales, budgets := sink.counts()
		return sales == 1 && budgets == 1
	}, time.Second, 5*time.Millisecond)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, saleRecord{"Arjun", "t1", 550_000}, sink.sales[0])
	assert.Equal(t, budgetRecord{"t1", rules.InitialBudget - 550_000}, sink.budgets[0])
}

// TestPublishOnEveryTransition verifies the sync publisher sees a snapshot
// for each accepted mutation, including plain countdown ticks.
func TestPublishOnEveryTransition(t *testing.T) {
	rules := testRules()
	s := NewSession(rules, testTeams(rules.InitialBudget, "t1", "t2"))
	var mu sync.Mutex
	var published []SessionSnapshot
	s.PublishFn = func(snap SessionSnapshot) {
		mu.Lock()
		defer mu.Unlock()
		published = append(published, snap)
	}
	s.StartWithQueue(testItems(500_000, "Arjun"))
	t.Cleanup(s.Teardown)

	s.PlaceBid("t1")
	s.Tick()

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(published), 3)
	last := published[len(published)-1]
	require.NotNil(t, last.Round)
	assert.Equal(t, "t1", last.Round.LeaderID)
	assert.Equal(t, rules.BiddingTime-1, last.Round.Countdown)
}
