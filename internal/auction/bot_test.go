// internal/auction/bot_test.go
package auction

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anirbans/bidball/internal/models"
)

// TestBotBidProbability checks the shape of the decision curve: reference
// rating sits at the base, quality pushes up, budget pressure pulls down.
func TestBotBidProbability(t *testing.T) {
	rules := testRules()
	s := NewSession(rules, nil)
	team := &models.Team{ID: "b1", Budget: rules.InitialBudget, IsBot: true}

	base := s.botBidProbabilityLocked(team, &round{
		item:         models.Item{Rating: 85},
		leadingPrice: 500_000,
	})
	assert.InDelta(t, 0.5, base, 1e-9)

	elite := s.botBidProbabilityLocked(team, &round{
		item:         models.Item{Rating: 95},
		leadingPrice: 500_000,
	})
	assert.InDelta(t, 1.0, elite, 1e-9)

	strained := s.botBidProbabilityLocked(team, &round{
		item:         models.Item{Rating: 85},
		leadingPrice: 4_000_000, // 40% of the remaining budget
	})
	assert.InDelta(t, 0.2, strained, 1e-9)
}

// TestBotBidsOnEliteItem verifies a bot facing a probability above one
// always schedules a bid, and the bid lands at the only legal amount.
func TestBotBidsOnEliteItem(t *testing.T) {
	rules := testRules()
	teams := testTeams(rules.InitialBudget, "t1")
	bot := &models.Team{ID: "b1", Name: "Bot One", Budget: rules.InitialBudget, IsBot: true}
	teams = append(teams, bot)

	items := []models.Item{{ID: "star", Name: "star", Rating: 99, BasePrice: 500_000}}
	_, mb := setupTestSession(t, rules, teams, items)

	require.Eventually(t, func() bool {
		return mb.lastOfType(EventBidPlaced) != nil
	}, time.Second, 2*time.Millisecond)

	bid := mb.lastOfType(EventBidPlaced)
	assert.Equal(t, "b1", bid.TeamID)
	assert.Equal(t, int64(550_000), bid.Amount)
}

// TestBotNeverBidsBeyondBudget verifies an unaffordable next increment
// excludes the bot entirely, with no bid and no timer left armed.
func TestBotNeverBidsBeyondBudget(t *testing.T) {
	rules := testRules()
	teams := testTeams(rules.InitialBudget, "t1")
	bot := &models.Team{ID: "b1", Name: "Bot One", Budget: 500_000, IsBot: true}
	teams = append(teams, bot)

	items := []models.Item{{ID: "star", Name: "star", Rating: 99, BasePrice: 500_000}}
	s, mb := setupTestSession(t, rules, teams, items)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, mb.eventsOfType(EventBidPlaced))

	s.Mu.Lock()
	assert.Empty(t, s.botTimers)
	s.Mu.Unlock()
	assert.Equal(t, int64(500_000), bot.Budget)
}

// TestBotStopsAtMaxRoster verifies a bot with a full roster sits out.
func TestBotStopsAtMaxRoster(t *testing.T) {
	rules := testRules()
	rules.MaxRoster = 1
	bot := &models.Team{
		ID: "b1", Name: "Bot One", Budget: rules.InitialBudget, IsBot: true,
		Items: []models.Item{{ID: "owned"}},
	}
	teams := append(testTeams(rules.InitialBudget, "t1"), bot)

	items := []models.Item{{ID: "star", Name: "star", Rating: 99, BasePrice: 500_000}}
	_, mb := setupTestSession(t, rules, teams, items)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, mb.eventsOfType(EventBidPlaced))
}

// TestStaleBotBidDropped verifies a scheduled bid carrying an old round id
// is discarded when it fires after the round moved on.
func TestStaleBotBidDropped(t *testing.T) {
	rules := testRules()
	teams := testTeams(rules.InitialBudget, "t1", "t2")
	s, mb := setupTestSession(t, rules, teams, testItems(500_000, "Arjun"))

	s.Mu.Lock()
	staleRound := s.round.id - 1
	s.scheduleBotBidLocked("t2", staleRound, 550_000)
	s.Mu.Unlock()

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, mb.eventsOfType(EventBidPlaced))
	assert.Empty(t, s.CurrentRound().LeaderID)
}

// TestBotRescheduleCancelsPriorTimer verifies re-evaluation after a human
// bid replaces any armed bot timer, so the captured amount can never fire
// alongside a fresh decision.
func TestBotRescheduleCancelsPriorTimer(t *testing.T) {
	rules := testRules()
	rules.BotDelayMin = time.Hour // armed but never fires during the test
	rules.BotDelayMax = time.Hour
	bot := &models.Team{ID: "b1", Name: "Bot One", Budget: rules.InitialBudget, IsBot: true}
	teams := append(testTeams(rules.InitialBudget, "t1"), bot)

	items := []models.Item{{ID: "star", Name: "star", Rating: 99, BasePrice: 500_000}}
	s, _ := setupTestSession(t, rules, teams, items)

	s.Mu.Lock()
	first, armed := s.botTimers["b1"]
	s.Mu.Unlock()
	require.True(t, armed, "probability above one must schedule a bid")

	s.PlaceBid("t1")

	s.Mu.Lock()
	second, rearmed := s.botTimers["b1"]
	s.Mu.Unlock()
	require.True(t, rearmed)
	assert.NotSame(t, first, second, "the stale timer must be replaced")
}
