// internal/auction/auction.go
package auction

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anirbans/bidball/internal/models"
)

// BroadcastFunc delivers an Event to all observers (presentation layer,
// narration sink). Called with the session lock held; implementations must
// not call back into the session.
type BroadcastFunc func(ev Event)

// PublishFunc hands the sync layer a fresh session snapshot after every
// accepted state transition. Called with the session lock held.
type PublishFunc func(snap SessionSnapshot)

// Sink receives sale and budget records. The session never blocks on it and
// never surfaces its errors; failures are logged and dropped.
type Sink interface {
	RecordSale(ctx context.Context, itemID, winnerID string, price int64) error
	RecordBudget(ctx context.Context, teamID string, newBudget int64) error
}

// OnEndFunc is invoked once when the session concludes.
type OnEndFunc func(report ConclusionReport)

// round is the transient state scoped to one item. Created when the
// sequencer selects an item, destroyed when the round resolves.
type round struct {
	id           int
	item         models.Item
	leadingPrice int64
	leader       string // team id, "" = none
	skipped      map[string]struct{}
	countdown    int
	phase        models.RoundPhase
	finalCalled  bool
}

// Session holds the entire state for one auction in memory: the item queue,
// the carryover pool, all teams, and the current round. All mutation goes
// through its public operations under Mu.
//
// A session is either authoritative (it ticks, resolves rounds, and runs
// bots) or a replica (it accepts state only through ApplySnapshot). Only
// the host process runs an authoritative session in multi-party mode.
type Session struct {
	ID       uuid.UUID
	RoomCode string // empty outside multi-party mode

	Rules Rules

	Teams     []*models.Team
	queue     []models.Item
	carryover []models.Item
	catalog   int // original catalog size, for the conclusion report

	phase          models.RoomPhase
	round          *round
	roundSeq       int // increments per round; guards stale timer callbacks
	reAuctionRound int

	replica bool

	ticker       *time.Ticker
	tickerDone   chan struct{}
	advanceTimer *time.Timer
	botTimers    map[string]*time.Timer

	Mu sync.Mutex

	// BroadcastFn is used to send events to observers. If nil, no broadcast
	// is done.
	BroadcastFn BroadcastFunc
	// PublishFn mirrors accepted transitions into the shared room record.
	PublishFn PublishFunc
	// Sink receives fire-and-forget sale/budget records.
	Sink Sink
	// OnEnd is invoked at session conclusion with the final report.
	OnEnd OnEndFunc

	rng *rand.Rand
}

// NewSession builds an authoritative session for the given teams.
func NewSession(rules Rules, teams []*models.Team) *Session {
	id, _ := uuid.NewRandom()
	return &Session{
		ID:         id,
		Rules:      rules,
		Teams:      teams,
		phase:      models.RoomWaiting,
		tickerDone: make(chan struct{}),
		botTimers:  make(map[string]*time.Timer),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NewReplicaSession builds a non-authoritative session that renders the
// host's broadcast decisions. It never ticks and never resolves a round.
func NewReplicaSession(rules Rules, teams []*models.Team) *Session {
	s := NewSession(rules, teams)
	s.replica = true
	return s
}

// Start shuffles the catalog into the item queue, opens the first round, and
// begins the countdown ticker. Items must be non-empty; the catalog provider
// guarantees a degenerate synthetic set when the real load fails.
func (s *Session) Start(items []models.Item) {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	if s.replica || s.phase != models.RoomWaiting || len(items) == 0 {
		log.Printf("Session %s: Start ignored (replica=%v, phase=%s, items=%d)", s.ID, s.replica, s.phase, len(items))
		return
	}

	s.queue = make([]models.Item, len(items))
	copy(s.queue, items)
	s.rng.Shuffle(len(s.queue), func(i, j int) {
		s.queue[i], s.queue[j] = s.queue[j], s.queue[i]
	})
	s.beginLocked()
}

// StartWithQueue is Start with a pre-shuffled queue, used in multi-party
// mode where the permutation was computed once by the host and shared, and
// must not be recomputed per client.
func (s *Session) StartWithQueue(queue []models.Item) {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	if s.replica || s.phase != models.RoomWaiting || len(queue) == 0 {
		return
	}
	s.queue = make([]models.Item, len(queue))
	copy(s.queue, queue)
	s.beginLocked()
}

// beginLocked transitions the session to active, starts the countdown
// ticker, and opens the first round. Assumes lock is held and the queue is
// populated.
func (s *Session) beginLocked() {
	s.catalog = len(s.queue)
	s.phase = models.RoomActive
	s.fireEvent(Event{Type: EventAuctionStart})

	s.ticker = time.NewTicker(s.Rules.TickInterval)
	ticker := s.ticker
	go func() {
		for {
			select {
			case <-ticker.C:
				s.Tick()
			case <-s.tickerDone:
				return
			}
		}
	}()

	s.openNextRoundLocked()
}

// PlaceBid submits a bid for teamID at the only legal amount, the current
// leading price plus one increment. Invalid bids are silently ignored.
func (s *Session) PlaceBid(teamID string) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	if s.round == nil {
		return
	}
	s.placeBidLocked(teamID, s.round.leadingPrice+s.Rules.BidIncrement)
}

// placeBidLocked validates and applies a bid. The amount must be derived
// from the current leading price by exactly one increment; automated
// bidders pass amounts captured at schedule time, so a stale amount fails
// this check and the bid is dropped. Assumes lock is held.
func (s *Session) placeBidLocked(teamID string, amount int64) {
	if s.replica || s.round == nil || s.round.phase != models.RoundOpen {
		return
	}
	r := s.round
	team := s.teamByIDLocked(teamID)
	if team == nil {
		return
	}
	if _, hasSkipped := r.skipped[teamID]; hasSkipped {
		return
	}
	if len(team.Items) >= s.Rules.MaxRoster {
		return
	}
	if team.Budget < amount {
		return
	}
	if amount != r.leadingPrice+s.Rules.BidIncrement {
		return
	}

	r.leadingPrice = amount
	r.leader = teamID
	r.countdown = s.Rules.BiddingTime
	r.finalCalled = false // the reset countdown earns a fresh final call

	s.fireEvent(Event{
		Type:     EventBidPlaced,
		Item:     &r.item,
		TeamID:   teamID,
		TeamName: team.Name,
		Amount:   amount,
		Timer:    r.countdown,
		Round:    s.roundSnapshotLocked(),
	})
	s.publishLocked()
	s.scheduleBotsLocked()
}

// Skip withdraws teamID from the current round. Idempotent; a skipped team
// cannot bid again until a new round opens.
func (s *Session) Skip(teamID string) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	s.skipLocked(teamID)
}

func (s *Session) skipLocked(teamID string) {
	if s.replica || s.round == nil || s.round.phase != models.RoundOpen {
		return
	}
	if s.teamByIDLocked(teamID) == nil {
		return
	}
	if _, already := s.round.skipped[teamID]; already {
		return
	}
	s.round.skipped[teamID] = struct{}{}
	s.publishLocked()
}

// Tick decrements the countdown by one unit. At the final-call threshold an
// advisory notification fires; at zero the round resolves. Reset-on-bid in
// placeBidLocked guarantees a round cannot expire while bidding continues.
func (s *Session) Tick() {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	if s.replica || s.round == nil || s.round.phase != models.RoundOpen {
		return
	}
	r := s.round
	r.countdown--

	if r.countdown == s.Rules.FinalCallAt && r.leader != "" && !r.finalCalled {
		r.finalCalled = true
		s.fireEvent(Event{
			Type:  EventFinalCall,
			Item:  &r.item,
			Timer: r.countdown,
			Round: s.roundSnapshotLocked(),
		})
	}

	if r.countdown <= 0 {
		s.resolveLocked()
		return
	}

	s.fireEvent(Event{Type: EventTimerTick, Timer: r.countdown})
	s.publishLocked()
}

// resolveLocked transitions the round through resolving into its terminal
// phase and schedules the sequencer advance after the post-resolution
// delay. Assumes lock is held.
func (s *Session) resolveLocked() {
	r := s.round
	r.phase = models.RoundResolving

	if r.leader != "" {
		winner := s.teamByIDLocked(r.leader)
		r.phase = models.RoundSold
		winner.Budget -= r.leadingPrice
		winner.Items = append(winner.Items, r.item)

		s.fireEvent(Event{
			Type:     EventSold,
			Item:     &r.item,
			TeamID:   winner.ID,
			TeamName: winner.Name,
			Amount:   r.leadingPrice,
			Round:    s.roundSnapshotLocked(),
		})
		s.recordSaleAsync(r.item.ID, winner.ID, r.leadingPrice, winner.Budget)
	} else {
		r.phase = models.RoundUnsold
		s.carryover = append(s.carryover, r.item)
		s.fireEvent(Event{
			Type:  EventUnsold,
			Item:  &r.item,
			Round: s.roundSnapshotLocked(),
		})
	}
	s.publishLocked()

	rid := r.id
	s.advanceTimer = time.AfterFunc(s.Rules.PostSaleDelay, func() {
		s.Mu.Lock()
		defer s.Mu.Unlock()
		// A stale timer (teardown or an already-advanced sequencer) is
		// discarded rather than advancing twice.
		if s.phase != models.RoomActive || s.round == nil || s.round.id != rid {
			return
		}
		s.advanceLocked()
	})
}

// recordSaleAsync mirrors the outcome to the persistence sink without
// blocking the state machine. Assumes lock is held; does IO in a goroutine.
func (s *Session) recordSaleAsync(itemID, winnerID string, price, newBudget int64) {
	if s.Sink == nil {
		return
	}
	sink := s.Sink
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sink.RecordSale(ctx, itemID, winnerID, price); err != nil {
			log.Printf("Session: failed to record sale of %s to %s: %v", itemID, winnerID, err)
		}
		if err := sink.RecordBudget(ctx, winnerID, newBudget); err != nil {
			log.Printf("Session: failed to record budget for %s: %v", winnerID, err)
		}
	}()
}

// openNextRoundLocked pops the next item from the queue and opens a round
// at its starting price. Assumes lock is held and the queue is non-empty.
func (s *Session) openNextRoundLocked() {
	item := s.queue[0]
	s.queue = s.queue[1:]

	s.roundSeq++
	s.round = &round{
		id:           s.roundSeq,
		item:         item,
		leadingPrice: item.BasePrice,
		skipped:      make(map[string]struct{}),
		countdown:    s.Rules.BiddingTime,
		phase:        models.RoundOpen,
	}

	s.fireEvent(Event{
		Type:   EventNewItem,
		Item:   &item,
		Amount: item.BasePrice,
		Timer:  s.round.countdown,
		Round:  s.roundSnapshotLocked(),
	})
	s.publishLocked()
	s.scheduleBotsLocked()
}

// Teardown stops the ticker and all pending timers so no stale callback can
// mutate a concluded or replaced session.
func (s *Session) Teardown() {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	s.stopTimersLocked()
}

func (s *Session) stopTimersLocked() {
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
		close(s.tickerDone)
	}
	if s.advanceTimer != nil {
		s.advanceTimer.Stop()
		s.advanceTimer = nil
	}
	for id, t := range s.botTimers {
		t.Stop()
		delete(s.botTimers, id)
	}
}

// IsReplica reports whether this session only renders a remote host's
// decisions.
func (s *Session) IsReplica() bool {
	return s.replica
}

// Phase returns the session phase.
func (s *Session) Phase() models.RoomPhase {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	return s.phase
}

// CurrentRound returns a snapshot of the current round, or nil when idle.
func (s *Session) CurrentRound() *models.RoundSnapshot {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	return s.roundSnapshotLocked()
}

func (s *Session) teamByIDLocked(teamID string) *models.Team {
	for _, t := range s.Teams {
		if t.ID == teamID {
			return t
		}
	}
	return nil
}

// fireEvent broadcasts an event to observers. Assumes lock is held.
func (s *Session) fireEvent(ev Event) {
	if s.BroadcastFn != nil {
		s.BroadcastFn(ev)
	}
}

// publishLocked hands the sync layer a snapshot of the accepted transition.
// Assumes lock is held.
func (s *Session) publishLocked() {
	if s.PublishFn != nil {
		s.PublishFn(s.snapshotLocked())
	}
}
