// internal/room/room.go
package room

import (
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anirbans/bidball/internal/auction"
	"github.com/anirbans/bidball/internal/models"
)

const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewCode returns a 6-character join code. The alphabet omits characters
// that read ambiguously when spoken or typed (0/O, 1/I).
func NewCode() string {
	b := make([]byte, 6)
	for i := range b {
		b[i] = codeAlphabet[rand.Intn(len(codeAlphabet))]
	}
	return string(b)
}

// DefaultTeams returns the four franchise teams every auction starts with,
// each at the full initial budget. Teams stay bots until a participant
// claims one.
func DefaultTeams(initialBudget int64) []*models.Team {
	mk := func(id, name, logo string) *models.Team {
		return &models.Team{
			ID:     id,
			Name:   name,
			Logo:   logo,
			Budget: initialBudget,
			IsBot:  true,
		}
	}
	return []*models.Team{
		mk("t1", "Mumbai Mavericks", "https://img.icons8.com/plasticine/100/m.png"),
		mk("t2", "Delhi Dynamos", "https://img.icons8.com/plasticine/100/d.png"),
		mk("t3", "Kolkata Knights", "https://img.icons8.com/plasticine/100/k.png"),
		mk("t4", "Chennai Champions", "https://img.icons8.com/plasticine/100/c.png"),
	}
}

// RoomConnection is a single participant's live presence in the room.
type RoomConnection struct {
	UserID   string
	Username string
	Cancel   func()
	OutChan  chan map[string]interface{}
	IsHost   bool
}

// Write pushes a message onto the user's OutChan non-blockingly. Logs if blocked/dropped.
func (conn *RoomConnection) Write(msg map[string]interface{}) {
	select {
	case conn.OutChan <- msg:
	default:
		msgType, _ := msg["type"].(string)
		log.Printf("RoomConnection Write WARNING: OutChan for user %s closed or full. Dropped message type '%s'.", conn.UserID, msgType)
	}
}

// WriteError is a convenience to send an error object.
func (conn *RoomConnection) WriteError(msg string) {
	conn.Write(map[string]interface{}{
		"type":    "error",
		"message": msg,
	})
}

// Room is the shared grouping of participants around one auction: the
// roster, ready states, team claims, and (once started) the auction
// session. Exactly one process hosts the authoritative session; every other
// process holds a replica fed by the sync layer.
type Room struct {
	ID     uuid.UUID
	Code   string
	HostID string
	Rules  auction.Rules

	// Remote marks a room whose authoritative copy lives in another process.
	// Local roster mutations are forwarded to the host as intents; the
	// host's snapshot echoes them back through the sync layer.
	Remote bool

	// Members is the durable roster, keyed by user ID. It survives
	// disconnects so a rejoining participant keeps their team claim.
	Members map[string]*models.RoomMember

	// Connections holds the live WebSocket connections for joined users.
	Connections map[string]*RoomConnection

	// Session is nil until the auction starts.
	Session *auction.Session

	// lobbyTeams backs team claims before the session exists.
	lobbyTeams []*models.Team

	phase   models.RoomPhase
	version int64

	readyTimer *time.Timer

	// OnEmpty is called when the last connection leaves, typically wired to
	// the store's DeleteRoom.
	OnEmpty func(code string)

	// PublishSnapshot mirrors the room record outward (database row + change
	// notification). Fire-and-forget; never blocks room operations.
	PublishSnapshot func(snap models.RoomSnapshot)

	// ConfigureSession decorates a freshly built session (persistence sink,
	// narration, intent pump) before any event fires. Called without the
	// room lock; authoritative reports whether this process hosts the
	// session.
	ConfigureSession func(sess *auction.Session, authoritative bool)

	Mu sync.Mutex
}

// NewRoom creates a room hosted by the given user, in the waiting phase,
// with the default franchise teams unclaimed.
func NewRoom(hostID, hostName string, rules auction.Rules) *Room {
	id, _ := uuid.NewRandom()
	r := &Room{
		ID:          id,
		Code:        NewCode(),
		HostID:      hostID,
		Rules:       rules,
		Members:     make(map[string]*models.RoomMember),
		Connections: make(map[string]*RoomConnection),
		phase:       models.RoomWaiting,
	}
	r.Members[hostID] = &models.RoomMember{
		UserID:   hostID,
		Username: hostName,
		IsHost:   true,
	}
	return r
}

// IsHost reports whether userID created this room.
func (r *Room) IsHost(userID string) bool {
	return userID == r.HostID
}

// AddConnection registers a live connection for userID, adding them to the
// roster if new. Rejoining replaces any previous connection. Acquires lock.
func (r *Room) AddConnection(userID, username string, conn *RoomConnection) error {
	r.Mu.Lock()

	if r.phase == models.RoomConcluded {
		r.Mu.Unlock()
		return fmt.Errorf("room %s has concluded", r.Code)
	}

	member, exists := r.Members[userID]
	if !exists {
		member = &models.RoomMember{UserID: userID, Username: username}
		r.Members[userID] = member
	}
	if username != "" {
		member.Username = username
	}
	conn.Username = member.Username
	conn.IsHost = member.IsHost

	if oldConn, ok := r.Connections[userID]; ok && oldConn != conn {
		log.Printf("Room %s: User %s is re-establishing connection.", r.Code, userID)
		close(oldConn.OutChan)
		if oldConn.Cancel != nil {
			oldConn.Cancel()
		}
	}
	r.Connections[userID] = conn

	log.Printf("Room %s: User %s (%s) connected.", r.Code, userID, member.Username)

	statePayload := r.roomStatePayloadLocked(userID)
	joinPayload := map[string]interface{}{
		"type":      "room_update",
		"user_join": userID,
		"username":  member.Username,
		"roster":    r.rosterPayloadLocked(),
	}
	r.Mu.Unlock()

	go func() {
		conn.Write(statePayload)
		r.BroadcastAll(joinPayload)
	}()
	r.publish()
	return nil
}

// RemoveUser drops the live connection for userID. During the waiting phase
// the roster entry is removed too (a departing participant frees their
// team); once the auction is active the claim persists so a rejoin resumes
// control. Acquires lock.
func (r *Room) RemoveUser(userID string) {
	r.Mu.Lock()

	conn, connExists := r.Connections[userID]
	if !connExists {
		r.Mu.Unlock()
		return
	}
	log.Printf("Room %s: Removing user %s.", r.Code, userID)

	go func(ch chan map[string]interface{}, cancelFunc func()) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("Room %s: Recovered from panic closing OutChan for user %s: %v", r.Code, userID, rec)
			}
		}()
		close(ch)
		if cancelFunc != nil {
			cancelFunc()
		}
	}(conn.OutChan, conn.Cancel)

	delete(r.Connections, userID)
	if r.phase == models.RoomWaiting && userID != r.HostID {
		if member, ok := r.Members[userID]; ok && member.TeamID != "" {
			r.releaseTeamLocked(member.TeamID)
		}
		delete(r.Members, userID)
	}

	leavePayload := map[string]interface{}{
		"type":      "room_update",
		"user_left": userID,
		"roster":    r.rosterPayloadLocked(),
	}
	isEmpty := len(r.Connections) == 0
	onEmpty := r.OnEmpty
	r.Mu.Unlock()

	r.BroadcastAll(leavePayload)
	r.publish()

	if isEmpty && onEmpty != nil {
		log.Printf("Room %s is now empty. Triggering OnEmpty callback.", r.Code)
		onEmpty(r.Code)
	}
}

// AddMember places a connectionless participant on the roster. This is how
// the host learns about a user who joined through another process: their
// live connection stays there, only the roster entry is shared. Acquires
// lock.
func (r *Room) AddMember(userID, username string) {
	r.Mu.Lock()
	if r.phase == models.RoomConcluded {
		r.Mu.Unlock()
		return
	}
	member, exists := r.Members[userID]
	if !exists {
		member = &models.RoomMember{UserID: userID, Username: username}
		r.Members[userID] = member
		log.Printf("Room %s: User %s (%s) joined via another process.", r.Code, userID, username)
	}
	if username != "" {
		member.Username = username
	}
	payload := map[string]interface{}{
		"type":      "room_update",
		"user_join": userID,
		"username":  member.Username,
		"roster":    r.rosterPayloadLocked(),
	}
	r.Mu.Unlock()

	r.BroadcastAll(payload)
	r.publish()
}

// RemoveMember drops a connectionless participant from the roster, with the
// same waiting-phase semantics as a local disconnect: the team claim is
// freed before the auction starts and kept once it is active. A user with a
// live connection here is left to RemoveUser. Acquires lock.
func (r *Room) RemoveMember(userID string) {
	r.Mu.Lock()
	if _, hasConn := r.Connections[userID]; hasConn {
		r.Mu.Unlock()
		return
	}
	member, ok := r.Members[userID]
	if !ok || r.phase != models.RoomWaiting || userID == r.HostID {
		r.Mu.Unlock()
		return
	}
	if member.TeamID != "" {
		r.releaseTeamLocked(member.TeamID)
	}
	delete(r.Members, userID)
	log.Printf("Room %s: User %s left via another process.", r.Code, userID)

	payload := map[string]interface{}{
		"type":      "room_update",
		"user_left": userID,
		"roster":    r.rosterPayloadLocked(),
	}
	r.Mu.Unlock()

	r.BroadcastAll(payload)
	r.publish()
}

// releaseTeamLocked returns a claimed team to bot control. Assumes lock is
// held and the session has not started.
func (r *Room) releaseTeamLocked(teamID string) {
	for _, t := range r.teamsLocked() {
		if t.ID == teamID {
			t.IsBot = true
			t.IsLocal = false
		}
	}
}

// teams backing the waiting phase, created lazily. Once the session exists
// it owns the team slice.
func (r *Room) teamsLocked() []*models.Team {
	if r.Session != nil {
		return r.Session.Teams
	}
	if r.lobbyTeams == nil {
		r.lobbyTeams = DefaultTeams(r.Rules.InitialBudget)
	}
	return r.lobbyTeams
}

// ChooseTeam assigns userID control of teamID. The choice is locked: a user
// cannot switch teams, and a claimed team cannot be taken. Acquires lock.
func (r *Room) ChooseTeam(userID, teamID string) error {
	r.Mu.Lock()

	if r.phase != models.RoomWaiting {
		r.Mu.Unlock()
		return fmt.Errorf("team choice is closed once the auction starts")
	}
	member, ok := r.Members[userID]
	if !ok {
		r.Mu.Unlock()
		return fmt.Errorf("user %s is not in room %s", userID, r.Code)
	}
	if member.TeamID != "" {
		r.Mu.Unlock()
		return fmt.Errorf("team choice is locked")
	}

	var team *models.Team
	for _, t := range r.teamsLocked() {
		if t.ID == teamID {
			team = t
			break
		}
	}
	if team == nil {
		r.Mu.Unlock()
		return fmt.Errorf("unknown team %s", teamID)
	}
	for _, m := range r.Members {
		if m.TeamID == teamID {
			r.Mu.Unlock()
			return fmt.Errorf("team %s is already taken", team.Name)
		}
	}

	member.TeamID = teamID
	team.IsBot = false

	log.Printf("Room %s: User %s claimed team %s.", r.Code, userID, team.Name)
	payload := map[string]interface{}{
		"type":     "team_claimed",
		"user_id":  userID,
		"username": member.Username,
		"team_id":  teamID,
		"roster":   r.rosterPayloadLocked(),
	}
	r.Mu.Unlock()

	r.BroadcastAll(payload)
	r.publish()
	return nil
}

// MarkReady toggles userID's ready flag. Readying up with no team claimed
// is rejected; spectating is joining without readying. Acquires lock.
func (r *Room) MarkReady(userID string, ready bool) error {
	r.Mu.Lock()

	member, ok := r.Members[userID]
	if !ok {
		r.Mu.Unlock()
		return fmt.Errorf("user %s is not in room %s", userID, r.Code)
	}
	if ready && member.TeamID == "" {
		r.Mu.Unlock()
		return fmt.Errorf("claim a team before readying up")
	}
	if member.Ready == ready {
		r.Mu.Unlock()
		return nil
	}
	member.Ready = ready
	log.Printf("Room %s: User %s ready=%v.", r.Code, userID, ready)

	payload := map[string]interface{}{
		"type":     "ready_update",
		"user_id":  userID,
		"username": member.Username,
		"is_ready": ready,
	}
	r.Mu.Unlock()

	r.BroadcastAll(payload)
	r.publish()
	return nil
}

// allReadyLocked reports whether every member with a team claim is ready.
// Assumes lock is held.
func (r *Room) allReadyLocked() bool {
	for _, m := range r.Members {
		if m.TeamID != "" && !m.Ready {
			return false
		}
	}
	return true
}

// RequestStart begins the auction if every claimed team's owner is ready.
// Otherwise it arms a grace timer and starts anyway when it fires, so one
// absent participant cannot stall the room forever. Host only.
func (r *Room) RequestStart(userID string, items []models.Item, grace time.Duration) error {
	r.Mu.Lock()
	if !r.IsHost(userID) {
		r.Mu.Unlock()
		return fmt.Errorf("only the host can start the auction")
	}
	if r.phase != models.RoomWaiting {
		r.Mu.Unlock()
		return fmt.Errorf("auction already started")
	}
	if r.Session != nil {
		r.Mu.Unlock()
		return fmt.Errorf("auction already starting")
	}

	if r.allReadyLocked() {
		r.Mu.Unlock()
		return r.Begin(items)
	}

	if r.readyTimer != nil {
		r.Mu.Unlock()
		return nil // grace period already running
	}
	log.Printf("Room %s: Not all participants ready; starting in %s.", r.Code, grace)
	r.readyTimer = time.AfterFunc(grace, func() {
		r.Mu.Lock()
		r.readyTimer = nil
		stale := r.phase != models.RoomWaiting || r.Session != nil
		r.Mu.Unlock()
		if stale {
			return
		}
		if err := r.Begin(items); err != nil {
			log.Printf("Room %s: Grace-period start failed: %v", r.Code, err)
		}
	})
	payload := map[string]interface{}{
		"type":    "start_pending",
		"seconds": int(grace.Seconds()),
	}
	r.Mu.Unlock()
	r.BroadcastAll(payload)
	return nil
}

// Begin constructs the authoritative session and starts the auction over a
// fresh shuffle of items. Team claims are frozen; unclaimed teams run as
// bots. Acquires lock.
func (r *Room) Begin(items []models.Item) error {
	r.Mu.Lock()
	if r.Remote {
		r.Mu.Unlock()
		return fmt.Errorf("room %s is hosted by another process", r.Code)
	}
	if r.phase != models.RoomWaiting || r.Session != nil {
		r.Mu.Unlock()
		return fmt.Errorf("auction already started")
	}
	if len(items) == 0 {
		r.Mu.Unlock()
		return fmt.Errorf("no items to auction")
	}
	if r.readyTimer != nil {
		r.readyTimer.Stop()
		r.readyTimer = nil
	}

	teams := r.teamsLocked()
	sess := auction.NewSession(r.Rules, teams)
	sess.RoomCode = r.Code
	sess.BroadcastFn = r.broadcastEvent
	sess.PublishFn = r.publishSession
	r.Session = sess
	r.phase = models.RoomActive
	configure := r.ConfigureSession
	r.Mu.Unlock()

	if configure != nil {
		configure(sess, true)
	}
	sess.Start(items)
	return nil
}

// broadcastEvent fans an auction event out to every live connection. Called
// with the session lock held, so it must not call back into the session.
func (r *Room) broadcastEvent(ev auction.Event) {
	r.BroadcastAll(map[string]interface{}{
		"type":  "auction_event",
		"event": ev,
	})
}

// publishSession mirrors an accepted session transition into the shared
// room record. Called with the session lock held.
func (r *Room) publishSession(snap auction.SessionSnapshot) {
	r.Mu.Lock()
	if snap.Phase == models.RoomConcluded {
		r.phase = models.RoomConcluded
	}
	publish := r.PublishSnapshot
	if publish == nil {
		r.Mu.Unlock()
		return
	}
	roomSnap := r.snapshotFromSessionLocked(snap)
	r.Mu.Unlock()

	publish(roomSnap)
}

// publish mirrors the room record after a roster-level change (join, team
// claim, ready toggle). Safe to call without the lock. The record version
// only ever advances on the process that publishes, so the host stays the
// single version authority and replicas cannot shadow its writes.
func (r *Room) publish() {
	r.Mu.Lock()
	var snap models.RoomSnapshot
	if r.Session != nil {
		// Roster change during an active session: fold in the live session
		// state so the record stays whole.
		sess := r.Session
		publish := r.PublishSnapshot
		r.Mu.Unlock()
		if publish == nil {
			return
		}
		sessionSnap := sess.Snapshot()
		r.Mu.Lock()
		snap = r.snapshotFromSessionLocked(sessionSnap)
		r.Mu.Unlock()
		publish(snap)
		return
	}
	publish := r.PublishSnapshot
	if publish == nil {
		r.Mu.Unlock()
		return
	}
	snap = r.snapshotFromSessionLocked(auction.SessionSnapshot{
		Phase: r.phase,
		Teams: copyTeams(r.teamsLocked()),
	})
	r.Mu.Unlock()
	publish(snap)
}

func copyTeams(teams []*models.Team) []models.Team {
	out := make([]models.Team, 0, len(teams))
	for _, t := range teams {
		tc := *t
		tc.Items = append([]models.Item(nil), t.Items...)
		out = append(out, tc)
	}
	return out
}

// snapshotFromSessionLocked builds the persisted room record from the room
// roster plus a session snapshot. Bumps the version. Assumes lock is held.
func (r *Room) snapshotFromSessionLocked(snap auction.SessionSnapshot) models.RoomSnapshot {
	r.version++
	members := make([]models.RoomMember, 0, len(r.Members))
	for _, m := range r.Members {
		members = append(members, *m)
	}
	return models.RoomSnapshot{
		Schema:    models.RoomSnapshotSchema,
		Code:      r.Code,
		HostID:    r.HostID,
		Phase:     snap.Phase,
		Version:   r.version,
		Members:   members,
		Teams:     snap.Teams,
		Queue:     snap.Queue,
		Carryover: snap.Carryover,
		Round:     snap.Round,
	}
}

// ApplyRemoteSnapshot folds a remote room record into a replica room. The
// single idempotent entry point for both the poll cycle and push
// notifications: stale or duplicate versions are dropped, unknown schema
// versions and malformed phases are ignored with a log line.
func (r *Room) ApplyRemoteSnapshot(snap *models.RoomSnapshot) {
	if snap.Schema != models.RoomSnapshotSchema {
		log.Printf("Room %s: ignoring snapshot with unknown schema %d", r.Code, snap.Schema)
		return
	}
	switch snap.Phase {
	case models.RoomWaiting, models.RoomActive, models.RoomConcluded:
	default:
		log.Printf("Room %s: ignoring snapshot with malformed phase %q", r.Code, snap.Phase)
		return
	}

	r.Mu.Lock()
	if snap.Version <= r.version {
		r.Mu.Unlock()
		return
	}
	r.version = snap.Version
	r.HostID = snap.HostID
	r.phase = snap.Phase

	members := make(map[string]*models.RoomMember, len(snap.Members))
	for i := range snap.Members {
		m := snap.Members[i]
		members[m.UserID] = &m
	}
	r.Members = members

	sess := r.Session
	var created *auction.Session
	if sess == nil && snap.Phase != models.RoomWaiting {
		sess = auction.NewReplicaSession(r.Rules, nil)
		sess.RoomCode = r.Code
		sess.BroadcastFn = r.broadcastEvent
		r.Session = sess
		created = sess
	}
	if sess == nil {
		// Still waiting: track the lobby teams from the record.
		lt := make([]*models.Team, 0, len(snap.Teams))
		for i := range snap.Teams {
			tc := snap.Teams[i]
			tc.Items = append([]models.Item(nil), snap.Teams[i].Items...)
			lt = append(lt, &tc)
		}
		r.lobbyTeams = lt
	}
	configure := r.ConfigureSession
	r.Mu.Unlock()

	if created != nil && configure != nil {
		configure(created, false)
	}
	if sess != nil {
		sess.ApplySnapshot(auction.SessionSnapshot{
			Phase:     snap.Phase,
			Round:     snap.Round,
			Teams:     snap.Teams,
			Queue:     snap.Queue,
			Carryover: snap.Carryover,
		})
	}

	// Local connections render the record, so every applied version is
	// pushed straight out to them.
	r.BroadcastAll(map[string]interface{}{
		"type":     "room_sync",
		"snapshot": snap,
	})
}

// Version returns the last published or applied room record version.
func (r *Room) Version() int64 {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	return r.version
}

// AuthoritativeSession returns the session when this process hosts it, nil
// for replicas and rooms that have not started.
func (r *Room) AuthoritativeSession() *auction.Session {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	if r.Session == nil || r.Session.IsReplica() {
		return nil
	}
	return r.Session
}

// TeamOf returns the team controlled by userID, or "" when they control
// none.
func (r *Room) TeamOf(userID string) string {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	if m, ok := r.Members[userID]; ok {
		return m.TeamID
	}
	return ""
}

// Phase returns the room lifecycle phase.
func (r *Room) Phase() models.RoomPhase {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	return r.phase
}

// BroadcastAll sends msg to every live connection. Acquires lock.
func (r *Room) BroadcastAll(msg map[string]interface{}) {
	r.Mu.Lock()
	conns := make([]*RoomConnection, 0, len(r.Connections))
	for _, conn := range r.Connections {
		conns = append(conns, conn)
	}
	r.Mu.Unlock()

	for _, conn := range conns {
		conn.Write(msg)
	}
}

// rosterPayloadLocked gathers current member status. Assumes lock is held.
func (r *Room) rosterPayloadLocked() []map[string]interface{} {
	roster := []map[string]interface{}{}
	for _, m := range r.Members {
		roster = append(roster, map[string]interface{}{
			"id":       m.UserID,
			"username": m.Username,
			"team_id":  m.TeamID,
			"is_host":  m.IsHost,
			"is_ready": m.Ready,
		})
	}
	return roster
}

// roomStatePayloadLocked prepares the full-state message sent to a newly
// connected user. Assumes lock is held.
func (r *Room) roomStatePayloadLocked(userID string) map[string]interface{} {
	teams := copyTeams(r.teamsLocked())
	return map[string]interface{}{
		"type":         "room_state",
		"room_code":    r.Code,
		"host_id":      r.HostID,
		"your_id":      userID,
		"your_is_host": userID == r.HostID,
		"phase":        r.phase,
		"teams":        teams,
		"roster":       r.rosterPayloadLocked(),
	}
}

// Teardown stops the room's timers and session.
func (r *Room) Teardown() {
	r.Mu.Lock()
	if r.readyTimer != nil {
		r.readyTimer.Stop()
		r.readyTimer = nil
	}
	sess := r.Session
	r.Mu.Unlock()
	if sess != nil {
		sess.Teardown()
	}
}
