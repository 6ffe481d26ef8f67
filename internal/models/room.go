// internal/models/room.go
package models

import "time"

// RoomSnapshotSchema is the schema version stamped on every published room
// snapshot. Readers ignore snapshots carrying any other value.
const RoomSnapshotSchema = 1

// RoomPhase is the lifecycle of a shared room record.
type RoomPhase string

const (
	RoomWaiting   RoomPhase = "waiting"
	RoomActive    RoomPhase = "active"
	RoomConcluded RoomPhase = "concluded"
)

// RoundPhase is the per-round state machine phase.
type RoundPhase string

const (
	RoundIdle      RoundPhase = "idle"
	RoundOpen      RoundPhase = "open"
	RoundResolving RoundPhase = "resolving"
	RoundSold      RoundPhase = "sold"
	RoundUnsold    RoundPhase = "unsold"
)

// RoundSnapshot is the wire form of one bidding round. It is always
// replaced wholesale, never field-patched.
type RoundSnapshot struct {
	RoundID        int        `json:"roundId"`
	Item           Item       `json:"item"`
	LeadingPrice   int64      `json:"leadingPrice"`
	LeaderID       string     `json:"leaderId,omitempty"` // empty = no leader
	Skipped        []string   `json:"skipped,omitempty"`
	Countdown      int        `json:"countdown"`
	Phase          RoundPhase `json:"phase"`
	ReAuctionRound int        `json:"reAuctionRound"`
}

// RoomMember is one participant's entry in the shared roster.
type RoomMember struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	TeamID   string `json:"teamId,omitempty"` // locked team choice
	IsHost   bool   `json:"isHost"`
	Ready    bool   `json:"ready"`
}

// RoomSnapshot is the externally persisted shared room record. Any
// participant's process may propose a write; storage is last-write-wins.
type RoomSnapshot struct {
	Schema  int       `json:"schema"`
	Code    string    `json:"code"`
	HostID  string    `json:"hostId"`
	Phase   RoomPhase `json:"phase"`
	Version int64     `json:"version"`

	Members   []RoomMember   `json:"members"`
	Teams     []Team         `json:"teams,omitempty"`
	Queue     []Item         `json:"queue,omitempty"`
	Carryover []Item         `json:"carryover,omitempty"`
	Round     *RoundSnapshot `json:"round,omitempty"`

	UpdatedAt time.Time `json:"updatedAt"`
}
