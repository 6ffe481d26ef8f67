// internal/room/sync.go
package room

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/anirbans/bidball/internal/cache"
	"github.com/anirbans/bidball/internal/database"
	"github.com/anirbans/bidball/internal/models"
)

// RecordReader reads the shared room record. Satisfied by
// database.RoomStore; tests substitute an in-memory reader.
type RecordReader interface {
	ReadRoom(ctx context.Context, code string) (*models.RoomSnapshot, error)
}

// RecordWriter persists the shared room record. Satisfied by
// database.RoomStore.
type RecordWriter interface {
	WriteRoom(ctx context.Context, snap *models.RoomSnapshot) error
}

// Syncer keeps a replica room converged on the shared room record. One
// goroutine drains both a 1s poll ticker and the push-notification channel
// into the room's single idempotent apply entry point, so duplicate or
// out-of-order delivery costs nothing.
type Syncer struct {
	Room   *Room
	Reader RecordReader

	// PollInterval defaults to one second.
	PollInterval time.Duration

	// Subscribe opens the push feed for a room code. Defaults to the redis
	// room channel; tests substitute a local channel.
	Subscribe func(ctx context.Context, code string) (<-chan *models.RoomSnapshot, func())
}

// Run blocks until ctx is cancelled or the room record disappears. A
// missing room record is a hard configuration error, never retried: the
// caller tears the replica down and surfaces the failure to the client.
func (sy *Syncer) Run(ctx context.Context) error {
	interval := sy.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	subscribe := sy.Subscribe
	if subscribe == nil {
		subscribe = cache.SubscribeRoom
	}

	pushCh, unsubscribe := subscribe(ctx, sy.Room.Code)
	defer unsubscribe()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok := <-pushCh:
			if !ok {
				pushCh = nil // poll cycle carries on alone
				continue
			}
			sy.Room.ApplyRemoteSnapshot(snap)
		case <-ticker.C:
			snap, err := sy.Reader.ReadRoom(ctx, sy.Room.Code)
			if err != nil {
				if errors.Is(err, database.ErrRoomNotFound) {
					return fmt.Errorf("room record %s vanished: %w", sy.Room.Code, err)
				}
				log.Printf("Syncer %s: poll failed: %v", sy.Room.Code, err)
				continue
			}
			sy.Room.ApplyRemoteSnapshot(snap)
		}
	}
}

// AttachPublisher wires the room's outward mirror: every published snapshot
// is UPSERTed as the room row and announced on the room change channel.
// Both writes are fire-and-forget; storage failures degrade multi-party
// sync, never the local auction.
func AttachPublisher(r *Room, writer RecordWriter) {
	r.PublishSnapshot = func(snap models.RoomSnapshot) {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if writer != nil {
				if err := writer.WriteRoom(ctx, &snap); err != nil {
					log.Printf("Room %s: failed to persist snapshot v%d: %v", snap.Code, snap.Version, err)
				}
			}
			if cache.Rdb != nil {
				if err := cache.PublishRoomChange(ctx, &snap); err != nil {
					log.Printf("Room %s: failed to announce snapshot v%d: %v", snap.Code, snap.Version, err)
				}
			}
		}()
	}
}

// IntentPump drains the room's intent channel on the host process, from
// room creation until teardown. Non-host processes never mutate the shared
// room state themselves; every join, team claim, ready toggle, bid, and
// skip made through them arrives here as an intent, is committed against
// the authoritative room, and flows back out via the published snapshot.
type IntentPump struct {
	Room *Room

	// Subscribe opens the intent feed for a room code. Defaults to the redis
	// intent channel; tests substitute a local channel.
	Subscribe func(ctx context.Context, code string) (<-chan cache.Intent, func())
}

// Run blocks until ctx is cancelled or the feed closes.
func (p *IntentPump) Run(ctx context.Context) {
	subscribe := p.Subscribe
	if subscribe == nil {
		subscribe = cache.SubscribeIntents
	}
	intents, unsubscribe := subscribe(ctx, p.Room.Code)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case intent, ok := <-intents:
			if !ok {
				return
			}
			p.apply(intent)
		}
	}
}

// apply commits one remote intent against the authoritative room.
func (p *IntentPump) apply(intent cache.Intent) {
	r := p.Room
	switch intent.Action {
	case cache.IntentJoin:
		r.AddMember(intent.UserID, intent.Username)
	case cache.IntentLeave:
		r.RemoveMember(intent.UserID)
	case cache.IntentClaimTeam:
		if err := r.ChooseTeam(intent.UserID, intent.TeamID); err != nil {
			log.Printf("Room %s: rejecting remote team claim from %s: %v", r.Code, intent.UserID, err)
		}
	case cache.IntentReady:
		if err := r.MarkReady(intent.UserID, true); err != nil {
			log.Printf("Room %s: rejecting remote ready from %s: %v", r.Code, intent.UserID, err)
		}
	case cache.IntentUnready:
		if err := r.MarkReady(intent.UserID, false); err != nil {
			log.Printf("Room %s: rejecting remote unready from %s: %v", r.Code, intent.UserID, err)
		}
	case cache.IntentBid, cache.IntentSkip:
		if !r.AuthorizeIntent(intent.UserID, intent.TeamID) {
			log.Printf("Room %s: dropping %s intent from %s for team %s (not the controller)", r.Code, intent.Action, intent.UserID, intent.TeamID)
			return
		}
		sess := r.AuthoritativeSession()
		if sess == nil {
			log.Printf("Room %s: dropping %s intent from %s, no active auction here", r.Code, intent.Action, intent.UserID)
			return
		}
		if intent.Action == cache.IntentBid {
			sess.PlaceBid(intent.TeamID)
		} else {
			sess.Skip(intent.TeamID)
		}
	default:
		log.Printf("Room %s: dropping intent with unknown action %q", r.Code, intent.Action)
	}
}

// AuthorizeIntent reports whether userID controls teamID in this room.
func (r *Room) AuthorizeIntent(userID, teamID string) bool {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	member, ok := r.Members[userID]
	return ok && member.TeamID != "" && member.TeamID == teamID
}
