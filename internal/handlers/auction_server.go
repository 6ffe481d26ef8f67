// internal/handlers/auction_server.go
package handlers

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/anirbans/bidball/internal/auction"
	"github.com/anirbans/bidball/internal/cache"
	"github.com/anirbans/bidball/internal/catalog"
	"github.com/anirbans/bidball/internal/database"
	"github.com/anirbans/bidball/internal/models"
	"github.com/anirbans/bidball/internal/narrator"
	"github.com/anirbans/bidball/internal/room"
)

// ReadyGraceDefault is how long a host start waits for stragglers before
// proceeding with whoever is ready.
const ReadyGraceDefault = 15 * time.Second

// AuctionServer holds the in-memory room store and the collaborators every
// handler needs: the shared room record store, the sale recorder, and the
// item catalog.
type AuctionServer struct {
	Rooms   *room.Store
	Records *database.RoomStore // nil when running without Postgres
	Sales   auction.Sink        // nil when running without Postgres
	Catalog catalog.Provider

	Rules auction.Rules

	// CatalogFallbackSize is the synthetic catalog size when every provider
	// fails.
	CatalogFallbackSize int
}

// NewAuctionServer builds a server with default rules and an empty room
// store.
func NewAuctionServer() *AuctionServer {
	return &AuctionServer{
		Rooms:               room.NewStore(),
		Rules:               auction.DefaultRules(),
		CatalogFallbackSize: 30,
	}
}

// NewRoom creates and registers a hosted room, wiring cleanup, the outward
// snapshot mirror, and session decoration.
func (as *AuctionServer) NewRoom(hostID, hostName string) *room.Room {
	r := room.NewRoom(hostID, hostName, as.Rules)
	ctx, cancel := context.WithCancel(context.Background())
	r.OnEmpty = func(code string) {
		cancel()
		if rm, ok := as.Rooms.GetRoom(code); ok {
			rm.Teardown()
		}
		as.Rooms.DeleteRoom(code)
	}
	if as.Records != nil {
		room.AttachPublisher(r, as.Records)
	}
	r.ConfigureSession = as.sessionConfigurer(r)
	as.Rooms.AddRoom(r)

	// Drain remote intents from the moment the room exists, so joins and
	// team claims made through other processes land during the lobby, not
	// just once the auction starts.
	if cache.Rdb != nil {
		pump := &room.IntentPump{Room: r}
		go pump.Run(ctx)
	}
	return r
}

// NewReplicaRoom registers a local replica of a room record owned by
// another process and starts its sync loop.
func (as *AuctionServer) NewReplicaRoom(snap *models.RoomSnapshot) *room.Room {
	r := room.NewRoom(snap.HostID, "", as.Rules)
	r.Code = snap.Code
	r.Remote = true

	ctx, cancel := context.WithCancel(context.Background())
	r.OnEmpty = func(code string) {
		cancel()
		if rm, ok := as.Rooms.GetRoom(code); ok {
			rm.Teardown()
		}
		as.Rooms.DeleteRoom(code)
	}
	r.ConfigureSession = as.sessionConfigurer(r)
	r.ApplyRemoteSnapshot(snap)
	as.Rooms.AddRoom(r)

	sy := &room.Syncer{Room: r, Reader: as.Records}
	go func() {
		if err := sy.Run(ctx); err != nil && ctx.Err() == nil {
			log.Warnf("replica sync for room %s stopped: %v", r.Code, err)
			r.BroadcastAll(map[string]interface{}{
				"type":    "error",
				"message": "room no longer exists",
			})
		}
	}()
	return r
}

// sessionConfigurer returns the hook that decorates a room's session the
// moment it is built: narration on every session, plus the persistence sink
// when this process is the host.
func (as *AuctionServer) sessionConfigurer(r *room.Room) func(sess *auction.Session, authoritative bool) {
	return func(sess *auction.Session, authoritative bool) {
		n := narrator.New()
		inner := sess.BroadcastFn
		sess.BroadcastFn = func(ev auction.Event) {
			if line := n.Observe(ev); line != "" {
				r.BroadcastAll(map[string]interface{}{
					"type":    "auctioneer",
					"message": line,
				})
			}
			if authoritative {
				queueBidHistory(r.Code, ev)
			}
			if inner != nil {
				inner(ev)
			}
		}
		if !authoritative {
			return
		}
		sess.Sink = as.Sales
		sess.OnEnd = func(report auction.ConclusionReport) {
			log.Infof("Room %s: auction concluded, %d teams, %d shortfalls, %d unsold",
				r.Code, len(report.Teams), len(report.Shortfalls), len(report.Unsold))
		}
	}
}

// queueBidHistory mirrors bid outcomes onto the historian queue.
// Fire-and-forget: a full or absent Redis never slows the engine.
func queueBidHistory(roomCode string, ev auction.Event) {
	var kind string
	switch ev.Type {
	case auction.EventBidPlaced:
		kind = "bid"
	case auction.EventSold:
		kind = "sold"
	case auction.EventUnsold:
		kind = "unsold"
	default:
		return
	}
	if cache.Rdb == nil || ev.Item == nil {
		return
	}
	rec := cache.BidRecord{
		RoomCode:  roomCode,
		ItemID:    ev.Item.ID,
		ItemName:  ev.Item.Name,
		TeamID:    ev.TeamID,
		Amount:    ev.Amount,
		Kind:      kind,
		Timestamp: time.Now().UnixMilli(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := cache.QueueBidRecord(ctx, rec); err != nil {
			log.Warnf("Room %s: failed to queue bid record: %v", roomCode, err)
		}
	}()
}

// ResolveRoom finds the room for a join code: the local store first, then
// the shared room record, which materializes a synced replica. A missing
// record surfaces database.ErrRoomNotFound.
func (as *AuctionServer) ResolveRoom(ctx context.Context, code string) (*room.Room, error) {
	if rm, ok := as.Rooms.GetRoom(code); ok {
		return rm, nil
	}
	if as.Records == nil {
		return nil, database.ErrRoomNotFound
	}
	snap, err := as.Records.ReadRoom(ctx, code)
	if err != nil {
		return nil, err
	}
	return as.NewReplicaRoom(snap), nil
}

// StartAuction loads the catalog and asks the room to begin.
func (as *AuctionServer) StartAuction(ctx context.Context, r *room.Room, userID string) error {
	items := catalog.LoadOrSynthetic(ctx, as.Catalog, as.CatalogFallbackSize)
	return r.RequestStart(userID, items, ReadyGraceDefault)
}
