// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/anirbans/bidball/internal/models"
)

// Rdb is the global Redis client. Connect it once at application startup.
var Rdb *redis.Client

// Intent actions. Bids and skips target the engine; the rest are roster
// changes a non-host process cannot apply authoritatively itself.
const (
	IntentBid       = "bid"
	IntentSkip      = "skip"
	IntentJoin      = "join"
	IntentLeave     = "leave"
	IntentClaimTeam = "claim_team"
	IntentReady     = "ready"
	IntentUnready   = "unready"
)

// Intent is a request from a non-host process. Only the host commits
// intents; replicas never resolve rounds or mutate the shared roster
// locally, they wait for the host's snapshot to echo the change back.
type Intent struct {
	RoomCode string `json:"roomCode"`
	TeamID   string `json:"teamId,omitempty"`
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
	Action   string `json:"action"`
}

// ConnectRedis initializes the global Redis client with environment
// variables:
//   - REDIS_ADDR (default "localhost:6379")
//   - REDIS_DB (optional, default 0)
func ConnectRedis() error {
	addr := getEnv("REDIS_ADDR", "localhost:6379")
	dbIdx := getEnvInt("REDIS_DB", 0)

	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   dbIdx,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		// Leave Rdb nil so callers gating on it keep running in
		// single-process mode instead of talking to a dead server.
		_ = client.Close()
		return fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	Rdb = client
	return nil
}

func roomChannel(code string) string {
	return "bidball_room:" + code
}

func intentChannel(code string) string {
	return "bidball_intents:" + code
}

// PublishRoomChange pushes a full room snapshot to the room's change
// channel. Subscribers feed it into the same idempotent apply path as the
// poll cycle, so duplicate delivery is harmless.
func PublishRoomChange(ctx context.Context, snap *models.RoomSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal room snapshot: %w", err)
	}
	if err := Rdb.Publish(ctx, roomChannel(snap.Code), data).Err(); err != nil {
		return fmt.Errorf("publish room change for %s: %w", snap.Code, err)
	}
	return nil
}

// SubscribeRoom delivers pushed room snapshots on a channel until the
// returned unsubscribe func is called. Malformed payloads are dropped with
// a log line.
func SubscribeRoom(ctx context.Context, code string) (<-chan *models.RoomSnapshot, func()) {
	sub := Rdb.Subscribe(ctx, roomChannel(code))
	out := make(chan *models.RoomSnapshot, 8)

	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var snap models.RoomSnapshot
			if err := json.Unmarshal([]byte(msg.Payload), &snap); err != nil {
				log.Printf("cache: dropping malformed room change for %s: %v", code, err)
				continue
			}
			select {
			case out <- &snap:
			default:
				// Slow consumer: the poll cycle will catch it up.
			}
		}
	}()

	return out, func() { _ = sub.Close() }
}

// PublishIntent sends a bid/skip intent toward the host process.
func PublishIntent(ctx context.Context, intent Intent) error {
	data, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("marshal intent: %w", err)
	}
	if err := Rdb.Publish(ctx, intentChannel(intent.RoomCode), data).Err(); err != nil {
		return fmt.Errorf("publish intent for %s: %w", intent.RoomCode, err)
	}
	return nil
}

// SubscribeIntents delivers intents for a room. The host subscribes once
// per session and commits valid intents to its authoritative engine.
func SubscribeIntents(ctx context.Context, code string) (<-chan Intent, func()) {
	sub := Rdb.Subscribe(ctx, intentChannel(code))
	out := make(chan Intent, 32)

	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var intent Intent
			if err := json.Unmarshal([]byte(msg.Payload), &intent); err != nil {
				log.Printf("cache: dropping malformed intent for %s: %v", code, err)
				continue
			}
			select {
			case out <- intent:
			default:
				log.Printf("cache: intent channel full for %s, dropping", code)
			}
		}
	}()

	return out, func() { _ = sub.Close() }
}

// BidQueueName is the Redis list the historian drains.
const BidQueueName = "bidball_bids"

// BidRecord is one bid-history entry pushed onto the historian queue.
type BidRecord struct {
	RoomCode  string `json:"room_code"`
	ItemID    string `json:"item_id"`
	ItemName  string `json:"item_name"`
	TeamID    string `json:"team_id"`
	Amount    int64  `json:"amount"`
	Kind      string `json:"kind"` // "bid", "sold" or "unsold"
	Timestamp int64  `json:"timestamp"`
}

// QueueBidRecord appends a bid-history entry to the historian queue.
func QueueBidRecord(ctx context.Context, rec BidRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal bid record: %w", err)
	}
	if err := Rdb.RPush(ctx, BidQueueName, data).Err(); err != nil {
		return fmt.Errorf("queue bid record for %s: %w", rec.RoomCode, err)
	}
	return nil
}

// getEnv is a helper to read an environment variable or return a default value.
func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvInt is a helper to parse an environment variable as integer, else a default value.
func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
