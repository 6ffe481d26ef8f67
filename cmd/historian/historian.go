// cmd/historian/historian.go is an asynchronous historian service that pops
// bid records from a Redis queue and persists them to a PostgreSQL database.
// It also reaps room records that have gone stale.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/joho/godotenv/autoload"
	"github.com/redis/go-redis/v9"

	"github.com/anirbans/bidball/internal/cache"
	"github.com/anirbans/bidball/internal/database"
)

// BidHistorian encapsulates the Redis + DB logic for capturing bid history
// and deleting room records abandoned beyond an inactivity threshold.
type BidHistorian struct {
	redisClient *redis.Client
	batchSize   int
	flushDelay  time.Duration
	staleAfter  time.Duration // age at which a room record is reaped

	batchMu  sync.Mutex
	batch    []cache.BidRecord
	persist  func(ctx context.Context, recs []cache.BidRecord) error
	ctx      context.Context
	cancelFn context.CancelFunc
}

// NewBidHistorian constructs a BidHistorian from environment variables or defaults.
func NewBidHistorian() *BidHistorian {
	batchSize := getEnvInt("HISTORIAN_BATCH_SIZE", 20)
	flushMs := getEnvInt("HISTORIAN_FLUSH_MS", 500)
	staleSec := getEnvInt("ROOM_STALE_TIMEOUT_SEC", 3600) // default 1 hour

	redisAddr := getEnv("REDIS_ADDR", "localhost:6379")
	rdb := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx, cancel := context.WithCancel(context.Background())
	bh := &BidHistorian{
		redisClient: rdb,
		batchSize:   batchSize,
		flushDelay:  time.Duration(flushMs) * time.Millisecond,
		staleAfter:  time.Duration(staleSec) * time.Second,
		batch:       make([]cache.BidRecord, 0, batchSize),
		ctx:         ctx,
		cancelFn:    cancel,
	}
	bh.persist = bh.writeBatch
	return bh
}

// Run starts the two main loops:
//  1. A loop that reads from the Redis queue, accumulates records in a batch, and flushes them to the DB.
//  2. A periodic reaper that deletes room records past the staleness threshold.
func (bh *BidHistorian) Run() {
	database.ConnectDB()

	go bh.readRedisLoop()
	go bh.reaperLoop()

	log.Println("bidball-historian service started.")
	<-bh.ctx.Done()
	log.Println("bidball-historian shutting down.")
}

// readRedisLoop continuously uses BLPop to retrieve bid records from the Redis queue.
func (bh *BidHistorian) readRedisLoop() {
	ticker := time.NewTicker(bh.flushDelay)
	defer ticker.Stop()

	queueName := getEnv("HISTORIAN_QUEUE_NAME", cache.BidQueueName)

	for {
		select {
		case <-bh.ctx.Done():
			return

		case <-ticker.C:
			bh.flushBatchToDB()

		default:
			// Use BLPop with a 3-second timeout so that context cancellation is handled.
			res, err := bh.redisClient.BLPop(bh.ctx, 3*time.Second, queueName).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				log.Printf("[ERROR] BLPop: %v\n", err)
				continue
			}
			if len(res) < 2 {
				// No message popped.
				continue
			}

			// res[0] is the queue name and res[1] the payload.
			var record cache.BidRecord
			if err := json.Unmarshal([]byte(res[1]), &record); err != nil {
				log.Printf("invalid bid record: %v\n", err)
				continue
			}
			bh.appendToBatch(record)
		}
	}
}

// appendToBatch adds a record to the in-memory batch and flushes if the threshold is reached.
func (bh *BidHistorian) appendToBatch(record cache.BidRecord) {
	bh.batchMu.Lock()
	defer bh.batchMu.Unlock()

	bh.batch = append(bh.batch, record)
	if len(bh.batch) >= bh.batchSize {
		bh.flushLocked()
	}
}

// flushBatchToDB flushes the current batch to the database in a single transaction.
func (bh *BidHistorian) flushBatchToDB() {
	bh.batchMu.Lock()
	defer bh.batchMu.Unlock()
	bh.flushLocked()
}

// flushLocked hands the pending batch to the persist func and resets it.
// Callers must hold batchMu.
func (bh *BidHistorian) flushLocked() {
	if len(bh.batch) == 0 {
		return
	}
	batchCopy := make([]cache.BidRecord, len(bh.batch))
	copy(batchCopy, bh.batch)
	bh.batch = bh.batch[:0]

	if err := bh.persist(context.Background(), batchCopy); err != nil {
		log.Printf("[ERROR] flush bid history: %v\n", err)
	} else {
		log.Printf("Flushed %d bid records to DB.\n", len(batchCopy))
	}
}

// writeBatch persists a batch of bid records in a single transaction.
func (bh *BidHistorian) writeBatch(ctx context.Context, recs []cache.BidRecord) error {
	return beginTxFunc(ctx, database.DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, rec := range recs {
			if err := insertBidRecordTx(ctx, tx, rec); err != nil {
				return fmt.Errorf("insertBidRecordTx: %w", err)
			}
		}
		return nil
	})
}

// reaperLoop periodically deletes room records whose last update is older
// than the staleness threshold. Live rooms republish on every transition,
// so anything this old is an abandoned record.
func (bh *BidHistorian) reaperLoop() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-bh.ctx.Done():
			return

		case <-ticker.C:
			ctx := context.Background()
			tag, err := database.DB.Exec(ctx, `DELETE FROM rooms WHERE updated_at < NOW() - $1::interval`,
				fmt.Sprintf("%d seconds", int(bh.staleAfter.Seconds())))
			if err != nil {
				log.Printf("failed to reap stale rooms: %v", err)
				continue
			}
			if n := tag.RowsAffected(); n > 0 {
				log.Printf("Reaped %d stale room record(s).", n)
			}
		}
	}
}

// insertBidRecordTx inserts a single bid record into the bid_history table.
func insertBidRecordTx(ctx context.Context, tx pgx.Tx, rec cache.BidRecord) error {
	q := `
		INSERT INTO bid_history (
			room_code, item_id, item_name, team_id, amount, kind, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := tx.Exec(ctx, q,
		rec.RoomCode, rec.ItemID, rec.ItemName, rec.TeamID, rec.Amount, rec.Kind,
		time.UnixMilli(rec.Timestamp),
	)
	return err
}

// beginTxFunc is a helper that starts a transaction using the provided pool,
// calls the function f with the transaction, and commits or rollbacks as needed.
func beginTxFunc(ctx context.Context, pool *pgxpool.Pool, txOptions pgx.TxOptions, f func(tx pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, txOptions)
	if err != nil {
		return err
	}
	if err := f(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("tx rollback error: %v; original error: %w", rbErr, err)
		}
		return err
	}
	return tx.Commit(ctx)
}

// Stop gracefully stops the historian service.
func (bh *BidHistorian) Stop() {
	bh.cancelFn()
}

// main is the entrypoint.
func main() {
	bh := NewBidHistorian()
	go bh.Run()

	sigChan := make(chan os.Signal, 1)
	<-sigChan
	bh.Stop()
	log.Println("Historian shutdown complete.")
}

// getEnv retrieves an environment variable's value or returns a default.
func getEnv(key, defVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defVal
}

// getEnvInt retrieves an integer value from an environment variable or returns a default value.
func getEnvInt(key string, defVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defVal
	}
	return i
}
