// internal/database/room.go
package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/anirbans/bidball/internal/models"
)

// ErrRoomNotFound reports a room code with no backing record. Callers treat
// it as a hard configuration error, not a retry condition.
var ErrRoomNotFound = errors.New("room not found")

// RoomStore persists shared room records as single JSONB rows. Writes are
// unconditional overwrites: last write wins by design, with the host's
// snapshot acting as the tie-breaker at the protocol level.
type RoomStore struct {
	Pool *pgxpool.Pool
}

func NewRoomStore(pool *pgxpool.Pool) *RoomStore {
	return &RoomStore{Pool: pool}
}

// ReadRoom fetches the current snapshot for a room code.
func (s *RoomStore) ReadRoom(ctx context.Context, code string) (*models.RoomSnapshot, error) {
	var data []byte
	err := s.Pool.QueryRow(ctx, `SELECT snapshot FROM rooms WHERE code = $1`, code).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read room %s: %w", code, err)
	}

	var snap models.RoomSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode room %s snapshot: %w", code, err)
	}
	return &snap, nil
}

// WriteRoom replaces the room record wholesale.
func (s *RoomStore) WriteRoom(ctx context.Context, snap *models.RoomSnapshot) error {
	snap.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode room %s snapshot: %w", snap.Code, err)
	}
	_, err = s.Pool.Exec(ctx, `
		INSERT INTO rooms (code, snapshot, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (code) DO UPDATE SET snapshot = $2, updated_at = $3
	`, snap.Code, data, snap.UpdatedAt)
	if err != nil {
		return fmt.Errorf("write room %s: %w", snap.Code, err)
	}
	return nil
}

// DeleteRoom removes a room record, typically when the host tears down.
func (s *RoomStore) DeleteRoom(ctx context.Context, code string) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM rooms WHERE code = $1`, code)
	if err != nil {
		return fmt.Errorf("delete room %s: %w", code, err)
	}
	return nil
}
