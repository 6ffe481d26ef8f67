// internal/catalog/catalog.go
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/anirbans/bidball/internal/models"
)

// ErrUnavailable reports that a catalog source could not produce items.
var ErrUnavailable = errors.New("catalog unavailable")

// Provider loads the item pool for an auction session.
type Provider interface {
	LoadItems(ctx context.Context) ([]models.Item, error)
}

// PostgresProvider reads the players table.
type PostgresProvider struct {
	Pool *pgxpool.Pool
}

func (p *PostgresProvider) LoadItems(ctx context.Context) ([]models.Item, error) {
	if p.Pool == nil {
		return nil, ErrUnavailable
	}
	rows, err := p.Pool.Query(ctx, `
		SELECT id, name, nationality, position, rating, base_price
		FROM players
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query players: %w", err)
	}
	defer rows.Close()

	var items []models.Item
	for rows.Next() {
		var it models.Item
		if err := rows.Scan(&it.ID, &it.Name, &it.Nationality, &it.Position, &it.Rating, &it.BasePrice); err != nil {
			return nil, fmt.Errorf("scan player row: %w", err)
		}
		items = append(items, it)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("read player rows: %w", rows.Err())
	}
	if len(items) == 0 {
		return nil, ErrUnavailable
	}
	return items, nil
}

// FileProvider reads a bundled JSON player file.
type FileProvider struct {
	Path string
}

func (p *FileProvider) LoadItems(ctx context.Context) ([]models.Item, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p.Path, err)
	}
	var items []models.Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parse %s: %w", p.Path, err)
	}
	if len(items) == 0 {
		return nil, ErrUnavailable
	}
	return items, nil
}

// Chain tries each provider in order and returns the first successful load.
type Chain []Provider

func (c Chain) LoadItems(ctx context.Context) ([]models.Item, error) {
	for _, p := range c {
		items, err := p.LoadItems(ctx)
		if err == nil {
			return items, nil
		}
		log.Printf("catalog: source failed, trying next: %v", err)
	}
	return nil, ErrUnavailable
}

// Synthetic generates a degenerate item set so a session can still start
// when every real source fails. Documented fallback, not silent data loss.
func Synthetic(n int) []models.Item {
	items := make([]models.Item, n)
	for i := range items {
		items[i] = models.Item{
			ID:          fmt.Sprintf("synthetic-%d", i+1),
			Name:        fmt.Sprintf("Player %d", i+1),
			Nationality: "Unknown",
			Position:    "Midfielder",
			Rating:      80 + rand.Float64()*15,
			BasePrice:   500_000 + rand.Int63n(1_000_000),
		}
	}
	return items
}

// LoadOrSynthetic loads items from the provider, logging and substituting a
// synthetic set of fallbackSize on failure.
func LoadOrSynthetic(ctx context.Context, p Provider, fallbackSize int) []models.Item {
	items, err := p.LoadItems(ctx)
	if err != nil {
		log.Printf("catalog: all sources unavailable, using %d synthetic players: %v", fallbackSize, err)
		return Synthetic(fallbackSize)
	}
	return items
}
