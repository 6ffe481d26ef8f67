// internal/catalog/catalog_test.go
package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anirbans/bidball/internal/models"
)

func writePlayerFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "players.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestFileProviderLoads(t *testing.T) {
	path := writePlayerFile(t, `[
		{"id":"p1","name":"Arjun","nationality":"India","position":"Forward","rating":91,"basePrice":2000000},
		{"id":"p2","name":"Bhuvi","nationality":"India","position":"Midfielder","rating":84,"basePrice":500000}
	]`)

	items, err := (&FileProvider{Path: path}).LoadItems(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Arjun", items[0].Name)
	assert.Equal(t, int64(2_000_000), items[0].BasePrice)
	assert.Equal(t, 91.0, items[0].Rating)
}

func TestFileProviderFailures(t *testing.T) {
	_, err := (&FileProvider{Path: "/nonexistent/players.json"}).LoadItems(context.Background())
	assert.Error(t, err)

	_, err = (&FileProvider{Path: writePlayerFile(t, "not-json")}).LoadItems(context.Background())
	assert.Error(t, err)

	_, err = (&FileProvider{Path: writePlayerFile(t, "[]")}).LoadItems(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable, "an empty catalog is unusable, not a success")
}

// stubProvider scripts one source in a fallback chain.
type stubProvider struct {
	items []models.Item
	err   error
	calls int
}

func (p *stubProvider) LoadItems(_ context.Context) ([]models.Item, error) {
	p.calls++
	return p.items, p.err
}

// TestChainFallsThrough verifies the chain stops at the first working
// source and reports unavailable only when every source fails.
func TestChainFallsThrough(t *testing.T) {
	broken := &stubProvider{err: errors.New("connection refused")}
	working := &stubProvider{items: []models.Item{{ID: "p1", Name: "Arjun"}}}
	never := &stubProvider{items: []models.Item{{ID: "p2"}}}

	items, err := Chain{broken, working, never}.LoadItems(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Arjun", items[0].Name)
	assert.Equal(t, 1, broken.calls)
	assert.Equal(t, 1, working.calls)
	assert.Zero(t, never.calls, "the chain stops at the first success")

	_, err = Chain{broken, &stubProvider{err: ErrUnavailable}}.LoadItems(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestSyntheticFallback(t *testing.T) {
	items := Synthetic(30)
	require.Len(t, items, 30)
	seen := map[string]bool{}
	for _, it := range items {
		assert.NotEmpty(t, it.Name)
		assert.GreaterOrEqual(t, it.BasePrice, int64(500_000))
		assert.False(t, seen[it.ID], "synthetic ids must be unique")
		seen[it.ID] = true
	}

	loaded := LoadOrSynthetic(context.Background(), Chain{&stubProvider{err: ErrUnavailable}}, 12)
	assert.Len(t, loaded, 12)

	real := LoadOrSynthetic(context.Background(), &stubProvider{items: []models.Item{{ID: "p1"}}}, 12)
	require.Len(t, real, 1)
	assert.Equal(t, "p1", real[0].ID)
}
