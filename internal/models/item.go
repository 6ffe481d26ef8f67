// internal/models/item.go
package models

// Item is a catalog entry up for auction (a player, in domain terms).
// Items are loaded once at session start and never mutated afterwards.
type Item struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Nationality string  `json:"nationality"`
	Position    string  `json:"position"` // Goalkeeper, Defender, Midfielder, Forward
	Rating      float64 `json:"rating"`
	BasePrice   int64   `json:"basePrice"`
}
