package models

import "time"

// MenuItem is one dish on a published menu.
type MenuItem struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Price    float64  `json:"price"`
	Calories float64  `json:"calories,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// Menu is the cached menu for one day.
type Menu struct {
	Date      string     `json:"date"` // YYYY-MM-DD
	Items     []MenuItem `json:"items"`
	FetchedAt time.Time  `json:"fetched_at"`
}

// CartLine is one dish plus quantity in the local cart.
type CartLine struct {
	ItemID   string  `json:"item_id"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

// Order is a locally committed checkout awaiting sync.
type Order struct {
	ID       string     `json:"id"`
	ServerID string     `json:"server_id,omitempty"`
	Lines    []CartLine `json:"lines"`
	Total    float64    `json:"total"`
	PlacedAt time.Time  `json:"placed_at"`
	Synced   bool       `json:"synced"`
}
