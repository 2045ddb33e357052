package models

import (
	"time"

	"github.com/google/uuid"
)

// Listing carries only the slice of the listings table the transaction
// engine reads: the seller linkage and the return policy. Listing CRUD and
// search live outside this service.
type Listing struct {
	ID               uuid.UUID `json:"id"`
	SellerID         uuid.UUID `json:"seller_id"`
	Title            string    `json:"title"`
	AcceptsReturns   bool      `json:"accepts_returns"`
	ReturnWindowDays int       `json:"return_window_days"`
	CreatedAt        time.Time `json:"created_at"`
}
