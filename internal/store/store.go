// ABOUTME: Store interface and data types for tavola-gateway persistence
// ABOUTME: Defines Restaurant, Review structs and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrInvalidRating is returned when a review rating is outside 1..5
var ErrInvalidRating = errors.New("rating must be between 1 and 5")

// Restaurant represents a restaurant record
type Restaurant struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	StreetAddress string    `json:"street_address"`
	Description   string    `json:"description"`
	CreatedAt     time.Time `json:"created_at"`
}

// Review represents a single review of a restaurant
type Review struct {
	ID           int64     `json:"id"`
	RestaurantID int64     `json:"restaurant_id"`
	UserName     string    `json:"user_name"`
	Rating       int       `json:"rating"`
	ReviewText   string    `json:"review_text"`
	ReviewDate   time.Time `json:"review_date"`
}

// RestaurantSummary is a restaurant with its review aggregates
type RestaurantSummary struct {
	Restaurant
	AvgRating    *float64 `json:"avg_rating"`
	ReviewCount  int      `json:"review_count"`
	StarsPercent int      `json:"stars_percent"`
}

// Store defines the interface for restaurant and review persistence
type Store interface {
	// Restaurants
	ListRestaurants(ctx context.Context) ([]*RestaurantSummary, error)
	GetRestaurant(ctx context.Context, id int64) (*Restaurant, error)
	CreateRestaurant(ctx context.Context, r *Restaurant) error

	// Reviews
	ListReviews(ctx context.Context, restaurantID int64) ([]*Review, error)
	CreateReview(ctx context.Context, rev *Review) error

	// Lifecycle
	Close() error
}
