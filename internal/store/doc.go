// Package store provides persistence for tavola-gateway.
//
// # Overview
//
// The Store interface covers restaurant and review CRUD plus the aggregate
// listing used by the list_restaurants tool (average rating, review count,
// stars percentage). SQLiteStore is the production implementation, backed
// by modernc.org/sqlite with WAL mode and foreign keys enabled.
//
// # Schema
//
// Two tables, created automatically on first open:
//
//	restaurants(id, name, street_address, description, created_at)
//	reviews(id, restaurant_id, user_name, rating, review_text, review_date)
//
// Ratings are constrained to 1..5 both by a CHECK constraint and by
// CreateReview.
//
// # Seeding
//
// Seed loads an optional TOML fixture into an empty store:
//
//	[[restaurant]]
//	name = "Osteria Nera"
//	street_address = "12 Via Roma"
//	description = "Small plates, big opinions"
//
//	  [[restaurant.reviews]]
//	  user_name = "ada"
//	  rating = 5
//	  review_text = "Perfect carbonara"
//
// Seeding is a no-op when the store already contains restaurants.
package store
