// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides restaurant/review persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS restaurants (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			street_address TEXT NOT NULL,
			description TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS reviews (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			restaurant_id INTEGER NOT NULL,
			user_name TEXT NOT NULL,
			rating INTEGER NOT NULL,
			review_text TEXT NOT NULL,
			review_date DATETIME NOT NULL,
			FOREIGN KEY (restaurant_id) REFERENCES restaurants(id),
			CHECK (rating BETWEEN 1 AND 5)
		);

		CREATE INDEX IF NOT EXISTS idx_reviews_restaurant_id
			ON reviews(restaurant_id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// ListRestaurants returns all restaurants with their review aggregates.
// stars_percent is the average rating as a percentage of five stars,
// rounded to the nearest integer, or 0 for unreviewed restaurants.
func (s *SQLiteStore) ListRestaurants(ctx context.Context) ([]*RestaurantSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.name, r.street_address, r.description, r.created_at,
		       AVG(v.rating), COUNT(v.id)
		FROM restaurants r
		LEFT JOIN reviews v ON v.restaurant_id = r.id
		GROUP BY r.id
		ORDER BY r.id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying restaurants: %w", err)
	}
	defer rows.Close()

	var result []*RestaurantSummary
	for rows.Next() {
		var summary RestaurantSummary
		var avg sql.NullFloat64
		if err := rows.Scan(&summary.ID, &summary.Name, &summary.StreetAddress,
			&summary.Description, &summary.CreatedAt, &avg, &summary.ReviewCount); err != nil {
			return nil, fmt.Errorf("scanning restaurant: %w", err)
		}
		if avg.Valid && summary.ReviewCount > 0 {
			v := avg.Float64
			summary.AvgRating = &v
			summary.StarsPercent = int(v/5.0*100 + 0.5)
		}
		result = append(result, &summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating restaurants: %w", err)
	}
	return result, nil
}

// GetRestaurant retrieves a restaurant by its ID.
// Returns ErrNotFound if no restaurant exists with that ID.
func (s *SQLiteStore) GetRestaurant(ctx context.Context, id int64) (*Restaurant, error) {
	var r Restaurant
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, street_address, description, created_at
		FROM restaurants WHERE id = ?
	`, id).Scan(&r.ID, &r.Name, &r.StreetAddress, &r.Description, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying restaurant: %w", err)
	}
	return &r, nil
}

// CreateRestaurant inserts a new restaurant and fills in its ID and timestamp.
func (s *SQLiteStore) CreateRestaurant(ctx context.Context, r *Restaurant) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO restaurants (name, street_address, description, created_at)
		VALUES (?, ?, ?, ?)
	`, r.Name, r.StreetAddress, r.Description, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting restaurant: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting restaurant id: %w", err)
	}
	r.ID = id
	return nil
}

// ListReviews returns all reviews for a restaurant, oldest first.
// Returns ErrNotFound if the restaurant does not exist.
func (s *SQLiteStore) ListReviews(ctx context.Context, restaurantID int64) ([]*Review, error) {
	if _, err := s.GetRestaurant(ctx, restaurantID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, restaurant_id, user_name, rating, review_text, review_date
		FROM reviews WHERE restaurant_id = ?
		ORDER BY review_date, id
	`, restaurantID)
	if err != nil {
		return nil, fmt.Errorf("querying reviews: %w", err)
	}
	defer rows.Close()

	var result []*Review
	for rows.Next() {
		var rev Review
		if err := rows.Scan(&rev.ID, &rev.RestaurantID, &rev.UserName,
			&rev.Rating, &rev.ReviewText, &rev.ReviewDate); err != nil {
			return nil, fmt.Errorf("scanning review: %w", err)
		}
		result = append(result, &rev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating reviews: %w", err)
	}
	return result, nil
}

// CreateReview inserts a new review and fills in its ID and timestamp.
// Returns ErrNotFound if the restaurant does not exist and ErrInvalidRating
// if the rating is outside 1..5.
func (s *SQLiteStore) CreateReview(ctx context.Context, rev *Review) error {
	if rev.Rating < 1 || rev.Rating > 5 {
		return ErrInvalidRating
	}
	if _, err := s.GetRestaurant(ctx, rev.RestaurantID); err != nil {
		return err
	}
	if rev.ReviewDate.IsZero() {
		rev.ReviewDate = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO reviews (restaurant_id, user_name, rating, review_text, review_date)
		VALUES (?, ?, ?, ?, ?)
	`, rev.RestaurantID, rev.UserName, rev.Rating, rev.ReviewText, rev.ReviewDate)
	if err != nil {
		return fmt.Errorf("inserting review: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting review id: %w", err)
	}
	rev.ID = id
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
