// ABOUTME: Seed fixture loading for pre-populating the restaurant database
// ABOUTME: Parses a TOML fixture file and inserts restaurants with optional reviews

package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"
)

// SeedFile is the parsed shape of a seed fixture.
type SeedFile struct {
	Restaurants []SeedRestaurant `toml:"restaurant"`
}

// SeedRestaurant is one restaurant entry in a seed fixture.
type SeedRestaurant struct {
	Name          string       `toml:"name"`
	StreetAddress string       `toml:"street_address"`
	Description   string       `toml:"description"`
	Reviews       []SeedReview `toml:"reviews"`
}

// SeedReview is one review entry attached to a seed restaurant.
type SeedReview struct {
	UserName   string `toml:"user_name"`
	Rating     int    `toml:"rating"`
	ReviewText string `toml:"review_text"`
}

// Seed loads the fixture at path into the store. It is idempotent: if any
// restaurants already exist the fixture is skipped entirely, so restarting
// the gateway never duplicates seed data.
func Seed(ctx context.Context, s Store, path string, logger *slog.Logger) error {
	existing, err := s.ListRestaurants(ctx)
	if err != nil {
		return fmt.Errorf("checking existing restaurants: %w", err)
	}
	if len(existing) > 0 {
		logger.Debug("seed skipped, store already populated", "restaurants", len(existing))
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading seed file: %w", err)
	}

	var seed SeedFile
	if err := toml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("parsing seed file: %w", err)
	}

	for _, sr := range seed.Restaurants {
		r := &Restaurant{
			Name:          sr.Name,
			StreetAddress: sr.StreetAddress,
			Description:   sr.Description,
		}
		if err := s.CreateRestaurant(ctx, r); err != nil {
			return fmt.Errorf("seeding restaurant %q: %w", sr.Name, err)
		}
		for _, sv := range sr.Reviews {
			rev := &Review{
				RestaurantID: r.ID,
				UserName:     sv.UserName,
				Rating:       sv.Rating,
				ReviewText:   sv.ReviewText,
			}
			if err := s.CreateReview(ctx, rev); err != nil {
				return fmt.Errorf("seeding review for %q: %w", sr.Name, err)
			}
		}
	}

	logger.Info("seed fixture loaded", "path", path, "restaurants", len(seed.Restaurants))
	return nil
}
