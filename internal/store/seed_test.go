// ABOUTME: Tests for the TOML seed fixture loader
// ABOUTME: Covers loading, idempotency, and malformed fixture handling

package store

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

const testSeed = `
[[restaurant]]
name = "Osteria Nera"
street_address = "12 Via Roma"
description = "Small plates"

  [[restaurant.reviews]]
  user_name = "ada"
  rating = 5
  review_text = "Perfect carbonara"

[[restaurant]]
name = "Grill 45"
street_address = "45 Dock Rd"
description = "Charcoal everything"
`

func writeSeedFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing seed file: %v", err)
	}
	return path
}

func TestSeedLoadsFixture(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	path := writeSeedFile(t, testSeed)

	if err := Seed(ctx, s, path, slog.Default()); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}

	summaries, err := s.ListRestaurants(ctx)
	if err != nil {
		t.Fatalf("ListRestaurants() error = %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 restaurants, got %d", len(summaries))
	}

	for _, sum := range summaries {
		if sum.Name == "Osteria Nera" {
			if sum.ReviewCount != 1 {
				t.Errorf("expected 1 seeded review, got %d", sum.ReviewCount)
			}
		}
	}
}

func TestSeedIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	path := writeSeedFile(t, testSeed)

	for i := 0; i < 2; i++ {
		if err := Seed(ctx, s, path, slog.Default()); err != nil {
			t.Fatalf("Seed() run %d error = %v", i, err)
		}
	}

	summaries, err := s.ListRestaurants(ctx)
	if err != nil {
		t.Fatalf("ListRestaurants() error = %v", err)
	}
	if len(summaries) != 2 {
		t.Errorf("expected seed to be applied once, got %d restaurants", len(summaries))
	}
}

func TestSeedMalformedFixture(t *testing.T) {
	s := newTestStore(t)
	path := writeSeedFile(t, "[[restaurant]\nname =")

	if err := Seed(context.Background(), s, path, slog.Default()); err == nil {
		t.Error("expected error for malformed fixture")
	}
}
