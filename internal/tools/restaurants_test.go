// ABOUTME: Tests for the restaurant tool handlers against an in-memory store
// ABOUTME: Exercises aggregation output, missing-restaurant null, and caller-safe errors

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/tavola/tavola-gateway/internal/store"
)

func newRestaurantRegistry(t *testing.T) (*Registry, store.Store) {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	r := NewRegistry(nil)
	if err := RegisterRestaurantTools(r, s); err != nil {
		t.Fatalf("RegisterRestaurantTools() error = %v", err)
	}
	r.Freeze()
	return r, s
}

func TestRestaurantToolsRegistered(t *testing.T) {
	r, _ := newRestaurantRegistry(t)

	want := map[string]bool{
		"list_restaurants":       false,
		"get_restaurant_details": false,
		"create_review":          false,
		"create_restaurant":      false,
	}
	for _, d := range r.List() {
		if _, ok := want[d.Name]; !ok {
			t.Errorf("unexpected tool %q", d.Name)
			continue
		}
		want[d.Name] = true
		if len(d.InputSchema) == 0 {
			t.Errorf("tool %q has no input schema", d.Name)
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("tool %q not registered", name)
		}
	}
}

func TestListRestaurantsEmpty(t *testing.T) {
	r, _ := newRestaurantRegistry(t)

	result, err := r.Invoke(context.Background(), "list_restaurants", nil)
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if string(result) != "[]" {
		t.Errorf("expected empty array, got %s", result)
	}
}

func TestCreateAndListRestaurants(t *testing.T) {
	r, s := newRestaurantRegistry(t)
	ctx := context.Background()

	result, err := r.Invoke(ctx, "create_restaurant", json.RawMessage(
		`{"restaurant_name":"Trattoria Luna","street_address":"12 Via Roma","description":"Neighborhood pasta"}`))
	if err != nil {
		t.Fatalf("create_restaurant error = %v", err)
	}
	var created store.Restaurant
	if err := json.Unmarshal(result, &created); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if created.ID == 0 {
		t.Error("expected an assigned restaurant id")
	}
	if created.Name != "Trattoria Luna" {
		t.Errorf("unexpected name %q", created.Name)
	}

	review := &store.Review{RestaurantID: created.ID, UserName: "ana", Rating: 4, ReviewText: "solid"}
	if err := s.CreateReview(ctx, review); err != nil {
		t.Fatalf("CreateReview() error = %v", err)
	}

	result, err = r.Invoke(ctx, "list_restaurants", nil)
	if err != nil {
		t.Fatalf("list_restaurants error = %v", err)
	}
	var summaries []store.RestaurantSummary
	if err := json.Unmarshal(result, &summaries); err != nil {
		t.Fatalf("decoding summaries: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(summaries))
	}
	got := summaries[0]
	if got.ReviewCount != 1 {
		t.Errorf("ReviewCount = %d, want 1", got.ReviewCount)
	}
	if got.AvgRating == nil || *got.AvgRating != 4 {
		t.Errorf("AvgRating = %v, want 4", got.AvgRating)
	}
	if got.StarsPercent != 80 {
		t.Errorf("StarsPercent = %d, want 80", got.StarsPercent)
	}
}

func TestGetRestaurantDetails(t *testing.T) {
	r, s := newRestaurantRegistry(t)
	ctx := context.Background()

	restaurant := &store.Restaurant{Name: "Bar Fede", StreetAddress: "3 Dock St", Description: "Small plates"}
	if err := s.CreateRestaurant(ctx, restaurant); err != nil {
		t.Fatalf("CreateRestaurant() error = %v", err)
	}
	review := &store.Review{RestaurantID: restaurant.ID, UserName: "leo", Rating: 5, ReviewText: "great"}
	if err := s.CreateReview(ctx, review); err != nil {
		t.Fatalf("CreateReview() error = %v", err)
	}

	result, err := r.Invoke(ctx, "get_restaurant_details",
		json.RawMessage(`{"restaurant_id":`+jsonInt(restaurant.ID)+`}`))
	if err != nil {
		t.Fatalf("get_restaurant_details error = %v", err)
	}

	var details struct {
		Restaurant *store.Restaurant `json:"restaurant"`
		Reviews    []*store.Review   `json:"reviews"`
	}
	if err := json.Unmarshal(result, &details); err != nil {
		t.Fatalf("decoding details: %v", err)
	}
	if details.Restaurant == nil || details.Restaurant.Name != "Bar Fede" {
		t.Errorf("unexpected restaurant: %+v", details.Restaurant)
	}
	if len(details.Reviews) != 1 || details.Reviews[0].UserName != "leo" {
		t.Errorf("unexpected reviews: %+v", details.Reviews)
	}
}

func TestGetRestaurantDetailsMissing(t *testing.T) {
	r, _ := newRestaurantRegistry(t)

	result, err := r.Invoke(context.Background(), "get_restaurant_details",
		json.RawMessage(`{"restaurant_id":9999}`))
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if string(result) != "null" {
		t.Errorf("expected null for missing restaurant, got %s", result)
	}
}

func TestCreateReviewErrors(t *testing.T) {
	r, s := newRestaurantRegistry(t)
	ctx := context.Background()

	restaurant := &store.Restaurant{Name: "Casa Nera", StreetAddress: "7 Hill Rd", Description: "Grill"}
	if err := s.CreateRestaurant(ctx, restaurant); err != nil {
		t.Fatalf("CreateRestaurant() error = %v", err)
	}

	t.Run("missing restaurant", func(t *testing.T) {
		_, err := r.Invoke(ctx, "create_review", json.RawMessage(
			`{"restaurant_id":4242,"user_name":"mia","rating":3,"review_text":"ok"}`))
		var he *HandlerError
		if !errors.As(err, &he) {
			t.Fatalf("expected *HandlerError, got %v", err)
		}
		if he.Message != "restaurant 4242 not found" {
			t.Errorf("unexpected message %q", he.Message)
		}
	})

	t.Run("invalid rating", func(t *testing.T) {
		_, err := r.Invoke(ctx, "create_review", json.RawMessage(
			`{"restaurant_id":`+jsonInt(restaurant.ID)+`,"user_name":"mia","rating":9,"review_text":"ok"}`))
		var he *HandlerError
		if !errors.As(err, &he) {
			t.Fatalf("expected *HandlerError, got %v", err)
		}
		if he.Message != "rating must be between 1 and 5" {
			t.Errorf("unexpected message %q", he.Message)
		}
	})

	t.Run("success", func(t *testing.T) {
		result, err := r.Invoke(ctx, "create_review", json.RawMessage(
			`{"restaurant_id":`+jsonInt(restaurant.ID)+`,"user_name":"mia","rating":5,"review_text":"wonderful"}`))
		if err != nil {
			t.Fatalf("create_review error = %v", err)
		}
		var review store.Review
		if err := json.Unmarshal(result, &review); err != nil {
			t.Fatalf("decoding review: %v", err)
		}
		if review.ID == 0 {
			t.Error("expected an assigned review id")
		}
		if review.Rating != 5 {
			t.Errorf("Rating = %d, want 5", review.Rating)
		}
	})
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
