// ABOUTME: Restaurant review tools exposed through the gateway's tool registry
// ABOUTME: Wraps the store's CRUD and aggregation operations as schema-described tools

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tavola/tavola-gateway/internal/store"
)

// RegisterRestaurantTools registers the restaurant review tool set on the
// registry, backed by the given store.
func RegisterRestaurantTools(r *Registry, s store.Store) error {
	h := &restaurantHandlers{store: s}

	toolset := []struct {
		descriptor Descriptor
		handler    Handler
	}{
		{
			descriptor: Descriptor{
				Name:        "list_restaurants",
				Description: "List restaurants with their average rating and review count",
				InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
			},
			handler: h.ListRestaurants,
		},
		{
			descriptor: Descriptor{
				Name:        "get_restaurant_details",
				Description: "Return a restaurant and its related reviews",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"restaurant_id":{"type":"integer"}},"required":["restaurant_id"]}`),
			},
			handler: h.GetRestaurantDetails,
		},
		{
			descriptor: Descriptor{
				Name:        "create_review",
				Description: "Create a new review for a restaurant",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"restaurant_id":{"type":"integer"},"user_name":{"type":"string"},"rating":{"type":"integer"},"review_text":{"type":"string"}},"required":["restaurant_id","user_name","rating","review_text"]}`),
			},
			handler: h.CreateReview,
		},
		{
			descriptor: Descriptor{
				Name:        "create_restaurant",
				Description: "Create a new restaurant",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"restaurant_name":{"type":"string"},"street_address":{"type":"string"},"description":{"type":"string"}},"required":["restaurant_name","street_address","description"]}`),
			},
			handler: h.CreateRestaurant,
		},
	}

	for _, t := range toolset {
		if err := r.Register(t.descriptor, t.handler); err != nil {
			return fmt.Errorf("registering %s: %w", t.descriptor.Name, err)
		}
	}
	return nil
}

type restaurantHandlers struct {
	store store.Store
}

// ListRestaurants returns all restaurants with their review aggregates.
func (h *restaurantHandlers) ListRestaurants(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
	summaries, err := h.store.ListRestaurants(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing restaurants: %w", err)
	}
	if summaries == nil {
		summaries = []*store.RestaurantSummary{}
	}
	return json.Marshal(summaries)
}

type getDetailsInput struct {
	RestaurantID int64 `json:"restaurant_id"`
}

// restaurantDetails is the get_restaurant_details result shape.
type restaurantDetails struct {
	Restaurant *store.Restaurant `json:"restaurant"`
	Reviews    []*store.Review   `json:"reviews"`
}

// GetRestaurantDetails returns the restaurant and its reviews, or JSON null
// when the restaurant does not exist.
func (h *restaurantHandlers) GetRestaurantDetails(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var in getDetailsInput
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("decoding arguments: %w", err)
	}

	restaurant, err := h.store.GetRestaurant(ctx, in.RestaurantID)
	if errors.Is(err, store.ErrNotFound) {
		return json.RawMessage("null"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting restaurant: %w", err)
	}

	reviews, err := h.store.ListReviews(ctx, in.RestaurantID)
	if err != nil {
		return nil, fmt.Errorf("listing reviews: %w", err)
	}
	if reviews == nil {
		reviews = []*store.Review{}
	}

	return json.Marshal(restaurantDetails{Restaurant: restaurant, Reviews: reviews})
}

type createReviewInput struct {
	RestaurantID int64  `json:"restaurant_id"`
	UserName     string `json:"user_name"`
	Rating       int    `json:"rating"`
	ReviewText   string `json:"review_text"`
}

// CreateReview creates a review and returns the created record.
func (h *restaurantHandlers) CreateReview(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var in createReviewInput
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("decoding arguments: %w", err)
	}

	review := &store.Review{
		RestaurantID: in.RestaurantID,
		UserName:     in.UserName,
		Rating:       in.Rating,
		ReviewText:   in.ReviewText,
	}
	err := h.store.CreateReview(ctx, review)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, Publicf("restaurant %d not found", in.RestaurantID)
	case errors.Is(err, store.ErrInvalidRating):
		return nil, Publicf("rating must be between 1 and 5")
	case err != nil:
		return nil, fmt.Errorf("creating review: %w", err)
	}

	return json.Marshal(review)
}

type createRestaurantInput struct {
	RestaurantName string `json:"restaurant_name"`
	StreetAddress  string `json:"street_address"`
	Description    string `json:"description"`
}

// CreateRestaurant creates a restaurant and returns the created record.
func (h *restaurantHandlers) CreateRestaurant(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var in createRestaurantInput
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("decoding arguments: %w", err)
	}

	restaurant := &store.Restaurant{
		Name:          in.RestaurantName,
		StreetAddress: in.StreetAddress,
		Description:   in.Description,
	}
	if err := h.store.CreateRestaurant(ctx, restaurant); err != nil {
		return nil, fmt.Errorf("creating restaurant: %w", err)
	}

	return json.Marshal(restaurant)
}
