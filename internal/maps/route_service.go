package maps

import (
	"context"
	"errors"
	"fmt"
	"time"

	"googlemaps.github.io/maps"
)

var ErrNoRoute = errors.New("no route found")

// RouteService handles interactions with the Google Maps Distance Matrix API.
type RouteService struct {
	client *maps.Client
	region string
}

// NewRouteService creates a new RouteService with the given API Key.
func NewRouteService(apiKey string, opts ...maps.ClientOption) (*RouteService, error) {
	opts = append([]maps.ClientOption{maps.WithAPIKey(apiKey)}, opts...)
	client, err := maps.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &RouteService{client: client, region: "in"}, nil
}

// Estimate is the driving distance and duration between two addresses.
type Estimate struct {
	Meters   int
	Duration time.Duration
	Text     string
}

// Estimate assumes driving mode.
func (s *RouteService) Estimate(ctx context.Context, origin, destination string) (Estimate, error) {
	r := &maps.DistanceMatrixRequest{
		Origins:      []string{origin},
		Destinations: []string{destination},
		Mode:         maps.TravelModeDriving,
		Units:        maps.UnitsMetric,
		Region:       s.region,
	}

	resp, err := s.client.DistanceMatrix(ctx, r)
	if err != nil {
		return Estimate{}, fmt.Errorf("maps api error: %w", err)
	}
	if len(resp.Rows) == 0 || len(resp.Rows[0].Elements) == 0 {
		return Estimate{}, ErrNoRoute
	}

	el := resp.Rows[0].Elements[0]
	if el.Status != "OK" {
		return Estimate{}, fmt.Errorf("%w: %s", ErrNoRoute, el.Status)
	}
	return Estimate{Meters: el.Distance.Meters, Duration: el.Duration, Text: el.Distance.HumanReadable}, nil
}

func (s *RouteService) DistanceKm(ctx context.Context, origin, destination string) (float64, error) {
	est, err := s.Estimate(ctx, origin, destination)
	if err != nil {
		return 0, err
	}
	return float64(est.Meters) / 1000, nil
}
