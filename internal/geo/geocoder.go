package geo

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/example/order-dispatch/internal/models"
)

// Geocoder resolves free-text addresses to coordinates. Implementations are
// expected to be coarse; matching precision is bounded by the search radius.
type Geocoder interface {
	Resolve(ctx context.Context, address string) (models.Coord, error)
}

type landmark struct {
	keyword string
	coord   models.Coord
}

// LandmarkGeocoder resolves addresses by keyword against a short list of
// known landmarks, falling back to a fixed default coordinate. A stand-in
// for a real geocoding backend.
type LandmarkGeocoder struct {
	landmarks []landmark
	fallback  models.Coord
}

func NewLandmarkGeocoder() *LandmarkGeocoder {
	return &LandmarkGeocoder{
		landmarks: []landmark{
			{"monas", models.Coord{Lat: -6.1754, Lng: 106.8272}},
			{"thamrin", models.Coord{Lat: -6.1935, Lng: 106.8230}},
			{"sudirman", models.Coord{Lat: -6.2088, Lng: 106.8230}},
			{"senayan", models.Coord{Lat: -6.2297, Lng: 106.8075}},
			{"kuningan", models.Coord{Lat: -6.2297, Lng: 106.8310}},
			{"menteng", models.Coord{Lat: -6.1957, Lng: 106.8421}},
			{"blok m", models.Coord{Lat: -6.2446, Lng: 106.7996}},
			{"kemang", models.Coord{Lat: -6.2601, Lng: 106.8130}},
		},
		fallback: models.Coord{Lat: -6.2088, Lng: 106.8456},
	}
}

func (g *LandmarkGeocoder) Resolve(_ context.Context, address string) (models.Coord, error) {
	needle := strings.ToLower(address)
	for _, l := range g.landmarks {
		if strings.Contains(needle, l.keyword) {
			return l.coord, nil
		}
	}
	return g.fallback, nil
}

// CachedGeocoder memoizes lookups for a TTL so repeated orders from the same
// address do not hit the backend each time.
type CachedGeocoder struct {
	inner Geocoder
	ttl   time.Duration

	mu    sync.RWMutex
	store map[string]geocodeEntry
}

type geocodeEntry struct {
	c  models.Coord
	ts time.Time
}

func NewCachedGeocoder(inner Geocoder, ttl time.Duration) *CachedGeocoder {
	return &CachedGeocoder{inner: inner, ttl: ttl, store: make(map[string]geocodeEntry)}
}

func (g *CachedGeocoder) Resolve(ctx context.Context, address string) (models.Coord, error) {
	key := strings.ToLower(strings.TrimSpace(address))
	g.mu.RLock()
	e, ok := g.store[key]
	g.mu.RUnlock()
	if ok && time.Since(e.ts) <= g.ttl {
		return e.c, nil
	}
	c, err := g.inner.Resolve(ctx, address)
	if err != nil {
		return models.Coord{}, err
	}
	g.mu.Lock()
	g.store[key] = geocodeEntry{c: c, ts: time.Now()}
	g.mu.Unlock()
	return c, nil
}
