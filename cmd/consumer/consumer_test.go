package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/order-dispatch/internal/models"
)

// fakeUpdater implements RedisUpdater for tests
type fakeUpdater struct {
	failGeo  int // number of times to fail GeoAdd before succeeding
	geoCalls int
	remCalls int
}

func (f *fakeUpdater) GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error {
	f.geoCalls++
	if f.geoCalls <= f.failGeo {
		return errors.New("geo fail")
	}
	return nil
}

func (f *fakeUpdater) ZRem(ctx context.Context, key, member string) error {
	f.remCalls++
	return nil
}

func TestUpdateRedisWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeUpdater{failGeo: 1}
	rep := models.LocationReport{DriverID: 1, Lat: 1, Lng: 2, Online: true}
	ctx := context.Background()
	start := time.Now()
	if err := updateRedisWithRetry(ctx, f, "drivers_geo", rep, 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.geoCalls < 2 {
		t.Fatalf("expected retries, got geo=%d", f.geoCalls)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("expected at least one backoff")
	}
}

func TestUpdateRedisWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeUpdater{failGeo: 5}
	rep := models.LocationReport{DriverID: 1, Lat: 1, Lng: 2, Online: true}
	ctx := context.Background()
	if err := updateRedisWithRetry(ctx, f, "drivers_geo", rep, 3, 5*time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
}

func TestUpdateRedisWithRetry_OfflineRemoves(t *testing.T) {
	f := &fakeUpdater{}
	rep := models.LocationReport{DriverID: 7, Online: false}
	if err := updateRedisWithRetry(context.Background(), f, "drivers_geo", rep, 3, time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.remCalls != 1 || f.geoCalls != 0 {
		t.Fatalf("expected removal only, got geo=%d rem=%d", f.geoCalls, f.remCalls)
	}
}
