package tracker

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/example/order-dispatch/internal/models"
)

// RedisTracker implements Tracker on Redis GEO commands so a fleet of
// dispatch processes can share driver locations. The in-memory tracker
// remains the default for single-process deployments.
type RedisTracker struct {
	client *redis.Client
	key    string
}

func NewRedisTracker(addr, password, key string) *RedisTracker {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisTracker{client: c, key: key}
}

func (r *RedisTracker) UpdateLocation(ctx context.Context, driverID int64, lat, lng float64) error {
	_, err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{
		Longitude: lng,
		Latitude:  lat,
		Name:      member(driverID),
	}).Result()
	return err
}

func (r *RedisTracker) Remove(ctx context.Context, driverID int64) error {
	return r.client.ZRem(ctx, r.key, member(driverID)).Err()
}

func (r *RedisTracker) Get(ctx context.Context, driverID int64) (models.DriverLocation, bool, error) {
	pos, err := r.client.GeoPos(ctx, r.key, member(driverID)).Result()
	if err != nil {
		return models.DriverLocation{}, false, err
	}
	if len(pos) == 0 || pos[0] == nil {
		return models.DriverLocation{}, false, nil
	}
	return models.DriverLocation{DriverID: driverID, Lat: pos[0].Latitude, Lng: pos[0].Longitude}, true, nil
}

func (r *RedisTracker) AllOnline(ctx context.Context) ([]models.DriverLocation, error) {
	members, err := r.client.ZRange(ctx, r.key, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}
	pos, err := r.client.GeoPos(ctx, r.key, members...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.DriverLocation, 0, len(members))
	for i, m := range members {
		if i >= len(pos) || pos[i] == nil {
			continue
		}
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, models.DriverLocation{DriverID: id, Lat: pos[i].Latitude, Lng: pos[i].Longitude})
	}
	return out, nil
}

func (r *RedisTracker) Close() error { return r.client.Close() }

func member(driverID int64) string { return strconv.FormatInt(driverID, 10) }
