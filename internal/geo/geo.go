package geo

import (
	"math"
	"sort"

	"github.com/example/order-dispatch/internal/models"
)

const earthRadiusKm = 6371.0

// DistanceKm is the great-circle (haversine) distance in kilometers.
func DistanceKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

// NearestDrivers filters candidates to those within maxDistanceKm of the
// origin and returns at most limit entries sorted ascending by distance,
// ties broken by driver id, with DistanceKm populated.
func NearestDrivers(originLat, originLng float64, candidates []models.DriverLocation, maxDistanceKm float64, limit int) []models.DriverLocation {
	out := make([]models.DriverLocation, 0, len(candidates))
	for _, c := range candidates {
		d := DistanceKm(originLat, originLng, c.Lat, c.Lng)
		if d > maxDistanceKm {
			continue
		}
		c.DistanceKm = d
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DistanceKm != out[j].DistanceKm {
			return out[i].DistanceKm < out[j].DistanceKm
		}
		return out[i].DriverID < out[j].DriverID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
