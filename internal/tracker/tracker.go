package tracker

import (
	"context"
	"sync"

	"github.com/example/order-dispatch/internal/models"
	"github.com/example/order-dispatch/internal/observability"
)

// Tracker keeps the single authoritative in-memory location per online
// driver. Last write wins; out-of-order reports are not detected.
type Tracker interface {
	UpdateLocation(ctx context.Context, driverID int64, lat, lng float64) error
	Remove(ctx context.Context, driverID int64) error
	Get(ctx context.Context, driverID int64) (models.DriverLocation, bool, error)
	AllOnline(ctx context.Context) ([]models.DriverLocation, error)
}

type Memory struct {
	mu   sync.RWMutex
	locs map[int64]models.DriverLocation
}

func NewMemory() *Memory {
	return &Memory{locs: make(map[int64]models.DriverLocation)}
}

func (m *Memory) UpdateLocation(_ context.Context, driverID int64, lat, lng float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.locs[driverID]; !ok {
		observability.DriversTracked.Inc()
	}
	m.locs[driverID] = models.DriverLocation{DriverID: driverID, Lat: lat, Lng: lng}
	return nil
}

func (m *Memory) Remove(_ context.Context, driverID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.locs[driverID]; ok {
		delete(m.locs, driverID)
		observability.DriversTracked.Dec()
	}
	return nil
}

func (m *Memory) Get(_ context.Context, driverID int64) (models.DriverLocation, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.locs[driverID]
	return l, ok, nil
}

// AllOnline returns a snapshot; mutating the result does not affect the tracker.
func (m *Memory) AllOnline(_ context.Context) ([]models.DriverLocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.DriverLocation, 0, len(m.locs))
	for _, l := range m.locs {
		out = append(out, l)
	}
	return out, nil
}
