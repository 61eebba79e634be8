package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/example/order-dispatch/internal/models"
)

var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrRestaurantNotFound = errors.New("restaurant not found")
	ErrDriverNotFound     = errors.New("driver not found")

	// ErrDriverAssigned means a conditional assignment lost the race:
	// the order already has a driver.
	ErrDriverAssigned = errors.New("order already assigned")
)

// OrderStore is the persistence collaborator for orders. AssignDriver must
// be atomic: it sets the driver only if none is set yet.
type OrderStore interface {
	CreateOrder(ctx context.Context, o *models.Order) error
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	UpdateStatus(ctx context.Context, id int64, status models.OrderStatus) (*models.Order, error)
	AssignDriver(ctx context.Context, orderID, driverID int64) (*models.Order, error)
}

type RestaurantStore interface {
	GetRestaurant(ctx context.Context, id int64) (*models.Restaurant, error)
}

type DriverStore interface {
	GetDriver(ctx context.Context, id int64) (*models.Driver, error)
}

// MemoryStore backs all three stores for local runs and tests.
type MemoryStore struct {
	mu          sync.RWMutex
	nextID      int64
	orders      map[int64]*models.Order
	restaurants map[int64]*models.Restaurant
	drivers     map[int64]*models.Driver
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:      1,
		orders:      make(map[int64]*models.Order),
		restaurants: make(map[int64]*models.Restaurant),
		drivers:     make(map[int64]*models.Driver),
	}
}

func (m *MemoryStore) CreateOrder(_ context.Context, o *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o.ID = m.nextID
	m.nextID++
	if o.Status == "" {
		o.Status = models.StatusPending
	}
	now := time.Now()
	o.CreatedAt = now
	o.UpdatedAt = now
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *MemoryStore) GetOrder(_ context.Context, id int64) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, id int64, status models.OrderStatus) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	o.Status = status
	o.UpdatedAt = time.Now()
	cp := *o
	return &cp, nil
}

func (m *MemoryStore) AssignDriver(_ context.Context, orderID, driverID int64) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	if o.DriverID != nil || o.Status.Terminal() {
		return nil, ErrDriverAssigned
	}
	id := driverID
	o.DriverID = &id
	o.UpdatedAt = time.Now()
	cp := *o
	return &cp, nil
}

func (m *MemoryStore) GetRestaurant(_ context.Context, id int64) (*models.Restaurant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.restaurants[id]
	if !ok {
		return nil, ErrRestaurantNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) GetDriver(_ context.Context, id int64) (*models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[id]
	if !ok {
		return nil, ErrDriverNotFound
	}
	cp := *d
	return &cp, nil
}

// PutRestaurant and PutDriver seed reference data for local runs and tests.
func (m *MemoryStore) PutRestaurant(r models.Restaurant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restaurants[r.ID] = &r
}

func (m *MemoryStore) PutDriver(d models.Driver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[d.ID] = &d
}
