package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/example/order-dispatch/internal/geo"
	"github.com/example/order-dispatch/internal/models"
	"github.com/example/order-dispatch/internal/notify"
	"github.com/example/order-dispatch/internal/observability"
	"github.com/example/order-dispatch/internal/storage"
	"github.com/example/order-dispatch/internal/tracker"
)

// ErrInvalidTransition rejects a status write the state machine forbids.
var ErrInvalidTransition = errors.New("invalid status transition")

// Coordinator orchestrates dispatch side effects on order lifecycle events.
// All dispatches for one order are serialized behind a per-order lock so a
// driver never sees a fresh offer interleave after the order moved on.
type Coordinator struct {
	Orders      storage.OrderStore
	Restaurants storage.RestaurantStore
	Drivers     storage.DriverStore
	Tracker     tracker.Tracker
	Geocoder    geo.Geocoder
	Notify      *notify.Dispatcher
	Log         *slog.Logger

	MaxDistanceKm float64
	MaxCandidates int

	mu    sync.Mutex
	locks map[int64]*orderLock
}

type orderLock struct {
	mu   sync.Mutex
	refs int
}

func New(orders storage.OrderStore, restaurants storage.RestaurantStore, drivers storage.DriverStore, trk tracker.Tracker, gc geo.Geocoder, n *notify.Dispatcher, log *slog.Logger, maxDistanceKm float64, maxCandidates int) *Coordinator {
	return &Coordinator{
		Orders:        orders,
		Restaurants:   restaurants,
		Drivers:       drivers,
		Tracker:       trk,
		Geocoder:      gc,
		Notify:        n,
		Log:           log,
		MaxDistanceKm: maxDistanceKm,
		MaxCandidates: maxCandidates,
		locks:         make(map[int64]*orderLock),
	}
}

func (c *Coordinator) lockOrder(id int64) func() {
	c.mu.Lock()
	l, ok := c.locks[id]
	if !ok {
		l = &orderLock{}
		c.locks[id] = l
	}
	l.refs++
	c.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		c.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.locks, id)
		}
		c.mu.Unlock()
	}
}

// OrderCreated runs the full fan-out for a freshly persisted order: notify
// the restaurant, offer to nearby drivers, publish the dashboard feed entry
// and, when the wallet already settled, confirm the payment. Matching or
// dispatch failures never surface to the order-creation caller.
func (c *Coordinator) OrderCreated(ctx context.Context, orderID int64) error {
	unlock := c.lockOrder(orderID)
	defer unlock()

	o, err := c.Orders.GetOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("load order %d: %w", orderID, err)
	}

	c.Notify.NewOrderToRestaurant(ctx, o)

	pickup, err := c.Geocoder.Resolve(ctx, o.RestaurantAddress)
	if err != nil {
		c.Log.Warn("geocode failed, skipping driver offers", "order_id", o.ID, "error", err)
	} else {
		for _, cand := range c.matchDrivers(ctx, pickup) {
			c.Notify.OfferToDriver(ctx, o, cand, pickup)
		}
	}

	c.Notify.DriverFeed(ctx, o)

	if o.WalletPaid {
		c.Notify.PaymentReceived(ctx, o)
	}
	return nil
}

// matchDrivers snapshots tracked locations, re-verifies each candidate
// against the authoritative driver record, and ranks survivors by proximity.
// Untracking a stale driver here is advisory cleanup only.
func (c *Coordinator) matchDrivers(ctx context.Context, pickup models.Coord) []models.DriverLocation {
	locs, err := c.Tracker.AllOnline(ctx)
	if err != nil {
		c.Log.Warn("location snapshot failed", "error", err)
		return nil
	}
	verified := locs[:0]
	for _, l := range locs {
		d, err := c.Drivers.GetDriver(ctx, l.DriverID)
		if err != nil || !d.Online {
			_ = c.Tracker.Remove(ctx, l.DriverID)
			continue
		}
		verified = append(verified, l)
	}
	return geo.NearestDrivers(pickup.Lat, pickup.Lng, verified, c.MaxDistanceKm, c.MaxCandidates)
}

// AcceptOrder binds a driver to an unassigned order. Exactly one concurrent
// acceptance can win; losers get storage.ErrDriverAssigned.
func (c *Coordinator) AcceptOrder(ctx context.Context, orderID, driverID int64) (*models.Order, error) {
	unlock := c.lockOrder(orderID)
	defer unlock()

	o, err := c.Orders.AssignDriver(ctx, orderID, driverID)
	if err != nil {
		if errors.Is(err, storage.ErrDriverAssigned) {
			observability.AssignmentConflicts.Inc()
			c.Log.Info("acceptance rejected, order already assigned", "order_id", orderID, "driver_id", driverID)
		}
		return nil, err
	}
	c.Notify.DriverAssigned(ctx, o)
	return o, nil
}

// UpdateStatus validates and applies a status transition, then notifies the
// customer, the assigned driver and the restaurant.
func (c *Coordinator) UpdateStatus(ctx context.Context, orderID int64, status models.OrderStatus) (*models.Order, error) {
	unlock := c.lockOrder(orderID)
	defer unlock()

	o, err := c.Orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !o.Status.CanTransition(status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, status)
	}
	o, err = c.Orders.UpdateStatus(ctx, orderID, status)
	if err != nil {
		return nil, err
	}
	c.Notify.StatusUpdate(ctx, o)
	return o, nil
}

// DriverOffline drops the driver from the match candidate pool. Called on
// explicit go-offline and on connection loss.
func (c *Coordinator) DriverOffline(ctx context.Context, driverID int64) {
	if err := c.Tracker.Remove(ctx, driverID); err != nil {
		c.Log.Warn("tracker remove failed", "driver_id", driverID, "error", err)
	}
}
