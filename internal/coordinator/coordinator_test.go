package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/example/order-dispatch/internal/geo"
	"github.com/example/order-dispatch/internal/models"
	"github.com/example/order-dispatch/internal/notify"
	"github.com/example/order-dispatch/internal/storage"
	"github.com/example/order-dispatch/internal/tracker"
)

type fakeSender struct {
	mu    sync.Mutex
	sends map[string][]notify.Envelope
}

func newFakeSender() *fakeSender { return &fakeSender{sends: make(map[string][]notify.Envelope)} }

func (f *fakeSender) Send(key string, v any) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends[key] = append(f.sends[key], v.(notify.Envelope))
	return 1
}

func (f *fakeSender) got(key string) []notify.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sends[key]
}

func (f *fakeSender) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, v := range f.sends {
		n += len(v)
	}
	return n
}

type fixture struct {
	coord   *Coordinator
	store   *storage.MemoryStore
	tracker *tracker.Memory
	sender  *fakeSender
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storage.NewMemoryStore()
	store.PutRestaurant(models.Restaurant{ID: 1, Name: "Warung Sudirman", Address: "Jl. Jenderal Sudirman 10"})
	trk := tracker.NewMemory()
	sender := newFakeSender()
	dispatcher := &notify.Dispatcher{
		Sender:          sender,
		Restaurants:     store,
		Drivers:         store,
		Log:             slog.Default(),
		DriverShare:     0.8,
		OfferWindowSec:  60,
		DefaultSpeedMps: 10,
	}
	coord := New(store, store, store, trk, geo.NewLandmarkGeocoder(), dispatcher, slog.Default(), 1.0, 5)
	return &fixture{coord: coord, store: store, tracker: trk, sender: sender}
}

func (f *fixture) createOrder(t *testing.T, walletPaid bool) *models.Order {
	t.Helper()
	o := &models.Order{
		CustomerID:        5,
		RestaurantID:      1,
		TotalAmount:       45000,
		DeliveryFee:       10000,
		DeliveryAddress:   "Jl. Kemang Raya 1",
		RestaurantAddress: "Jl. Jenderal Sudirman 10",
		WalletPaid:        walletPaid,
	}
	if err := f.store.CreateOrder(context.Background(), o); err != nil {
		t.Fatal(err)
	}
	return o
}

// Restaurant geocodes to the sudirman landmark (-6.2088, 106.8230). One
// driver sits ~0.5 km away, the other ~2 km; with a 1 km radius only the
// near driver may receive an offer.
func TestOrderCreatedOffersNearDriverOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.store.PutDriver(models.Driver{ID: 1, Name: "Near", Online: true})
	f.store.PutDriver(models.Driver{ID: 2, Name: "Far", Online: true})
	_ = f.tracker.UpdateLocation(ctx, 1, -6.2043, 106.8230) // ~0.5 km
	_ = f.tracker.UpdateLocation(ctx, 2, -6.1908, 106.8230) // ~2 km

	o := f.createOrder(t, false)
	if err := f.coord.OrderCreated(ctx, o.ID); err != nil {
		t.Fatal(err)
	}

	if len(f.sender.got("driver:1")) != 1 {
		t.Fatal("near driver did not receive an offer")
	}
	if len(f.sender.got("driver:2")) != 0 {
		t.Fatal("far driver received an offer beyond the radius")
	}
	if len(f.sender.got("restaurant:1")) != 1 || len(f.sender.got("restaurant")) != 1 {
		t.Fatal("restaurant was not notified")
	}
	feed := f.sender.got("driver")
	if len(feed) != 1 || feed[0].Data.Type != models.NotificationDriverAssignment {
		t.Fatalf("expected one driver feed entry, got %v", feed)
	}
}

func TestOrderCreatedWalletPaymentNotifiesRestaurant(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.createOrder(t, true)
	if err := f.coord.OrderCreated(ctx, o.ID); err != nil {
		t.Fatal(err)
	}

	var paid int
	for _, env := range f.sender.got("restaurant:1") {
		if env.Data.Type == models.NotificationPaymentReceived {
			paid++
			if env.Data.PlaySound {
				t.Fatal("payment notification must be silent")
			}
		}
	}
	if paid != 1 {
		t.Fatalf("expected 1 payment notification, got %d", paid)
	}
}

func TestOrderCreatedDropsOfflineCandidates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.store.PutDriver(models.Driver{ID: 3, Name: "Stale", Online: false})
	_ = f.tracker.UpdateLocation(ctx, 3, -6.2088, 106.8230)

	o := f.createOrder(t, false)
	if err := f.coord.OrderCreated(ctx, o.ID); err != nil {
		t.Fatal(err)
	}

	if len(f.sender.got("driver:3")) != 0 {
		t.Fatal("offline driver received an offer")
	}
	if _, ok, _ := f.tracker.Get(ctx, 3); ok {
		t.Fatal("offline driver still tracked after advisory cleanup")
	}
}

func TestConcurrentAcceptExactlyOneWinner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	const attempts = 8
	for i := 1; i <= attempts; i++ {
		f.store.PutDriver(models.Driver{ID: int64(i), Name: fmt.Sprintf("d%d", i), Online: true})
	}
	o := f.createOrder(t, false)

	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	winners := make(chan int64, attempts)
	for i := 1; i <= attempts; i++ {
		wg.Add(1)
		go func(driverID int64) {
			defer wg.Done()
			got, err := f.coord.AcceptOrder(ctx, o.ID, driverID)
			if err == nil {
				winners <- *got.DriverID
			}
			errs <- err
		}(int64(i))
	}
	wg.Wait()
	close(errs)
	close(winners)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, storage.ErrDriverAssigned) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly 1 winning acceptance, got %d", success)
	}

	winner := <-winners
	final, err := f.store.GetOrder(ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.DriverID == nil || *final.DriverID != winner {
		t.Fatalf("order driver %v does not match winner %d", final.DriverID, winner)
	}
}

func TestAcceptNotifiesStakeholders(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.store.PutDriver(models.Driver{ID: 9, Name: "Budi", Online: true})
	o := f.createOrder(t, false)

	if _, err := f.coord.AcceptOrder(ctx, o.ID, 9); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"customer:5", "driver:9", "restaurant:1"} {
		if len(f.sender.got(key)) != 1 {
			t.Fatalf("expected assignment notice on %s", key)
		}
	}
}

func TestStatusTransitionDispatchesExactlyThree(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.store.PutDriver(models.Driver{ID: 9, Name: "Budi", Online: true})
	o := f.createOrder(t, false)

	// walk the order to ready with an assigned driver
	for _, s := range []models.OrderStatus{models.StatusConfirmed, models.StatusPreparing, models.StatusReady} {
		if _, err := f.store.UpdateStatus(ctx, o.ID, s); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := f.store.AssignDriver(ctx, o.ID, 9); err != nil {
		t.Fatal(err)
	}

	updated, err := f.coord.UpdateStatus(ctx, o.ID, models.StatusPickup)
	if err != nil {
		t.Fatal(err)
	}
	if updated.Status != models.StatusPickup {
		t.Fatalf("unexpected status: %s", updated.Status)
	}
	if f.sender.total() != 3 {
		t.Fatalf("expected exactly 3 dispatches, got %d: %v", f.sender.total(), f.sender.sends)
	}
	for _, key := range []string{"customer:5", "driver:9", "restaurant:1"} {
		if len(f.sender.got(key)) != 1 {
			t.Fatalf("missing dispatch to %s", key)
		}
	}
}

func TestInvalidTransitionRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.createOrder(t, false)

	if _, err := f.coord.UpdateStatus(ctx, o.ID, models.StatusPickup); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if f.sender.total() != 0 {
		t.Fatal("rejected transition must not dispatch")
	}
}

func TestCancelOnlyFromEarlyStates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.createOrder(t, false)

	for _, s := range []models.OrderStatus{models.StatusConfirmed, models.StatusPreparing, models.StatusReady} {
		if _, err := f.store.UpdateStatus(ctx, o.ID, s); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := f.coord.UpdateStatus(ctx, o.ID, models.StatusCancelled); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected cancel rejection from ready, got %v", err)
	}

	o2 := f.createOrder(t, false)
	if _, err := f.coord.UpdateStatus(ctx, o2.ID, models.StatusCancelled); err != nil {
		t.Fatalf("expected cancel from pending to succeed, got %v", err)
	}
}

func TestDriverOfflineRemovesFromTracker(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_ = f.tracker.UpdateLocation(ctx, 4, 1, 1)

	f.coord.DriverOffline(ctx, 4)
	if _, ok, _ := f.tracker.Get(ctx, 4); ok {
		t.Fatal("driver still tracked after going offline")
	}
}
