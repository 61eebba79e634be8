package notify

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/example/order-dispatch/internal/eta"
	"github.com/example/order-dispatch/internal/models"
	"github.com/example/order-dispatch/internal/observability"
	"github.com/example/order-dispatch/internal/registry"
	"github.com/example/order-dispatch/internal/storage"
)

// Sender fans a payload out to every live connection under a routing key.
type Sender interface {
	Send(key string, v any) int
}

// Envelope is the wire frame for all dispatcher sends.
type Envelope struct {
	Type string                     `json:"type"`
	Data models.NotificationPayload `json:"data"`
}

// Dispatcher builds the typed notification payloads and routes them through
// the connection registry. Delivery is fire-and-forget: a failed lookup
// abandons that one dispatch with a structured log, nothing propagates.
type Dispatcher struct {
	Sender      Sender
	Restaurants storage.RestaurantStore
	Drivers     storage.DriverStore
	Log         *slog.Logger

	// DriverShare is the driver's fraction of the delivery fee shown as
	// earnings in an offer.
	DriverShare     float64
	OfferWindowSec  int
	DefaultSpeedMps float64
	ETAClient       eta.Client // optional routing-engine client
	ETACache        *eta.Cache // optional ETA cache
}

var statusMessages = map[models.OrderStatus]string{
	models.StatusConfirmed:  "order confirmed by restaurant",
	models.StatusPreparing:  "restaurant is preparing your order",
	models.StatusReady:      "order is ready for pickup",
	models.StatusPickup:     "driver picked up the order",
	models.StatusDelivering: "order is on the way",
	models.StatusDelivered:  "order delivered",
	models.StatusCancelled:  "order cancelled",
}

func statusMessage(s models.OrderStatus) string {
	if m, ok := statusMessages[s]; ok {
		return m
	}
	return fmt.Sprintf("status changed to %s", s)
}

func statusPlaySound(s models.OrderStatus) bool {
	switch s {
	case models.StatusReady, models.StatusPickup, models.StatusDelivering, models.StatusDelivered:
		return true
	}
	return false
}

type NewOrderData struct {
	RestaurantID    int64  `json:"restaurantId"`
	CustomerID      int64  `json:"customerId"`
	TotalAmount     int64  `json:"totalAmount"`
	DeliveryFee     int64  `json:"deliveryFee"`
	DeliveryAddress string `json:"deliveryAddress"`
}

type OfferData struct {
	RestaurantID      int64   `json:"restaurantId"`
	RestaurantName    string  `json:"restaurantName"`
	RestaurantAddress string  `json:"restaurantAddress"`
	DeliveryAddress   string  `json:"deliveryAddress"`
	Earnings          int64   `json:"earnings"`
	DistanceKm        float64 `json:"distanceKm"`
	PickupETASeconds  float64 `json:"pickupEtaSeconds,omitempty"`
	AcceptWindowSec   int     `json:"acceptWindowSec"`
}

type FeedData struct {
	RestaurantName  string `json:"restaurantName"`
	DeliveryAddress string `json:"deliveryAddress"`
	Earnings        int64  `json:"earnings"`
}

type StatusData struct {
	Status   models.OrderStatus `json:"status"`
	DriverID *int64             `json:"driverId,omitempty"`
}

type PaymentData struct {
	Amount int64  `json:"amount"`
	Method string `json:"method"`
}

// NewOrderToRestaurant notifies the owning restaurant of a fresh order, on
// both its identity key and the role-wide restaurant feed.
func (d *Dispatcher) NewOrderToRestaurant(ctx context.Context, o *models.Order) {
	r, err := d.Restaurants.GetRestaurant(ctx, o.RestaurantID)
	if err != nil {
		d.abandon(models.NotificationNewOrder, o.ID, "restaurant_lookup", err)
		return
	}
	p := models.NotificationPayload{
		Type:    models.NotificationNewOrder,
		OrderID: o.ID,
		Message: fmt.Sprintf("new order for %s", r.Name),
		Data: NewOrderData{
			RestaurantID:    o.RestaurantID,
			CustomerID:      o.CustomerID,
			TotalAmount:     o.TotalAmount,
			DeliveryFee:     o.DeliveryFee,
			DeliveryAddress: o.DeliveryAddress,
		},
		Timestamp: time.Now(),
		PlaySound: true,
	}
	d.send(registry.Key(registry.RoleRestaurant, o.RestaurantID), p)
	d.send(string(registry.RoleRestaurant), p)
}

// OfferToDriver sends a per-candidate accept-or-ignore offer. The accept
// window is advisory metadata for the client UI; the server does not
// enforce it.
func (d *Dispatcher) OfferToDriver(ctx context.Context, o *models.Order, cand models.DriverLocation, pickup models.Coord) {
	r, err := d.Restaurants.GetRestaurant(ctx, o.RestaurantID)
	if err != nil {
		d.abandon(models.NotificationNewOrder, o.ID, "restaurant_lookup", err)
		return
	}
	p := models.NotificationPayload{
		Type:    models.NotificationNewOrder,
		OrderID: o.ID,
		Message: fmt.Sprintf("new delivery from %s", r.Name),
		Data: OfferData{
			RestaurantID:      o.RestaurantID,
			RestaurantName:    r.Name,
			RestaurantAddress: o.RestaurantAddress,
			DeliveryAddress:   o.DeliveryAddress,
			Earnings:          d.earnings(o.DeliveryFee),
			DistanceKm:        cand.DistanceKm,
			PickupETASeconds:  d.pickupETA(models.Coord{Lat: cand.Lat, Lng: cand.Lng}, pickup),
			AcceptWindowSec:   d.OfferWindowSec,
		},
		Timestamp: time.Now(),
		PlaySound: true,
	}
	d.send(registry.Key(registry.RoleDriver, cand.DriverID), p)
	observability.OffersDispatched.Inc()
}

// DriverFeed publishes the order to the role-wide driver dashboard feed.
func (d *Dispatcher) DriverFeed(ctx context.Context, o *models.Order) {
	r, err := d.Restaurants.GetRestaurant(ctx, o.RestaurantID)
	if err != nil {
		d.abandon(models.NotificationDriverAssignment, o.ID, "restaurant_lookup", err)
		return
	}
	p := models.NotificationPayload{
		Type:    models.NotificationDriverAssignment,
		OrderID: o.ID,
		Message: "new delivery available",
		Data: FeedData{
			RestaurantName:  r.Name,
			DeliveryAddress: o.DeliveryAddress,
			Earnings:        d.earnings(o.DeliveryFee),
		},
		Timestamp: time.Now(),
		PlaySound: true,
	}
	d.send(string(registry.RoleDriver), p)
}

// PaymentReceived tells the restaurant a wallet payment settled.
func (d *Dispatcher) PaymentReceived(ctx context.Context, o *models.Order) {
	p := models.NotificationPayload{
		Type:      models.NotificationPaymentReceived,
		OrderID:   o.ID,
		Message:   "payment received",
		Data:      PaymentData{Amount: o.TotalAmount, Method: "wallet"},
		Timestamp: time.Now(),
		PlaySound: false,
	}
	d.send(registry.Key(registry.RoleRestaurant, o.RestaurantID), p)
	d.send(string(registry.RoleRestaurant), p)
}

// DriverAssigned tells all three stakeholders which driver took the order.
func (d *Dispatcher) DriverAssigned(ctx context.Context, o *models.Order) {
	if o.DriverID == nil {
		d.abandon(models.NotificationOrderStatusUpdate, o.ID, "no_driver", storage.ErrDriverNotFound)
		return
	}
	dr, err := d.Drivers.GetDriver(ctx, *o.DriverID)
	if err != nil {
		d.abandon(models.NotificationOrderStatusUpdate, o.ID, "driver_lookup", err)
		return
	}
	p := models.NotificationPayload{
		Type:      models.NotificationOrderStatusUpdate,
		OrderID:   o.ID,
		Message:   fmt.Sprintf("driver %s assigned to your order", dr.Name),
		Data:      StatusData{Status: o.Status, DriverID: o.DriverID},
		Timestamp: time.Now(),
		PlaySound: true,
	}
	d.toStakeholders(o, p)
}

// StatusUpdate notifies the customer, the assigned driver (if any) and the
// restaurant that the order moved to a new status.
func (d *Dispatcher) StatusUpdate(ctx context.Context, o *models.Order) {
	p := models.NotificationPayload{
		Type:      models.NotificationOrderStatusUpdate,
		OrderID:   o.ID,
		Message:   statusMessage(o.Status),
		Data:      StatusData{Status: o.Status, DriverID: o.DriverID},
		Timestamp: time.Now(),
		PlaySound: statusPlaySound(o.Status),
	}
	d.toStakeholders(o, p)
}

func (d *Dispatcher) toStakeholders(o *models.Order, p models.NotificationPayload) {
	d.send(registry.Key(registry.RoleCustomer, o.CustomerID), p)
	if o.DriverID != nil {
		d.send(registry.Key(registry.RoleDriver, *o.DriverID), p)
	}
	d.send(registry.Key(registry.RoleRestaurant, o.RestaurantID), p)
}

func (d *Dispatcher) send(key string, p models.NotificationPayload) {
	n := d.Sender.Send(key, Envelope{Type: "notification", Data: p})
	observability.NotificationsSent.WithLabelValues(string(p.Type)).Add(float64(n))
}

func (d *Dispatcher) abandon(t models.NotificationType, orderID int64, reason string, err error) {
	observability.NotificationsDropped.WithLabelValues(string(t), reason).Inc()
	d.Log.Warn("dispatch abandoned", "type", t, "order_id", orderID, "reason", reason, "error", err)
}

func (d *Dispatcher) earnings(deliveryFee int64) int64 {
	share := d.DriverShare
	if share <= 0 {
		share = 0.8
	}
	return int64(math.Floor(float64(deliveryFee) * share))
}

func (d *Dispatcher) pickupETA(from, to models.Coord) float64 {
	if d.ETACache != nil {
		if v, ok := d.ETACache.Get(from, to); ok {
			return v
		}
	}
	if d.ETAClient != nil {
		if v, err := d.ETAClient.EstimateSeconds(from, to); err == nil {
			if d.ETACache != nil {
				d.ETACache.Set(from, to, v)
			}
			return v
		}
	}
	return eta.EstimateSeconds(from, to, d.DefaultSpeedMps)
}
