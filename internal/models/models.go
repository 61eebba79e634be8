package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// OrderStatus is the lifecycle state of an order:
// pending -> confirmed -> preparing -> ready -> pickup -> delivering -> delivered.
// cancelled is reachable from pending, confirmed and preparing only.
type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"
	StatusConfirmed  OrderStatus = "confirmed"
	StatusPreparing  OrderStatus = "preparing"
	StatusReady      OrderStatus = "ready"
	StatusPickup     OrderStatus = "pickup"
	StatusDelivering OrderStatus = "delivering"
	StatusDelivered  OrderStatus = "delivered"
	StatusCancelled  OrderStatus = "cancelled"
)

var nextStatus = map[OrderStatus]OrderStatus{
	StatusPending:    StatusConfirmed,
	StatusConfirmed:  StatusPreparing,
	StatusPreparing:  StatusReady,
	StatusReady:      StatusPickup,
	StatusPickup:     StatusDelivering,
	StatusDelivering: StatusDelivered,
}

func (s OrderStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// CanTransition reports whether moving from s to next is a legal step.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	if next == StatusCancelled {
		return s == StatusPending || s == StatusConfirmed || s == StatusPreparing
	}
	return nextStatus[s] == next
}

type Order struct {
	ID                int64
	CustomerID        int64
	RestaurantID      int64
	DriverID          *int64 // nil until a driver accepts; exclusively owned
	Status            OrderStatus
	TotalAmount       int64 // integer currency units
	DeliveryFee       int64
	DeliveryAddress   string
	RestaurantAddress string
	WalletPaid        bool
	PaymentRef        string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type Restaurant struct {
	ID      int64
	Name    string
	Address string
}

type Driver struct {
	ID     int64
	Name   string
	Online bool
}

// DriverLocation is the last known coordinate of an online driver.
// DistanceKm is populated only transiently during a match query.
type DriverLocation struct {
	DriverID   int64   `json:"driver_id"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	DistanceKm float64 `json:"distance_km,omitempty"`
}

// LocationReport is the message published to the location stream on every
// driver location report.
type LocationReport struct {
	DriverID int64   `json:"driver_id"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Online   bool    `json:"online"`
}

type NotificationType string

const (
	NotificationNewOrder          NotificationType = "new_order"
	NotificationDriverAssignment  NotificationType = "driver_assignment"
	NotificationOrderStatusUpdate NotificationType = "order_status_update"
	NotificationPaymentReceived   NotificationType = "payment_received"
)

// NotificationPayload is transient: never persisted, never retried. A
// recipient that is not connected at send time never receives it.
type NotificationPayload struct {
	Type      NotificationType `json:"type"`
	OrderID   int64            `json:"orderId"`
	Message   string           `json:"message"`
	Data      any              `json:"data,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	PlaySound bool             `json:"playSound"`
}
