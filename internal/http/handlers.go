package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/order-dispatch/internal/coordinator"
	"github.com/example/order-dispatch/internal/ingest"
	"github.com/example/order-dispatch/internal/models"
	"github.com/example/order-dispatch/internal/registry"
	"github.com/example/order-dispatch/internal/storage"
	"github.com/example/order-dispatch/internal/tracker"
)

// Wallet is the payment collaborator used for wallet-settled orders.
type Wallet interface {
	Charge(ctx context.Context, amount int64, currency, customerRef string) (string, error)
	Refund(ctx context.Context, paymentIntentID string) error
}

type Server struct {
	Registry    *registry.Registry
	Tracker     tracker.Tracker
	Coordinator *coordinator.Coordinator
	Orders      storage.OrderStore
	Wallet      Wallet
	Kafka       *ingest.KafkaProducer

	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(reg *registry.Registry, trk tracker.Tracker, coord *coordinator.Coordinator, orders storage.OrderStore, wallet Wallet, kp *ingest.KafkaProducer, logger *slog.Logger) *Server {
	s := &Server{
		Registry:    reg,
		Tracker:     trk,
		Coordinator: coord,
		Orders:      orders,
		Wallet:      wallet,
		Kafka:       kp,
		logger:      logger,
		mux:         mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/orders", s.handleCreateOrder).Methods("POST")
	s.mux.HandleFunc("/api/v1/orders/{id}/accept", s.handleAcceptOrder).Methods("POST")
	s.mux.HandleFunc("/api/v1/orders/{id}/status", s.handleUpdateStatus).Methods("POST")
	s.mux.HandleFunc("/api/v1/dispatch/stats", s.handleStats).Methods("GET")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type createOrderRequest struct {
	CustomerID        int64  `json:"customer_id"`
	RestaurantID      int64  `json:"restaurant_id"`
	TotalAmount       int64  `json:"total_amount"`
	DeliveryFee       int64  `json:"delivery_fee"`
	DeliveryAddress   string `json:"delivery_address"`
	RestaurantAddress string `json:"restaurant_address"`
	PaymentMethod     string `json:"payment_method"`
	CustomerRef       string `json:"customer_ref"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if req.CustomerID <= 0 || req.RestaurantID <= 0 {
		http.Error(w, "customer_id and restaurant_id required", 400)
		return
	}

	o := &models.Order{
		CustomerID:        req.CustomerID,
		RestaurantID:      req.RestaurantID,
		Status:            models.StatusPending,
		TotalAmount:       req.TotalAmount,
		DeliveryFee:       req.DeliveryFee,
		DeliveryAddress:   req.DeliveryAddress,
		RestaurantAddress: req.RestaurantAddress,
	}

	if req.PaymentMethod == "wallet" && s.Wallet != nil {
		ref, err := s.Wallet.Charge(r.Context(), req.TotalAmount, "usd", req.CustomerRef)
		if err != nil {
			s.logger.Error("wallet charge failed", "error", err)
			http.Error(w, "payment failed", http.StatusBadGateway)
			return
		}
		o.WalletPaid = true
		o.PaymentRef = ref
	}

	if err := s.Orders.CreateOrder(r.Context(), o); err != nil {
		http.Error(w, err.Error(), 500)
		return
	}

	// Dispatch and matching run detached from the request: their failure
	// must never block or fail order placement.
	go func(orderID int64) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.Coordinator.OrderCreated(ctx, orderID); err != nil {
			s.logger.Warn("order fan-out failed", "order_id", orderID, "error", err)
		}
	}(o.ID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{"order_id": o.ID, "status": o.Status})
}

func (s *Server) handleAcceptOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		DriverID int64 `json:"driver_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DriverID <= 0 {
		http.Error(w, "driver_id required", 400)
		return
	}

	o, err := s.Coordinator.AcceptOrder(r.Context(), orderID, req.DriverID)
	switch {
	case errors.Is(err, storage.ErrDriverAssigned):
		http.Error(w, "order already assigned", http.StatusConflict)
		return
	case errors.Is(err, storage.ErrOrderNotFound):
		http.Error(w, "order not found", http.StatusNotFound)
		return
	case err != nil:
		http.Error(w, err.Error(), 500)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"order_id": o.ID, "driver_id": *o.DriverID, "status": o.Status})
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Status models.OrderStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
		http.Error(w, "status required", 400)
		return
	}

	o, err := s.Coordinator.UpdateStatus(r.Context(), orderID, req.Status)
	switch {
	case errors.Is(err, coordinator.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, storage.ErrOrderNotFound):
		http.Error(w, "order not found", http.StatusNotFound)
		return
	case err != nil:
		http.Error(w, err.Error(), 500)
		return
	}

	if o.Status == models.StatusCancelled && o.WalletPaid && o.PaymentRef != "" && s.Wallet != nil {
		ref := o.PaymentRef
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.Wallet.Refund(ctx, ref); err != nil {
				s.logger.Error("wallet refund failed", "order_id", o.ID, "error", err)
			}
		}()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"order_id": o.ID, "status": o.Status})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.Registry.Stats())
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid order id", 400)
		return 0, false
	}
	return id, true
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
