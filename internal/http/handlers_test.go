package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/example/order-dispatch/internal/coordinator"
	"github.com/example/order-dispatch/internal/geo"
	"github.com/example/order-dispatch/internal/logging"
	"github.com/example/order-dispatch/internal/models"
	"github.com/example/order-dispatch/internal/notify"
	"github.com/example/order-dispatch/internal/registry"
	"github.com/example/order-dispatch/internal/storage"
	"github.com/example/order-dispatch/internal/tracker"
)

func newTestServer(t *testing.T) (*Server, *storage.MemoryStore) {
	t.Helper()
	logger := logging.NewLogger("error")
	store := storage.NewMemoryStore()
	store.PutRestaurant(models.Restaurant{ID: 1, Name: "Warung", Address: "Jl. Sudirman 1"})
	store.PutDriver(models.Driver{ID: 9, Name: "Budi", Online: true})
	reg := registry.New(logger)
	trk := tracker.NewMemory()
	dispatcher := &notify.Dispatcher{
		Sender:      reg,
		Restaurants: store,
		Drivers:     store,
		Log:         logger,
		DriverShare: 0.8,
	}
	coord := coordinator.New(store, store, store, trk, geo.NewLandmarkGeocoder(), dispatcher, logger, 1.0, 5)
	return NewServer(reg, trk, coord, store, nil, nil, logger), store
}

func postJSON(t *testing.T, srv http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, _ := json.Marshal(body)
	req := httptest.NewRequest("POST", path, bytes.NewReader(b))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func TestCreateOrderReturns201(t *testing.T) {
	srv, _ := newTestServer(t)
	w := postJSON(t, srv, "/api/v1/orders", map[string]any{
		"customer_id":        5,
		"restaurant_id":      1,
		"total_amount":       45000,
		"delivery_fee":       10000,
		"delivery_address":   "Jl. Kemang Raya 1",
		"restaurant_address": "Jl. Sudirman 1",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		OrderID int64 `json:"order_id"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil || resp.OrderID == 0 {
		t.Fatalf("bad response: %v %s", err, w.Body.String())
	}
}

func TestCreateOrderValidation(t *testing.T) {
	srv, _ := newTestServer(t)
	w := postJSON(t, srv, "/api/v1/orders", map[string]any{"customer_id": 0})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestAcceptConflictReturns409(t *testing.T) {
	srv, store := newTestServer(t)
	store.PutDriver(models.Driver{ID: 10, Name: "Siti", Online: true})
	o := &models.Order{CustomerID: 5, RestaurantID: 1}
	if err := store.CreateOrder(context.Background(), o); err != nil {
		t.Fatal(err)
	}

	path := fmt.Sprintf("/api/v1/orders/%d/accept", o.ID)
	if w := postJSON(t, srv, path, map[string]any{"driver_id": 9}); w.Code != http.StatusOK {
		t.Fatalf("expected 200 for first accept, got %d: %s", w.Code, w.Body.String())
	}
	if w := postJSON(t, srv, path, map[string]any{"driver_id": 10}); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for losing accept, got %d", w.Code)
	}
}

func TestStatusEndpointRejectsIllegalTransition(t *testing.T) {
	srv, store := newTestServer(t)
	o := &models.Order{CustomerID: 5, RestaurantID: 1}
	if err := store.CreateOrder(context.Background(), o); err != nil {
		t.Fatal(err)
	}
	path := fmt.Sprintf("/api/v1/orders/%d/status", o.ID)
	if w := postJSON(t, srv, path, map[string]any{"status": "pickup"}); w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	if w := postJSON(t, srv, path, map[string]any{"status": "confirmed"}); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestStatsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest("GET", "/api/v1/dispatch/stats", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var stats map[string]int
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
}

func TestUnknownOrder404(t *testing.T) {
	srv, _ := newTestServer(t)
	w := postJSON(t, srv, "/api/v1/orders/999/accept", map[string]any{"driver_id": 9})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}
