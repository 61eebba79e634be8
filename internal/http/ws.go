package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/order-dispatch/internal/models"
	"github.com/example/order-dispatch/internal/registry"
)

var upgrader = websocket.Upgrader{}

// wsConn adapts a gorilla connection to the registry. gorilla allows only
// one concurrent writer, hence the mutex.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// controlMessage is the client -> server frame on the dispatch socket.
type controlMessage struct {
	Type         string        `json:"type"`
	RestaurantID int64         `json:"restaurantId"`
	DriverID     int64         `json:"driverId"`
	CustomerID   int64         `json:"customerId"`
	Location     *models.Coord `json:"location"`
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", 400)
		return
	}
	c := &wsConn{conn: conn}

	// boundDriver is the driver identity this socket joined as, if any;
	// its location leaves the tracker when the socket dies.
	var boundDriver int64
	defer func() {
		s.Registry.Unregister(c)
		if boundDriver > 0 {
			s.Coordinator.DriverOffline(context.Background(), boundDriver)
		}
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg controlMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Debug("bad control message", "error", err)
			continue
		}
		switch msg.Type {
		case "join_restaurant":
			if msg.RestaurantID > 0 {
				s.Registry.Register(c, registry.RoleRestaurant, msg.RestaurantID)
			}
		case "join_driver":
			if msg.DriverID <= 0 {
				continue
			}
			s.Registry.Register(c, registry.RoleDriver, msg.DriverID)
			boundDriver = msg.DriverID
			if msg.Location != nil {
				s.reportLocation(r, msg.DriverID, *msg.Location)
			}
		case "join_customer":
			if msg.CustomerID > 0 {
				s.Registry.Register(c, registry.RoleCustomer, msg.CustomerID)
			}
		case "update_driver_location":
			// updates the tracker only; does not rebind the connection
			if msg.DriverID > 0 && msg.Location != nil {
				s.reportLocation(r, msg.DriverID, *msg.Location)
			}
		default:
			s.logger.Debug("unknown control message", "type", msg.Type)
		}
	}
}

func (s *Server) reportLocation(r *http.Request, driverID int64, loc models.Coord) {
	if err := s.Tracker.UpdateLocation(r.Context(), driverID, loc.Lat, loc.Lng); err != nil {
		s.logger.Warn("tracker update failed", "driver_id", driverID, "error", err)
	}
	if s.Kafka != nil {
		report := models.LocationReport{DriverID: driverID, Lat: loc.Lat, Lng: loc.Lng, Online: true}
		if err := s.Kafka.PublishLocation(report); err != nil {
			s.logger.Warn("location publish failed", "driver_id", driverID, "error", err)
		}
	}
}
