package registry

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"

	"github.com/example/order-dispatch/internal/observability"
)

// Role classifies a connection by the portal it belongs to.
type Role string

const (
	RoleRestaurant Role = "restaurant"
	RoleDriver     Role = "driver"
	RoleCustomer   Role = "customer"
)

// Key builds the identity routing key, e.g. "driver:42". The role-wide key
// is the bare role string.
func Key(role Role, id int64) string {
	return string(role) + ":" + strconv.FormatInt(id, 10)
}

// Conn is a live bidirectional channel. The transport layer owns the
// connection; the registry holds a non-owning registration and must be told
// about closure via Unregister.
type Conn interface {
	WriteMessage(data []byte) error
}

// Registry maps routing keys to sets of live connections and supports
// "send to everyone under key K". Safe for concurrent use.
type Registry struct {
	log *slog.Logger

	mu      sync.RWMutex
	buckets map[string]map[Conn]struct{}
	keys    map[Conn][]string
}

func New(log *slog.Logger) *Registry {
	return &Registry{
		log:     log,
		buckets: make(map[string]map[Conn]struct{}),
		keys:    make(map[Conn][]string),
	}
}

// Register adds c under the role-wide bucket and, if id > 0, under the
// role:id bucket as well. Re-registration is idempotent.
func (r *Registry) Register(c Conn, role Role, id int64) {
	keys := []string{string(role)}
	if id > 0 {
		keys = append(keys, Key(role, id))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, known := r.keys[c]; !known {
		observability.ConnectionsActive.Inc()
	}
	for _, k := range keys {
		b, ok := r.buckets[k]
		if !ok {
			b = make(map[Conn]struct{})
			r.buckets[k] = b
		}
		b[c] = struct{}{}
		r.keys[c] = appendKey(r.keys[c], k)
	}
}

// Unregister removes c from every bucket it was added to.
func (r *Registry) Unregister(c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropLocked(c)
}

func (r *Registry) dropLocked(c Conn) {
	keys, ok := r.keys[c]
	if !ok {
		return
	}
	for _, k := range keys {
		if b, ok := r.buckets[k]; ok {
			delete(b, c)
			if len(b) == 0 {
				delete(r.buckets, k)
			}
		}
	}
	delete(r.keys, c)
	observability.ConnectionsActive.Dec()
}

// Send serializes v once and writes it to every connection under key.
// Connections that fail to write are pruned from all buckets rather than
// treated as errors. Returns the number of successful deliveries.
func (r *Registry) Send(key string, v any) int {
	data, err := json.Marshal(v)
	if err != nil {
		r.log.Error("send marshal failed", "key", key, "error", err)
		return 0
	}

	r.mu.RLock()
	conns := make([]Conn, 0, len(r.buckets[key]))
	for c := range r.buckets[key] {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	delivered := 0
	var dead []Conn
	for _, c := range conns {
		if err := c.WriteMessage(data); err != nil {
			dead = append(dead, c)
			continue
		}
		delivered++
	}
	if len(dead) > 0 {
		r.mu.Lock()
		for _, c := range dead {
			r.dropLocked(c)
		}
		r.mu.Unlock()
		r.log.Debug("pruned dead connections", "key", key, "count", len(dead))
	}
	return delivered
}

// Stats returns a snapshot of key -> live-connection count.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int, len(r.buckets))
	for k, b := range r.buckets {
		out[k] = len(b)
	}
	return out
}

func appendKey(keys []string, k string) []string {
	for _, have := range keys {
		if have == k {
			return keys
		}
	}
	return append(keys, k)
}
