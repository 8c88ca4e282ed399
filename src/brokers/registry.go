package brokers

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/bostonrobbie/signalbridge/src/model"
)

// Connection is a registered, authenticated broker client plus the routing
// attributes the trader picks by.
type Connection struct {
	ID       string
	UserID   string
	Broker   model.Broker
	Priority int
	IsPaper  bool
	Client   Client

	cancel context.CancelFunc
}

// Registry owns the live broker connections. Each registered connection
// gets one maintenance goroutine that refreshes tokens ahead of expiry and
// keeps sessions alive; both stop when the connection is unregistered.
type Registry struct {
	config Config

	mu    sync.RWMutex
	conns map[string]*Connection
}

func NewRegistry(config Config) *Registry {
	return &Registry{
		config: config,
		conns:  make(map[string]*Connection),
	}
}

// Register authenticates the client and starts its maintenance loop.
// Re-registering an id replaces the previous connection.
func (r *Registry) Register(ctx context.Context, conn *model.BrokerConnection, client Client) error {
	auth, err := client.Authenticate(ctx)
	if err != nil {
		return fmt.Errorf("broker %s authentication failed: %w", conn.Broker, err)
	}

	logger.WithFields(map[string]interface{}{
		"connection_id": conn.ConnectionID,
		"broker":        conn.Broker,
		"environment":   conn.Environment(),
		"priority":      conn.Priority,
		"broker_user":   auth.UserID,
	}).Info("broker connection registered")

	// Maintenance has to outlive the registration call, so its context
	// detaches from ctx and is canceled on Unregister.
	maintCtx, cancel := context.WithCancel(context.Background())

	entry := &Connection{
		ID:       conn.ConnectionID,
		UserID:   conn.UserID,
		Broker:   conn.Broker,
		Priority: conn.Priority,
		IsPaper:  conn.IsPaper,
		Client:   client,
		cancel:   cancel,
	}

	if streamer, ok := client.(Streamer); ok {
		streamer.StartUserSync(maintCtx)
	}
	go r.maintain(maintCtx, entry)

	r.mu.Lock()
	if old, exists := r.conns[entry.ID]; exists {
		old.cancel()
		if err := old.Client.Close(); err != nil {
			logger.WithError(err).WithField("connection_id", old.ID).Warn("stale broker client close failed")
		}
	}
	r.conns[entry.ID] = entry
	r.mu.Unlock()

	return nil
}

// Unregister stops maintenance and closes the client. Unknown ids are a
// no-op.
func (r *Registry) Unregister(connectionID string) {
	r.mu.Lock()
	entry, exists := r.conns[connectionID]
	if exists {
		delete(r.conns, connectionID)
	}
	r.mu.Unlock()

	if !exists {
		return
	}

	entry.cancel()
	if err := entry.Client.Close(); err != nil {
		logger.WithError(err).WithField("connection_id", connectionID).Warn("broker client close failed")
	}
	logger.WithField("connection_id", connectionID).Info("broker connection unregistered")
}

// CloseAll unregisters every connection, for shutdown.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		r.Unregister(id)
	}
}

func (r *Registry) Get(connectionID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, exists := r.conns[connectionID]
	return entry, exists
}

// Connections returns every registered connection in priority order.
func (r *Registry) Connections() []*Connection {
	return r.snapshot(func(*Connection) bool { return true })
}

// EligibleConnections returns the connections the trader may route to, in
// priority order (lower value first, id as tiebreak). With paperOnly set,
// live connections are excluded.
func (r *Registry) EligibleConnections(paperOnly bool) []*Connection {
	return r.snapshot(func(entry *Connection) bool {
		return !paperOnly || entry.IsPaper
	})
}

func (r *Registry) snapshot(keep func(*Connection) bool) []*Connection {
	r.mu.RLock()
	out := make([]*Connection, 0, len(r.conns))
	for _, entry := range r.conns {
		if keep(entry) {
			out = append(out, entry)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// maintain runs the per-connection session upkeep: token refresh inside the
// skew window with full re-auth as fallback, and periodic keep-alives for
// adapters that need them.
func (r *Registry) maintain(ctx context.Context, entry *Connection) {
	tick := r.config.MaintenanceTick
	if tick <= 0 {
		tick = 30 * time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	lastKeepAlive := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if refresher, ok := entry.Client.(TokenRefresher); ok {
			expiry := refresher.TokenExpiry()
			if !expiry.IsZero() && time.Until(expiry) < r.config.TokenRefreshSkew {
				if err := refresher.RefreshToken(ctx); err != nil {
					logger.WithError(err).WithFields(map[string]interface{}{
						"connection_id": entry.ID,
						"broker":        entry.Broker,
					}).Warn("token refresh failed")

					if IsAuthError(err) {
						if _, err := entry.Client.Authenticate(ctx); err != nil {
							logger.WithError(err).WithFields(map[string]interface{}{
								"connection_id": entry.ID,
								"broker":        entry.Broker,
							}).Error("session re-authentication failed")
						}
					}
				}
			}
		}

		if keepAlive, ok := entry.Client.(SessionKeepAlive); ok && time.Since(lastKeepAlive) >= r.config.KeepAliveInterval {
			lastKeepAlive = time.Now()
			if err := keepAlive.KeepAlive(ctx); err != nil {
				logger.WithError(err).WithFields(map[string]interface{}{
					"connection_id": entry.ID,
					"broker":        entry.Broker,
				}).Warn("session keep-alive failed")
			}
		}
	}
}
