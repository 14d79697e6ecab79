package registry

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/scriptfleet/fleet-server-go/internal/model"
)

// Conn is the transport handle the registry pushes messages through. The
// websocket layer wraps its connections to satisfy it; tests substitute fakes.
type Conn interface {
	Send(v any) error
	Close() error
}

// Registry tracks live device and web-dashboard connections, capability
// advertisements and heartbeats. It is the only state shared across
// connections; all maps are guarded by a single RWMutex and never exposed
// raw.
type Registry struct {
	mu            sync.RWMutex
	deviceConns   map[string]Conn
	capabilities  map[string][]model.CapabilityEntry
	lastHeartbeat map[string]time.Time
	watchdogs     map[string]chan struct{}
	webConns      map[string]Conn

	timeout       time.Duration
	checkInterval time.Duration
}

func New(timeout, checkInterval time.Duration) *Registry {
	return &Registry{
		deviceConns:   make(map[string]Conn),
		capabilities:  make(map[string][]model.CapabilityEntry),
		lastHeartbeat: make(map[string]time.Time),
		watchdogs:     make(map[string]chan struct{}),
		webConns:      make(map[string]Conn),
		timeout:       timeout,
		checkInterval: checkInterval,
	}
}

// Register binds a connection to a device id, overwriting any prior binding,
// and (re)starts the heartbeat watchdog for that device.
func (r *Registry) Register(deviceID string, conn Conn) {
	r.mu.Lock()
	r.deviceConns[deviceID] = conn
	r.lastHeartbeat[deviceID] = time.Now()
	r.stopWatchdogLocked(deviceID)
	stop := make(chan struct{})
	r.watchdogs[deviceID] = stop
	r.mu.Unlock()

	go r.watchdog(deviceID, stop)

	log.Info().Str("deviceId", deviceID).Msg("device registered")
}

// Disconnect removes all registry state for a device and closes its
// transport. It is idempotent.
func (r *Registry) Disconnect(deviceID string) {
	r.mu.Lock()
	conn, had := r.deviceConns[deviceID]
	delete(r.deviceConns, deviceID)
	delete(r.lastHeartbeat, deviceID)
	delete(r.capabilities, deviceID)
	r.stopWatchdogLocked(deviceID)
	r.mu.Unlock()

	if had {
		_ = conn.Close()
		log.Info().Str("deviceId", deviceID).Msg("device disconnected")
	}
}

// Release removes registry state for a device only while conn is still its
// registered connection. A session that was superseded by a reconnect under
// the same device id must not tear down the replacement's state; its deferred
// cleanup calls Release instead of Disconnect. Reports whether the binding
// was removed.
func (r *Registry) Release(deviceID string, conn Conn) bool {
	r.mu.Lock()
	current, had := r.deviceConns[deviceID]
	if !had || current != conn {
		r.mu.Unlock()
		return false
	}
	delete(r.deviceConns, deviceID)
	delete(r.lastHeartbeat, deviceID)
	delete(r.capabilities, deviceID)
	r.stopWatchdogLocked(deviceID)
	r.mu.Unlock()

	_ = conn.Close()
	log.Info().Str("deviceId", deviceID).Msg("device disconnected")
	return true
}

// UpdateHeartbeat refreshes the liveness timestamp. Unknown devices are a
// no-op.
func (r *Registry) UpdateHeartbeat(deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.deviceConns[deviceID]; ok {
		r.lastHeartbeat[deviceID] = time.Now()
	}
}

// UpdateCapabilities replaces the stored advertisement wholesale.
func (r *Registry) UpdateCapabilities(deviceID string, entries []model.CapabilityEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capabilities[deviceID] = entries
}

func (r *Registry) Capabilities(deviceID string) ([]model.CapabilityEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries, ok := r.capabilities[deviceID]
	return entries, ok
}

// CapabilitiesSnapshot returns a copy of the advertisement map for
// aggregation. Values are the stored slices; callers must treat them as
// read-only.
func (r *Registry) CapabilitiesSnapshot() map[string][]model.CapabilityEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snapshot := make(map[string][]model.CapabilityEntry, len(r.capabilities))
	for deviceID, entries := range r.capabilities {
		snapshot[deviceID] = entries
	}
	return snapshot
}

// Push attempts a synchronous send to a device. Any transport error
// disconnects the device immediately and returns false; the caller must
// treat false as "device now offline". There is no retry or buffering.
func (r *Registry) Push(deviceID string, message any) bool {
	r.mu.RLock()
	conn, ok := r.deviceConns[deviceID]
	r.mu.RUnlock()

	if !ok {
		log.Warn().Str("deviceId", deviceID).Msg("push to offline device")
		return false
	}

	if err := conn.Send(message); err != nil {
		log.Error().Err(err).Str("deviceId", deviceID).Msg("push failed, disconnecting device")
		r.Disconnect(deviceID)
		return false
	}
	return true
}

func (r *Registry) IsOnline(deviceID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.deviceConns[deviceID]
	return ok
}

func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.deviceConns)
}

// RegisterWeb binds a dashboard connection keyed by account id. The web
// channel is independent of the device channel but follows the same
// register/disconnect/push contract.
func (r *Registry) RegisterWeb(accountID string, conn Conn) {
	r.mu.Lock()
	r.webConns[accountID] = conn
	r.mu.Unlock()
	log.Info().Str("accountId", accountID).Msg("web client connected")
}

func (r *Registry) DisconnectWeb(accountID string) {
	r.mu.Lock()
	conn, had := r.webConns[accountID]
	delete(r.webConns, accountID)
	r.mu.Unlock()

	if had {
		_ = conn.Close()
		log.Info().Str("accountId", accountID).Msg("web client disconnected")
	}
}

func (r *Registry) PushWeb(accountID string, message any) bool {
	r.mu.RLock()
	conn, ok := r.webConns[accountID]
	r.mu.RUnlock()

	if !ok {
		return false
	}

	if err := conn.Send(message); err != nil {
		log.Error().Err(err).Str("accountId", accountID).Msg("web push failed, disconnecting client")
		r.DisconnectWeb(accountID)
		return false
	}
	return true
}

func (r *Registry) IsWebOnline(accountID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.webConns[accountID]
	return ok
}

// Close tears down every connection and watchdog.
func (r *Registry) Close() {
	r.mu.Lock()
	for deviceID, stop := range r.watchdogs {
		close(stop)
		delete(r.watchdogs, deviceID)
	}
	deviceConns := r.deviceConns
	webConns := r.webConns
	r.deviceConns = make(map[string]Conn)
	r.capabilities = make(map[string][]model.CapabilityEntry)
	r.lastHeartbeat = make(map[string]time.Time)
	r.webConns = make(map[string]Conn)
	r.mu.Unlock()

	for _, conn := range deviceConns {
		_ = conn.Close()
	}
	for _, conn := range webConns {
		_ = conn.Close()
	}
}

// stopWatchdogLocked cancels the watchdog for a device if one is running.
// Callers must hold r.mu.
func (r *Registry) stopWatchdogLocked(deviceID string) {
	if stop, ok := r.watchdogs[deviceID]; ok {
		close(stop)
		delete(r.watchdogs, deviceID)
	}
}

// watchdog force-disconnects a device whose heartbeat has gone quiet for
// longer than the configured timeout. One watchdog runs per device,
// independent of all others.
func (r *Registry) watchdog(deviceID string, stop chan struct{}) {
	ticker := time.NewTicker(r.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.mu.RLock()
			last, ok := r.lastHeartbeat[deviceID]
			r.mu.RUnlock()
			if ok && time.Since(last) > r.timeout {
				log.Warn().Str("deviceId", deviceID).Msg("heartbeat timeout, disconnecting device")
				r.Disconnect(deviceID)
				return
			}
		}
	}
}
