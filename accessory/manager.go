// Package accessory implements the connectivity core for nearby wireless
// accessory tags: a registry of discovered devices, a per-device
// connection/pairing state machine, a staleness sweeper, and a
// capability-aware chunked write engine.
//
// All registry and record mutation is serialized through a single run-loop
// goroutine. Transport callbacks and operator commands are translated into
// an internal event enum and consumed by one dispatch function, so the
// sweeper tick, transport events, and commands can never interleave their
// mutation of the same record.
package accessory

import (
	"fmt"
	"time"

	"github.com/user/rangetag/config"
	"github.com/user/rangetag/logger"
	"github.com/user/rangetag/transport"
)

// Manager drives every known device through its connection state machine.
// It is the sole receiver of transport callbacks and the single owner of
// the registry.
type Manager struct {
	cfg     *config.Config
	adapter transport.Adapter
	reg     *Registry
	store   *KnownStore
	cb      Callbacks
	engine  WriteEngine

	events chan event
	quit   chan struct{} // closed by Stop
	done   chan struct{} // closed when the run loop exits

	prefix string

	// State below is owned by the run loop.
	adapterReady bool
	pendingStart bool
	scanning     bool
	connectIters int // bounded connection-iteration counter, reset on connect

	nowMs func() int64 // test seam
}

// NewManager wires a manager over the given transport adapter. Callbacks
// may have nil fields for notifications the caller does not consume.
func NewManager(cfg *config.Config, adapter transport.Adapter, cb Callbacks) *Manager {
	m := &Manager{
		cfg:     cfg,
		adapter: adapter,
		reg:     NewRegistry(),
		store:   NewKnownStore(cfg.DataDir),
		cb:      cb,
		events:  make(chan event, 64),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		prefix:  "mgr",
		nowMs: func() int64 {
			return time.Now().UnixMilli()
		},
	}
	m.reg.SetChangeListener(m.cb.registryChanged)
	adapter.SetDelegate(m)
	return m
}

// Start spawns the run loop, powers on the adapter, and requests scanning.
// If the adapter is not ready yet the scan request is deferred and replayed
// exactly once when the readiness signal arrives.
func (m *Manager) Start() error {
	go m.run()

	if err := m.adapter.Enable(); err != nil {
		return fmt.Errorf("enable adapter: %w", err)
	}
	return m.command(event{kind: evCmdStart})
}

// Stop halts scanning and shuts down the run loop. Pending commands fail
// with ErrStopped. Idempotent.
func (m *Manager) Stop() {
	select {
	case <-m.quit:
		return
	default:
	}
	m.adapter.StopScan()
	close(m.quit)
	<-m.done
	logger.Info(m.prefix, "stopped")
}

// Connect issues a transport connect for a Discovered device. The record's
// status moves to Connected optimistically, before the transport confirms;
// the outward "connected" notification still waits for the notification
// channel to become active. Calling Connect while already beyond Discovered
// is a no-op.
func (m *Manager) Connect(id string) error {
	return m.command(event{kind: evCmdConnect, id: id})
}

// Disconnect issues a transport disconnect. No-op if the device is already
// Discovered.
func (m *Manager) Disconnect(id string) error {
	return m.command(event{kind: evCmdDisconnect, id: id})
}

// Pair issues a read on the pairing channel. Only permitted while the
// device is Connected; otherwise a no-op. The payload arrives via the
// PairingPayload callback.
func (m *Manager) Pair(id string) error {
	return m.command(event{kind: evCmdPair, id: id})
}

// Send fragments payload to the device's negotiated maximum write length
// and issues the chunk writes in order.
func (m *Manager) Send(payload []byte, id string) error {
	return m.command(event{kind: evCmdSend, id: id, data: payload})
}

// Rename updates a device's display name. The stored name for known
// devices is updated as well.
func (m *Manager) Rename(id, name string) error {
	return m.command(event{kind: evCmdRename, id: id, name: name})
}

// ReportDistance records the latest distance estimate produced by the
// ranging layer for display alongside the device.
func (m *Manager) ReportDistance(id string, meters float64) error {
	return m.command(event{kind: evCmdReportDistance, id: id, distance: meters})
}

// Devices returns a snapshot of the current registry for display. Served
// off the registry lock, not the run loop.
func (m *Manager) Devices() []DeviceView {
	return m.reg.Snapshot()
}

// Remember stores a display name for a paired device id.
func (m *Manager) Remember(id, name string) error {
	return m.store.Remember(id, name)
}

// Recall returns the stored display name for id, if any.
func (m *Manager) Recall(id string) (string, bool) {
	return m.store.Recall(id)
}

// IsKnown reports whether id has been paired before.
func (m *Manager) IsKnown(id string) bool {
	return m.store.IsKnown(id)
}

// ForgetAll clears all stored device names.
func (m *Manager) ForgetAll() error {
	return m.store.ForgetAll()
}

// WriteCount returns the total number of chunk writes dispatched.
func (m *Manager) WriteCount() uint32 {
	return m.engine.WriteCount()
}

// run is the single owner of all mutable connectivity state.
func (m *Manager) run() {
	defer close(m.done)

	ticker := time.NewTicker(m.cfg.SweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-m.quit:
			m.drain()
			return
		case <-ticker.C:
			m.sweep(m.nowMs())
		case ev := <-m.events:
			m.dispatch(ev)
		}
	}
}

// drain fails any commands still queued at shutdown.
func (m *Manager) drain() {
	for {
		select {
		case ev := <-m.events:
			if ev.resp != nil {
				ev.resp <- ErrStopped
			}
		default:
			return
		}
	}
}

// post hands an event to the run loop, dropping it if the manager has
// stopped.
func (m *Manager) post(ev event) {
	select {
	case m.events <- ev:
	case <-m.quit:
		if ev.resp != nil {
			ev.resp <- ErrStopped
		}
	}
}

// command posts an event carrying a reply channel and waits for the run
// loop's answer.
func (m *Manager) command(ev event) error {
	resp := make(chan error, 1)
	ev.resp = resp
	m.post(ev)
	select {
	case err := <-resp:
		return err
	case <-m.done:
		return ErrStopped
	}
}

// resumeScan starts (or restarts) discovery scanning.
func (m *Manager) resumeScan() error {
	if err := m.adapter.StartScan(); err != nil {
		return fmt.Errorf("start scan: %w", err)
	}
	m.scanning = true
	return nil
}
