package accessory

import (
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/user/rangetag/logger"
	"github.com/user/rangetag/transport"
)

// eventKind enumerates everything the run loop can be asked to do:
// transport callbacks and operator commands alike.
type eventKind int

const (
	evAdapterReady eventKind = iota
	evDeviceFound
	evConnected
	evConnectFailed
	evDisconnected
	evServicesFound
	evCharsFound
	evValueUpdated
	evNotifyState

	evCmdStart
	evCmdConnect
	evCmdDisconnect
	evCmdPair
	evCmdSend
	evCmdRename
	evCmdReportDistance
)

type event struct {
	kind eventKind

	id       string
	name     string
	rssi     int
	distance float64
	err      error
	chars    []transport.Characteristic
	charUUID string
	data     []byte
	active   bool

	resp chan error // non-nil for operator commands
}

// Transport delegate methods. The manager is a pure translator here: each
// callback becomes exactly one event for the run loop.

func (m *Manager) AdapterReady() {
	m.post(event{kind: evAdapterReady})
}

func (m *Manager) DeviceFound(adv transport.Advertisement) {
	m.post(event{kind: evDeviceFound, id: adv.ID, name: adv.Name, rssi: adv.RSSI})
}

func (m *Manager) Connected(id string) {
	m.post(event{kind: evConnected, id: id})
}

func (m *Manager) ConnectFailed(id string, err error) {
	m.post(event{kind: evConnectFailed, id: id, err: err})
}

func (m *Manager) Disconnected(id string, err error) {
	m.post(event{kind: evDisconnected, id: id, err: err})
}

func (m *Manager) ServicesFound(id string, err error) {
	m.post(event{kind: evServicesFound, id: id, err: err})
}

func (m *Manager) CharacteristicsFound(id string, chars []transport.Characteristic, err error) {
	m.post(event{kind: evCharsFound, id: id, chars: chars, err: err})
}

func (m *Manager) ValueUpdated(id, charUUID string, data []byte, err error) {
	m.post(event{kind: evValueUpdated, id: id, charUUID: charUUID, data: data, err: err})
}

func (m *Manager) NotifyStateChanged(id, charUUID string, active bool, err error) {
	m.post(event{kind: evNotifyState, id: id, charUUID: charUUID, active: active, err: err})
}

// dispatch is the total switch over event kinds. Runs only on the run-loop
// goroutine.
func (m *Manager) dispatch(ev event) {
	switch ev.kind {
	case evAdapterReady:
		m.handleAdapterReady()
	case evDeviceFound:
		m.handleDeviceFound(ev.id, ev.name, ev.rssi)
	case evConnected:
		m.handleConnected(ev.id)
	case evConnectFailed:
		m.handleConnectFailed(ev.id, ev.err)
	case evDisconnected:
		m.handleDisconnected(ev.id, ev.err)
	case evServicesFound:
		m.handleServicesFound(ev.id, ev.err)
	case evCharsFound:
		m.handleCharsFound(ev.id, ev.chars, ev.err)
	case evValueUpdated:
		m.handleValueUpdated(ev.id, ev.charUUID, ev.data, ev.err)
	case evNotifyState:
		m.handleNotifyState(ev.id, ev.charUUID, ev.active, ev.err)
	case evCmdStart:
		ev.resp <- m.cmdStart()
	case evCmdConnect:
		ev.resp <- m.cmdConnect(ev.id)
	case evCmdDisconnect:
		ev.resp <- m.cmdDisconnect(ev.id)
	case evCmdPair:
		ev.resp <- m.cmdPair(ev.id)
	case evCmdSend:
		ev.resp <- m.cmdSend(ev.id, ev.data)
	case evCmdRename:
		ev.resp <- m.cmdRename(ev.id, ev.name)
	case evCmdReportDistance:
		ev.resp <- m.cmdReportDistance(ev.id, ev.distance)
	}
}

func (m *Manager) handleAdapterReady() {
	m.adapterReady = true
	logger.Info(m.prefix, "adapter ready")
	if m.pendingStart {
		m.pendingStart = false
		if err := m.resumeScan(); err != nil {
			logger.Error(m.prefix, "deferred scan start failed: %v", err)
		}
	}
}

func (m *Manager) handleDeviceFound(id, name string, rssi int) {
	now := m.nowMs()

	if rec := m.reg.Lookup(id); rec != nil {
		// Already known: refresh last_seen, never re-insert.
		m.reg.Mutate(func() {
			rec.touch(now)
			rec.RSSI = rssi
			if rec.DisplayName == "" && name != "" {
				rec.DisplayName = name
			}
		})
		return
	}

	displayName := name
	if stored, ok := m.store.Recall(id); ok && stored != "" {
		displayName = stored
	}
	if displayName == "" {
		displayName = "Unknown Accessory"
	}

	rec := &Record{
		UniqueID:    id,
		DisplayName: displayName,
		Status:      StatusDiscovered,
		LastSeen:    now,
		RSSI:        rssi,
	}
	if _, err := m.reg.Insert(rec); err != nil {
		// Single-writer loop, so a duplicate here is a bug.
		logger.Error(m.prefix, "insert %s failed: %v", shortID(id), err)
		return
	}
	logger.Info(m.prefix, "discovered %s (%s)", shortID(id), displayName)
}

func (m *Manager) cmdStart() error {
	if !m.adapterReady {
		// Deferred: replayed exactly once on the readiness signal.
		m.pendingStart = true
		logger.Debug(m.prefix, "adapter not ready, start deferred")
		return nil
	}
	return m.resumeScan()
}

func (m *Manager) cmdConnect(id string) error {
	rec := m.reg.Lookup(id)
	if rec == nil {
		return ErrUnknownDevice
	}
	if rec.Status != StatusDiscovered {
		// Already connecting or beyond: idempotent no-op.
		return nil
	}

	// Optimistic: the transport exposes no intermediate "connecting"
	// signal, so the record shows Connected before the link is confirmed.
	m.reg.Mutate(func() { rec.Status = StatusConnected })
	if err := m.adapter.Connect(id); err != nil {
		m.reg.Mutate(func() { rec.Status = StatusDiscovered })
		return err
	}
	logger.Info(m.prefix, "connecting to %s", shortID(id))
	return nil
}

func (m *Manager) handleConnected(id string) {
	rec := m.reg.Lookup(id)
	if rec == nil {
		logger.Warn(m.prefix, "connected event for unknown device %s", shortID(id))
		return
	}

	// Reset retry bookkeeping on every successful connect.
	m.connectIters = 0

	logger.Debug(m.prefix, "link up for %s, discovering services", shortID(id))
	if err := m.adapter.DiscoverServices(id); err != nil {
		logger.Error(m.prefix, "service discovery request for %s failed: %v", shortID(id), err)
		m.cleanup(rec)
	}
}

func (m *Manager) handleConnectFailed(id string, err error) {
	logger.Warn(m.prefix, "connect to %s failed: %v", shortID(id), err)
	rec := m.reg.Lookup(id)
	if rec == nil {
		return
	}
	m.reg.Mutate(func() {
		rec.Status = StatusDiscovered
		rec.clearChannels()
		rec.touch(m.nowMs())
	})
}

func (m *Manager) handleServicesFound(id string, err error) {
	rec := m.reg.Lookup(id)
	if rec == nil {
		return
	}
	if err != nil {
		logger.Warn(m.prefix, "service discovery for %s failed: %v", shortID(id), err)
		m.cleanup(rec)
		return
	}
	if err := m.adapter.DiscoverCharacteristics(id); err != nil {
		logger.Error(m.prefix, "characteristic discovery request for %s failed: %v", shortID(id), err)
		m.cleanup(rec)
	}
}

func (m *Manager) handleCharsFound(id string, chars []transport.Characteristic, err error) {
	rec := m.reg.Lookup(id)
	if rec == nil {
		return
	}
	if err != nil {
		logger.Warn(m.prefix, "characteristic discovery for %s failed: %v", shortID(id), err)
		m.cleanup(rec)
		return
	}

	m.reg.Mutate(func() {
		for _, c := range chars {
			switch c.UUID() {
			case m.cfg.Service.PairingUUID:
				rec.pairing.resolve(c)
			case m.cfg.Service.InboundUUID:
				rec.inbound.resolve(c)
			case m.cfg.Service.OutboundUUID:
				rec.outbound.resolve(c)
			default:
				logger.Trace(m.prefix, "ignoring characteristic %s on %s", c.UUID(), shortID(id))
			}
		}
	})

	if !rec.channelsResolved() {
		logger.Warn(m.prefix, "%s is missing channel characteristics", shortID(id))
	}

	if rec.inbound.resolved() {
		if err := rec.inbound.char.Subscribe(true); err != nil {
			logger.Error(m.prefix, "subscribe request for %s failed: %v", shortID(id), err)
			m.cleanup(rec)
		}
	}
}

func (m *Manager) handleNotifyState(id, charUUID string, active bool, err error) {
	rec := m.reg.Lookup(id)
	if rec == nil {
		return
	}
	if err != nil {
		logger.Warn(m.prefix, "notify state for %s failed: %v", shortID(id), err)
		m.cleanup(rec)
		return
	}
	if charUUID != m.cfg.Service.InboundUUID {
		return
	}

	if !active {
		// Notifications dropped: treat as link teardown.
		logger.Warn(m.prefix, "notifications for %s went inactive", shortID(id))
		m.cleanup(rec)
		return
	}

	// The link is now usable for ranging. This, not the raw transport
	// connect, is the outward "connected" signal, fired exactly once.
	if !rec.announced {
		m.reg.Mutate(func() { rec.announced = true })
		logger.Info(m.prefix, "%s ready", shortID(id))
		m.cb.connected(id)
	}
}

func (m *Manager) cmdPair(id string) error {
	rec := m.reg.Lookup(id)
	if rec == nil {
		return ErrUnknownDevice
	}
	if rec.Status != StatusConnected {
		// Pairing is only a Connected-state side channel.
		return nil
	}
	if !rec.pairing.resolved() {
		return ErrChannelNotReady
	}
	logger.Debug(m.prefix, "reading pairing channel of %s", shortID(id))
	return rec.pairing.char.Read()
}

func (m *Manager) handleValueUpdated(id, charUUID string, data []byte, err error) {
	rec := m.reg.Lookup(id)
	if rec == nil {
		return
	}
	if err != nil {
		logger.Warn(m.prefix, "value update for %s failed: %v", shortID(id), err)
		m.cleanup(rec)
		return
	}

	switch charUUID {
	case m.cfg.Service.PairingUUID:
		logger.Info(m.prefix, "pairing payload from %s (%d bytes)", shortID(id), len(data))
		logger.DebugJSON(m.prefix, "pairing frame", frameInfo("pairing", id, data))
		// A completed pairing read makes the device a known device.
		if err := m.store.Remember(id, rec.DisplayName); err != nil {
			logger.Warn(m.prefix, "failed to remember %s: %v", shortID(id), err)
		}
		m.cb.pairingPayload(data, id)
	case m.cfg.Service.InboundUUID:
		if rec.Status == StatusConnected {
			m.reg.Mutate(func() { rec.Status = StatusRanging })
			logger.Debug(m.prefix, "%s is now ranging", shortID(id))
		}
		logger.DebugJSON(m.prefix, "inbound frame", frameInfo("inbound", id, data))
		m.cb.dataPayload(data, rec.DisplayName, id)
	default:
		logger.Trace(m.prefix, "value update on unmapped characteristic %s", charUUID)
	}
}

func (m *Manager) cmdDisconnect(id string) error {
	rec := m.reg.Lookup(id)
	if rec == nil {
		return ErrUnknownDevice
	}
	if rec.Status == StatusDiscovered {
		return nil
	}
	logger.Info(m.prefix, "disconnecting %s", shortID(id))
	return m.adapter.Disconnect(id)
}

func (m *Manager) handleDisconnected(id string, err error) {
	rec := m.reg.Lookup(id)
	if rec == nil {
		return
	}

	if err != nil {
		logger.Warn(m.prefix, "%s disconnected: %v", shortID(id), err)
	} else {
		logger.Info(m.prefix, "%s disconnected", shortID(id))
	}

	wasLinked := rec.Status != StatusDiscovered
	m.reg.Mutate(func() {
		rec.Status = StatusDiscovered
		rec.clearChannels()
		rec.announced = false
		rec.touch(m.nowMs())
	})

	if wasLinked {
		m.cb.disconnected(id)
	}

	m.connectIters++
	if m.connectIters >= m.cfg.Connect.RetryLimit {
		logger.Warn(m.prefix, "connection retry budget exhausted (%d), not resuming scan", m.connectIters)
		return
	}
	if err := m.resumeScan(); err != nil {
		logger.Error(m.prefix, "scan resume failed: %v", err)
	}
}

func (m *Manager) cmdSend(id string, payload []byte) error {
	rec := m.reg.Lookup(id)
	if rec == nil {
		return ErrUnknownDevice
	}
	if !rec.outbound.resolved() {
		return ErrChannelNotReady
	}
	return m.engine.WriteChunked(m.prefix, rec.outbound.char, payload)
}

func (m *Manager) cmdRename(id, name string) error {
	rec := m.reg.Lookup(id)
	if rec == nil {
		return ErrUnknownDevice
	}
	m.reg.Mutate(func() { rec.DisplayName = name })
	if m.store.IsKnown(id) {
		if err := m.store.Remember(id, name); err != nil {
			logger.Warn(m.prefix, "failed to store renamed %s: %v", shortID(id), err)
		}
	}
	return nil
}

func (m *Manager) cmdReportDistance(id string, meters float64) error {
	rec := m.reg.Lookup(id)
	if rec == nil {
		return ErrUnknownDevice
	}
	m.reg.Mutate(func() {
		rec.ReportedDistance = meters
		rec.HasDistance = true
	})
	return nil
}

// cleanup clears discovered channel handles and rolls back the outward
// notification state. Status is left unchanged; only a disconnect resets
// it.
func (m *Manager) cleanup(rec *Record) {
	m.reg.Mutate(func() {
		rec.clearChannels()
		rec.announced = false
	})
}

// frameInfo summarizes a channel payload as a protobuf Struct so debug
// output goes through the logger's protojson path.
func frameInfo(channel, id string, data []byte) *structpb.Struct {
	s, err := structpb.NewStruct(map[string]interface{}{
		"channel": channel,
		"device":  shortID(id),
		"bytes":   len(data),
	})
	if err != nil {
		return &structpb.Struct{}
	}
	return s
}

// shortID truncates an id for log prefixes.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
