package accessory

import (
	"github.com/user/rangetag/transport"
)

// Status is the top-level connection state of a device record.
// Legal transitions: Discovered -> Connected -> Ranging, with Connected and
// Ranging returning to Discovered only via disconnect. Pairing is a
// side-channel read while Connected and never changes Status.
type Status int

const (
	StatusDiscovered Status = iota
	StatusConnected
	StatusRanging
)

func (s Status) String() string {
	switch s {
	case StatusDiscovered:
		return "discovered"
	case StatusConnected:
		return "connected"
	case StatusRanging:
		return "ranging"
	default:
		return "unknown"
	}
}

// channelSlot is a tagged Unresolved | Resolved variant over a
// characteristic reference. Resolution is only legal from Unresolved;
// teardown clears back to Unresolved.
type channelSlot struct {
	char transport.Characteristic
}

// resolve populates the slot. Returns false if already resolved.
func (s *channelSlot) resolve(c transport.Characteristic) bool {
	if s.char != nil {
		return false
	}
	s.char = c
	return true
}

func (s *channelSlot) clear() {
	s.char = nil
}

func (s *channelSlot) resolved() bool {
	return s.char != nil
}

// Record is one known device. Fields are mutated only by the manager's run
// loop, inside Registry.Mutate, so snapshot readers are excluded while a
// record changes; external readers get copies via Registry.Snapshot.
type Record struct {
	UniqueID    string
	DisplayName string
	Status      Status
	LastSeen    int64 // unix millis, refreshed on advertisements and disconnects
	RSSI        int   // last advertised signal strength, dBm

	// ReportedDistance is the last distance estimate surfaced by the
	// ranging layer. Carried for display convenience, not authoritative.
	ReportedDistance float64
	HasDistance      bool

	// Channel handles, populated progressively as characteristic
	// discovery completes. Weak references into transport-owned objects.
	pairing  channelSlot
	inbound  channelSlot
	outbound channelSlot

	// announced tracks whether the outward "connected" notification has
	// fired for the current link, so it fires exactly once.
	announced bool
}

// touch refreshes LastSeen, keeping it monotonically non-decreasing.
func (r *Record) touch(nowMs int64) {
	if nowMs > r.LastSeen {
		r.LastSeen = nowMs
	}
}

// clearChannels resets all three channel slots to Unresolved.
func (r *Record) clearChannels() {
	r.pairing.clear()
	r.inbound.clear()
	r.outbound.clear()
}

// channelsResolved reports whether all three channel handles are populated.
func (r *Record) channelsResolved() bool {
	return r.pairing.resolved() && r.inbound.resolved() && r.outbound.resolved()
}

// DeviceView is an immutable snapshot of a record for UI consumption.
type DeviceView struct {
	UniqueID         string
	DisplayName      string
	Status           Status
	LastSeen         int64
	RSSI             int
	ReportedDistance float64
	HasDistance      bool
}

func (r *Record) view() DeviceView {
	return DeviceView{
		UniqueID:         r.UniqueID,
		DisplayName:      r.DisplayName,
		Status:           r.Status,
		LastSeen:         r.LastSeen,
		RSSI:             r.RSSI,
		ReportedDistance: r.ReportedDistance,
		HasDistance:      r.HasDistance,
	}
}
