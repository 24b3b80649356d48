// Package transport defines the capability boundary between the accessory
// connectivity core and the wireless link layer.
//
// Every operation on Adapter and Characteristic is asynchronous: the call
// only requests the operation, and the outcome is delivered later through
// the Delegate. Implementations must never invoke Delegate methods
// synchronously from inside an Adapter or Characteristic call, so callers
// can hold their own locks across requests.
//
// Thread-safety: Adapter methods may be called from any goroutine.
// Delegate methods are invoked from implementation-owned goroutines; a
// single Delegate must tolerate concurrent calls for different devices,
// but events for one device are delivered in the order the link produced
// them.
package transport

// Advertisement is one discovery signal from a nearby accessory.
type Advertisement struct {
	ID   string // stable identifier derived from the link-layer handle
	Name string // advertised local name, may be empty
	RSSI int    // signal strength at receive time, dBm
}

// Characteristic is a non-owning reference to one logical sub-channel of a
// connected accessory. It is only valid while the owning connection is up;
// after a Disconnected event the reference must be dropped, never used.
type Characteristic interface {
	// UUID returns the characteristic UUID string.
	UUID() string

	// Write requests a single write of data, at most MaxWriteLen bytes.
	// An immediate error means the request was never issued; transmission
	// failures after acceptance are reported only if the link drops.
	Write(data []byte) error

	// Read requests the current value. The result arrives via
	// Delegate.ValueUpdated for this characteristic's UUID.
	Read() error

	// Subscribe enables or disables notifications. The resulting state
	// arrives via Delegate.NotifyStateChanged.
	Subscribe(enable bool) error

	// MaxWriteLen returns the negotiated maximum payload for one Write.
	MaxWriteLen() int
}

// Delegate receives asynchronous transport events. The accessory core
// registers exactly one Delegate per Adapter.
type Delegate interface {
	// AdapterReady fires once the adapter is powered and usable. Requests
	// made before this event may be rejected by the implementation.
	AdapterReady()

	// DeviceFound fires for every received advertisement, including
	// repeats from already-known devices.
	DeviceFound(adv Advertisement)

	// Connected fires when a requested connection is established.
	Connected(id string)

	// ConnectFailed fires when a requested connection cannot be
	// established.
	ConnectFailed(id string, err error)

	// Disconnected fires when an established connection drops, whether
	// requested or not. err is nil for a clean disconnect.
	Disconnected(id string, err error)

	// ServicesFound fires after DiscoverServices completes.
	ServicesFound(id string, err error)

	// CharacteristicsFound fires after DiscoverCharacteristics completes,
	// carrying references for the characteristics of the accessory
	// service. On error the slice is nil.
	CharacteristicsFound(id string, chars []Characteristic, err error)

	// ValueUpdated fires when a read completes or a notification arrives.
	ValueUpdated(id, charUUID string, data []byte, err error)

	// NotifyStateChanged fires when a Subscribe request settles. active
	// reports the resulting notification state.
	NotifyStateChanged(id, charUUID string, active bool, err error)
}

// Adapter is the single entry point to the wireless link layer.
type Adapter interface {
	// SetDelegate registers the event receiver. Must be called before
	// Enable.
	SetDelegate(d Delegate)

	// Enable powers on the adapter. AdapterReady is delivered once the
	// adapter is usable.
	Enable() error

	// StartScan begins advertising discovery. Advertisements are
	// delivered via DeviceFound until StopScan.
	StartScan() error

	// StopScan stops discovery. Safe to call when not scanning.
	StopScan()

	// Connect requests a connection to a discovered device. Resolves via
	// Connected or ConnectFailed.
	Connect(id string) error

	// Disconnect requests teardown of an established connection.
	// Resolves via Disconnected.
	Disconnect(id string) error

	// DiscoverServices requests service discovery for the accessory
	// service on a connected device. Resolves via ServicesFound.
	DiscoverServices(id string) error

	// DiscoverCharacteristics requests characteristic discovery within
	// the accessory service. Resolves via CharacteristicsFound.
	DiscoverCharacteristics(id string) error
}
