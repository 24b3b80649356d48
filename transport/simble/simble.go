// Package simble is an in-memory simulated transport for tests and
// scripted runs. Accessories are added programmatically; the adapter
// advertises them on a timer, accepts connections, serves the three
// channel characteristics, and captures outbound writes for inspection.
//
// Events are delivered through a single internal goroutine, so delegate
// callbacks are always asynchronous and arrive in emission order.
package simble

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/user/rangetag/config"
	"github.com/user/rangetag/transport"
)

const (
	defaultAdvertiseEvery = 100 * time.Millisecond
	defaultConnectDelay   = 10 * time.Millisecond
	attOverhead           = 3 // opcode + handle bytes per write
)

// Adapter is a simulated transport.Adapter.
type Adapter struct {
	svc config.ServiceConfig

	mu          sync.Mutex
	delegate    transport.Delegate
	accessories map[string]*Accessory
	scanStop    chan struct{}
	enabled     bool

	advertiseEvery time.Duration
	connectDelay   time.Duration

	evq     chan func()
	evqStop chan struct{}
}

// Accessory is one simulated device.
type Accessory struct {
	ID           string
	Name         string
	MTU          int
	PairingToken []byte

	a *Adapter

	mu          sync.Mutex
	connected   bool
	subscribed  bool
	failConnect bool
	writes      [][]byte
}

// New creates a simulated adapter serving the given accessory service.
func New(svc config.ServiceConfig) *Adapter {
	return &Adapter{
		svc:            svc,
		accessories:    make(map[string]*Accessory),
		advertiseEvery: defaultAdvertiseEvery,
		connectDelay:   defaultConnectDelay,
		evq:            make(chan func(), 256),
		evqStop:        make(chan struct{}),
	}
}

// SetAdvertiseInterval overrides how often accessories re-advertise.
func (a *Adapter) SetAdvertiseInterval(d time.Duration) {
	a.mu.Lock()
	a.advertiseEvery = d
	a.mu.Unlock()
}

// SetConnectDelay overrides the simulated connection setup time.
func (a *Adapter) SetConnectDelay(d time.Duration) {
	a.mu.Lock()
	a.connectDelay = d
	a.mu.Unlock()
}

// AddAccessory registers a simulated device and returns its handle.
// The id and pairing token are generated.
func (a *Adapter) AddAccessory(name string, mtu int) *Accessory {
	acc := &Accessory{
		ID:           uuid.NewString(),
		Name:         name,
		MTU:          mtu,
		PairingToken: []byte(uuid.NewString()),
		a:            a,
	}
	a.mu.Lock()
	a.accessories[acc.ID] = acc
	a.mu.Unlock()
	return acc
}

// emit queues a delegate callback on the event goroutine.
func (a *Adapter) emit(fn func()) {
	select {
	case a.evq <- fn:
	case <-a.evqStop:
	}
}

func (a *Adapter) lookup(id string) (*Accessory, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	acc, ok := a.accessories[id]
	if !ok {
		return nil, fmt.Errorf("simble: no accessory %s", id)
	}
	return acc, nil
}

// SetDelegate implements transport.Adapter.
func (a *Adapter) SetDelegate(d transport.Delegate) {
	a.mu.Lock()
	a.delegate = d
	a.mu.Unlock()
}

// Enable implements transport.Adapter. Starts the event goroutine and
// delivers AdapterReady.
func (a *Adapter) Enable() error {
	a.mu.Lock()
	if a.enabled {
		a.mu.Unlock()
		return nil
	}
	a.enabled = true
	d := a.delegate
	a.mu.Unlock()

	if d == nil {
		return fmt.Errorf("simble: no delegate set")
	}

	go func() {
		for {
			select {
			case <-a.evqStop:
				return
			case fn := <-a.evq:
				fn()
			}
		}
	}()

	a.emit(d.AdapterReady)
	return nil
}

// Shutdown stops event delivery. Calls after Shutdown are dropped.
func (a *Adapter) Shutdown() {
	a.StopScan()
	close(a.evqStop)
}

// StartScan implements transport.Adapter. Each known accessory advertises
// once per interval until StopScan.
func (a *Adapter) StartScan() error {
	a.mu.Lock()
	if !a.enabled {
		a.mu.Unlock()
		return fmt.Errorf("simble: adapter not enabled")
	}
	if a.scanStop != nil {
		a.mu.Unlock()
		return nil // already scanning
	}
	stop := make(chan struct{})
	a.scanStop = stop
	interval := a.advertiseEvery
	d := a.delegate
	a.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				a.mu.Lock()
				accs := make([]*Accessory, 0, len(a.accessories))
				for _, acc := range a.accessories {
					accs = append(accs, acc)
				}
				a.mu.Unlock()
				for _, acc := range accs {
					adv := transport.Advertisement{ID: acc.ID, Name: acc.Name, RSSI: -48}
					a.emit(func() { d.DeviceFound(adv) })
				}
			}
		}
	}()
	return nil
}

// StopScan implements transport.Adapter.
func (a *Adapter) StopScan() {
	a.mu.Lock()
	if a.scanStop != nil {
		close(a.scanStop)
		a.scanStop = nil
	}
	a.mu.Unlock()
}

// Connect implements transport.Adapter.
func (a *Adapter) Connect(id string) error {
	acc, err := a.lookup(id)
	if err != nil {
		return err
	}
	a.mu.Lock()
	d := a.delegate
	delay := a.connectDelay
	a.mu.Unlock()

	go func() {
		time.Sleep(delay)
		acc.mu.Lock()
		fail := acc.failConnect
		if !fail {
			acc.connected = true
		}
		acc.mu.Unlock()
		if fail {
			a.emit(func() { d.ConnectFailed(id, fmt.Errorf("simble: connect refused")) })
			return
		}
		a.emit(func() { d.Connected(id) })
	}()
	return nil
}

// Disconnect implements transport.Adapter.
func (a *Adapter) Disconnect(id string) error {
	acc, err := a.lookup(id)
	if err != nil {
		return err
	}
	acc.mu.Lock()
	acc.connected = false
	acc.subscribed = false
	acc.mu.Unlock()

	a.mu.Lock()
	d := a.delegate
	a.mu.Unlock()
	a.emit(func() { d.Disconnected(id, nil) })
	return nil
}

// DiscoverServices implements transport.Adapter.
func (a *Adapter) DiscoverServices(id string) error {
	acc, err := a.lookup(id)
	if err != nil {
		return err
	}
	a.mu.Lock()
	d := a.delegate
	a.mu.Unlock()

	if !acc.isConnected() {
		a.emit(func() { d.ServicesFound(id, fmt.Errorf("simble: %s not connected", id)) })
		return nil
	}
	a.emit(func() { d.ServicesFound(id, nil) })
	return nil
}

// DiscoverCharacteristics implements transport.Adapter.
func (a *Adapter) DiscoverCharacteristics(id string) error {
	acc, err := a.lookup(id)
	if err != nil {
		return err
	}
	a.mu.Lock()
	d := a.delegate
	a.mu.Unlock()

	if !acc.isConnected() {
		a.emit(func() { d.CharacteristicsFound(id, nil, fmt.Errorf("simble: %s not connected", id)) })
		return nil
	}
	chars := []transport.Characteristic{
		&simChar{acc: acc, uuid: a.svc.PairingUUID},
		&simChar{acc: acc, uuid: a.svc.InboundUUID},
		&simChar{acc: acc, uuid: a.svc.OutboundUUID},
	}
	a.emit(func() { d.CharacteristicsFound(id, chars, nil) })
	return nil
}

func (acc *Accessory) isConnected() bool {
	acc.mu.Lock()
	defer acc.mu.Unlock()
	return acc.connected
}

// Notify pushes an inbound data payload to the subscriber, if any.
func (acc *Accessory) Notify(data []byte) {
	acc.mu.Lock()
	ok := acc.connected && acc.subscribed
	acc.mu.Unlock()
	if !ok {
		return
	}
	acc.a.mu.Lock()
	d := acc.a.delegate
	inbound := acc.a.svc.InboundUUID
	acc.a.mu.Unlock()

	payload := make([]byte, len(data))
	copy(payload, data)
	acc.a.emit(func() { d.ValueUpdated(acc.ID, inbound, payload, nil) })
}

// DropLink simulates an unsolicited link drop.
func (acc *Accessory) DropLink() {
	acc.mu.Lock()
	wasConnected := acc.connected
	acc.connected = false
	acc.subscribed = false
	acc.mu.Unlock()
	if !wasConnected {
		return
	}
	acc.a.mu.Lock()
	d := acc.a.delegate
	acc.a.mu.Unlock()
	acc.a.emit(func() { d.Disconnected(acc.ID, fmt.Errorf("simble: link lost")) })
}

// FailNextConnect makes subsequent connect attempts fail until cleared.
func (acc *Accessory) FailNextConnect(fail bool) {
	acc.mu.Lock()
	acc.failConnect = fail
	acc.mu.Unlock()
}

// Writes returns a copy of the outbound chunks written so far.
func (acc *Accessory) Writes() [][]byte {
	acc.mu.Lock()
	defer acc.mu.Unlock()
	out := make([][]byte, len(acc.writes))
	for i, w := range acc.writes {
		c := make([]byte, len(w))
		copy(c, w)
		out[i] = c
	}
	return out
}

// simChar serves one channel characteristic of one accessory.
type simChar struct {
	acc  *Accessory
	uuid string
}

func (c *simChar) UUID() string { return c.uuid }

func (c *simChar) Write(data []byte) error {
	c.acc.mu.Lock()
	defer c.acc.mu.Unlock()
	if !c.acc.connected {
		return fmt.Errorf("simble: write to disconnected %s", c.acc.ID)
	}
	if len(data) > c.maxWriteLenLocked() {
		return fmt.Errorf("simble: write of %d bytes exceeds max %d", len(data), c.maxWriteLenLocked())
	}
	chunk := make([]byte, len(data))
	copy(chunk, data)
	c.acc.writes = append(c.acc.writes, chunk)
	return nil
}

func (c *simChar) Read() error {
	c.acc.mu.Lock()
	connected := c.acc.connected
	c.acc.mu.Unlock()

	c.acc.a.mu.Lock()
	d := c.acc.a.delegate
	pairing := c.acc.a.svc.PairingUUID
	c.acc.a.mu.Unlock()

	if !connected {
		c.acc.a.emit(func() {
			d.ValueUpdated(c.acc.ID, c.uuid, nil, fmt.Errorf("simble: read from disconnected %s", c.acc.ID))
		})
		return nil
	}

	var value []byte
	if c.uuid == pairing {
		value = c.acc.PairingToken
	}
	c.acc.a.emit(func() { d.ValueUpdated(c.acc.ID, c.uuid, value, nil) })
	return nil
}

func (c *simChar) Subscribe(enable bool) error {
	c.acc.mu.Lock()
	if !c.acc.connected {
		c.acc.mu.Unlock()
		return fmt.Errorf("simble: subscribe on disconnected %s", c.acc.ID)
	}
	c.acc.subscribed = enable
	c.acc.mu.Unlock()

	c.acc.a.mu.Lock()
	d := c.acc.a.delegate
	c.acc.a.mu.Unlock()
	c.acc.a.emit(func() { d.NotifyStateChanged(c.acc.ID, c.uuid, enable, nil) })
	return nil
}

func (c *simChar) MaxWriteLen() int {
	c.acc.mu.Lock()
	defer c.acc.mu.Unlock()
	return c.maxWriteLenLocked()
}

func (c *simChar) maxWriteLenLocked() int {
	return c.acc.MTU - attOverhead
}

var _ transport.Adapter = (*Adapter)(nil)
var _ transport.Characteristic = (*simChar)(nil)
