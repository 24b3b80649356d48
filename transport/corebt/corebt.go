// Package corebt implements the transport boundary on top of
// tinygo.org/x/bluetooth, which backs onto BlueZ on Linux and
// CoreBluetooth on macOS.
package corebt

import (
	"fmt"
	"strings"
	"sync"

	"tinygo.org/x/bluetooth"

	"github.com/user/rangetag/config"
	"github.com/user/rangetag/transport"
)

const attOverhead = 3 // opcode + handle bytes per ATT write

// Adapter is a transport.Adapter over the host BLE stack.
type Adapter struct {
	svc config.ServiceConfig
	ble *bluetooth.Adapter

	svcUUID  bluetooth.UUID
	charUUID map[string]bluetooth.UUID // config UUID string -> parsed

	mu       sync.Mutex
	delegate transport.Delegate
	devices  map[string]*deviceConn
	scanning bool
}

type deviceConn struct {
	device  bluetooth.Device
	service bluetooth.DeviceService
	hasSvc  bool
}

// New creates an adapter serving the configured accessory service.
func New(svc config.ServiceConfig) (*Adapter, error) {
	svcUUID, err := bluetooth.ParseUUID(svc.ServiceUUID)
	if err != nil {
		return nil, fmt.Errorf("corebt: parse service UUID: %w", err)
	}

	charUUID := make(map[string]bluetooth.UUID, 3)
	for _, s := range []string{svc.PairingUUID, svc.InboundUUID, svc.OutboundUUID} {
		u, err := bluetooth.ParseUUID(s)
		if err != nil {
			return nil, fmt.Errorf("corebt: parse characteristic UUID %s: %w", s, err)
		}
		charUUID[s] = u
	}

	return &Adapter{
		svc:      svc,
		ble:      bluetooth.DefaultAdapter,
		svcUUID:  svcUUID,
		charUUID: charUUID,
		devices:  make(map[string]*deviceConn),
	}, nil
}

// SetDelegate implements transport.Adapter.
func (a *Adapter) SetDelegate(d transport.Delegate) {
	a.mu.Lock()
	a.delegate = d
	a.mu.Unlock()
}

func (a *Adapter) del() transport.Delegate {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.delegate
}

// Enable implements transport.Adapter: powers on the stack, registers the
// link-drop handler, and delivers AdapterReady.
func (a *Adapter) Enable() error {
	if a.del() == nil {
		return fmt.Errorf("corebt: no delegate set")
	}
	if err := a.ble.Enable(); err != nil {
		return fmt.Errorf("corebt: enable: %w", err)
	}

	// The stack fires this with connected=false when a peripheral drops,
	// whether the teardown was requested or not.
	a.ble.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		id := device.Address.String()
		a.mu.Lock()
		_, tracked := a.devices[id]
		delete(a.devices, id)
		a.mu.Unlock()
		if tracked {
			a.del().Disconnected(id, nil)
		}
	})

	go a.del().AdapterReady()
	return nil
}

// StartScan implements transport.Adapter. Advertisements carrying the
// accessory service are forwarded until StopScan.
func (a *Adapter) StartScan() error {
	a.mu.Lock()
	if a.scanning {
		a.mu.Unlock()
		return nil
	}
	a.scanning = true
	a.mu.Unlock()

	go func() {
		// Scan blocks until StopScan; run it off the caller's goroutine.
		err := a.ble.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			if !result.HasServiceUUID(a.svcUUID) {
				return
			}
			a.del().DeviceFound(transport.Advertisement{
				ID:   result.Address.String(),
				Name: result.LocalName(),
				RSSI: int(result.RSSI),
			})
		})
		a.mu.Lock()
		a.scanning = false
		a.mu.Unlock()
		_ = err // scan ends when StopScan is called
	}()
	return nil
}

// StopScan implements transport.Adapter.
func (a *Adapter) StopScan() {
	a.ble.StopScan()
}

// Connect implements transport.Adapter.
func (a *Adapter) Connect(id string) error {
	var addr bluetooth.Address
	addr.Set(id)

	go func() {
		device, err := a.ble.Connect(addr, bluetooth.ConnectionParams{})
		if err != nil {
			a.del().ConnectFailed(id, err)
			return
		}
		a.mu.Lock()
		a.devices[id] = &deviceConn{device: device}
		a.mu.Unlock()
		a.del().Connected(id)
	}()
	return nil
}

// Disconnect implements transport.Adapter. The Disconnected event arrives
// through the stack's connect handler.
func (a *Adapter) Disconnect(id string) error {
	conn, err := a.conn(id)
	if err != nil {
		return err
	}
	return conn.device.Disconnect()
}

// DiscoverServices implements transport.Adapter.
func (a *Adapter) DiscoverServices(id string) error {
	conn, err := a.conn(id)
	if err != nil {
		return err
	}
	go func() {
		svcs, err := conn.device.DiscoverServices([]bluetooth.UUID{a.svcUUID})
		if err == nil && len(svcs) == 0 {
			err = fmt.Errorf("corebt: service %s not found", a.svc.ServiceUUID)
		}
		if err != nil {
			a.del().ServicesFound(id, err)
			return
		}
		a.mu.Lock()
		conn.service = svcs[0]
		conn.hasSvc = true
		a.mu.Unlock()
		a.del().ServicesFound(id, nil)
	}()
	return nil
}

// DiscoverCharacteristics implements transport.Adapter.
func (a *Adapter) DiscoverCharacteristics(id string) error {
	conn, err := a.conn(id)
	if err != nil {
		return err
	}
	a.mu.Lock()
	hasSvc := conn.hasSvc
	a.mu.Unlock()
	if !hasSvc {
		return fmt.Errorf("corebt: services of %s not discovered", id)
	}

	go func() {
		want := make([]bluetooth.UUID, 0, len(a.charUUID))
		for _, u := range a.charUUID {
			want = append(want, u)
		}
		found, err := conn.service.DiscoverCharacteristics(want)
		if err != nil {
			a.del().CharacteristicsFound(id, nil, err)
			return
		}
		chars := make([]transport.Characteristic, 0, len(found))
		for i := range found {
			chars = append(chars, &btChar{
				a:     a,
				devID: id,
				uuid:  strings.ToLower(found[i].UUID().String()),
				c:     found[i],
			})
		}
		a.del().CharacteristicsFound(id, chars, nil)
	}()
	return nil
}

func (a *Adapter) conn(id string) (*deviceConn, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	conn, ok := a.devices[id]
	if !ok {
		return nil, fmt.Errorf("corebt: %s not connected", id)
	}
	return conn, nil
}

// btChar adapts one discovered characteristic.
type btChar struct {
	a     *Adapter
	devID string
	uuid  string
	c     bluetooth.DeviceCharacteristic
}

func (c *btChar) UUID() string { return c.uuid }

func (c *btChar) Write(data []byte) error {
	_, err := c.c.WriteWithoutResponse(data)
	return err
}

func (c *btChar) Read() error {
	go func() {
		buf := make([]byte, 512)
		n, err := c.c.Read(buf)
		if err != nil {
			c.a.del().ValueUpdated(c.devID, c.uuid, nil, err)
			return
		}
		c.a.del().ValueUpdated(c.devID, c.uuid, buf[:n], nil)
	}()
	return nil
}

func (c *btChar) Subscribe(enable bool) error {
	go func() {
		var err error
		if enable {
			err = c.c.EnableNotifications(func(buf []byte) {
				payload := make([]byte, len(buf))
				copy(payload, buf)
				c.a.del().ValueUpdated(c.devID, c.uuid, payload, nil)
			})
		} else {
			err = c.c.EnableNotifications(nil)
		}
		active := enable && err == nil
		c.a.del().NotifyStateChanged(c.devID, c.uuid, active, err)
	}()
	return nil
}

func (c *btChar) MaxWriteLen() int {
	mtu, err := c.c.GetMTU()
	if err != nil || int(mtu) <= attOverhead {
		return 20
	}
	return int(mtu) - attOverhead
}

var _ transport.Adapter = (*Adapter)(nil)
var _ transport.Characteristic = (*btChar)(nil)
