package main

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/user/rangetag/accessory"
	"github.com/user/rangetag/config"
	"github.com/user/rangetag/transport/simble"
)

// This test runs the full stack against the simulated transport: discovery,
// connect, channel discovery, pairing, chunked send, inbound notification,
// and recovery after a link drop.
func TestEndToEndOverSimulatedTransport(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()

	sim := simble.New(cfg.Service)
	sim.SetAdvertiseInterval(20 * time.Millisecond)
	sim.SetConnectDelay(time.Millisecond)
	defer sim.Shutdown()

	keyTag := sim.AddAccessory("Key Tag", 188)

	var mu sync.Mutex
	var connected, disconnected int
	var pairingPayload []byte
	var inboundPayloads [][]byte

	mgr := accessory.NewManager(cfg, sim, accessory.Callbacks{
		Connected: func(id string) {
			mu.Lock()
			connected++
			mu.Unlock()
		},
		Disconnected: func(id string) {
			mu.Lock()
			disconnected++
			mu.Unlock()
		},
		PairingPayload: func(payload []byte, id string) {
			mu.Lock()
			pairingPayload = append([]byte(nil), payload...)
			mu.Unlock()
		},
		DataPayload: func(payload []byte, deviceName, id string) {
			mu.Lock()
			inboundPayloads = append(inboundPayloads, append([]byte(nil), payload...))
			mu.Unlock()
		},
	})

	if err := mgr.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer mgr.Stop()

	waitFor(t, "discovery", func() bool { return len(mgr.Devices()) == 1 })
	if got := mgr.Devices()[0]; got.DisplayName != "Key Tag" || got.Status != accessory.StatusDiscovered {
		t.Fatalf("unexpected discovered device: %+v", got)
	}

	if err := mgr.Connect(keyTag.ID); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitFor(t, "ready notification", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return connected == 1
	})

	// Pairing round trip delivers the accessory's token and marks it known.
	if err := mgr.Pair(keyTag.ID); err != nil {
		t.Fatalf("Pair failed: %v", err)
	}
	waitFor(t, "pairing payload", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return pairingPayload != nil
	})
	mu.Lock()
	if !bytes.Equal(pairingPayload, keyTag.PairingToken) {
		t.Errorf("pairing payload = %q, want the accessory token", pairingPayload)
	}
	mu.Unlock()
	waitFor(t, "known device", func() bool { return mgr.IsKnown(keyTag.ID) })

	// A 1000-byte payload over MTU 188 fragments into 6 chunks of at most
	// 185 bytes each.
	payload := make([]byte, 1000)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	if err := mgr.Send(payload, keyTag.ID); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	writes := keyTag.Writes()
	if len(writes) != 6 {
		t.Fatalf("accessory received %d chunks, want 6", len(writes))
	}
	var reassembled []byte
	for _, w := range writes {
		if len(w) > 185 {
			t.Errorf("chunk of %d bytes exceeds the write limit", len(w))
		}
		reassembled = append(reassembled, w...)
	}
	if !bytes.Equal(reassembled, payload) {
		t.Error("reassembled chunks do not match the sent payload")
	}
	if mgr.WriteCount() != 6 {
		t.Errorf("write counter = %d, want 6", mgr.WriteCount())
	}

	// Inbound notification moves the device to Ranging.
	keyTag.Notify([]byte{0x01, 0x42})
	waitFor(t, "inbound payload", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(inboundPayloads) == 1
	})
	waitFor(t, "ranging status", func() bool {
		d := mgr.Devices()
		return len(d) == 1 && d[0].Status == accessory.StatusRanging
	})

	// An unsolicited link drop demotes the record, not destroys it, and
	// scanning resumes so the tag is reconnectable.
	keyTag.DropLink()
	waitFor(t, "disconnect notification", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return disconnected == 1
	})
	waitFor(t, "demoted status", func() bool {
		d := mgr.Devices()
		return len(d) == 1 && d[0].Status == accessory.StatusDiscovered
	})

	if err := mgr.Connect(keyTag.ID); err != nil {
		t.Fatalf("reconnect failed: %v", err)
	}
	waitFor(t, "second ready notification", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return connected == 2
	})
}

func TestConnectRefusedKeepsDeviceDiscoverable(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()

	sim := simble.New(cfg.Service)
	sim.SetAdvertiseInterval(20 * time.Millisecond)
	sim.SetConnectDelay(time.Millisecond)
	defer sim.Shutdown()

	tag := sim.AddAccessory("Bike Tag", 23)
	tag.FailNextConnect(true)

	mgr := accessory.NewManager(cfg, sim, accessory.Callbacks{})
	if err := mgr.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer mgr.Stop()

	waitFor(t, "discovery", func() bool { return len(mgr.Devices()) == 1 })

	if err := mgr.Connect(tag.ID); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	// The refusal arrives asynchronously and rolls the status back.
	waitFor(t, "rollback to discovered", func() bool {
		d := mgr.Devices()
		return len(d) == 1 && d[0].Status == accessory.StatusDiscovered
	})

	tag.FailNextConnect(false)
	if err := mgr.Connect(tag.ID); err != nil {
		t.Fatalf("retry Connect failed: %v", err)
	}
	waitFor(t, "eventual connect", func() bool {
		d := mgr.Devices()
		return len(d) == 1 && d[0].Status != accessory.StatusDiscovered
	})
}

func TestStaleAccessoryEvicted(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Sweep.IntervalMs = 20
	cfg.Sweep.StaleMs = 150

	sim := simble.New(cfg.Service)
	sim.SetAdvertiseInterval(10 * time.Millisecond)
	defer sim.Shutdown()

	sim.AddAccessory("Key Tag", 188)

	mgr := accessory.NewManager(cfg, sim, accessory.Callbacks{})
	if err := mgr.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer mgr.Stop()

	waitFor(t, "discovery", func() bool { return len(mgr.Devices()) == 1 })

	// Silence the accessory; with no fresh advertisements the sweeper
	// evicts it after the staleness window.
	sim.StopScan()
	waitFor(t, "eviction", func() bool { return len(mgr.Devices()) == 0 })
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
