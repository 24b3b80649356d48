// Command simulate runs the connectivity manager against the in-memory
// simulated transport: two accessories advertise, one is connected,
// paired, streamed to, and dropped.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/user/rangetag/accessory"
	"github.com/user/rangetag/config"
	"github.com/user/rangetag/logger"
	"github.com/user/rangetag/transport/simble"
)

func main() {
	logger.SetLevel(logger.DEBUG)

	cfg := config.Default()
	cfg.DataDir = fmt.Sprintf("%s/rangetag-sim", os.TempDir())

	sim := simble.New(cfg.Service)
	tagA := sim.AddAccessory("Key Tag", 188)
	tagB := sim.AddAccessory("Bike Tag", 23)
	_ = tagB // advertises only; exercises the staleness sweeper after stop

	ready := make(chan string, 1)
	mgr := accessory.NewManager(cfg, sim, accessory.Callbacks{
		RegistryChanged: func(position int, id string, inserted bool) {
			logger.Info("sim", "registry changed: pos=%d id=%s inserted=%v", position, id, inserted)
		},
		Connected: func(id string) {
			select {
			case ready <- id:
			default:
			}
		},
		PairingPayload: func(payload []byte, id string) {
			logger.Info("sim", "paired with %s: token %q", id, payload)
		},
		DataPayload: func(payload []byte, deviceName, id string) {
			logger.Info("sim", "frame from %s: %d bytes", deviceName, len(payload))
		},
		Disconnected: func(id string) {
			logger.Info("sim", "disconnected: %s", id)
		},
	})

	if err := mgr.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "simulate: %v\n", err)
		os.Exit(1)
	}
	defer mgr.Stop()

	// Wait for the key tag to be discovered, then connect it.
	waitFor(func() bool { return len(mgr.Devices()) >= 2 })
	if err := mgr.Connect(tagA.ID); err != nil {
		fmt.Fprintf(os.Stderr, "simulate: connect: %v\n", err)
		os.Exit(1)
	}

	select {
	case id := <-ready:
		logger.Info("sim", "ready: %s", id)
	case <-time.After(5 * time.Second):
		fmt.Fprintln(os.Stderr, "simulate: accessory never became ready")
		os.Exit(1)
	}

	if err := mgr.Pair(tagA.ID); err != nil {
		fmt.Fprintf(os.Stderr, "simulate: pair: %v\n", err)
		os.Exit(1)
	}

	// Stream a payload larger than one MTU so the write engine chunks it.
	payload := make([]byte, 1000)
	for i := range payload {
		payload[i] = byte(i)
	}
	if err := mgr.Send(payload, tagA.ID); err != nil {
		fmt.Fprintf(os.Stderr, "simulate: send: %v\n", err)
		os.Exit(1)
	}
	waitFor(func() bool { return len(tagA.Writes()) >= 6 })
	logger.Info("sim", "sent %d bytes as %d chunks (%d writes total)",
		len(payload), len(tagA.Writes()), mgr.WriteCount())

	tagA.Notify([]byte{0x01, 0x42}) // one ranging frame back
	tagA.DropLink()

	time.Sleep(500 * time.Millisecond)
	for _, d := range mgr.Devices() {
		logger.Info("sim", "final: %s (%s) status=%s", d.DisplayName, d.UniqueID, d.Status)
	}
}

func waitFor(cond func() bool) {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	fmt.Fprintln(os.Stderr, "simulate: timed out waiting for condition")
	os.Exit(1)
}
