package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/user/rangetag/accessory"
	"github.com/user/rangetag/config"
	"github.com/user/rangetag/logger"
	"github.com/user/rangetag/transport/corebt"
)

func main() {
	configPath := flag.String("config", config.DefaultConfigPath(), "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg = config.Default()
		} else {
			fmt.Fprintf(os.Stderr, "rangetag: %v\n", err)
			os.Exit(1)
		}
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "rangetag: %v\n", err)
		os.Exit(1)
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	adapter, err := corebt.New(cfg.Service)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rangetag: %v\n", err)
		os.Exit(1)
	}

	mgr := accessory.NewManager(cfg, adapter, accessory.Callbacks{
		RegistryChanged: func(position int, id string, inserted bool) {
			if inserted {
				logger.Info("main", "device list: +%s at %d", id, position)
			} else {
				logger.Info("main", "device list: -%s from %d", id, position)
			}
		},
		Connected: func(id string) {
			logger.Info("main", "ready for ranging: %s", id)
		},
		Disconnected: func(id string) {
			logger.Info("main", "link down: %s", id)
		},
		PairingPayload: func(payload []byte, id string) {
			logger.Info("main", "pairing payload from %s (%d bytes)", id, len(payload))
		},
		DataPayload: func(payload []byte, deviceName, id string) {
			logger.Debug("main", "ranging frame from %s (%s): %d bytes", deviceName, id, len(payload))
		},
	})

	if err := mgr.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "rangetag: %v\n", err)
		os.Exit(1)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	mgr.Stop()
}
