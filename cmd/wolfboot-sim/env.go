package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/wolfSSL/wolfboot-go/config"
	"github.com/wolfSSL/wolfboot-go/hal"
	"github.com/wolfSSL/wolfboot-go/trailer"
)

// env is the simulator's resolved runtime state for one invocation:
// the parsed build configuration plus one open hal.Device per distinct
// device name ("internal"/"external") the config's partitions
// reference, mirroring how a real target's linker script and HAL
// registration resolve the same config.PartitionConfig table to
// concrete device handles at startup.
type env struct {
	cfg     *config.Config
	devices map[string]hal.Device
	closers []func() error
}

func loadEnv(configPath, imagePath string) (*env, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(data)
	if err != nil {
		return nil, err
	}

	dev, err := hal.NewMmapDevice(imagePath, cfg.SectorSize, cfg.FlagsInvert)
	if err != nil {
		return nil, err
	}

	e := &env{
		cfg:     cfg,
		devices: map[string]hal.Device{"internal": dev},
		closers: []func() error{dev.Close},
	}

	if cfg.EncryptionOn {
		extDev, err := wrapExternalDevice(dev, cfg)
		if err != nil {
			dev.Close()
			return nil, err
		}
		e.devices["external"] = extDev
	} else {
		e.devices["external"] = dev // single backing file stands in for both handles in the simulator
	}
	return e, nil
}

// wrapExternalDevice builds the ExternalCipherDevice the "external"
// device name resolves to when the build configuration turns
// encryption-at-rest on, reading the wrapped content-encryption secret
// and hex key-encryption key the config names.
func wrapExternalDevice(dev hal.Device, cfg *config.Config) (hal.Device, error) {
	wrapped, err := os.ReadFile(cfg.EncryptSecretPath)
	if err != nil {
		return nil, fmt.Errorf("wolfboot-sim: reading encrypted secret %s: %w", cfg.EncryptSecretPath, err)
	}
	kek, err := hex.DecodeString(cfg.EncryptKekHex)
	if err != nil {
		return nil, fmt.Errorf("wolfboot-sim: decoding encrypt_kek: %w", err)
	}
	return hal.NewExternalCipherDevice(dev, wrapped, kek)
}

func (e *env) Close() error {
	var first error
	for _, c := range e.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (e *env) partition(name string) (trailer.Partition, error) {
	pc, ok := e.cfg.Partitions[name]
	if !ok {
		return trailer.Partition{}, fmt.Errorf("wolfboot-sim: config has no partition %q", name)
	}
	dev, ok := e.devices[pc.Device]
	if !ok {
		return trailer.Partition{}, fmt.Errorf("wolfboot-sim: partition %q names unknown device %q", name, pc.Device)
	}
	return trailer.Partition{Dev: dev, Base: pc.Offset, Size: pc.Size, Invert: e.cfg.FlagsInvert}, nil
}
