// Package config loads the build-time-constant layout every other
// package treats as fixed: HEADER_SIZE, sector size, partition
// addresses/sizes, the chosen SigAlg, FLAGS_INVERT polarity, and the
// update strategy. Grounded on newt/flashmap/flashmap.go's YAML-driven
// parsing of a flash area map (sizes given as "64kb"-style strings,
// fields pulled out with spf13/cast rather than a strict struct tag
// unmarshal, log.Debug tracing each parsed area).
package config

import (
	"fmt"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cast"
	yaml "gopkg.in/yaml.v2"

	"github.com/wolfSSL/wolfboot-go/sigalg"
	"github.com/wolfSSL/wolfboot-go/wolferr"
)

// Strategy selects the update engine's mode of operation: the default
// fail-safe sector swap, or direct RAM-load boot.
type Strategy int

const (
	StrategySwap Strategy = iota
	StrategyRAMLoad
)

func (s Strategy) String() string {
	if s == StrategyRAMLoad {
		return "ram_load"
	}
	return "swap"
}

// PartitionConfig is one entry of the flash partition map.
type PartitionConfig struct {
	Name   string
	Device string // "internal" or "external": the two flash handles a board wires up separately
	Offset uint32
	Size   uint32
}

// Config is the fully-resolved, build-time-constant layout.
type Config struct {
	HeaderSize   int
	SectorSize   uint32
	FlagsInvert  bool
	Strategy     Strategy
	PrimaryAlg   sigalg.SigAlg
	SecondaryAlg *sigalg.SigAlg // nil unless hybrid dual-signature is configured
	Partitions   map[string]PartitionConfig
	EncryptionOn bool
	// EncryptSecretPath and EncryptKekHex locate the wrapped
	// content-encryption secret and the key-encryption key that unwraps
	// it (hal.NewExternalCipherDevice); both are empty unless
	// EncryptionOn is set.
	EncryptSecretPath string
	EncryptKekHex     string
}

// rawDoc mirrors the on-disk YAML shape, loosely typed the way
// flashmap.go accepts a map[string]interface{} for each area rather
// than a rigid schema, then walks fields with cast.
type rawDoc struct {
	HeaderSize    string                            `yaml:"header_size"`
	SectorSize    string                            `yaml:"sector_size"`
	FlagsInvert   bool                              `yaml:"flags_invert"`
	Strategy      string                            `yaml:"strategy"`
	PrimaryAlg    string                            `yaml:"primary_alg"`
	SecondAlg     string                            `yaml:"secondary_alg"`
	Encryption    bool                              `yaml:"encryption"`
	EncryptSecret string                            `yaml:"encrypt_secret"`
	EncryptKek    string                            `yaml:"encrypt_kek"`
	Partitions    map[string]map[string]interface{} `yaml:"partitions"`
}

// parseSize accepts plain integers or a "NNkb"/"NNmb" suffix, exactly
// the convention newt/flashmap/flashmap.go's parseSize implements for
// flash area sizes in a project's YAML.
func parseSize(val string) (uint32, error) {
	lower := strings.ToLower(strings.TrimSpace(val))
	multiplier := uint64(1)
	switch {
	case strings.HasSuffix(lower, "kb"):
		multiplier = 1024
		lower = strings.TrimSuffix(lower, "kb")
	case strings.HasSuffix(lower, "mb"):
		multiplier = 1024 * 1024
		lower = strings.TrimSuffix(lower, "mb")
	}
	n, err := strconv.ParseUint(lower, 0, 64)
	if err != nil {
		return 0, wolferr.Wrap(wolferr.HdrInvalid, err, "invalid size %q", val)
	}
	return uint32(n * multiplier), nil
}

func parseAlg(name string) (sigalg.SigAlg, error) {
	switch strings.ToLower(name) {
	case "", "ed25519":
		return sigalg.Ed25519, nil
	case "ecdsa":
		return sigalg.Ecdsa, nil
	case "rsa":
		return sigalg.Rsa, nil
	case "lms":
		return sigalg.Lms, nil
	case "xmss":
		return sigalg.Xmss, nil
	case "mldsa", "ml-dsa":
		return sigalg.MlDsa, nil
	default:
		return 0, wolferr.New(wolferr.HdrInvalid, "unknown signature algorithm %q", name)
	}
}

// Load parses a YAML build configuration, logging each resolved
// partition at debug level the way flashmap.go logs each parsed flash
// area before returning the map to its caller.
func Load(data []byte) (*Config, error) {
	var raw rawDoc
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, wolferr.Wrap(wolferr.HdrInvalid, err, "parsing build config YAML")
	}

	cfg := &Config{
		FlagsInvert:       raw.FlagsInvert,
		EncryptionOn:      raw.Encryption,
		EncryptSecretPath: raw.EncryptSecret,
		EncryptKekHex:     raw.EncryptKek,
		Partitions:        map[string]PartitionConfig{},
	}

	headerSize, err := parseSize(orDefault(raw.HeaderSize, "256"))
	if err != nil {
		return nil, err
	}
	cfg.HeaderSize = int(headerSize)

	sectorSize, err := parseSize(orDefault(raw.SectorSize, "4096"))
	if err != nil {
		return nil, err
	}
	cfg.SectorSize = sectorSize

	if strings.EqualFold(raw.Strategy, "ram_load") {
		cfg.Strategy = StrategyRAMLoad
	} else {
		cfg.Strategy = StrategySwap
	}

	primary, err := parseAlg(raw.PrimaryAlg)
	if err != nil {
		return nil, err
	}
	cfg.PrimaryAlg = primary

	if raw.SecondAlg != "" {
		secondary, err := parseAlg(raw.SecondAlg)
		if err != nil {
			return nil, err
		}
		cfg.SecondaryAlg = &secondary
	}

	for name, fields := range raw.Partitions {
		p, err := parsePartition(name, fields)
		if err != nil {
			return nil, err
		}
		log.WithFields(log.Fields{
			"partition": name,
			"device":    p.Device,
			"offset":    fmt.Sprintf("0x%x", p.Offset),
			"size":      p.Size,
		}).Debug("parsed partition")
		cfg.Partitions[name] = p
	}

	return cfg, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func parsePartition(name string, ymlFields map[string]interface{}) (PartitionConfig, error) {
	p := PartitionConfig{Name: name}
	fields := cast.ToStringMapString(ymlFields)

	if dev, ok := fields["device"]; ok {
		p.Device = dev
	} else {
		p.Device = "internal"
	}

	offsetStr, ok := fields["offset"]
	if !ok {
		return p, wolferr.New(wolferr.HdrInvalid, "partition %q missing offset", name)
	}
	var offset uint64
	var err error
	if lower := strings.ToLower(offsetStr); strings.HasPrefix(lower, "0x") {
		offset, err = strconv.ParseUint(strings.TrimPrefix(lower, "0x"), 16, 32)
	} else {
		// no 0x prefix: decimal, matching parseSize's leniency
		offset, err = strconv.ParseUint(offsetStr, 0, 32)
	}
	if err != nil {
		return p, wolferr.Wrap(wolferr.HdrInvalid, err, "partition %q invalid offset %q", name, offsetStr)
	}
	p.Offset = uint32(offset)

	sizeStr, ok := fields["size"]
	if !ok {
		return p, wolferr.New(wolferr.HdrInvalid, "partition %q missing size", name)
	}
	size, err := parseSize(sizeStr)
	if err != nil {
		return p, err
	}
	p.Size = size

	return p, nil
}
