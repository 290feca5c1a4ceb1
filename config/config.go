// Package config holds the engine's single enumerated-options
// configuration struct (spec.md §6.2), its validation, and the per-chip
// default factories supplementing the distilled spec from LoRaMesher's
// BuildOptions.h/hal_factory.hpp chip dispatch.
//
// Follows the teacher's *Config + New(cfg) + field-defaulting idiom used
// throughout the example (router.Config, advert.SchedulerConfig,
// contact.ManagerConfig).
package config

import (
	"fmt"
	"time"

	"github.com/aethermesh/aethermesh/codec"
	"github.com/aethermesh/aethermesh/core"
)

// Bandwidth is an enumerated LoRa bandwidth option.
type Bandwidth int

const (
	BW125kHz Bandwidth = iota
	BW250kHz
	BW500kHz
)

// Config collects every tunable knob named in spec.md §6.2.
type Config struct {
	MaxPacketSize int // bytes per on-air frame, 13-255, default 100

	HelloInterval   time.Duration // default 120s
	DefaultTimeout  time.Duration // default 5 * HelloInterval
	MinTimeout      time.Duration // floor for sequence timeout, default 20s
	RTMaxSize       int           // routing table capacity, default 256
	DutyCyclePct    int           // percentage of time radio may transmit, default 100
	SyncWord        byte          // mesh-identifier octet, default 0x13

	LoRaSF       int       // spreading factor, default 7
	LoRaBW       Bandwidth // default BW125kHz
	LoRaCR       int       // coding rate denominator (4/x), default 7
	LoRaPreamble int       // preamble symbols, default 8
	LoRaPowerDBm int       // TX power, default 6
	LoRaBandMHz  float64   // center frequency, default 869.9

	NodeRole core.Role // bit mask, GATEWAY=0x01, default 0
}

// Default returns a Config populated with spec.md §6.2's default values.
func Default() Config {
	hello := 120 * time.Second
	return Config{
		MaxPacketSize:  codec.DefaultMaxPacket,
		HelloInterval:  hello,
		DefaultTimeout: 5 * hello,
		MinTimeout:     20 * time.Second,
		RTMaxSize:      256,
		DutyCyclePct:   100,
		SyncWord:       0x13,
		LoRaSF:         7,
		LoRaBW:         BW125kHz,
		LoRaCR:         7,
		LoRaPreamble:   8,
		LoRaPowerDBm:   6,
		LoRaBandMHz:    869.9,
		NodeRole:       0,
	}
}

// DefaultsForSX1276 returns the defaults LoRaMesher's hal_factory.hpp
// selects for the Semtech SX1276 transceiver.
func DefaultsForSX1276() Config {
	return Default()
}

// DefaultsForSX1262 returns the defaults LoRaMesher's hal_factory.hpp
// selects for the Semtech SX1262 transceiver: the SX1276 defaults with a
// higher TX power (14 dBm) and a longer preamble (12 symbols); bandwidth is
// unchanged.
func DefaultsForSX1262() Config {
	cfg := Default()
	cfg.LoRaPowerDBm = 14
	cfg.LoRaPreamble = 12
	return cfg
}

// Validate checks the configuration against spec.md §6.2's constraints,
// returning the first violation found.
func (c Config) Validate() error {
	if err := codec.ValidateMaxPacketSize(c.MaxPacketSize); err != nil {
		return err
	}
	if c.HelloInterval <= 0 {
		return fmt.Errorf("config: hello_interval_s must be positive")
	}
	if c.MinTimeout <= 0 {
		return fmt.Errorf("config: min_timeout_s must be positive")
	}
	if c.RTMaxSize <= 0 {
		return fmt.Errorf("config: rt_max_size must be positive")
	}
	if c.DutyCyclePct < 0 || c.DutyCyclePct > 100 {
		return fmt.Errorf("config: duty_cycle_pct must be in [0, 100]")
	}
	if c.LoRaSF < 6 || c.LoRaSF > 12 {
		return fmt.Errorf("config: lora_sf must be in [6, 12]")
	}
	switch c.LoRaBW {
	case BW125kHz, BW250kHz, BW500kHz:
	default:
		return fmt.Errorf("config: lora_bw must be a recognised bandwidth enum value")
	}
	if c.LoRaCR < 5 || c.LoRaCR > 8 {
		return fmt.Errorf("config: lora_cr must be in [5, 8] (denominator of 4/x)")
	}
	if c.LoRaBandMHz <= 0 {
		return fmt.Errorf("config: lora_band must be a positive frequency in MHz")
	}
	return nil
}
