// Package config is the TOML configuration manifest for a machine: the
// construction-time record of RAM/ROM/flash image paths, initial CSR
// values and device toggles, plus a small runtime knob set that isn't
// part of the machine's own persisted state.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
)

// MachineConfig is the on-disk, human-editable counterpart of
// machine.Config: paths instead of loaded byte slices, so it can be
// checked into a repo or handed to the CLI without embedding binary
// images. loader.Load turns one of these into a machine.Config.
type MachineConfig struct {
	// RAM settings
	RAM struct {
		Length uint64 `toml:"length" json:"length"`
		Image  string `toml:"image" json:"image,omitempty"` // optional; zero-filled if empty
	} `toml:"ram" json:"ram"`

	// ROM settings
	ROM struct {
		Length   uint64 `toml:"length" json:"length"`
		Image    string `toml:"image" json:"image,omitempty"`
		Bootargs string `toml:"bootargs" json:"bootargs,omitempty"`
	} `toml:"rom" json:"rom"`

	Flash []FlashDrive `toml:"flash" json:"flash,omitempty"`

	// Initial CSR settings
	CSR struct {
		PC       uint64 `toml:"pc" json:"pc"`
		Misa     uint64 `toml:"misa" json:"misa,omitempty"`
		Mtimecmp uint64 `toml:"mtimecmp" json:"mtimecmp,omitempty"`
		Tohost   uint64 `toml:"tohost" json:"tohost,omitempty"`
		Fromhost uint64 `toml:"fromhost" json:"fromhost,omitempty"`
	} `toml:"csr" json:"csr"`

	Interactive bool `toml:"interactive" json:"interactive,omitempty"` // HTIF console GETCHAR polling
}

// FlashDrive is one [[flash]] table entry.
type FlashDrive struct {
	Start  uint64 `toml:"start" json:"start"`
	Length uint64 `toml:"length" json:"length"`
	Image  string `toml:"image" json:"image,omitempty"`
	Shared bool   `toml:"shared" json:"shared,omitempty"` // mmap-backed, flushed on close
}

// RuntimeConfig holds the runtime-configuration knobs: settings that
// shape how a session runs a machine, not the machine's own
// architectural state.
type RuntimeConfig struct {
	DehashSourceAddress     uint64 `toml:"dehash_source_address"`
	MerkleUpdateConcurrency int    `toml:"merkle_update_concurrency"`
}

// DefaultMachineConfig mirrors machine.DefaultConfig: 64 MiB of RAM, a 4
// KiB ROM page, no flash drives, booting directly into RAM at reset.
func DefaultMachineConfig() *MachineConfig {
	cfg := &MachineConfig{}
	cfg.RAM.Length = 64 << 20
	cfg.ROM.Length = 1 << 12
	cfg.CSR.PC = 0x8000_0000
	return cfg
}

// DefaultRuntimeConfig leaves dehash disabled and lets the Merkle engine
// pick its own concurrency.
func DefaultRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{}
}

// GetConfigPath returns the platform-specific config file path
func GetConfigPath() string {
	var configDir string

	switch runtime.GOOS {
	case "windows":
		// Windows: %APPDATA%\rvm\config.toml
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		configDir = filepath.Join(configDir, "rvm")

	case "darwin", "linux":
		// macOS/Linux: ~/.config/rvm/config.toml
		homeDir, err := os.UserHomeDir()
		if err != nil {
			// Fallback to current directory
			return "config.toml"
		}
		configDir = filepath.Join(homeDir, ".config", "rvm")

	default:
		// Unknown platform: use current directory
		return "config.toml"
	}

	// Ensure directory exists
	if err := os.MkdirAll(configDir, 0750); err != nil {
		// If we can't create the directory, fall back to current directory
		return "config.toml"
	}

	return filepath.Join(configDir, "config.toml")
}

// GetLogPath returns the platform-specific log directory path
func GetLogPath() string {
	var logDir string

	switch runtime.GOOS {
	case "windows":
		logDir = os.Getenv("APPDATA")
		if logDir == "" {
			logDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		logDir = filepath.Join(logDir, "rvm", "logs")

	case "darwin", "linux":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "logs"
		}
		logDir = filepath.Join(homeDir, ".local", "share", "rvm", "logs")

	default:
		return "logs"
	}

	if err := os.MkdirAll(logDir, 0750); err != nil {
		return "logs"
	}

	return logDir
}

// Load loads a MachineConfig from the default config file
func Load() (*MachineConfig, error) {
	return LoadFrom(GetConfigPath())
}

// LoadFrom loads a MachineConfig from the specified file, returning
// defaults if the file doesn't exist
func LoadFrom(path string) (*MachineConfig, error) {
	cfg := DefaultMachineConfig()

	// If file doesn't exist, return default config
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read and parse config file
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Save saves c to the default config file
func (c *MachineConfig) Save() error {
	return c.SaveTo(GetConfigPath())
}

// SaveTo saves c to the specified file
func (c *MachineConfig) SaveTo(path string) error {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Create file
	f, err := os.Create(path) // #nosec G304 -- user config file path
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close config file: %w", closeErr)
		}
	}()

	// Encode to TOML
	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return nil
}
