package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestDefaultMachineConfig(t *testing.T) {
	cfg := DefaultMachineConfig()

	if cfg.RAM.Length != 64<<20 {
		t.Errorf("Expected RAM.Length=%d, got %d", 64<<20, cfg.RAM.Length)
	}
	if cfg.ROM.Length != 1<<12 {
		t.Errorf("Expected ROM.Length=%d, got %d", 1<<12, cfg.ROM.Length)
	}
	if cfg.CSR.PC != 0x8000_0000 {
		t.Errorf("Expected CSR.PC=0x80000000, got %#x", cfg.CSR.PC)
	}
	if len(cfg.Flash) != 0 {
		t.Errorf("Expected no flash drives by default, got %d", len(cfg.Flash))
	}
}

func TestGetConfigPath(t *testing.T) {
	path := GetConfigPath()

	if path == "" {
		t.Error("GetConfigPath returned empty string")
	}
	if filepath.Base(path) != "config.toml" {
		t.Errorf("Expected path to end with config.toml, got %s", path)
	}

	switch runtime.GOOS {
	case "windows":
		if !filepath.IsAbs(path) && path != "config.toml" {
			t.Errorf("Expected absolute path on Windows, got %s", path)
		}

	case "darwin", "linux":
		dir := filepath.Dir(path)
		if filepath.Base(dir) != "rvm" && path != "config.toml" {
			t.Errorf("Expected path in rvm directory or fallback, got %s", path)
		}
	}
}

func TestGetLogPath(t *testing.T) {
	path := GetLogPath()

	if path == "" {
		t.Error("GetLogPath returned empty string")
	}

	switch runtime.GOOS {
	case "windows":
		if !filepath.IsAbs(path) && path != "logs" {
			t.Errorf("Expected absolute path on Windows, got %s", path)
		}

	case "darwin", "linux":
		if filepath.Base(path) != "logs" {
			t.Errorf("Expected path to end with logs, got %s", path)
		}
	}
}

func TestSaveAndLoad(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "test_config.toml")

	cfg := DefaultMachineConfig()
	cfg.RAM.Length = 128 << 20
	cfg.ROM.Bootargs = "console=htif"
	cfg.CSR.PC = 0x9000_0000
	cfg.Interactive = true
	cfg.Flash = []FlashDrive{{Start: 0x4000_0000, Length: 1 << 12, Image: "disk.img", Shared: true}}

	if err := cfg.SaveTo(configPath); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Fatal("Config file was not created")
	}

	loaded, err := LoadFrom(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if loaded.RAM.Length != 128<<20 {
		t.Errorf("Expected RAM.Length=%d, got %d", 128<<20, loaded.RAM.Length)
	}
	if loaded.ROM.Bootargs != "console=htif" {
		t.Errorf("Expected Bootargs=console=htif, got %s", loaded.ROM.Bootargs)
	}
	if loaded.CSR.PC != 0x9000_0000 {
		t.Errorf("Expected CSR.PC=0x90000000, got %#x", loaded.CSR.PC)
	}
	if !loaded.Interactive {
		t.Error("Expected Interactive=true")
	}
	if len(loaded.Flash) != 1 || loaded.Flash[0].Start != 0x4000_0000 || !loaded.Flash[0].Shared {
		t.Errorf("Expected one shared flash drive at 0x40000000, got %+v", loaded.Flash)
	}
}

func TestLoadNonExistent(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "nonexistent.toml")

	cfg, err := LoadFrom(configPath)
	if err != nil {
		t.Fatalf("LoadFrom should not error on non-existent file: %v", err)
	}

	if cfg.RAM.Length != 64<<20 {
		t.Error("Expected default config when file doesn't exist")
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "invalid.toml")

	invalidTOML := `
[ram]
length = "not a number"  # Invalid: should be uint64
`
	if err := os.WriteFile(configPath, []byte(invalidTOML), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	_, err := LoadFrom(configPath)
	if err == nil {
		t.Error("Expected error when loading invalid TOML")
	}
}

func TestSaveCreatesDirectory(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "subdir1", "subdir2", "config.toml")

	cfg := DefaultMachineConfig()
	if err := cfg.SaveTo(configPath); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Error("Config file was not created")
	}

	dir := filepath.Dir(configPath)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		t.Error("Parent directories were not created")
	}
}
