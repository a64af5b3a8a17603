package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-rvm/rvm/config"
)

func TestLoadDefaultsToZeroFilledRAM(t *testing.T) {
	mc := config.DefaultMachineConfig()

	lm, err := Load(mc)
	require.NoError(t, err)
	defer lm.Close()

	data, err := lm.ReadMemory(0x8000_0000, 8)
	require.NoError(t, err)
	require.Equal(t, make([]byte, 8), data)
}

func TestLoadReadsRAMImageFromDisk(t *testing.T) {
	dir := t.TempDir()
	imgPath := filepath.Join(dir, "ram.img")
	require.NoError(t, os.WriteFile(imgPath, []byte{1, 2, 3, 4}, 0644))

	mc := config.DefaultMachineConfig()
	mc.RAM.Image = imgPath

	lm, err := Load(mc)
	require.NoError(t, err)
	defer lm.Close()

	data, err := lm.ReadMemory(0x8000_0000, 4)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4}, data)
}

func TestLoadRejectsOversizedImage(t *testing.T) {
	dir := t.TempDir()
	imgPath := filepath.Join(dir, "ram.img")
	require.NoError(t, os.WriteFile(imgPath, make([]byte, 1<<20), 0644))

	mc := config.DefaultMachineConfig()
	mc.RAM.Length = 1 << 10
	mc.RAM.Image = imgPath

	_, err := Load(mc)
	require.Error(t, err)
}

func TestLoadSharedFlashIsMmapBacked(t *testing.T) {
	dir := t.TempDir()
	flashPath := filepath.Join(dir, "flash.img")

	mc := config.DefaultMachineConfig()
	mc.Flash = []config.FlashDrive{{Start: 0x4000_0000, Length: 1 << 12, Image: flashPath, Shared: true}}

	lm, err := Load(mc)
	require.NoError(t, err)

	require.NoError(t, lm.WriteMemory(0x4000_0000, []byte{9, 9, 9}))
	require.NoError(t, lm.Close())

	on, err := os.ReadFile(flashPath)
	require.NoError(t, err)
	require.Equal(t, []byte{9, 9, 9}, on[:3])
}

func TestLoadSharedFlashWithoutPathFails(t *testing.T) {
	mc := config.DefaultMachineConfig()
	mc.Flash = []config.FlashDrive{{Start: 0x4000_0000, Length: 1 << 12, Shared: true}}

	_, err := Load(mc)
	require.Error(t, err)
}

func TestLoadPrivateFlashIsNotMmapBacked(t *testing.T) {
	dir := t.TempDir()
	flashPath := filepath.Join(dir, "flash.img")
	require.NoError(t, os.WriteFile(flashPath, []byte{1, 2, 3}, 0644))

	mc := config.DefaultMachineConfig()
	mc.Flash = []config.FlashDrive{{Start: 0x4000_0000, Length: 1 << 12, Image: flashPath, Shared: false}}

	lm, err := Load(mc)
	require.NoError(t, err)

	require.NoError(t, lm.WriteMemory(0x4000_0000, []byte{9, 9, 9}))
	require.NoError(t, lm.Close())

	on, err := os.ReadFile(flashPath)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, on)
}
