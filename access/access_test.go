package access

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-rvm/rvm/merkle"
	"github.com/go-rvm/rvm/pma"
)

func newMachine(t *testing.T) (*Direct, *merkle.Tree) {
	t.Helper()
	shadow, err := NewShadowEntry(0)
	require.NoError(t, err)
	ram, err := pma.NewMemoryEntry(0x1000, pma.PageSize, pma.Flags{R: true, W: true, DID: pma.DIDMemory}, nil)
	require.NoError(t, err)
	tbl, err := pma.NewTable([]*pma.Entry{shadow, ram})
	require.NoError(t, err)
	return NewDirect(shadow, tbl), merkle.New(tbl)
}

func TestDirectRegisterZeroIsHardwired(t *testing.T) {
	d, _ := newMachine(t)
	d.WriteX(0, 0xdeadbeef)
	require.Equal(t, uint64(0), d.ReadX(0))
}

func TestDirectMemoryRoundTrip(t *testing.T) {
	d, _ := newMachine(t)
	d.WriteMemory(0x1000, 3, 0x0102030405060708)
	require.Equal(t, uint64(0x0102030405060708), d.ReadMemory(0x1000, 3))
	d.WriteMemory(0x1004, 2, 0xaabbccdd)
	require.Equal(t, uint64(0xaabbccdd), d.ReadMemory(0x1004, 2))
}

func TestLoggingReplayAgree(t *testing.T) {
	d, tree := newMachine(t)
	d.WriteX(5, 42)
	d.WritePC(0x1000)

	logging := NewLogging(d, tree)
	var s State = logging
	s.WriteX(5, 100)
	pc := s.ReadPC()
	s.WritePC(pc + 4)
	s.WriteMemory(0x1000, 2, 0xbeef)
	log := logging.Finish()

	require.NotEqual(t, log.RootHashBefore, log.RootHashAfter)

	replay := NewReplay(log)
	var rs State = replay
	rs.WriteX(5, 100)
	rpc := rs.ReadPC()
	require.Equal(t, uint64(0x1000), rpc)
	rs.WritePC(rpc + 4)
	rs.WriteMemory(0x1000, 2, 0xbeef)

	require.True(t, replay.Exhausted())
	require.Equal(t, log.RootHashAfter, replay.Root())
}

func TestReplayDetectsTamperedLog(t *testing.T) {
	d, tree := newMachine(t)
	logging := NewLogging(d, tree)
	logging.WriteX(1, 7)
	log := logging.Finish()

	log.Entries[0].NewWord = 999 // tamper

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected replay to panic on tampered log entry")
		}
	}()
	replay := NewReplay(log)
	replay.WriteX(1, 7)
}
