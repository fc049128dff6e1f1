package breakpoint

import (
	"fmt"
	"testing"

	"github.com/pattyshack/gt/testing/expect"
	"github.com/pattyshack/gt/testing/suite"

	"github.com/io-no/libdebug/debugger/arch"
	. "github.com/io-no/libdebug/debugger/common"
)

// fakeMemory is a word-addressable stand-in for tracee memory.
type fakeMemory struct {
	words map[VirtualAddress]Word

	failPokes bool
}

func newFakeMemory() *fakeMemory {
	return &fakeMemory{
		words: map[VirtualAddress]Word{},
	}
}

func (mem *fakeMemory) PeekWord(addr VirtualAddress) (Word, error) {
	word, ok := mem.words[addr]
	if !ok {
		return 0, fmt.Errorf("unmapped address %s", addr)
	}
	return word, nil
}

func (mem *fakeMemory) PokeWord(addr VirtualAddress, word Word) error {
	if mem.failPokes {
		return fmt.Errorf("poke failed at %s", addr)
	}

	_, ok := mem.words[addr]
	if !ok {
		return fmt.Errorf("unmapped address %s", addr)
	}
	mem.words[addr] = word
	return nil
}

type TableSuite struct{}

func TestTable(t *testing.T) {
	suite.RunTests(t, &TableSuite{})
}

func (TableSuite) TestInstallPatchesLeadingByte(t *testing.T) {
	mem := newFakeMemory()
	mem.words[0x1000] = Word(0x1122334455667788)

	table := NewTable(mem)

	bp, err := table.Install(0x1000)
	expect.Nil(t, err)
	expect.True(t, bp.Enabled)
	expect.Equal(t, Word(0x1122334455667788), bp.OriginalWord)
	expect.Equal(t, Word(0x11223344556677cc), bp.PatchedWord)
	expect.Equal(t, Word(0x11223344556677cc), mem.words[0x1000])
}

func (TableSuite) TestInstallPatchIsDeterministic(t *testing.T) {
	word := Word(0xdeadbeefcafe0099)
	expect.Equal(t, arch.InstallPatch(word), arch.InstallPatch(word))

	// Patching a patched word yields the same word.
	expect.Equal(
		t,
		arch.InstallPatch(word),
		arch.InstallPatch(arch.InstallPatch(word)))
}

func (TableSuite) TestOriginalCapturedExactlyOnce(t *testing.T) {
	mem := newFakeMemory()
	mem.words[0x2000] = Word(0xaabbccddeeff0011)

	table := NewTable(mem)

	first, err := table.Install(0x2000)
	expect.Nil(t, err)

	// The word in memory now carries the trap byte.  Re-installing must not
	// recapture it as the original.
	second, err := table.Install(0x2000)
	expect.Nil(t, err)
	expect.True(t, first == second)
	expect.Equal(t, Word(0xaabbccddeeff0011), second.OriginalWord)
	expect.Equal(t, 1, table.Len())
}

func (TableSuite) TestDisableKeepsTrapInMemory(t *testing.T) {
	mem := newFakeMemory()
	mem.words[0x3000] = Word(0x0102030405060708)

	table := NewTable(mem)

	bp, err := table.Install(0x3000)
	expect.Nil(t, err)

	err = table.Disable(0x3000)
	expect.Nil(t, err)
	expect.False(t, bp.Enabled)

	// Disable writes the patched word; only the enabled flag changes.
	expect.Equal(t, bp.PatchedWord, mem.words[0x3000])
	expect.False(t, table.EnabledAt(0x3000))
}

func (TableSuite) TestDisableUnknownAddress(t *testing.T) {
	table := NewTable(newFakeMemory())

	err := table.Disable(0x4000)
	expect.Error(t, err, "no such breakpoint")
}

func (TableSuite) TestRemoveDoesNotTouchMemory(t *testing.T) {
	mem := newFakeMemory()
	mem.words[0x5000] = Word(0x1111111111111111)

	table := NewTable(mem)

	bp, err := table.Install(0x5000)
	expect.Nil(t, err)

	expect.True(t, table.Remove(0x5000))
	expect.Equal(t, 0, table.Len())
	expect.Equal(t, bp.PatchedWord, mem.words[0x5000])

	expect.False(t, table.Remove(0x5000))
}

func (TableSuite) TestInstallDisableRemoveRoundTrip(t *testing.T) {
	mem := newFakeMemory()
	mem.words[0x6000] = Word(0x99aabbccddeeff00)

	table := NewTable(mem)

	bp, err := table.Install(0x6000)
	expect.Nil(t, err)

	err = table.Disable(0x6000)
	expect.Nil(t, err)

	expect.True(t, table.Remove(0x6000))

	expect.Equal(t, 0, table.Len())
	expect.Equal(t, bp.PatchedWord, mem.words[0x6000])
}

func (TableSuite) TestRestoreAndRearm(t *testing.T) {
	mem := newFakeMemory()
	mem.words[0x7000] = Word(0x1010101010101010)
	mem.words[0x8000] = Word(0x2020202020202020)
	mem.words[0x9000] = Word(0x3030303030303030)

	table := NewTable(mem)

	bp1, err := table.Install(0x7000)
	expect.Nil(t, err)
	bp2, err := table.Install(0x8000)
	expect.Nil(t, err)
	bp3, err := table.Install(0x9000)
	expect.Nil(t, err)

	err = table.Disable(0x9000)
	expect.Nil(t, err)

	err = table.RestoreOriginals()
	expect.Nil(t, err)
	expect.Equal(t, bp1.OriginalWord, mem.words[0x7000])
	expect.Equal(t, bp2.OriginalWord, mem.words[0x8000])
	// Disabled records are not restored.
	expect.Equal(t, bp3.PatchedWord, mem.words[0x9000])

	err = table.RearmEnabled()
	expect.Nil(t, err)
	expect.Equal(t, bp1.PatchedWord, mem.words[0x7000])
	expect.Equal(t, bp2.PatchedWord, mem.words[0x8000])
	expect.Equal(t, bp3.PatchedWord, mem.words[0x9000])
}

func (TableSuite) TestRestoreCollectsFailures(t *testing.T) {
	mem := newFakeMemory()
	mem.words[0xa000] = Word(0x4040404040404040)

	table := NewTable(mem)

	_, err := table.Install(0xa000)
	expect.Nil(t, err)

	mem.failPokes = true
	err = table.RestoreOriginals()
	expect.Error(t, err, "poke failed")
}

func (TableSuite) TestInstallUnmappedAddress(t *testing.T) {
	table := NewTable(newFakeMemory())

	_, err := table.Install(0xb000)
	expect.Error(t, err, "failed to install breakpoint")
	expect.Equal(t, 0, table.Len())
}

func (TableSuite) TestEnabledAt(t *testing.T) {
	mem := newFakeMemory()
	mem.words[0xc000] = Word(0x5050505050505050)

	table := NewTable(mem)

	expect.False(t, table.EnabledAt(0xc000))

	_, err := table.Install(0xc000)
	expect.Nil(t, err)
	expect.True(t, table.EnabledAt(0xc000))

	err = table.Disable(0xc000)
	expect.Nil(t, err)
	expect.False(t, table.EnabledAt(0xc000))

	// Re-install re-enables the existing record.
	_, err = table.Install(0xc000)
	expect.Nil(t, err)
	expect.True(t, table.EnabledAt(0xc000))
}

func (TableSuite) TestClear(t *testing.T) {
	mem := newFakeMemory()
	mem.words[0xd000] = Word(0x6060606060606060)
	mem.words[0xe000] = Word(0x7070707070707070)

	table := NewTable(mem)

	_, err := table.Install(0xd000)
	expect.Nil(t, err)
	_, err = table.Install(0xe000)
	expect.Nil(t, err)
	expect.Equal(t, 2, len(table.All()))

	table.Clear()
	expect.Equal(t, 0, table.Len())
	expect.Equal(t, 0, len(table.All()))
}

func (TableSuite) TestReplacePatchedBytes(t *testing.T) {
	mem := newFakeMemory()
	mem.words[0xf004] = Word(0x1122334455667788)

	table := NewTable(mem)

	_, err := table.Install(0xf004)
	expect.Nil(t, err)

	// 0x88 is the leading (lowest addressed) byte of the original word.
	memorySlice := []byte{0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc}
	table.ReplacePatchedBytes(0xf000, memorySlice)
	expect.Equal(
		t,
		[]byte{0xcc, 0xcc, 0xcc, 0xcc, 0x88, 0xcc, 0xcc, 0xcc},
		memorySlice)

	// Out of range slices are untouched.
	memorySlice = []byte{0xcc, 0xcc}
	table.ReplacePatchedBytes(0xf000, memorySlice)
	expect.Equal(t, []byte{0xcc, 0xcc}, memorySlice)

	// Disabled records are not substituted.
	err = table.Disable(0xf004)
	expect.Nil(t, err)

	memorySlice = []byte{0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc}
	table.ReplacePatchedBytes(0xf000, memorySlice)
	expect.Equal(
		t,
		[]byte{0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc},
		memorySlice)
}
