package mmapdb

import (
	"encoding/binary"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T, capacity uint64, probeLimit int) (*Table, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wallets.mmdb")
	tbl, err := OpenOrCreate(path, capacity, probeLimit)
	require.NoError(t, err)
	t.Cleanup(func() { tbl.Close() })
	return tbl, path
}

func addr(b byte) [32]byte {
	var a [32]byte
	for i := range a {
		a[i] = b
	}
	return a
}

// collidingAddrs returns n distinct addresses that share one primary slot.
func collidingAddrs(t *testing.T, tbl *Table, n int) [][32]byte {
	t.Helper()
	rng := rand.New(rand.NewSource(42))
	var first [32]byte
	rng.Read(first[:])
	want := tbl.hash(first) & tbl.mask
	out := [][32]byte{first}
	for tries := 0; len(out) < n && tries < 10_000_000; tries++ {
		var a [32]byte
		rng.Read(a[:])
		if tbl.hash(a)&tbl.mask == want {
			out = append(out, a)
		}
	}
	require.Len(t, out, n)
	return out
}

func TestOpenOrCreate_PowerOfTwo(t *testing.T) {
	dir := t.TempDir()

	_, err := OpenOrCreate(filepath.Join(dir, "bad.mmdb"), 1000, 8)
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = OpenOrCreate(filepath.Join(dir, "zero.mmdb"), 0, 8)
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = OpenOrCreate(filepath.Join(dir, "limit.mmdb"), 1024, 0)
	require.ErrorIs(t, err, ErrInvalidConfig)

	tbl, err := OpenOrCreate(filepath.Join(dir, "good.mmdb"), 1024, 8)
	require.NoError(t, err)
	defer tbl.Close()
	assert.Equal(t, uint64(1024), tbl.Capacity())

	fi, err := os.Stat(filepath.Join(dir, "good.mmdb"))
	require.NoError(t, err)
	assert.Equal(t, FileSize(1024), fi.Size())
}

func TestInsertLookup_Scenario(t *testing.T) {
	tbl, _ := openTemp(t, 1024, 8)
	a := addr(42)

	isNew, err := tbl.Insert(WalletRecord{
		FullAddress: a,
		Confidence:  0.85,
		WinRate:     0.75,
		TotalTrades: 100,
		Flags:       FlagActive,
	})
	require.NoError(t, err)
	assert.True(t, isNew)

	c, ok := tbl.LookupConfidence(a)
	require.True(t, ok)
	assert.Equal(t, float32(0.85), c)

	rec, ok := tbl.LookupRecord(a)
	require.True(t, ok)
	assert.Equal(t, float32(0.75), rec.WinRate)
	assert.Equal(t, uint32(100), rec.TotalTrades)
	assert.Equal(t, HashAddress(a, DefaultHashSeed), rec.AddressHash)
	assert.True(t, rec.HasFlag(FlagActive))
}

func TestLookup_Missing(t *testing.T) {
	tbl, _ := openTemp(t, 1024, 8)
	_, ok := tbl.LookupConfidence(addr(7))
	assert.False(t, ok)

	s := tbl.Stats()
	assert.Equal(t, uint64(1), s.TotalLookups)
	assert.Equal(t, uint64(1), s.Misses)
}

func TestInsert_IdempotentUpdate(t *testing.T) {
	tbl, _ := openTemp(t, 1024, 8)
	a := addr(3)

	isNew, err := tbl.Insert(WalletRecord{FullAddress: a, Confidence: 0.5})
	require.NoError(t, err)
	require.True(t, isNew)

	isNew, err = tbl.Insert(WalletRecord{FullAddress: a, Confidence: 0.9})
	require.NoError(t, err)
	assert.False(t, isNew)

	assert.Equal(t, uint64(1), tbl.Stats().ActiveCount)
	c, ok := tbl.LookupConfidence(a)
	require.True(t, ok)
	assert.Equal(t, float32(0.9), c)
}

func TestInsert_RoundTripMany(t *testing.T) {
	tbl, _ := openTemp(t, 4096, 8)
	rng := rand.New(rand.NewSource(1))
	want := map[[32]byte]float32{}
	for i := 0; i < 1000; i++ {
		var a [32]byte
		rng.Read(a[:])
		c := rng.Float32()
		if _, err := tbl.Insert(WalletRecord{FullAddress: a, Confidence: c}); err != nil {
			continue
		}
		want[a] = c
	}
	require.NotEmpty(t, want)
	for a, c := range want {
		got, ok := tbl.LookupConfidence(a)
		require.True(t, ok)
		assert.Equal(t, c, got)
	}
	assert.Equal(t, uint64(len(want)), tbl.Stats().ActiveCount)
}

func TestCollision_Disambiguates(t *testing.T) {
	tbl, _ := openTemp(t, 1024, 8)
	addrs := collidingAddrs(t, tbl, 4)

	for i, a := range addrs {
		_, err := tbl.Insert(WalletRecord{FullAddress: a, Confidence: float32(i+1) / 10})
		require.NoError(t, err)
	}
	for i, a := range addrs {
		c, ok := tbl.LookupConfidence(a)
		require.True(t, ok)
		assert.Equal(t, float32(i+1)/10, c)
	}
	assert.Greater(t, tbl.Stats().Collisions, uint64(0))
}

func TestProbeLimit_Boundary(t *testing.T) {
	tbl, _ := openTemp(t, 1024, 8)
	addrs := collidingAddrs(t, tbl, 9)

	for _, a := range addrs[:8] {
		_, err := tbl.Insert(WalletRecord{FullAddress: a, Confidence: 0.5})
		require.NoError(t, err)
	}
	_, err := tbl.Insert(WalletRecord{FullAddress: addrs[8], Confidence: 0.99})
	require.ErrorIs(t, err, ErrTableFull)

	for _, a := range addrs[:8] {
		c, ok := tbl.LookupConfidence(a)
		require.True(t, ok)
		assert.Equal(t, float32(0.5), c)
	}
	_, ok := tbl.LookupConfidence(addrs[8])
	assert.False(t, ok)
	assert.Equal(t, uint64(8), tbl.Stats().ActiveCount)
}

func TestLookup_ProbesPastHashOnlyMatch(t *testing.T) {
	tbl, _ := openTemp(t, 1024, 8)
	a := addr(9)
	h := tbl.hash(a)

	// Plant a record with the same 64-bit hash but a different address in
	// the primary slot.
	impostor := WalletRecord{AddressHash: h, FullAddress: addr(10), Confidence: 0.11}
	tbl.mu.Lock()
	tbl.writeSlot(&tbl.slots[h&tbl.mask], &impostor)
	tbl.mu.Unlock()

	_, ok := tbl.LookupConfidence(a)
	assert.False(t, ok)

	isNew, err := tbl.Insert(WalletRecord{FullAddress: a, Confidence: 0.77})
	require.NoError(t, err)
	assert.True(t, isNew)

	c, ok := tbl.LookupConfidence(a)
	require.True(t, ok)
	assert.Equal(t, float32(0.77), c)
	assert.Equal(t, float32(0.11), tbl.slots[h&tbl.mask].Confidence)
}

func TestRemove_KeepsProbeChain(t *testing.T) {
	tbl, _ := openTemp(t, 1024, 8)
	addrs := collidingAddrs(t, tbl, 3)
	for _, a := range addrs {
		_, err := tbl.Insert(WalletRecord{FullAddress: a, Confidence: 0.6})
		require.NoError(t, err)
	}

	removed, err := tbl.Remove(addrs[1])
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, uint64(2), tbl.Stats().ActiveCount)

	_, ok := tbl.LookupConfidence(addrs[1])
	assert.False(t, ok)
	_, ok = tbl.LookupConfidence(addrs[2])
	assert.True(t, ok, "entry behind the tombstone must stay reachable")

	removed, err = tbl.Remove(addrs[1])
	require.NoError(t, err)
	assert.False(t, removed)

	isNew, err := tbl.Insert(WalletRecord{FullAddress: addrs[1], Confidence: 0.8})
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, uint64(3), tbl.Stats().ActiveCount)
}

func TestRemove_TombstoneReusedByOtherKey(t *testing.T) {
	tbl, _ := openTemp(t, 1024, 2)
	addrs := collidingAddrs(t, tbl, 3)
	for _, a := range addrs[:2] {
		_, err := tbl.Insert(WalletRecord{FullAddress: a, Confidence: 0.6})
		require.NoError(t, err)
	}
	_, err := tbl.Insert(WalletRecord{FullAddress: addrs[2]})
	require.ErrorIs(t, err, ErrTableFull)

	_, err = tbl.Remove(addrs[0])
	require.NoError(t, err)

	isNew, err := tbl.Insert(WalletRecord{FullAddress: addrs[2], Confidence: 0.4})
	require.NoError(t, err)
	assert.True(t, isNew)

	c, ok := tbl.LookupConfidence(addrs[2])
	require.True(t, ok)
	assert.Equal(t, float32(0.4), c)
	_, ok = tbl.LookupConfidence(addrs[1])
	assert.True(t, ok)
}

func TestReset(t *testing.T) {
	tbl, _ := openTemp(t, 1024, 8)
	for i := byte(1); i <= 10; i++ {
		_, err := tbl.Insert(WalletRecord{FullAddress: addr(i), Confidence: 0.5})
		require.NoError(t, err)
	}
	require.NoError(t, tbl.Reset())
	assert.Equal(t, uint64(0), tbl.Stats().ActiveCount)
	_, ok := tbl.LookupConfidence(addr(1))
	assert.False(t, ok)
}

func TestReopen_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallets.mmdb")
	tbl, err := OpenOrCreate(path, 1024, 8)
	require.NoError(t, err)
	_, err = tbl.Insert(WalletRecord{FullAddress: addr(42), Confidence: 0.85})
	require.NoError(t, err)
	require.NoError(t, tbl.Close())

	tbl, err = OpenOrCreate(path, 1024, 8)
	require.NoError(t, err)
	defer tbl.Close()

	c, ok := tbl.LookupConfidence(addr(42))
	require.True(t, ok)
	assert.Equal(t, float32(0.85), c)
	assert.Equal(t, uint64(1), tbl.Stats().ActiveCount)
}

func TestReopen_Rejections(t *testing.T) {
	t.Run("bad magic", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "w.mmdb")
		tbl, err := OpenOrCreate(path, 1024, 8)
		require.NoError(t, err)
		require.NoError(t, tbl.Close())

		f, err := os.OpenFile(path, os.O_RDWR, 0)
		require.NoError(t, err)
		_, err = f.WriteAt([]byte("garbage!"), 0)
		require.NoError(t, err)
		require.NoError(t, f.Close())

		_, err = OpenOrCreate(path, 1024, 8)
		require.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("truncated", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "w.mmdb")
		tbl, err := OpenOrCreate(path, 1024, 8)
		require.NoError(t, err)
		require.NoError(t, tbl.Close())
		require.NoError(t, os.Truncate(path, FileSize(1024)-RecordSize))

		_, err = OpenOrCreate(path, 1024, 8)
		require.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("shorter than header", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "w.mmdb")
		require.NoError(t, os.WriteFile(path, []byte("tiny"), 0o644))
		_, err := OpenOrCreate(path, 1024, 8)
		require.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("capacity mismatch", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "w.mmdb")
		tbl, err := OpenOrCreate(path, 1024, 8)
		require.NoError(t, err)
		require.NoError(t, tbl.Close())

		_, err = OpenOrCreate(path, 2048, 8)
		require.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestOpen_ExclusiveLock(t *testing.T) {
	tbl, path := openTemp(t, 1024, 8)
	_, err := OpenOrCreate(path, 1024, 8)
	require.ErrorIs(t, err, ErrLocked)
	require.NoError(t, tbl.Close())

	again, err := OpenOrCreate(path, 1024, 8)
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestReopen_RepairsUncleanFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "w.mmdb")
	tbl, err := OpenOrCreate(path, 1024, 8)
	require.NoError(t, err)
	a := addr(5)
	_, err = tbl.Insert(WalletRecord{FullAddress: a, Confidence: 0.66})
	require.NoError(t, err)
	slot := tbl.hash(a) & tbl.mask
	require.NoError(t, tbl.Close())

	// Simulate a crash mid-write: dirty header, odd sequence, stale count.
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, 1)
	_, err = f.WriteAt(buf, 56)
	require.NoError(t, err)
	binary.LittleEndian.PutUint64(buf, 7)
	_, err = f.WriteAt(buf, 40)
	require.NoError(t, err)
	binary.LittleEndian.PutUint64(buf, 3)
	_, err = f.WriteAt(buf, HeaderSize+int64(slot)*RecordSize+seqWord*8)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	tbl, err = OpenOrCreate(path, 1024, 8)
	require.NoError(t, err)
	defer tbl.Close()

	c, ok := tbl.LookupConfidence(a)
	require.True(t, ok)
	assert.Equal(t, float32(0.66), c)
	assert.Equal(t, uint64(1), tbl.Stats().ActiveCount)
}

func TestConcurrentReadersNeverSeeTornRecords(t *testing.T) {
	tbl, _ := openTemp(t, 1024, 8)
	a := addr(1)
	v0 := float32(0.1)
	_, err := tbl.Insert(WalletRecord{FullAddress: a, Confidence: v0, WinRate: v0, TotalTrades: uint32(v0 * 1000)})
	require.NoError(t, err)

	var stop atomic.Bool
	var torn atomic.Int64
	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !stop.Load() {
				rec, ok := tbl.LookupRecord(a)
				if !ok {
					torn.Add(1)
					continue
				}
				if rec.Confidence != rec.WinRate || uint32(rec.Confidence*1000) != rec.TotalTrades {
					torn.Add(1)
				}
			}
		}()
	}

	for i := 1; i <= 2000; i++ {
		v := float32(i%1000) / 1000
		_, err := tbl.Insert(WalletRecord{FullAddress: a, Confidence: v, WinRate: v, TotalTrades: uint32(v * 1000)})
		require.NoError(t, err)
	}
	stop.Store(true)
	wg.Wait()
	assert.Zero(t, torn.Load())
}

func TestStats(t *testing.T) {
	tbl, _ := openTemp(t, 1024, 8)
	for i := byte(1); i <= 4; i++ {
		_, err := tbl.Insert(WalletRecord{FullAddress: addr(i), Confidence: 0.5})
		require.NoError(t, err)
	}
	tbl.LookupConfidence(addr(1))
	tbl.LookupConfidence(addr(2))
	tbl.LookupConfidence(addr(99))

	s := tbl.Stats()
	assert.Equal(t, uint64(1024), s.Capacity)
	assert.Equal(t, uint64(4), s.ActiveCount)
	assert.Equal(t, uint64(3), s.TotalLookups)
	assert.Equal(t, uint64(2), s.Hits)
	assert.Equal(t, uint64(1), s.Misses)
	assert.InDelta(t, 2.0/3.0, s.HitRate, 1e-9)
	assert.InDelta(t, 4.0/1024.0, s.LoadFactor, 1e-9)
	assert.Equal(t, uint64(FileSize(1024)), s.MemoryUsage)
	assert.False(t, s.LastUpdate.IsZero())
}

func TestClosed(t *testing.T) {
	tbl, _ := openTemp(t, 1024, 8)
	_, err := tbl.Insert(WalletRecord{FullAddress: addr(1), Confidence: 0.9})
	require.NoError(t, err)
	require.NoError(t, tbl.Close())
	require.NoError(t, tbl.Close())

	_, err = tbl.Insert(WalletRecord{FullAddress: addr(1)})
	require.ErrorIs(t, err, ErrClosed)
	_, err = tbl.Remove(addr(1))
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, tbl.Reset(), ErrClosed)
	require.ErrorIs(t, tbl.Flush(), ErrClosed)

	_, ok := tbl.LookupConfidence(addr(1))
	assert.False(t, ok, "lookups after close miss")
	_, ok = tbl.LookupRecord(addr(1))
	assert.False(t, ok)
	calls := 0
	tbl.ForEach(func(WalletRecord) bool { calls++; return true })
	assert.Zero(t, calls)

	s := tbl.Stats()
	assert.Equal(t, uint64(1024), s.Capacity)
	assert.Zero(t, s.ActiveCount)
}

func TestCloseWithConcurrentLookups(t *testing.T) {
	tbl, _ := openTemp(t, 1024, 8)
	for i := byte(1); i <= 64; i++ {
		_, err := tbl.Insert(WalletRecord{FullAddress: addr(i), Confidence: 0.5})
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	start := make(chan struct{})
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for n := 0; n < 20000; n++ {
				tbl.LookupConfidence(addr(byte(n%64 + 1)))
				tbl.LookupRecord(addr(byte(n%64 + 1)))
			}
		}()
	}
	close(start)
	require.NoError(t, tbl.Close())
	wg.Wait()

	_, ok := tbl.LookupConfidence(addr(1))
	assert.False(t, ok)
}
