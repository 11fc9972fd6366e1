// Package mmapdb is a fixed-capacity open-addressing hash table of
// WalletRecords laid directly over a memory-mapped file.
//
// Layout: a 4096-byte Header followed by capacity contiguous 128-byte
// records. Capacity is a power of two so the primary slot is hash&mask;
// collisions are resolved by linear probing bounded by the probe limit.
//
// Concurrency: any number of goroutines may call the lookup methods without
// coordination. Writers are serialized by an internal mutex. Each record
// carries a sequence word; writers make it odd, store every record word
// atomically, then make it even again, and readers retry until they copy a
// record under a stable even sequence. A reader therefore sees either the old
// or the new record, never a mix. The file is owned by exactly one process,
// enforced with flock.
package mmapdb

import (
	"fmt"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

type Table struct {
	path       string
	file       *os.File
	data       []byte
	hdr        *Header
	slots      []WalletRecord
	capacity   uint64
	mask       uint64
	probeLimit int
	seed       uint64

	mu      sync.Mutex
	closed  atomic.Bool
	readers atomic.Int64 // lookups currently inside the mapping

	lookups    atomic.Uint64
	hits       atomic.Uint64
	misses     atomic.Uint64
	collisions atomic.Uint64
}

type Stats struct {
	Capacity     uint64    `json:"capacity"`
	ActiveCount  uint64    `json:"active_count"`
	TotalLookups uint64    `json:"total_lookups"`
	Hits         uint64    `json:"hits"`
	Misses       uint64    `json:"misses"`
	Collisions   uint64    `json:"collisions"`
	HitRate      float64   `json:"hit_rate"`
	LoadFactor   float64   `json:"load_factor"`
	MemoryUsage  uint64    `json:"memory_usage"`
	LastUpdate   time.Time `json:"last_update"`
}

type options struct {
	seed uint64
}

type Option func(*options)

// WithHashSeed sets the seed written into a newly created file. It is
// ignored when reopening; the stored seed always wins.
func WithHashSeed(seed uint64) Option {
	return func(o *options) { o.seed = seed }
}

// FileSize returns the backing file size for a given capacity.
func FileSize(capacity uint64) int64 {
	return HeaderSize + int64(capacity)*RecordSize
}

// OpenOrCreate maps the table at path, creating and zero-filling it when the
// file does not exist. Reopening validates the header and does not touch
// existing records.
func OpenOrCreate(path string, capacity uint64, probeLimit int, opts ...Option) (*Table, error) {
	if capacity == 0 || capacity&(capacity-1) != 0 {
		return nil, fmt.Errorf("%w: capacity %d is not a power of two", ErrInvalidConfig, capacity)
	}
	if probeLimit < 1 {
		return nil, fmt.Errorf("%w: probe limit %d", ErrInvalidConfig, probeLimit)
	}
	if uint64(probeLimit) > capacity {
		probeLimit = int(capacity)
	}
	o := options{seed: DefaultHashSeed}
	for _, fn := range opts {
		fn(&o)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrInvalidConfig, path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}
	fail := func(err error) (*Table, error) {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
		return nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		return fail(fmt.Errorf("stat %s: %w", path, err))
	}
	created := fi.Size() == 0
	size := fi.Size()
	if created {
		size = FileSize(capacity)
		if err := f.Truncate(size); err != nil {
			return fail(fmt.Errorf("%w: size %s: %v", ErrInvalidConfig, path, err))
		}
	} else if size < HeaderSize {
		return fail(fmt.Errorf("%w: %s is %d bytes, shorter than header", ErrCorrupt, path, size))
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fail(fmt.Errorf("mmap %s: %w", path, err))
	}
	hdr := (*Header)(unsafe.Pointer(&data[0]))

	if created {
		hdr.Magic = Magic
		hdr.Version = Version
		hdr.EntrySize = RecordSize
		hdr.Capacity = capacity
		hdr.HashSeed = o.seed
		hdr.Checksum = headerChecksum(hdr)
		atomic.StoreUint64(&hdr.LastUpdate, uint64(time.Now().UnixNano()))
	} else if err := validateHeader(hdr, size, capacity); err != nil {
		unix.Munmap(data)
		return fail(fmt.Errorf("%s: %w", path, err))
	}

	t := &Table{
		path:       path,
		file:       f,
		data:       data,
		hdr:        hdr,
		slots:      unsafe.Slice((*WalletRecord)(unsafe.Pointer(&data[HeaderSize])), hdr.Capacity),
		capacity:   hdr.Capacity,
		mask:       hdr.Capacity - 1,
		probeLimit: probeLimit,
		seed:       hdr.HashSeed,
	}

	if atomic.LoadUint64(&hdr.Dirty) != 0 {
		t.repair()
	}
	atomic.StoreUint64(&hdr.Dirty, 1)

	log.Debug().
		Str("path", path).
		Uint64("capacity", hdr.Capacity).
		Int("probe_limit", probeLimit).
		Bool("created", created).
		Uint64("active", atomic.LoadUint64(&hdr.ActiveCount)).
		Msg("mapped wallet table")
	return t, nil
}

func validateHeader(h *Header, size int64, capacity uint64) error {
	switch {
	case h.Magic != Magic:
		return fmt.Errorf("%w: bad magic %#x", ErrCorrupt, h.Magic)
	case h.Version != Version:
		return fmt.Errorf("%w: unsupported version %d", ErrCorrupt, h.Version)
	case h.EntrySize != RecordSize:
		return fmt.Errorf("%w: entry size %d", ErrCorrupt, h.EntrySize)
	case h.Checksum != headerChecksum(h):
		return fmt.Errorf("%w: header checksum mismatch", ErrCorrupt)
	case h.Capacity == 0 || h.Capacity&(h.Capacity-1) != 0:
		return fmt.Errorf("%w: stored capacity %d", ErrCorrupt, h.Capacity)
	case size != FileSize(h.Capacity):
		return fmt.Errorf("%w: file is %d bytes, want %d", ErrCorrupt, size, FileSize(h.Capacity))
	case h.Capacity != capacity:
		return fmt.Errorf("%w: file capacity %d, requested %d", ErrInvalidConfig, h.Capacity, capacity)
	}
	return nil
}

// repair fixes a file that was not closed cleanly: any slot caught
// mid-write gets an even sequence and the live count is recomputed.
func (t *Table) repair() {
	var live, torn uint64
	for i := range t.slots {
		w := t.slots[i].words()
		if w[seqWord]&1 != 0 {
			w[seqWord]++
			torn++
		}
		if w[0] != 0 && t.slots[i].Flags&FlagRemoved == 0 {
			live++
		}
	}
	atomic.StoreUint64(&t.hdr.ActiveCount, live)
	log.Warn().Str("path", t.path).Uint64("live", live).Uint64("torn", torn).Msg("recovered unclean wallet table")
}

func (t *Table) Capacity() uint64 { return t.capacity }
func (t *Table) ProbeLimit() int { return t.probeLimit }
func (t *Table) Path() string { return t.path }

func (t *Table) hash(addr [32]byte) uint64 { return HashAddress(addr, t.seed) }

// readSlot copies a consistent snapshot of slot into out.
func (t *Table) readSlot(slot *WalletRecord, out *WalletRecord) {
	src := slot.words()
	dst := out.words()
	for {
		s1 := atomic.LoadUint64(&src[seqWord])
		if s1&1 != 0 {
			runtime.Gosched()
			continue
		}
		for w := 0; w < recordWords; w++ {
			dst[w] = atomic.LoadUint64(&src[w])
		}
		if atomic.LoadUint64(&src[seqWord]) == s1 {
			return
		}
	}
}

// writeSlot replaces slot with rec. Callers hold t.mu.
func (t *Table) writeSlot(slot *WalletRecord, rec *WalletRecord) {
	dst := slot.words()
	src := rec.words()
	seq := atomic.LoadUint64(&dst[seqWord])
	atomic.StoreUint64(&dst[seqWord], seq+1)
	for w := 0; w < recordWords; w++ {
		if w == seqWord {
			continue
		}
		atomic.StoreUint64(&dst[w], src[w])
	}
	atomic.StoreUint64(&dst[seqWord], seq+2)
}

func (t *Table) touch() {
	atomic.StoreUint64(&t.hdr.LastUpdate, uint64(time.Now().UnixNano()))
}

// enter pins the mapping for one read. It fails once Close has begun, and
// Close does not unmap until every pinned read has called exit.
func (t *Table) enter() bool {
	t.readers.Add(1)
	if t.closed.Load() {
		t.readers.Add(-1)
		return false
	}
	return true
}

func (t *Table) exit() { t.readers.Add(-1) }

// find probes for addr. Probing continues past a slot whose hash matches
// but whose full address differs; an empty slot ends the run.
func (t *Table) find(addr [32]byte, out *WalletRecord) bool {
	if !t.enter() {
		return false
	}
	defer t.exit()
	t.lookups.Add(1)
	h := t.hash(addr)
	idx := h & t.mask
	for p := 0; p < t.probeLimit; p++ {
		slot := &t.slots[idx]
		sh := atomic.LoadUint64(&slot.words()[0])
		if sh == 0 {
			break
		}
		if sh == h {
			t.readSlot(slot, out)
			if out.AddressHash == h && out.FullAddress == addr {
				if out.IsRemoved() {
					break
				}
				t.hits.Add(1)
				return true
			}
		}
		t.collisions.Add(1)
		idx = (idx + 1) & t.mask
	}
	t.misses.Add(1)
	return false
}

// LookupConfidence returns the stored confidence for addr.
func (t *Table) LookupConfidence(addr [32]byte) (float32, bool) {
	var rec WalletRecord
	if !t.find(addr, &rec) {
		return 0, false
	}
	return rec.Confidence, true
}

// LookupRecord returns a copy of the full record for addr.
func (t *Table) LookupRecord(addr [32]byte) (WalletRecord, bool) {
	var rec WalletRecord
	if !t.find(addr, &rec) {
		return WalletRecord{}, false
	}
	return rec, true
}

// Insert writes rec keyed by rec.FullAddress, replacing an existing entry
// for the same address. It reports whether a new live entry was created.
// AddressHash is always recomputed from FullAddress.
func (t *Table) Insert(rec WalletRecord) (bool, error) {
	h := t.hash(rec.FullAddress)
	rec.AddressHash = h
	rec.Flags &^= FlagRemoved
	rec.seq = 0

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed.Load() {
		return false, ErrClosed
	}

	var target *WalletRecord
	idx := h & t.mask
	for p := 0; p < t.probeLimit; p++ {
		slot := &t.slots[idx]
		if slot.AddressHash == 0 {
			if target == nil {
				target = slot
			}
			break
		}
		if slot.AddressHash == h && slot.FullAddress == rec.FullAddress {
			revived := slot.IsRemoved()
			t.writeSlot(slot, &rec)
			if revived {
				atomic.AddUint64(&t.hdr.ActiveCount, 1)
			}
			t.touch()
			return revived, nil
		}
		if target == nil && slot.IsRemoved() {
			target = slot
		}
		idx = (idx + 1) & t.mask
	}
	if target == nil {
		return false, fmt.Errorf("%w: no slot within %d probes of %#x", ErrTableFull, t.probeLimit, h&t.mask)
	}
	t.writeSlot(target, &rec)
	atomic.AddUint64(&t.hdr.ActiveCount, 1)
	t.touch()
	return true, nil
}

// Remove tombstones the entry for addr. The slot keeps its hash so probe
// runs through it stay intact; a later Insert of the same address revives
// it, and an Insert of another address may reuse it.
func (t *Table) Remove(addr [32]byte) (bool, error) {
	h := t.hash(addr)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed.Load() {
		return false, ErrClosed
	}

	idx := h & t.mask
	for p := 0; p < t.probeLimit; p++ {
		slot := &t.slots[idx]
		if slot.AddressHash == 0 {
			return false, nil
		}
		if slot.AddressHash == h && slot.FullAddress == addr {
			if slot.IsRemoved() {
				return false, nil
			}
			rec := *slot
			rec.Flags = FlagRemoved
			rec.Confidence = 0
			t.writeSlot(slot, &rec)
			atomic.AddUint64(&t.hdr.ActiveCount, ^uint64(0))
			t.touch()
			return true, nil
		}
		idx = (idx + 1) & t.mask
	}
	return false, nil
}

// Reset empties every slot.
func (t *Table) Reset() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed.Load() {
		return ErrClosed
	}
	var zero WalletRecord
	for i := range t.slots {
		if t.slots[i].AddressHash != 0 {
			t.writeSlot(&t.slots[i], &zero)
		}
	}
	atomic.StoreUint64(&t.hdr.ActiveCount, 0)
	t.touch()
	return nil
}

// ForEach calls fn with a snapshot of every live record until fn returns
// false. It scans the whole table and is meant for cold paths. fn must not
// write to the table.
func (t *Table) ForEach(fn func(WalletRecord) bool) {
	if !t.enter() {
		return
	}
	defer t.exit()
	var rec WalletRecord
	for i := range t.slots {
		slot := &t.slots[i]
		if atomic.LoadUint64(&slot.words()[0]) == 0 {
			continue
		}
		t.readSlot(slot, &rec)
		if rec.AddressHash == 0 || rec.IsRemoved() {
			continue
		}
		if !fn(rec) {
			return
		}
	}
}

func (t *Table) Stats() Stats {
	s := Stats{
		Capacity:     t.capacity,
		TotalLookups: t.lookups.Load(),
		Hits:         t.hits.Load(),
		Misses:       t.misses.Load(),
		Collisions:   t.collisions.Load(),
	}
	if t.enter() {
		s.ActiveCount = atomic.LoadUint64(&t.hdr.ActiveCount)
		s.MemoryUsage = uint64(len(t.data))
		s.LastUpdate = time.Unix(0, int64(atomic.LoadUint64(&t.hdr.LastUpdate)))
		t.exit()
	}
	if s.TotalLookups > 0 {
		s.HitRate = float64(s.Hits) / float64(s.TotalLookups)
	}
	s.LoadFactor = float64(s.ActiveCount) / float64(s.Capacity)
	return s
}

// Flush synchronously writes dirty pages back to the file.
func (t *Table) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed.Load() {
		return ErrClosed
	}
	if err := unix.Msync(t.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("msync %s: %w", t.path, err)
	}
	return nil
}

// Close flushes, marks the file clean and unmaps it. Lookups that start
// after Close report a miss; Close waits for lookups already in flight.
func (t *Table) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for t.readers.Load() != 0 {
		runtime.Gosched()
	}

	atomic.StoreUint64(&t.hdr.Dirty, 0)
	var firstErr error
	if err := unix.Msync(t.data, unix.MS_SYNC); err != nil {
		firstErr = fmt.Errorf("msync %s: %w", t.path, err)
	}
	if err := unix.Munmap(t.data); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("munmap %s: %w", t.path, err)
	}
	t.data, t.slots, t.hdr = nil, nil, nil
	unix.Flock(int(t.file.Fd()), unix.LOCK_UN)
	if err := t.file.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
