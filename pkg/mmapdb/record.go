package mmapdb

import (
	"unsafe"
)

// On-disk layout constants. Changing any of these requires bumping Version.
const (
	Magic   uint64 = 0x3142444C4C415757 // "WWALLDB1" little-endian
	Version uint32 = 1

	HeaderSize = 4096
	RecordSize = 128

	recordWords = RecordSize / 8
	seqWord     = 5 // word index of WalletRecord.seq
)

// Record flags.
const (
	FlagActive      uint32 = 1 << 0
	FlagBlacklisted uint32 = 1 << 1
	FlagMonitoring  uint32 = 1 << 2
	FlagCooldown    uint32 = 1 << 3
	FlagRemoved     uint32 = 1 << 31
)

// WalletRecord is one slot of the mapped table. The first 64 bytes hold
// everything the lookup fast path touches; the full address used to resolve
// hash collisions sits in the second cache line.
type WalletRecord struct {
	AddressHash     uint64
	Confidence      float32
	WinRate         float32
	AvgProfit       float32
	LastActivity    uint32
	TotalTrades     uint32
	Flags           uint32
	EarlyEntryScore float32
	RecentActivity  float32
	seq             uint64 // per-slot sequence lock, odd while a write is in flight
	_               [16]byte

	FullAddress [32]byte
	_           [32]byte
}

// Header is the page-aligned prefix of the mapped file. Counters are
// updated with sync/atomic directly in mapped memory.
type Header struct {
	Magic       uint64
	Version     uint32
	EntrySize   uint32
	Capacity    uint64
	HashSeed    uint64
	Checksum    uint64
	ActiveCount uint64
	LastUpdate  uint64 // unix nanoseconds
	Dirty       uint64
	_           [HeaderSize - 64]byte
}

// Compile-time layout checks.
var (
	_ [RecordSize - unsafe.Sizeof(WalletRecord{})]byte
	_ [unsafe.Sizeof(WalletRecord{}) - RecordSize]byte
	_ [HeaderSize - unsafe.Sizeof(Header{})]byte
	_ [unsafe.Sizeof(Header{}) - HeaderSize]byte
	_ [seqWord*8 - unsafe.Offsetof(WalletRecord{}.seq)]byte
	_ [unsafe.Offsetof(WalletRecord{}.seq) - seqWord*8]byte
	_ [64 - unsafe.Offsetof(WalletRecord{}.FullAddress)]byte
)

// IsEmpty reports whether the slot has never been written.
func (r *WalletRecord) IsEmpty() bool { return r.AddressHash == 0 }

// IsRemoved reports whether the slot is a tombstone.
func (r *WalletRecord) IsRemoved() bool { return r.Flags&FlagRemoved != 0 }

// HasFlag reports whether every bit of f is set.
func (r *WalletRecord) HasFlag(f uint32) bool { return r.Flags&f == f }

func (r *WalletRecord) words() *[recordWords]uint64 {
	return (*[recordWords]uint64)(unsafe.Pointer(r))
}
