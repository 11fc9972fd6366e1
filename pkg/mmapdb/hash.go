package mmapdb

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// DefaultHashSeed is used when a table is created without an explicit seed.
const DefaultHashSeed uint64 = 0x9E3779B185EBCA87

// HashAddress maps a raw 32-byte address to a non-zero table key. Zero is
// reserved as the empty-slot sentinel.
func HashAddress(addr [32]byte, seed uint64) uint64 {
	h := xxhash.Sum64(addr[:]) ^ seed
	h ^= h >> 33
	h *= 0xC2B2AE3D27D4EB4F
	h ^= h >> 29
	h *= 0x165667B19E3779F9
	h ^= h >> 32
	if h == 0 {
		h = 1
	}
	return h
}

func headerChecksum(h *Header) uint64 {
	var buf [32]byte
	binary.LittleEndian.PutUint64(buf[0:], h.Magic)
	binary.LittleEndian.PutUint32(buf[8:], h.Version)
	binary.LittleEndian.PutUint32(buf[12:], h.EntrySize)
	binary.LittleEndian.PutUint64(buf[16:], h.Capacity)
	binary.LittleEndian.PutUint64(buf[24:], h.HashSeed)
	return xxhash.Sum64(buf[:])
}
