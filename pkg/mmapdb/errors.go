package mmapdb

import "errors"

var (
	// ErrInvalidConfig is returned for a capacity that is not a power of two,
	// a bad probe limit, or a capacity that disagrees with an existing file.
	ErrInvalidConfig = errors.New("mmapdb: invalid configuration")

	// ErrTableFull is returned by Insert when neither a free slot nor the key
	// itself was found within the probe limit.
	ErrTableFull = errors.New("mmapdb: table full")

	// ErrCorrupt is returned by OpenOrCreate when the backing file fails
	// magic, version, checksum or size validation.
	ErrCorrupt = errors.New("mmapdb: corrupt database file")

	// ErrClosed is returned by writes against a closed table.
	ErrClosed = errors.New("mmapdb: table closed")

	// ErrLocked is returned when another process holds the file.
	ErrLocked = errors.New("mmapdb: file locked by another process")
)
