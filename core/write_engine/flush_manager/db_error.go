package flushmanager

import "errors"

// --- Error Definitions ---

var (
	// File level
	ErrIO               = errors.New("i/o error")
	ErrChecksumMismatch = errors.New("page checksum mismatch, data corruption suspected")
	ErrInvalidPageID    = errors.New("invalid page id")
	ErrInvalidPageData  = errors.New("invalid page data")
	ErrDBFileExists     = errors.New("database file already exists")
	ErrDBFileNotFound   = errors.New("database file not found")
	ErrBadFileHeader    = errors.New("invalid database file header")
	ErrFileClosed       = errors.New("database file is closed")

	// Buffer pool level
	ErrBufferExceeded = errors.New("buffer pool exceeded: all frames are pinned")
	ErrHashTable      = errors.New("buffer hash table error")
	ErrHashNotFound   = errors.New("entry not found in buffer hash table")
	ErrPageNotFound   = errors.New("page not found in buffer pool")
	ErrPageNotPinned  = errors.New("page is not pinned")
	ErrPagePinned     = errors.New("page is pinned")
	ErrBadBuffer      = errors.New("buffer frame in inconsistent state")
	ErrPoolClosed     = errors.New("buffer pool is closed")
)
