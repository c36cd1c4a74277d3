package buffermanager

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
	flushmanager "github.com/sushant-115/gojopool/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojopool/core/write_engine/page_manager"
)

// PageIndex maps (file, page) to the frame caching it.
type PageIndex interface {
	// Lookup returns ErrHashNotFound when the page is not cached.
	Lookup(fileID pagemanager.FileID, pageNo pagemanager.PageID) (int, error)
	// Insert returns ErrHashTable for a duplicate key or when the index is full.
	Insert(fileID pagemanager.FileID, pageNo pagemanager.PageID, frameNo int) error
	// Remove returns ErrHashNotFound when there is nothing to remove.
	Remove(fileID pagemanager.FileID, pageNo pagemanager.PageID) error
	Len() int
}

type hashBucket struct {
	fileID  pagemanager.FileID
	pageNo  pagemanager.PageID
	frameNo int
	next    *hashBucket
}

// HashTable is a chained hash table over (FileID, PageID) keys.
type HashTable struct {
	buckets    []*hashBucket
	count      int
	maxEntries int // 0 means unbounded
}

var _ PageIndex = (*HashTable)(nil)

type HashTableOption func(*HashTable)

// WithMaxEntries bounds the number of live entries; Insert fails with ErrHashTable beyond it.
func WithMaxEntries(n int) HashTableOption {
	return func(ht *HashTable) { ht.maxEntries = n }
}

// HashTableSize returns the bucket count used for a pool of numFrames frames:
// about 1.2 buckets per frame, rounded up to an odd number.
func HashTableSize(numFrames int) int {
	size := int(float64(numFrames) * 1.2)
	if size%2 == 0 {
		size++
	}
	return size
}

func NewHashTable(size int, opts ...HashTableOption) *HashTable {
	if size < 1 {
		size = 1
	}
	ht := &HashTable{buckets: make([]*hashBucket, size)}
	for _, opt := range opts {
		opt(ht)
	}
	return ht
}

func (ht *HashTable) hash(fileID pagemanager.FileID, pageNo pagemanager.PageID) int {
	var key [24]byte
	copy(key[:16], fileID.Bytes())
	binary.LittleEndian.PutUint64(key[16:], uint64(pageNo))
	return int(xxhash.Sum64(key[:]) % uint64(len(ht.buckets)))
}

func (ht *HashTable) Lookup(fileID pagemanager.FileID, pageNo pagemanager.PageID) (int, error) {
	for b := ht.buckets[ht.hash(fileID, pageNo)]; b != nil; b = b.next {
		if b.fileID == fileID && b.pageNo == pageNo {
			return b.frameNo, nil
		}
	}
	return -1, flushmanager.ErrHashNotFound
}

func (ht *HashTable) Insert(fileID pagemanager.FileID, pageNo pagemanager.PageID, frameNo int) error {
	idx := ht.hash(fileID, pageNo)
	for b := ht.buckets[idx]; b != nil; b = b.next {
		if b.fileID == fileID && b.pageNo == pageNo {
			return fmt.Errorf("%w: duplicate entry for page %d of file %s (frame %d)",
				flushmanager.ErrHashTable, pageNo, fileID, b.frameNo)
		}
	}
	if ht.maxEntries > 0 && ht.count >= ht.maxEntries {
		return fmt.Errorf("%w: table full (%d entries)", flushmanager.ErrHashTable, ht.count)
	}
	ht.buckets[idx] = &hashBucket{fileID: fileID, pageNo: pageNo, frameNo: frameNo, next: ht.buckets[idx]}
	ht.count++
	return nil
}

func (ht *HashTable) Remove(fileID pagemanager.FileID, pageNo pagemanager.PageID) error {
	idx := ht.hash(fileID, pageNo)
	for prev, b := (*hashBucket)(nil), ht.buckets[idx]; b != nil; prev, b = b, b.next {
		if b.fileID != fileID || b.pageNo != pageNo {
			continue
		}
		if prev == nil {
			ht.buckets[idx] = b.next
		} else {
			prev.next = b.next
		}
		ht.count--
		return nil
	}
	return flushmanager.ErrHashNotFound
}

func (ht *HashTable) Len() int { return ht.count }
