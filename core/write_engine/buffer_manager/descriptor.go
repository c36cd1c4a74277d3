package buffermanager

import (
	flushmanager "github.com/sushant-115/gojopool/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojopool/core/write_engine/page_manager"
)

// frameDescriptor carries the bookkeeping for one frame of the pool.
//
// Invariants:
//   - !valid implies pinCount == 0, !dirty and no hash table entry points here.
//   - valid implies exactly one hash table entry (fileID, pageNo) -> frameNo.
//   - only valid frames with pinCount == 0 may be evicted.
type frameDescriptor struct {
	frameNo  int // fixed at construction
	file     flushmanager.File
	fileID   pagemanager.FileID
	pageNo   pagemanager.PageID
	pinCount int
	dirty    bool
	refBit   bool // clock "recently used" bit
	valid    bool
}

// newDescriptors initializes numFrames invalid descriptors, each tagged with its index.
func newDescriptors(numFrames int) []frameDescriptor {
	descs := make([]frameDescriptor, numFrames)
	for i := range descs {
		descs[i].frameNo = i
		descs[i].clear()
	}
	return descs
}

// set makes the frame the owner of (file, pageNo) with a single pin.
func (d *frameDescriptor) set(file flushmanager.File, pageNo pagemanager.PageID) {
	d.file = file
	d.fileID = file.ID()
	d.pageNo = pageNo
	d.pinCount = 1
	d.dirty = false
	d.refBit = true
	d.valid = true
}

// clear returns the frame to the invalid state whatever its pin and dirty state was.
func (d *frameDescriptor) clear() {
	d.file = nil
	d.fileID = pagemanager.InvalidFileID
	d.pageNo = pagemanager.InvalidPageID
	d.pinCount = 0
	d.dirty = false
	d.refBit = false
	d.valid = false
}

func (d *frameDescriptor) ownedBy(fileID pagemanager.FileID) bool {
	return d.fileID == fileID
}
