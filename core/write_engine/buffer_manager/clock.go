package buffermanager

import (
	"errors"
	"fmt"

	flushmanager "github.com/sushant-115/gojopool/core/write_engine/flush_manager"
	"go.uber.org/zap"
)

// advance returns the clock position following hand in a pool of numFrames frames.
func advance(hand, numFrames int) int {
	return (hand + 1) % numFrames
}

// allocBuf runs the clock (second chance) over the pool and returns a free frame.
//
// The hand keeps its position between calls. Each call visits at most two full
// rounds: the first may only clear reference bits, the second then finds the
// unreferenced victim. A pinned frame is never selected; when nothing can be
// freed within the budget ErrBufferExceeded is returned.
//
// A dirty victim is written back before its mapping is dropped, so a failed write
// leaves the frame valid, dirty and cached.
func (bpm *BufferPoolManager) allocBuf() (int, error) {
	for visited := 0; visited < 2*bpm.numFrames; visited++ {
		bpm.clockHand = advance(bpm.clockHand, bpm.numFrames)
		desc := &bpm.descriptors[bpm.clockHand]

		if !desc.valid {
			return desc.frameNo, nil
		}
		if desc.refBit {
			desc.refBit = false
			bpm.stats.Accesses++
			continue
		}
		if desc.pinCount > 0 {
			continue
		}

		if err := bpm.evict(desc); err != nil {
			return -1, err
		}
		return desc.frameNo, nil
	}

	bpm.logger.Warn("No evictable frame, every frame is pinned", zap.Int("num_frames", bpm.numFrames))
	return -1, fmt.Errorf("%w: %d frames", flushmanager.ErrBufferExceeded, bpm.numFrames)
}

// evict writes back desc if dirty, drops its mapping and clears it.
func (bpm *BufferPoolManager) evict(desc *frameDescriptor) error {
	if desc.dirty {
		bpm.logger.Debug("Writing back dirty victim",
			zap.Int("frame", desc.frameNo), zap.Uint64("page_id", uint64(desc.pageNo)), zap.Stringer("file_id", desc.fileID))
		if err := bpm.writeBack(desc); err != nil {
			bpm.logger.Error("Failed to write back dirty victim",
				zap.Int("frame", desc.frameNo), zap.Uint64("page_id", uint64(desc.pageNo)), zap.Error(err))
			return fmt.Errorf("failed to flush dirty victim page %d: %w", desc.pageNo, err)
		}
	}
	if err := bpm.pageTable.Remove(desc.fileID, desc.pageNo); err != nil {
		if !errors.Is(err, flushmanager.ErrHashNotFound) {
			return err
		}
		bpm.logger.Warn("Victim frame had no hash table entry",
			zap.Int("frame", desc.frameNo), zap.Uint64("page_id", uint64(desc.pageNo)))
	}
	bpm.logger.Debug("Evicted frame", zap.Int("frame", desc.frameNo), zap.Uint64("page_id", uint64(desc.pageNo)))
	bpm.metrics.Eviction()
	desc.clear()
	return nil
}

// writeBack writes the frame's page to its file and clears the dirty bit.
func (bpm *BufferPoolManager) writeBack(desc *frameDescriptor) error {
	if err := desc.file.WritePage(desc.pageNo, &bpm.pool[desc.frameNo]); err != nil {
		return err
	}
	desc.dirty = false
	bpm.stats.DiskWrites++
	bpm.metrics.DiskWrite()
	return nil
}
