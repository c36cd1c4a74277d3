package buffermanager

import (
	"errors"
	"fmt"

	flushmanager "github.com/sushant-115/gojopool/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojopool/core/write_engine/page_manager"
	internaltelemetry "github.com/sushant-115/gojopool/internal/telemetry"
	"go.uber.org/zap"
)

// BufferPoolManager caches pages of any number of Files in a fixed number of frames
// and replaces them with the clock algorithm.
//
// It does no locking: callers serialize access. Pin counts are reference counts,
// not latches. A *Page returned by FetchPage or NewPage stays valid until the
// caller's matching UnpinPage.
type BufferPoolManager struct {
	numFrames   int
	descriptors []frameDescriptor
	pool        []pagemanager.Page // pool[i] is the content of descriptors[i]
	pageTable   PageIndex
	clockHand   int
	stats       BufStats
	closed      bool

	logger  *zap.Logger
	metrics *internaltelemetry.BufferPoolMetrics
}

type Option func(*BufferPoolManager)

func WithLogger(logger *zap.Logger) Option {
	return func(bpm *BufferPoolManager) {
		if logger != nil {
			bpm.logger = logger
		}
	}
}

func WithMetrics(metrics *internaltelemetry.BufferPoolMetrics) Option {
	return func(bpm *BufferPoolManager) {
		if metrics != nil {
			bpm.metrics = metrics
		}
	}
}

// WithPageIndex replaces the default hash table.
func WithPageIndex(index PageIndex) Option {
	return func(bpm *BufferPoolManager) {
		if index != nil {
			bpm.pageTable = index
		}
	}
}

// NewBufferPoolManager creates a pool of numFrames frames, all initially free.
func NewBufferPoolManager(numFrames int, opts ...Option) (*BufferPoolManager, error) {
	if numFrames < 1 {
		return nil, fmt.Errorf("buffer pool needs at least one frame, got %d", numFrames)
	}
	bpm := &BufferPoolManager{
		numFrames:   numFrames,
		descriptors: newDescriptors(numFrames),
		pool:        make([]pagemanager.Page, numFrames),
		clockHand:   numFrames - 1, // first advance lands on frame 0
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(bpm)
	}
	if bpm.pageTable == nil {
		bpm.pageTable = NewHashTable(HashTableSize(numFrames))
	}
	if bpm.metrics == nil {
		bpm.metrics = internaltelemetry.NewNoopBufferPoolMetrics()
	}
	bpm.logger = bpm.logger.Named("buffer_pool")
	bpm.logger.Info("BufferPoolManager initialized",
		zap.Int("num_frames", numFrames), zap.Int("page_size", pagemanager.PageSize))
	return bpm, nil
}

func (bpm *BufferPoolManager) NumFrames() int { return bpm.numFrames }

// claimFrame runs the clock and returns a free frame together with a release func.
// Until commit is called, release returns the frame to the free state; callers defer
// release right away so every failure path gives the frame back.
func (bpm *BufferPoolManager) claimFrame() (frameNo int, release func(), commit func(), err error) {
	frameNo, err = bpm.allocBuf()
	if err != nil {
		return -1, nil, nil, err
	}
	committed := false
	release = func() {
		if !committed {
			bpm.descriptors[frameNo].clear()
		}
	}
	commit = func() { committed = true }
	return frameNo, release, commit, nil
}

// FetchPage returns the page pageNo of file, pinned. On a hit no I/O is done; on a
// miss a frame is freed by the clock and the page is read into it.
func (bpm *BufferPoolManager) FetchPage(file flushmanager.File, pageNo pagemanager.PageID) (*pagemanager.Page, error) {
	if bpm.closed {
		return nil, flushmanager.ErrPoolClosed
	}
	bpm.stats.Accesses++
	fileID := file.ID()

	// 1. Check if page is already in the buffer pool
	frameNo, err := bpm.pageTable.Lookup(fileID, pageNo)
	if err == nil {
		desc := &bpm.descriptors[frameNo]
		desc.refBit = true
		desc.pinCount++
		if desc.pinCount == 1 {
			bpm.metrics.PinnedFrames(1)
		}
		bpm.metrics.Hit()
		bpm.logger.Debug("Page found in buffer pool",
			zap.Uint64("page_id", uint64(pageNo)), zap.Int("frame", frameNo), zap.Int("pin_count", desc.pinCount))
		return &bpm.pool[frameNo], nil
	}
	if !errors.Is(err, flushmanager.ErrHashNotFound) {
		return nil, err
	}
	bpm.metrics.Miss()

	// 2. Not cached, free a frame
	frameNo, release, commit, err := bpm.claimFrame()
	if err != nil {
		return nil, err
	}
	defer release()

	// 3. Load it from the file
	page := &bpm.pool[frameNo]
	if err := file.ReadPage(pageNo, page); err != nil {
		bpm.logger.Error("Failed to read page", zap.Uint64("page_id", uint64(pageNo)), zap.Error(err))
		return nil, fmt.Errorf("failed to read page %d from disk: %w", pageNo, err)
	}
	bpm.stats.DiskReads++
	bpm.metrics.DiskRead()

	// 4. Register the mapping and take ownership of the frame
	if err := bpm.pageTable.Insert(fileID, pageNo, frameNo); err != nil {
		bpm.logger.Error("Failed to insert page into hash table",
			zap.Uint64("page_id", uint64(pageNo)), zap.Int("frame", frameNo), zap.Error(err))
		return nil, err
	}
	bpm.descriptors[frameNo].set(file, pageNo)
	commit()
	bpm.metrics.PinnedFrames(1)
	bpm.logger.Debug("Page loaded into frame", zap.Uint64("page_id", uint64(pageNo)), zap.Int("frame", frameNo))
	return page, nil
}

// UnpinPage drops one pin on a cached page and marks it dirty if dirty is set.
// Dirty is never cleared here.
func (bpm *BufferPoolManager) UnpinPage(file flushmanager.File, pageNo pagemanager.PageID, dirty bool) error {
	if bpm.closed {
		return flushmanager.ErrPoolClosed
	}
	frameNo, err := bpm.pageTable.Lookup(file.ID(), pageNo)
	if err != nil {
		if errors.Is(err, flushmanager.ErrHashNotFound) {
			return fmt.Errorf("%w: page %d not found to unpin", flushmanager.ErrPageNotFound, pageNo)
		}
		return err
	}
	desc := &bpm.descriptors[frameNo]
	if desc.pinCount == 0 {
		bpm.logger.Warn("Attempted to unpin page with pin count 0", zap.Uint64("page_id", uint64(pageNo)))
		return fmt.Errorf("%w: page %d", flushmanager.ErrPageNotPinned, pageNo)
	}
	desc.pinCount--
	if desc.pinCount == 0 {
		bpm.metrics.PinnedFrames(-1)
	}
	if dirty {
		desc.dirty = true
	}
	bpm.logger.Debug("Unpinned page",
		zap.Uint64("page_id", uint64(pageNo)), zap.Int("frame", frameNo),
		zap.Int("pin_count", desc.pinCount), zap.Bool("dirty", desc.dirty))
	return nil
}

// NewPage allocates a page in file and caches it, zero-filled and pinned.
//
// The file-side allocation is not undone if the pool cannot take the page; the
// page number is then lost to the file until it is disposed.
func (bpm *BufferPoolManager) NewPage(file flushmanager.File) (pagemanager.PageID, *pagemanager.Page, error) {
	if bpm.closed {
		return pagemanager.InvalidPageID, nil, flushmanager.ErrPoolClosed
	}

	// 1. Allocate a new page in the file
	pageNo, err := file.AllocatePage()
	if err != nil {
		bpm.logger.Error("Failed to allocate new page in file", zap.Stringer("file_id", file.ID()), zap.Error(err))
		return pagemanager.InvalidPageID, nil, err
	}

	// 2. Find a frame for it
	frameNo, release, commit, err := bpm.claimFrame()
	if err != nil {
		bpm.logger.Warn("Allocated page has no frame", zap.Uint64("page_id", uint64(pageNo)), zap.Error(err))
		return pagemanager.InvalidPageID, nil, fmt.Errorf("failed to get frame for new page %d: %w", pageNo, err)
	}
	defer release()

	// 3. Register and initialize
	if err := bpm.pageTable.Insert(file.ID(), pageNo, frameNo); err != nil {
		bpm.logger.Error("Failed to insert new page into hash table",
			zap.Uint64("page_id", uint64(pageNo)), zap.Int("frame", frameNo), zap.Error(err))
		return pagemanager.InvalidPageID, nil, err
	}
	page := &bpm.pool[frameNo]
	page.Reset()
	bpm.descriptors[frameNo].set(file, pageNo)
	commit()
	bpm.metrics.PinnedFrames(1)
	bpm.logger.Debug("New page loaded into frame", zap.Uint64("page_id", uint64(pageNo)), zap.Int("frame", frameNo))
	return pageNo, page, nil
}

// DisposePage drops pageNo from the pool, pinned or not, and disposes it in file.
// Callers must not dispose a page someone else still has pinned.
func (bpm *BufferPoolManager) DisposePage(file flushmanager.File, pageNo pagemanager.PageID) error {
	if bpm.closed {
		return flushmanager.ErrPoolClosed
	}
	fileID := file.ID()
	if frameNo, err := bpm.pageTable.Lookup(fileID, pageNo); err == nil {
		desc := &bpm.descriptors[frameNo]
		if desc.pinCount > 0 {
			bpm.metrics.PinnedFrames(-1)
		}
		desc.clear()
		if err := bpm.pageTable.Remove(fileID, pageNo); err != nil {
			return err
		}
		bpm.logger.Debug("Dropped disposed page from pool", zap.Uint64("page_id", uint64(pageNo)), zap.Int("frame", frameNo))
	}
	return file.DisposePage(pageNo)
}

// FlushFile writes back every dirty page of file and drops all of its pages from
// the pool. It stops at the first pinned page with ErrPagePinned; frames handled
// before that point stay flushed.
func (bpm *BufferPoolManager) FlushFile(file flushmanager.File) error {
	if bpm.closed {
		return flushmanager.ErrPoolClosed
	}
	fileID := file.ID()
	for i := range bpm.descriptors {
		desc := &bpm.descriptors[i]
		if !desc.ownedBy(fileID) {
			continue
		}
		if !desc.valid {
			bpm.logger.Error("Invalid frame still tagged with file", zap.Int("frame", i), zap.Stringer("file_id", fileID))
			return fmt.Errorf("%w: frame %d", flushmanager.ErrBadBuffer, i)
		}
		if desc.pinCount > 0 {
			return fmt.Errorf("%w: page %d (frame %d, pin count %d)", flushmanager.ErrPagePinned, desc.pageNo, i, desc.pinCount)
		}
		if desc.dirty {
			bpm.logger.Debug("Flushing page", zap.Uint64("page_id", uint64(desc.pageNo)), zap.Int("frame", i))
			if err := bpm.writeBack(desc); err != nil {
				return fmt.Errorf("failed to flush page %d: %w", desc.pageNo, err)
			}
		}
		if err := bpm.pageTable.Remove(fileID, desc.pageNo); err != nil && !errors.Is(err, flushmanager.ErrHashNotFound) {
			return err
		}
		desc.clear()
	}
	return nil
}

type syncer interface {
	Sync() error
}

// Close writes back every dirty frame and shuts the pool. All frames are attempted;
// the first error is returned. Files that can Sync are synced once afterwards.
func (bpm *BufferPoolManager) Close() error {
	if bpm.closed {
		return nil
	}
	var firstErr error
	synced := make(map[pagemanager.FileID]syncer)
	for i := range bpm.descriptors {
		desc := &bpm.descriptors[i]
		if !desc.valid {
			continue
		}
		if s, ok := desc.file.(syncer); ok {
			synced[desc.fileID] = s
		}
		if !desc.dirty {
			continue
		}
		bpm.logger.Debug("Flushing page on close", zap.Uint64("page_id", uint64(desc.pageNo)), zap.Int("frame", i))
		if err := bpm.writeBack(desc); err != nil {
			bpm.logger.Error("Error flushing page on close", zap.Uint64("page_id", uint64(desc.pageNo)), zap.Error(err))
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to flush page %d: %w", desc.pageNo, err)
			}
		}
	}
	for _, s := range synced {
		if err := s.Sync(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	bpm.closed = true
	bpm.logger.Info("BufferPoolManager closed", zap.Uint64("disk_writes", bpm.stats.DiskWrites))
	return firstErr
}
