package flushmanager

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/cespare/xxhash/v2"
	pagemanager "github.com/sushant-115/gojopool/core/write_engine/page_manager"
	"go.uber.org/zap"
)

// --- DiskManager ---

const (
	DBMagic   uint32 = 0x474f4a50 // "GOJP"
	DBVersion uint32 = 1

	checksumSize = 8
	// slotSize is the physical size of one page on disk: content followed by its checksum.
	slotSize = pagemanager.PageSize + checksumSize
)

// DBFileHeader is stored in page 0 of every database file.
// All fields have fixed sizes so binary.Read/Write round-trip it exactly.
type DBFileHeader struct {
	Magic        uint32
	Version      uint32
	PageSize     uint32
	_            uint32
	NumPages     uint64             // Total pages in the file, header included
	FreeListHead pagemanager.PageID // First disposed page, InvalidPageID when empty
}

// DiskManager is a File backed by a single OS file. Disposed pages are threaded onto
// an on-disk free list whose next pointers live in the first 8 bytes of each free page.
type DiskManager struct {
	id       pagemanager.FileID
	filePath string
	file     *os.File
	header   DBFileHeader
	free     map[pagemanager.PageID]struct{}
	logger   *zap.Logger
	mu       sync.Mutex
}

var _ File = (*DiskManager)(nil)

func NewDiskManager(filePath string, logger *zap.Logger) *DiskManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := pagemanager.NewFileID()
	return &DiskManager{
		id:       id,
		filePath: filePath,
		free:     make(map[pagemanager.PageID]struct{}),
		logger:   logger.Named("disk_manager").With(zap.String("path", filePath), zap.Stringer("file_id", id)),
	}
}

// OpenDiskManager is a convenience wrapper around NewDiskManager and OpenOrCreateFile.
func OpenDiskManager(filePath string, create bool, logger *zap.Logger) (*DiskManager, error) {
	dm := NewDiskManager(filePath, logger)
	if _, err := dm.OpenOrCreateFile(create); err != nil {
		return nil, err
	}
	return dm, nil
}

func (dm *DiskManager) ID() pagemanager.FileID { return dm.id }
func (dm *DiskManager) Path() string           { return dm.filePath }

// OpenOrCreateFile opens an existing database file or creates a new one.
// With create set, the file must not exist yet; without it, the file must exist.
func (dm *DiskManager) OpenOrCreateFile(create bool) (*DBFileHeader, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	_, statErr := os.Stat(dm.filePath)
	switch {
	case os.IsNotExist(statErr):
		if !create {
			return nil, fmt.Errorf("%w: %s", ErrDBFileNotFound, dm.filePath)
		}
		file, err := os.OpenFile(dm.filePath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0666)
		if err != nil {
			return nil, fmt.Errorf("%w: creating file %s: %v", ErrIO, dm.filePath, err)
		}
		dm.file = file
		dm.header = DBFileHeader{
			Magic:        DBMagic,
			Version:      DBVersion,
			PageSize:     pagemanager.PageSize,
			NumPages:     1, // the header itself
			FreeListHead: pagemanager.InvalidPageID,
		}
		if err := dm.writeHeader(); err != nil {
			_ = dm.file.Close()
			dm.file = nil
			_ = os.Remove(dm.filePath)
			return nil, fmt.Errorf("failed to write initial header: %w", err)
		}
		dm.logger.Info("Created database file")

	case statErr == nil:
		if create {
			return nil, fmt.Errorf("%w: %s", ErrDBFileExists, dm.filePath)
		}
		file, err := os.OpenFile(dm.filePath, os.O_RDWR, 0666)
		if err != nil {
			return nil, fmt.Errorf("%w: opening file %s: %v", ErrIO, dm.filePath, err)
		}
		dm.file = file
		if err := dm.readHeader(); err != nil {
			dm.closeInternal()
			return nil, fmt.Errorf("failed to read database header: %w", err)
		}
		if err := dm.loadFreeList(); err != nil {
			dm.closeInternal()
			return nil, err
		}
		dm.logger.Info("Opened database file",
			zap.Uint64("num_pages", dm.header.NumPages), zap.Int("free_pages", len(dm.free)))

	default:
		return nil, fmt.Errorf("%w: stating file %s: %v", ErrIO, dm.filePath, statErr)
	}

	header := dm.header
	return &header, nil
}

// writeHeader serializes the header into slot 0.
func (dm *DiskManager) writeHeader() error {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, &dm.header); err != nil {
		return fmt.Errorf("%w: serializing header: %v", ErrInvalidPageData, err)
	}
	var page pagemanager.Page
	page.SetData(buf.Bytes())
	return dm.writeSlot(pagemanager.InvalidPageID, &page)
}

func (dm *DiskManager) readHeader() error {
	var page pagemanager.Page
	if err := dm.readSlot(pagemanager.InvalidPageID, &page); err != nil {
		return err
	}
	var header DBFileHeader
	if err := binary.Read(bytes.NewReader(page.GetData()), binary.LittleEndian, &header); err != nil {
		return fmt.Errorf("%w: deserializing header: %v", ErrBadFileHeader, err)
	}
	if header.Magic != DBMagic {
		return fmt.Errorf("%w: magic 0x%x", ErrBadFileHeader, header.Magic)
	}
	if header.PageSize != pagemanager.PageSize {
		return fmt.Errorf("%w: page size %d does not match %d", ErrBadFileHeader, header.PageSize, pagemanager.PageSize)
	}
	if header.NumPages < 1 {
		return fmt.Errorf("%w: page count %d", ErrBadFileHeader, header.NumPages)
	}
	dm.header = header
	return nil
}

// loadFreeList walks the on-disk free list so disposed pages can be rejected on access.
func (dm *DiskManager) loadFreeList() error {
	var page pagemanager.Page
	for next := dm.header.FreeListHead; next != pagemanager.InvalidPageID; {
		if uint64(next) >= dm.header.NumPages {
			return fmt.Errorf("%w: free list points past end of file (page %d)", ErrBadFileHeader, next)
		}
		if _, seen := dm.free[next]; seen {
			return fmt.Errorf("%w: free list cycle at page %d", ErrBadFileHeader, next)
		}
		if err := dm.readSlot(next, &page); err != nil {
			return err
		}
		dm.free[next] = struct{}{}
		next = pagemanager.PageID(binary.LittleEndian.Uint64(page.GetData()))
	}
	return nil
}

func (dm *DiskManager) readSlot(pageID pagemanager.PageID, page *pagemanager.Page) error {
	slot := make([]byte, slotSize)
	offset := int64(pageID) * slotSize
	n, err := dm.file.ReadAt(slot, offset)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: EOF reading page %d at offset %d (read %d bytes)", ErrIO, pageID, offset, n)
		}
		return fmt.Errorf("%w: reading page %d at offset %d: %v", ErrIO, pageID, offset, err)
	}
	data := slot[:pagemanager.PageSize]
	want := binary.LittleEndian.Uint64(slot[pagemanager.PageSize:])
	if got := xxhash.Sum64(data); got != want {
		return fmt.Errorf("%w: page %d (stored %x, computed %x)", ErrChecksumMismatch, pageID, want, got)
	}
	page.SetData(data)
	return nil
}

func (dm *DiskManager) writeSlot(pageID pagemanager.PageID, page *pagemanager.Page) error {
	slot := make([]byte, slotSize)
	copy(slot, page.GetData())
	binary.LittleEndian.PutUint64(slot[pagemanager.PageSize:], xxhash.Sum64(page.GetData()))
	offset := int64(pageID) * slotSize
	if _, err := dm.file.WriteAt(slot, offset); err != nil {
		return fmt.Errorf("%w: writing page %d at offset %d: %v", ErrIO, pageID, offset, err)
	}
	return nil
}

// checkPage reports whether pageID names a live data page. Must be called with dm.mu held.
func (dm *DiskManager) checkPage(pageID pagemanager.PageID) error {
	if dm.file == nil {
		return ErrFileClosed
	}
	if pageID == pagemanager.InvalidPageID || uint64(pageID) >= dm.header.NumPages {
		return fmt.Errorf("%w: page %d out of range [1, %d)", ErrInvalidPageID, pageID, dm.header.NumPages)
	}
	if _, free := dm.free[pageID]; free {
		return fmt.Errorf("%w: page %d has been disposed", ErrInvalidPageID, pageID)
	}
	return nil
}

// ReadPage reads a page's content from disk into page.
func (dm *DiskManager) ReadPage(pageID pagemanager.PageID, page *pagemanager.Page) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if err := dm.checkPage(pageID); err != nil {
		return err
	}
	return dm.readSlot(pageID, page)
}

// WritePage writes page to disk at pageID's location. It does not sync.
func (dm *DiskManager) WritePage(pageID pagemanager.PageID, page *pagemanager.Page) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if err := dm.checkPage(pageID); err != nil {
		return err
	}
	return dm.writeSlot(pageID, page)
}

// AllocatePage hands out a disposed page if there is one, otherwise extends the file.
// Either way the returned page is zero-filled on disk.
func (dm *DiskManager) AllocatePage() (pagemanager.PageID, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return pagemanager.InvalidPageID, ErrFileClosed
	}

	var empty pagemanager.Page
	if head := dm.header.FreeListHead; head != pagemanager.InvalidPageID {
		var freePage pagemanager.Page
		if err := dm.readSlot(head, &freePage); err != nil {
			return pagemanager.InvalidPageID, err
		}
		next := pagemanager.PageID(binary.LittleEndian.Uint64(freePage.GetData()))
		if err := dm.writeSlot(head, &empty); err != nil {
			return pagemanager.InvalidPageID, err
		}
		dm.header.FreeListHead = next
		if err := dm.writeHeader(); err != nil {
			return pagemanager.InvalidPageID, err
		}
		delete(dm.free, head)
		dm.logger.Debug("Reused disposed page", zap.Uint64("page_id", uint64(head)))
		return head, nil
	}

	newPageID := pagemanager.PageID(dm.header.NumPages)
	if err := dm.writeSlot(newPageID, &empty); err != nil {
		return pagemanager.InvalidPageID, fmt.Errorf("extending file for new page %d: %w", newPageID, err)
	}
	dm.header.NumPages++
	if err := dm.writeHeader(); err != nil {
		dm.header.NumPages--
		return pagemanager.InvalidPageID, err
	}
	dm.logger.Debug("Allocated page at end of file", zap.Uint64("page_id", uint64(newPageID)))
	return newPageID, nil
}

// DisposePage pushes pageID onto the free list.
func (dm *DiskManager) DisposePage(pageID pagemanager.PageID) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if err := dm.checkPage(pageID); err != nil {
		return err
	}
	var freePage pagemanager.Page
	binary.LittleEndian.PutUint64(freePage.GetData(), uint64(dm.header.FreeListHead))
	if err := dm.writeSlot(pageID, &freePage); err != nil {
		return err
	}
	prevHead := dm.header.FreeListHead
	dm.header.FreeListHead = pageID
	if err := dm.writeHeader(); err != nil {
		dm.header.FreeListHead = prevHead
		return err
	}
	dm.free[pageID] = struct{}{}
	dm.logger.Debug("Disposed page", zap.Uint64("page_id", uint64(pageID)))
	return nil
}

// NumPages returns the number of pages in the file, header and free pages included.
func (dm *DiskManager) NumPages() uint64 {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.header.NumPages
}

// Sync flushes all buffered data to disk.
func (dm *DiskManager) Sync() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return nil
	}
	if err := dm.file.Sync(); err != nil {
		return fmt.Errorf("%w: syncing %s: %v", ErrIO, dm.filePath, err)
	}
	return nil
}

// Close syncs and closes the underlying file handle.
func (dm *DiskManager) Close() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.closeInternal()
}

func (dm *DiskManager) closeInternal() error {
	if dm.file == nil {
		return nil
	}
	if err := dm.file.Sync(); err != nil {
		dm.logger.Warn("Error syncing file on close", zap.Error(err))
	}
	closeErr := dm.file.Close()
	dm.file = nil
	if closeErr != nil {
		return fmt.Errorf("%w: closing %s: %v", ErrIO, dm.filePath, closeErr)
	}
	return nil
}
