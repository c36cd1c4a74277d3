package buffermanager

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	flushmanager "github.com/sushant-115/gojopool/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojopool/core/write_engine/page_manager"
	"go.uber.org/zap"
)

// --- Test Helpers ---

// memFile is an in-memory File that counts I/O and can be told to fail.
type memFile struct {
	id       pagemanager.FileID
	pages    map[pagemanager.PageID]*pagemanager.Page
	next     pagemanager.PageID
	reads    int
	writes   map[pagemanager.PageID]int
	disposed []pagemanager.PageID

	readErr    error
	writeErr   error
	allocErr   error
	disposeErr error
}

var _ flushmanager.File = (*memFile)(nil)

// newMemFile creates a file with pages 1..numPages, each holding "page-<n>".
func newMemFile(numPages int) *memFile {
	f := &memFile{
		id:     pagemanager.NewFileID(),
		pages:  make(map[pagemanager.PageID]*pagemanager.Page),
		writes: make(map[pagemanager.PageID]int),
	}
	for i := 1; i <= numPages; i++ {
		p := pagemanager.NewPage()
		p.SetData([]byte(fmt.Sprintf("page-%d", i)))
		f.pages[pagemanager.PageID(i)] = p
	}
	f.next = pagemanager.PageID(numPages)
	return f
}

func (f *memFile) ID() pagemanager.FileID { return f.id }

func (f *memFile) ReadPage(pageID pagemanager.PageID, page *pagemanager.Page) error {
	f.reads++
	if f.readErr != nil {
		return f.readErr
	}
	stored, ok := f.pages[pageID]
	if !ok {
		return fmt.Errorf("%w: page %d", flushmanager.ErrInvalidPageID, pageID)
	}
	page.CopyFrom(stored)
	return nil
}

func (f *memFile) WritePage(pageID pagemanager.PageID, page *pagemanager.Page) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	stored, ok := f.pages[pageID]
	if !ok {
		return fmt.Errorf("%w: page %d", flushmanager.ErrInvalidPageID, pageID)
	}
	stored.CopyFrom(page)
	f.writes[pageID]++
	return nil
}

func (f *memFile) AllocatePage() (pagemanager.PageID, error) {
	if f.allocErr != nil {
		return pagemanager.InvalidPageID, f.allocErr
	}
	f.next++
	f.pages[f.next] = pagemanager.NewPage()
	return f.next, nil
}

func (f *memFile) DisposePage(pageID pagemanager.PageID) error {
	if f.disposeErr != nil {
		return f.disposeErr
	}
	if _, ok := f.pages[pageID]; !ok {
		return fmt.Errorf("%w: page %d", flushmanager.ErrInvalidPageID, pageID)
	}
	delete(f.pages, pageID)
	f.disposed = append(f.disposed, pageID)
	return nil
}

func (f *memFile) content(pageID pagemanager.PageID) string {
	return pageString(f.pages[pageID])
}

// pageString returns the page content up to the first zero byte.
func pageString(p *pagemanager.Page) string {
	data := p.GetData()
	for i, b := range data {
		if b == 0 {
			return string(data[:i])
		}
	}
	return string(data)
}

func newTestPool(t *testing.T, numFrames int, opts ...Option) *BufferPoolManager {
	t.Helper()
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	bpm, err := NewBufferPoolManager(numFrames, append([]Option{WithLogger(logger)}, opts...)...)
	require.NoError(t, err)
	return bpm
}

// requireInvariants checks the frame/index invariants over the whole pool.
func requireInvariants(t *testing.T, bpm *BufferPoolManager) {
	t.Helper()
	valid := 0
	for i, desc := range bpm.descriptors {
		require.Equal(t, i, desc.frameNo)
		require.GreaterOrEqual(t, desc.pinCount, 0, "frame %d", i)
		if !desc.valid {
			require.Zero(t, desc.pinCount, "invalid frame %d is pinned", i)
			require.False(t, desc.dirty, "invalid frame %d is dirty", i)
			continue
		}
		valid++
		frameNo, err := bpm.pageTable.Lookup(desc.fileID, desc.pageNo)
		require.NoError(t, err, "valid frame %d has no index entry", i)
		require.Equal(t, i, frameNo)
	}
	require.Equal(t, valid, bpm.pageTable.Len(), "index entries must match valid frames")
}

func frameOf(t *testing.T, bpm *BufferPoolManager, file flushmanager.File, pageNo pagemanager.PageID) int {
	t.Helper()
	frameNo, err := bpm.pageTable.Lookup(file.ID(), pageNo)
	require.NoError(t, err)
	return frameNo
}
