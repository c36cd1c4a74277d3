package buffermanager

import (
	"bytes"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	flushmanager "github.com/sushant-115/gojopool/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojopool/core/write_engine/page_manager"
)

func TestNewBufferPoolManager(t *testing.T) {
	t.Run("rejects empty pool", func(t *testing.T) {
		_, err := NewBufferPoolManager(0)
		require.Error(t, err)
	})
	t.Run("all frames start free", func(t *testing.T) {
		bpm := newTestPool(t, 4)
		require.Equal(t, 4, bpm.NumFrames())
		require.Equal(t, 3, bpm.clockHand)
		for i, f := range bpm.Frames() {
			assert.Equal(t, i, f.FrameNo)
			assert.False(t, f.Valid)
			assert.Zero(t, f.PinCount)
		}
		requireInvariants(t, bpm)
	})
}

func TestFetchPage(t *testing.T) {
	t.Run("miss then hit", func(t *testing.T) {
		bpm := newTestPool(t, 3)
		file := newMemFile(5)

		page, err := bpm.FetchPage(file, 2)
		require.NoError(t, err)
		require.Equal(t, "page-2", pageString(page))
		require.Equal(t, 1, file.reads)

		again, err := bpm.FetchPage(file, 2)
		require.NoError(t, err)
		require.Same(t, page, again, "a hit must return the cached frame")
		require.Equal(t, 1, file.reads, "a hit must not read the file")

		f := bpm.Frames()[frameOf(t, bpm, file, 2)]
		require.Equal(t, 2, f.PinCount)
		require.True(t, f.RefBit)
		require.False(t, f.Dirty)
		require.Equal(t, uint64(1), bpm.Stats().DiskReads)
		requireInvariants(t, bpm)
	})

	t.Run("read failure leaves no frame behind", func(t *testing.T) {
		bpm := newTestPool(t, 2)
		file := newMemFile(2)
		file.readErr = flushmanager.ErrIO

		_, err := bpm.FetchPage(file, 1)
		require.ErrorIs(t, err, flushmanager.ErrIO)
		for _, f := range bpm.Frames() {
			require.False(t, f.Valid)
		}
		requireInvariants(t, bpm)

		file.readErr = nil
		_, err = bpm.FetchPage(file, 1)
		require.NoError(t, err)
		requireInvariants(t, bpm)
	})

	t.Run("index insert failure releases the frame", func(t *testing.T) {
		bpm := newTestPool(t, 3, WithPageIndex(NewHashTable(HashTableSize(3), WithMaxEntries(1))))
		file := newMemFile(3)

		_, err := bpm.FetchPage(file, 1)
		require.NoError(t, err)
		_, err = bpm.FetchPage(file, 2)
		require.ErrorIs(t, err, flushmanager.ErrHashTable)

		validFrames := 0
		for _, f := range bpm.Frames() {
			if f.Valid {
				validFrames++
				require.Equal(t, pagemanager.PageID(1), f.PageNo)
			} else {
				require.Zero(t, f.PinCount)
			}
		}
		require.Equal(t, 1, validFrames)
		requireInvariants(t, bpm)
	})

	t.Run("two files with the same page number are distinct", func(t *testing.T) {
		bpm := newTestPool(t, 2)
		a, b := newMemFile(1), newMemFile(1)
		b.pages[1].SetData([]byte("other"))

		pa, err := bpm.FetchPage(a, 1)
		require.NoError(t, err)
		pb, err := bpm.FetchPage(b, 1)
		require.NoError(t, err)
		require.NotSame(t, pa, pb)
		require.Equal(t, "page-1", pageString(pa))
		require.Equal(t, "other", pageString(pb))
		requireInvariants(t, bpm)
	})
}

func TestUnpinPage(t *testing.T) {
	bpm := newTestPool(t, 2)
	file := newMemFile(2)

	err := bpm.UnpinPage(file, 1, false)
	require.ErrorIs(t, err, flushmanager.ErrPageNotFound)

	_, err = bpm.FetchPage(file, 1)
	require.NoError(t, err)
	_, err = bpm.FetchPage(file, 1)
	require.NoError(t, err)

	require.NoError(t, bpm.UnpinPage(file, 1, true))
	require.NoError(t, bpm.UnpinPage(file, 1, false))
	f := bpm.Frames()[frameOf(t, bpm, file, 1)]
	require.Zero(t, f.PinCount)
	require.True(t, f.Dirty, "a clean unpin must not clear dirty")

	err = bpm.UnpinPage(file, 1, false)
	require.ErrorIs(t, err, flushmanager.ErrPageNotPinned)
	require.Zero(t, bpm.Frames()[frameOf(t, bpm, file, 1)].PinCount)
	requireInvariants(t, bpm)
}

func TestAllocBufAllPinned(t *testing.T) {
	bpm := newTestPool(t, 2)
	file := newMemFile(3)

	_, err := bpm.FetchPage(file, 1)
	require.NoError(t, err)
	_, err = bpm.FetchPage(file, 2)
	require.NoError(t, err)

	_, err = bpm.FetchPage(file, 3)
	require.ErrorIs(t, err, flushmanager.ErrBufferExceeded)

	_, err = bpm.allocBuf()
	require.ErrorIs(t, err, flushmanager.ErrBufferExceeded)

	for _, f := range bpm.Frames() {
		require.True(t, f.Valid, "a pinned frame must never be selected")
		require.Equal(t, 1, f.PinCount)
	}
	require.Equal(t, 2, file.reads)
	requireInvariants(t, bpm)
}

func TestClockSecondChance(t *testing.T) {
	bpm := newTestPool(t, 3)
	file := newMemFile(5)
	const a, b, c, d, e = 1, 2, 3, 4, 5

	for _, p := range []pagemanager.PageID{a, b, c} {
		_, err := bpm.FetchPage(file, p)
		require.NoError(t, err)
	}
	require.Equal(t, 0, frameOf(t, bpm, file, a))
	require.Equal(t, 1, frameOf(t, bpm, file, b))
	require.Equal(t, 2, frameOf(t, bpm, file, c))

	require.NoError(t, bpm.UnpinPage(file, a, false))
	require.NoError(t, bpm.UnpinPage(file, b, false))

	// First round clears A, B and C; the second reaches A first.
	_, err := bpm.FetchPage(file, d)
	require.NoError(t, err)
	require.Equal(t, 0, frameOf(t, bpm, file, d))
	require.Equal(t, 2, frameOf(t, bpm, file, c), "the pinned page must stay cached")
	_, err = bpm.pageTable.Lookup(file.ID(), a)
	require.ErrorIs(t, err, flushmanager.ErrHashNotFound)

	frames := bpm.Frames()
	require.False(t, frames[1].RefBit)
	require.False(t, frames[2].RefBit)
	require.Equal(t, 0, bpm.clockHand)

	// The hand resumes after A's frame, so B goes next.
	_, err = bpm.FetchPage(file, e)
	require.NoError(t, err)
	require.Equal(t, 1, frameOf(t, bpm, file, e))
	require.Equal(t, 2, frameOf(t, bpm, file, c))
	requireInvariants(t, bpm)
}

func TestDirtyEviction(t *testing.T) {
	t.Run("written back exactly once and round-trips", func(t *testing.T) {
		bpm := newTestPool(t, 2)
		file := newMemFile(4)

		page, err := bpm.FetchPage(file, 1)
		require.NoError(t, err)
		page.Reset()
		page.SetData([]byte("rewritten"))
		require.NoError(t, bpm.UnpinPage(file, 1, true))

		// Fill the pool with other pages until page 1 is gone.
		for _, p := range []pagemanager.PageID{2, 3, 4} {
			_, err := bpm.FetchPage(file, p)
			require.NoError(t, err)
			require.NoError(t, bpm.UnpinPage(file, p, false))
		}
		_, err = bpm.pageTable.Lookup(file.ID(), 1)
		require.ErrorIs(t, err, flushmanager.ErrHashNotFound)
		require.Equal(t, 1, file.writes[1])
		require.Len(t, file.writes, 1, "clean pages must not be written")
		require.Equal(t, "rewritten", file.content(1))

		page, err = bpm.FetchPage(file, 1)
		require.NoError(t, err)
		require.Equal(t, "rewritten", pageString(page))
		require.Equal(t, uint64(1), bpm.Stats().DiskWrites)
		requireInvariants(t, bpm)
	})

	t.Run("write failure keeps the victim cached", func(t *testing.T) {
		bpm := newTestPool(t, 1)
		file := newMemFile(2)

		page, err := bpm.FetchPage(file, 1)
		require.NoError(t, err)
		page.Reset()
		page.SetData([]byte("dirty"))
		require.NoError(t, bpm.UnpinPage(file, 1, true))

		file.writeErr = flushmanager.ErrIO
		_, err = bpm.FetchPage(file, 2)
		require.ErrorIs(t, err, flushmanager.ErrIO)

		f := bpm.Frames()[0]
		require.True(t, f.Valid)
		require.True(t, f.Dirty)
		require.Equal(t, pagemanager.PageID(1), f.PageNo)
		requireInvariants(t, bpm)

		file.writeErr = nil
		_, err = bpm.FetchPage(file, 2)
		require.NoError(t, err)
		require.Equal(t, "dirty", file.content(1))
		requireInvariants(t, bpm)
	})
}

func TestNewPage(t *testing.T) {
	t.Run("allocates a zeroed pinned page", func(t *testing.T) {
		bpm := newTestPool(t, 1)
		file := newMemFile(1)

		// Leave stale content in the frame the new page will reuse.
		_, err := bpm.FetchPage(file, 1)
		require.NoError(t, err)
		require.NoError(t, bpm.UnpinPage(file, 1, false))
		require.NoError(t, bpm.FlushFile(file))

		pageNo, page, err := bpm.NewPage(file)
		require.NoError(t, err)
		require.Equal(t, pagemanager.PageID(2), pageNo)
		require.Equal(t, make([]byte, pagemanager.PageSize), page.GetData())

		f := bpm.Frames()[frameOf(t, bpm, file, pageNo)]
		require.Equal(t, 1, f.PinCount)
		require.True(t, f.RefBit)
		require.False(t, f.Dirty)
		require.Equal(t, 1, file.reads, "a new page is not read from the file")
		requireInvariants(t, bpm)
	})

	t.Run("file allocation failure", func(t *testing.T) {
		bpm := newTestPool(t, 1)
		file := newMemFile(0)
		file.allocErr = flushmanager.ErrIO
		_, _, err := bpm.NewPage(file)
		require.ErrorIs(t, err, flushmanager.ErrIO)
		requireInvariants(t, bpm)
	})

	t.Run("no frame leaks the file page", func(t *testing.T) {
		bpm := newTestPool(t, 1)
		file := newMemFile(1)
		_, err := bpm.FetchPage(file, 1)
		require.NoError(t, err)

		_, _, err = bpm.NewPage(file)
		require.ErrorIs(t, err, flushmanager.ErrBufferExceeded)
		require.Equal(t, pagemanager.PageID(2), file.next, "file-side allocation is not rolled back")
		requireInvariants(t, bpm)
	})

	t.Run("index failure releases the frame", func(t *testing.T) {
		bpm := newTestPool(t, 2, WithPageIndex(NewHashTable(3, WithMaxEntries(1))))
		file := newMemFile(1)
		_, err := bpm.FetchPage(file, 1)
		require.NoError(t, err)

		_, _, err = bpm.NewPage(file)
		require.ErrorIs(t, err, flushmanager.ErrHashTable)
		require.False(t, bpm.Frames()[1].Valid)
		requireInvariants(t, bpm)
	})
}

func TestDisposePage(t *testing.T) {
	bpm := newTestPool(t, 2)
	file := newMemFile(3)

	_, err := bpm.FetchPage(file, 1)
	require.NoError(t, err)
	require.NoError(t, bpm.UnpinPage(file, 1, true))
	readsBefore := file.reads

	require.NoError(t, bpm.DisposePage(file, 1))
	require.Equal(t, []pagemanager.PageID{1}, file.disposed)
	require.Zero(t, file.writes[1], "a disposed page is not written back")
	requireInvariants(t, bpm)

	// The next fetch is a miss that reaches the file.
	_, err = bpm.FetchPage(file, 1)
	require.ErrorIs(t, err, flushmanager.ErrInvalidPageID)
	require.Equal(t, readsBefore+1, file.reads)

	// Uncached pages are still disposed in the file.
	require.NoError(t, bpm.DisposePage(file, 3))
	require.Equal(t, []pagemanager.PageID{1, 3}, file.disposed)

	file.disposeErr = flushmanager.ErrIO
	require.ErrorIs(t, bpm.DisposePage(file, 2), flushmanager.ErrIO)
	requireInvariants(t, bpm)
}

func TestDisposePinnedPage(t *testing.T) {
	bpm := newTestPool(t, 1)
	file := newMemFile(2)

	_, err := bpm.FetchPage(file, 1)
	require.NoError(t, err)
	require.NoError(t, bpm.DisposePage(file, 1))
	requireInvariants(t, bpm)
	require.False(t, bpm.Frames()[0].Valid)

	// The single frame is free again without any unpin.
	_, err = bpm.FetchPage(file, 2)
	require.NoError(t, err)
}

func TestFlushFile(t *testing.T) {
	t.Run("writes dirty pages and drops the file", func(t *testing.T) {
		bpm := newTestPool(t, 4)
		f1, f2 := newMemFile(2), newMemFile(2)

		for _, p := range []pagemanager.PageID{1, 2} {
			page, err := bpm.FetchPage(f1, p)
			require.NoError(t, err)
			page.SetData([]byte("f1-dirty"))
			require.NoError(t, bpm.UnpinPage(f1, p, p == 1))

			_, err = bpm.FetchPage(f2, p)
			require.NoError(t, err)
			require.NoError(t, bpm.UnpinPage(f2, p, true))
		}

		require.NoError(t, bpm.FlushFile(f1))
		require.Equal(t, 1, f1.writes[1])
		require.Zero(t, f1.writes[2])
		require.Empty(t, f2.writes)
		for _, f := range bpm.Frames() {
			if f.Valid {
				require.Equal(t, f2.ID(), f.FileID)
				require.True(t, f.Dirty)
			} else {
				require.Equal(t, pagemanager.InvalidPageID, f.PageNo)
				require.False(t, f.FileID.IsValid())
			}
		}
		require.Equal(t, 2, bpm.pageTable.Len())
		requireInvariants(t, bpm)
	})

	t.Run("pinned page aborts the flush", func(t *testing.T) {
		bpm := newTestPool(t, 2)
		file := newMemFile(2)
		_, err := bpm.FetchPage(file, 1)
		require.NoError(t, err)

		err = bpm.FlushFile(file)
		require.ErrorIs(t, err, flushmanager.ErrPagePinned)
		f := bpm.Frames()[frameOf(t, bpm, file, 1)]
		require.True(t, f.Valid)
		require.Equal(t, 1, f.PinCount)
		requireInvariants(t, bpm)
	})

	t.Run("invalid frame tagged with the file", func(t *testing.T) {
		bpm := newTestPool(t, 2)
		file := newMemFile(1)
		bpm.descriptors[1].fileID = file.ID()

		err := bpm.FlushFile(file)
		require.ErrorIs(t, err, flushmanager.ErrBadBuffer)
	})

	t.Run("write failure is returned", func(t *testing.T) {
		bpm := newTestPool(t, 1)
		file := newMemFile(1)
		_, err := bpm.FetchPage(file, 1)
		require.NoError(t, err)
		require.NoError(t, bpm.UnpinPage(file, 1, true))

		file.writeErr = flushmanager.ErrIO
		require.ErrorIs(t, bpm.FlushFile(file), flushmanager.ErrIO)
		require.True(t, bpm.Frames()[0].Dirty)
		requireInvariants(t, bpm)
	})
}

func TestClose(t *testing.T) {
	bpm := newTestPool(t, 3)
	file := newMemFile(3)

	for _, p := range []pagemanager.PageID{1, 2, 3} {
		page, err := bpm.FetchPage(file, p)
		require.NoError(t, err)
		page.SetData([]byte("closed"))
		// Page 3 stays pinned; it is still written back.
		if p != 3 {
			require.NoError(t, bpm.UnpinPage(file, p, p != 2))
		}
	}
	bpm.descriptors[frameOf(t, bpm, file, 3)].dirty = true

	require.NoError(t, bpm.Close())
	require.Equal(t, map[pagemanager.PageID]int{1: 1, 3: 1}, file.writes)
	require.NoError(t, bpm.Close(), "closing twice is a no-op")

	_, err := bpm.FetchPage(file, 1)
	require.ErrorIs(t, err, flushmanager.ErrPoolClosed)
	require.ErrorIs(t, bpm.UnpinPage(file, 1, false), flushmanager.ErrPoolClosed)
	_, _, err = bpm.NewPage(file)
	require.ErrorIs(t, err, flushmanager.ErrPoolClosed)
	require.ErrorIs(t, bpm.DisposePage(file, 1), flushmanager.ErrPoolClosed)
	require.ErrorIs(t, bpm.FlushFile(file), flushmanager.ErrPoolClosed)
}

func TestCloseReportsFirstError(t *testing.T) {
	bpm := newTestPool(t, 2)
	file := newMemFile(2)
	for _, p := range []pagemanager.PageID{1, 2} {
		_, err := bpm.FetchPage(file, p)
		require.NoError(t, err)
		require.NoError(t, bpm.UnpinPage(file, p, true))
	}
	file.writeErr = flushmanager.ErrIO
	require.ErrorIs(t, bpm.Close(), flushmanager.ErrIO)
}

// TestRandomPinUnpin drives random fetch/unpin traffic and checks pin accounting
// against a model after every step.
func TestRandomPinUnpin(t *testing.T) {
	const numFrames, numPages = 3, 6
	bpm := newTestPool(t, numFrames)
	file := newMemFile(numPages)
	rng := rand.New(rand.NewPCG(1, 2))
	pins := make(map[pagemanager.PageID]int)

	pinnedPages := func() int {
		n := 0
		for _, c := range pins {
			if c > 0 {
				n++
			}
		}
		return n
	}

	for step := 0; step < 2000; step++ {
		pageNo := pagemanager.PageID(1 + rng.IntN(numPages))
		if rng.IntN(2) == 0 {
			_, err := bpm.FetchPage(file, pageNo)
			if errors.Is(err, flushmanager.ErrBufferExceeded) {
				require.Zero(t, pins[pageNo], "a pinned page is always a hit")
				require.Equal(t, numFrames, pinnedPages())
			} else {
				require.NoError(t, err)
				pins[pageNo]++
			}
		} else {
			err := bpm.UnpinPage(file, pageNo, rng.IntN(4) == 0)
			if pins[pageNo] == 0 {
				require.Error(t, err)
				require.True(t, errors.Is(err, flushmanager.ErrPageNotFound) || errors.Is(err, flushmanager.ErrPageNotPinned))
			} else {
				require.NoError(t, err)
				pins[pageNo]--
			}
		}

		for _, f := range bpm.Frames() {
			if f.Valid {
				require.Equal(t, pins[f.PageNo], f.PinCount, "step %d page %d", step, f.PageNo)
			}
		}
		requireInvariants(t, bpm)
	}
}

func TestDump(t *testing.T) {
	bpm := newTestPool(t, 2)
	file := newMemFile(1)
	_, err := bpm.FetchPage(file, 1)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, bpm.Dump(&buf))
	out := buf.String()
	require.Contains(t, out, "Buffer pool: 2 frames, 8.0 KiB")
	require.Contains(t, out, "FRAME")
	require.Contains(t, out, file.ID().String())
}

func TestStats(t *testing.T) {
	bpm := newTestPool(t, 1)
	file := newMemFile(2)

	_, err := bpm.FetchPage(file, 1)
	require.NoError(t, err)
	require.NoError(t, bpm.UnpinPage(file, 1, true))
	_, err = bpm.FetchPage(file, 2)
	require.NoError(t, err)

	// Two requests plus one reference bit cleared by the clock.
	require.Equal(t, BufStats{Accesses: 3, DiskReads: 2, DiskWrites: 1}, bpm.Stats())
	bpm.ClearStats()
	require.Equal(t, BufStats{}, bpm.Stats())
}
