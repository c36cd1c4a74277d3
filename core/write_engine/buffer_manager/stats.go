package buffermanager

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	pagemanager "github.com/sushant-115/gojopool/core/write_engine/page_manager"
)

// BufStats holds diagnostic counters. They never affect pool behaviour.
type BufStats struct {
	Accesses   uint64 // page requests plus reference bits cleared by the clock
	DiskReads  uint64
	DiskWrites uint64
}

// FrameInfo is a snapshot of one frame descriptor.
type FrameInfo struct {
	FrameNo  int
	FileID   pagemanager.FileID
	PageNo   pagemanager.PageID
	PinCount int
	Dirty    bool
	RefBit   bool
	Valid    bool
}

func (bpm *BufferPoolManager) Stats() BufStats { return bpm.stats }
func (bpm *BufferPoolManager) ClearStats()     { bpm.stats = BufStats{} }

// Frames returns a snapshot of every frame descriptor, in frame order.
func (bpm *BufferPoolManager) Frames() []FrameInfo {
	frames := make([]FrameInfo, len(bpm.descriptors))
	for i, desc := range bpm.descriptors {
		frames[i] = FrameInfo{
			FrameNo:  desc.frameNo,
			FileID:   desc.fileID,
			PageNo:   desc.pageNo,
			PinCount: desc.pinCount,
			Dirty:    desc.dirty,
			RefBit:   desc.refBit,
			Valid:    desc.valid,
		}
	}
	return frames
}

// Dump writes the occupancy and pin state of every frame to w.
func (bpm *BufferPoolManager) Dump(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "Buffer pool: %d frames, %s, clock hand at %d\n",
		bpm.numFrames, humanize.IBytes(uint64(bpm.numFrames)*pagemanager.PageSize), bpm.clockHand); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FRAME\tFILE\tPAGE\tPIN\tDIRTY\tREF\tVALID")
	for _, f := range bpm.Frames() {
		if !f.Valid {
			fmt.Fprintf(tw, "%d\t-\t-\t%d\t%t\t%t\t%t\n", f.FrameNo, f.PinCount, f.Dirty, f.RefBit, f.Valid)
			continue
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%t\t%t\t%t\n", f.FrameNo, f.FileID, f.PageNo, f.PinCount, f.Dirty, f.RefBit, f.Valid)
	}
	return tw.Flush()
}
