package pagemanager

import (
	"github.com/google/uuid"
)

// --- Page Management ---

// PageSize is the fixed size in bytes of every page, on disk and in the buffer pool.
const PageSize = 4096

const (
	InvalidPageID PageID = 0 // Page 0 of every file is its header, never handed out
)

// PageID represents a page number inside a single database file.
type PageID uint64

// FileID identifies an open database file. It is the file half of the buffer pool's
// (file, page) cache key, so it must stay comparable and hashable.
type FileID uuid.UUID

// NewFileID returns a fresh random FileID.
func NewFileID() FileID { return FileID(uuid.New()) }

// InvalidFileID is the zero FileID, used by descriptors that own no file.
var InvalidFileID FileID

func (id FileID) String() string { return uuid.UUID(id).String() }
func (id FileID) Bytes() []byte  { b := [16]byte(id); return b[:] }
func (id FileID) IsValid() bool  { return id != InvalidFileID }

// Page is the in-memory image of one disk page. The buffer pool owns the backing
// storage; callers only ever hold a *Page between a fetch and the matching unpin.
type Page struct {
	data [PageSize]byte
}

// NewPage creates a zero-filled Page.
func NewPage() *Page {
	return &Page{}
}

// Reset zeroes the page content.
func (p *Page) Reset() {
	p.data = [PageSize]byte{}
}

func (p *Page) GetData() []byte { return p.data[:] }

// SetData copies newData into the page. Data beyond PageSize is not copied; the
// number of bytes copied is returned.
func (p *Page) SetData(newData []byte) int { return copy(p.data[:], newData) }

// CopyFrom overwrites the page with the content of src.
func (p *Page) CopyFrom(src *Page) { p.data = src.data }
