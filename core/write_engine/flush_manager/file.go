package flushmanager

import (
	pagemanager "github.com/sushant-115/gojopool/core/write_engine/page_manager"
)

// File is a page-addressed persistent store. The buffer pool only ever talks to
// storage through this interface; DiskManager is the on-disk implementation.
type File interface {
	// ID returns the identity used to key this file's pages in the buffer pool.
	ID() pagemanager.FileID
	ReadPage(pageID pagemanager.PageID, page *pagemanager.Page) error
	WritePage(pageID pagemanager.PageID, page *pagemanager.Page) error
	// AllocatePage reserves a new page number. The page is zero-filled on disk.
	AllocatePage() (pagemanager.PageID, error)
	DisposePage(pageID pagemanager.PageID) error
}
