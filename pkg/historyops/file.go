package historyops

import (
	"context"
	"fmt"
	"time"

	"github.com/parsec-cloud/parsec-client-go/pkg/errs"
	"github.com/parsec-cloud/parsec-client-go/pkg/types"
)

// FileDescriptor is an opaque handle returned by OpenFile and consumed by
// FdRead/FdClose (spec §6.1 open_file/fd_read/fd_close).
type FileDescriptor uint64

type openFile struct {
	manifest *types.FileManifest
	keyIndex uint64
}

// OpenFile implements spec §6.1's open_file: resolve path to a file manifest
// at at and hand back a descriptor good for fd_read until fd_close.
func (o *WorkspaceHistoryOps) OpenFile(ctx context.Context, path string, at time.Time) (FileDescriptor, error) {
	at = o.resolveAt(at)
	m, keyIndex, err := o.resolvePath(ctx, path, at)
	if err != nil {
		return 0, err
	}
	fm, ok := m.(*types.FileManifest)
	if !ok {
		return 0, errs.ErrNotAFile
	}

	o.fdMu.Lock()
	defer o.fdMu.Unlock()
	o.nextFD++
	fd := FileDescriptor(o.nextFD)
	o.fds[fd] = &openFile{manifest: fm, keyIndex: keyIndex}
	return fd, nil
}

// FdRead implements spec §6.1's fd_read: fill buf with up to size bytes of
// fd's content starting at offset, fetching and validating whichever blocks
// overlap the requested span (served from the block cache when possible).
// Returns the number of bytes copied into buf.
func (o *WorkspaceHistoryOps) FdRead(ctx context.Context, fd FileDescriptor, offset, size uint64, buf []byte) (int, error) {
	o.fdMu.Lock()
	of, ok := o.fds[fd]
	o.fdMu.Unlock()
	if !ok {
		return 0, errs.ErrBadFileDescriptor
	}

	fm := of.manifest
	if offset >= fm.Size || size == 0 {
		return 0, nil
	}
	end := offset + size
	if end > fm.Size {
		end = fm.Size
	}
	if uint64(len(buf)) < end-offset {
		return 0, fmt.Errorf("historyops: buf too small for requested read (need %d, got %d)", end-offset, len(buf))
	}

	var total int
	for _, b := range fm.Blocks {
		blockEnd := b.Offset + b.Size
		if blockEnd <= offset || b.Offset >= end {
			continue
		}
		data, err := o.blockBytes(ctx, of.keyIndex, b)
		if err != nil {
			return total, err
		}
		copyStart := max(offset, b.Offset)
		copyEnd := min(end, blockEnd)
		src := data[copyStart-b.Offset : copyEnd-b.Offset]
		dst := buf[copyStart-offset : copyEnd-offset]
		copy(dst, src)
		total += len(src)
	}
	return total, nil
}

// FdClose implements spec §6.1's fd_close: release fd. Re-closing or
// referencing an unknown descriptor reports ErrBadFileDescriptor.
func (o *WorkspaceHistoryOps) FdClose(fd FileDescriptor) error {
	o.fdMu.Lock()
	defer o.fdMu.Unlock()
	if _, ok := o.fds[fd]; !ok {
		return errs.ErrBadFileDescriptor
	}
	delete(o.fds, fd)
	return nil
}

// blockBytes returns ref's decrypted content, checking the block cache
// before falling back to a server fetch + validate.
func (o *WorkspaceHistoryOps) blockBytes(ctx context.Context, keyIndex uint64, ref types.BlockRef) ([]byte, error) {
	if data, ok := o.store.Blocks.Get(ref.ID); ok {
		return data, nil
	}
	resp, err := o.cmds.BlockRead(ctx, ref.ID)
	if err != nil {
		return nil, &errs.Offline{Cause: err}
	}
	cleartext, err := o.validator.ValidateBlock(ctx, o.realm, keyIndex, ref, resp.Encrypted)
	if err != nil {
		return nil, err
	}
	o.store.Blocks.Put(ref.ID, cleartext)
	return cleartext, nil
}
