package teasafe

import "io"

// SizeUpdateCallback is invoked after every successful operation that
// changes a File's logical size, with the new size as argument. It must
// not call back into the File that invoked it. Ownership runs
// directory → file, never the reverse.
type SizeUpdateCallback func(newSize uint64)

const noBlock = ^uint64(0)

// File is the chain-of-blocks abstraction: a logical byte stream
// composed over a linked sequence of FileBlocks, with sequential read,
// random seek, append, truncate, and unlink. It is grounded on the
// original engine's TeaSafeFile, which keeps the same
// split between an in-memory list of block descriptors, a small pending
// write buffer, and a size-update callback for its owning directory
// entry.
type File struct {
	stream *ImageStream
	sb     *Superblock
	bitmap *VolumeBitmap

	name        string
	disposition Disposition

	startBlock uint64 // noBlock until the first block is allocated
	blocks     []*FileBlock
	size       uint64
	pos        uint64

	pending []byte

	onSizeUpdate SizeUpdateCallback
}

// OpenNewFile creates an empty file with no block allocated yet; the
// first block is allocated lazily on first write.
func OpenNewFile(stream *ImageStream, sb *Superblock, bitmap *VolumeBitmap, name string) *File {
	return &File{
		stream:      stream,
		sb:          sb,
		bitmap:      bitmap,
		name:        name,
		disposition: ReadWriteAppend,
		startBlock:  noBlock,
	}
}

// OpenNewFileWithStart creates an empty file whose start block is a
// specific, already-allocated index the caller commits to — used when a
// directory slot has reserved a known start.
func OpenNewFileWithStart(stream *ImageStream, sb *Superblock, bitmap *VolumeBitmap, name string, startBlock uint64) (*File, error) {
	fb, err := NewFileBlockForWrite(stream, sb, startBlock, startBlock)
	if err != nil {
		return nil, err
	}
	if err := fb.RegisterWithBitmap(bitmap); err != nil {
		return nil, err
	}
	return &File{
		stream:      stream,
		sb:          sb,
		bitmap:      bitmap,
		name:        name,
		disposition: ReadWriteAppend,
		startBlock:  startBlock,
		blocks:      []*FileBlock{fb},
	}, nil
}

// OpenExistingFile traverses the chain from startBlock, accumulating
// FileBlock descriptors and the total size, then positions the file per
// disposition.
func OpenExistingFile(stream *ImageStream, sb *Superblock, bitmap *VolumeBitmap, name string, startBlock uint64, disposition Disposition) (*File, error) {
	f := &File{
		stream:      stream,
		sb:          sb,
		bitmap:      bitmap,
		name:        name,
		disposition: disposition,
		startBlock:  startBlock,
	}

	if err := f.setBlocks(); err != nil {
		return nil, err
	}

	switch disposition {
	case ReadOnly:
		f.pos = 0
	case ReadWriteAppend:
		f.pos = f.size
	case ReadWriteOverwrite:
		// Free blocks beyond the first eagerly and reseed with a single
		// empty block, rather than waiting for the first write to discover
		// stale tail blocks.
		if err := f.resetToEmpty(); err != nil {
			return nil, err
		}
	}

	return f, nil
}

// setBlocks walks the chain from startBlock, populating f.blocks and
// f.size. A cycle that never reaches a terminal self-loop within
// TotalBlocks steps is reported as image corruption.
func (f *File) setBlocks() error {
	f.blocks = f.blocks[:0]
	f.size = 0

	idx := f.startBlock
	for steps := uint64(0); ; steps++ {
		if steps > f.sb.TotalBlocks {
			return NewCorruptionError(int64(idx), "chain cycle without terminal self-loop")
		}
		fb, err := OpenFileBlock(f.stream, f.sb, idx)
		if err != nil {
			return err
		}
		f.blocks = append(f.blocks, fb)
		f.size += uint64(fb.PayloadLen())

		if fb.IsTerminal() {
			break
		}
		idx = fb.NextIndex()
	}
	return nil
}

// resetToEmpty frees every block but the first and truncates it to
// payload_len=0, leaving the file open and usable.
func (f *File) resetToEmpty() error {
	for _, fb := range f.blocks[1:] {
		if err := freeAndResetBlock(f.bitmap, fb); err != nil {
			return err
		}
	}
	first := f.blocks[0]
	if err := first.resetPayloadLen(); err != nil {
		return err
	}
	if err := first.SetNext(first.Index()); err != nil {
		return err
	}
	f.blocks = f.blocks[:1]
	f.size = 0
	f.pos = 0
	f.pending = nil
	return nil
}

// Filename returns the file's name as recorded by its owning directory.
func (f *File) Filename() string { return f.name }

// FileSize returns the current logical size.
func (f *File) FileSize() uint64 { return f.size }

// StartBlockIndex returns the file's start block. It is only meaningful
// once at least one block has been allocated.
func (f *File) StartBlockIndex() uint64 { return f.startBlock }

// SetSizeUpdateCallback registers cb to be invoked after every size
// change. Passing nil clears it.
func (f *File) SetSizeUpdateCallback(cb SizeUpdateCallback) {
	f.onSizeUpdate = cb
}

func (f *File) notifySize() {
	if f.onSizeUpdate != nil {
		f.onSizeUpdate(f.size)
	}
}

// locate returns the index into f.blocks and the in-block offset
// corresponding to logical position pos. Walking the chain on every call
// keeps this in step with the engine's no-cache policy: nothing here
// remembers a block's offset across calls.
func (f *File) locate(pos uint64) (int, uint64, error) {
	if len(f.blocks) == 0 {
		return 0, 0, NewCorruptionError(-1, "file has no blocks")
	}
	remaining := pos
	for i, fb := range f.blocks {
		n := uint64(fb.PayloadLen())
		if remaining < n {
			return i, remaining, nil
		}
		remaining -= n
	}
	// pos == size: position sits at the end of the last block, used by
	// writes appending to a file that already has blocks.
	last := len(f.blocks) - 1
	return last, uint64(f.blocks[last].PayloadLen()), nil
}

// Read reads contiguous bytes from the current position across block
// boundaries, advancing to the next block when the current one is
// exhausted. It returns io.EOF once the position reaches the file's
// size.
func (f *File) Read(buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		if f.pos >= f.size {
			break
		}
		blockIdx, inOff, err := f.locate(f.pos)
		if err != nil {
			return n, err
		}
		fb := f.blocks[blockIdx]
		avail := uint64(fb.PayloadLen()) - inOff
		want := avail
		if rem := uint64(len(buf) - n); rem < want {
			want = rem
		}
		fb.SetExtraOffset(inOff)
		got, err := fb.Read(buf[n : n+int(want)])
		n += got
		f.pos += uint64(got)
		if err != nil {
			return n, err
		}
		if got == 0 {
			break
		}
	}
	if n == 0 && len(buf) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Write buffers bytes and flushes them to the current writable block
// once it would fill to capacity; a short buffer is held until the
// current block fills further or Flush is called explicitly. On
// success the full count is accepted, since an unflushed tail is still
// safely held in the pending buffer. An allocation failure partway
// through a multi-block write is different: it reports only the bytes
// out of buf that actually made it into a persisted block, not
// len(buf) — the blocks filled before the failure stay persisted, but
// the rest of buf past that point was never durably written.
func (f *File) Write(buf []byte) (int, error) {
	if f.disposition == ReadOnly {
		return 0, NewValidationError("disposition", f.disposition, "file not opened for writing")
	}
	oldPending := len(f.pending)
	f.pending = append(f.pending, buf...)
	persisted, err := f.drainFullBlocks()
	if err == nil {
		return len(buf), nil
	}

	written := persisted - oldPending
	if written < 0 {
		written = 0
	}
	if written > len(buf) {
		written = len(buf)
	}
	return written, err
}

// drainFullBlocks writes from pending into the chain only while doing so
// would completely fill the current tail block, leaving any remainder
// buffered, and returns the total number of bytes moved out of pending
// into persisted blocks during this call. Allocation failure is
// reported as a short write with no rollback of bytes already
// persisted.
func (f *File) drainFullBlocks() (int, error) {
	written := 0
	for {
		tail, err := f.tailForWrite()
		if err != nil {
			return written, err
		}
		remaining := uint64(FileBlockPayloadCap) - uint64(tail.PayloadLen())
		if uint64(len(f.pending)) < remaining {
			return written, nil
		}
		n, err := f.writeChunkToBlock(tail, f.pending[:remaining])
		written += n
		if err != nil {
			return written, err
		}
		if len(f.pending) == 0 {
			return written, nil
		}
		if err := f.allocateAndLinkNext(tail); err != nil {
			return written, err
		}
	}
}

// Flush pushes any remaining buffered bytes through to their block(s),
// even a partial block's worth, then requests a durability hint from the
// host.
func (f *File) Flush() error {
	for len(f.pending) > 0 {
		tail, err := f.tailForWrite()
		if err != nil {
			return err
		}
		remaining := uint64(FileBlockPayloadCap) - uint64(tail.PayloadLen())
		if remaining == 0 {
			if err := f.allocateAndLinkNext(tail); err != nil {
				return err
			}
			continue
		}
		n := remaining
		if uint64(len(f.pending)) < n {
			n = uint64(len(f.pending))
		}
		if _, err := f.writeChunkToBlock(tail, f.pending[:n]); err != nil {
			return err
		}
	}
	return f.stream.Flush()
}

// tailForWrite returns the current writable tail block, allocating the
// file's first block on first use.
func (f *File) tailForWrite() (*FileBlock, error) {
	if len(f.blocks) == 0 {
		idx, err := f.bitmap.Allocate()
		if err != nil {
			return nil, err
		}
		fb, err := NewFileBlockForWrite(f.stream, f.sb, idx, idx)
		if err != nil {
			return nil, err
		}
		f.startBlock = idx
		f.blocks = append(f.blocks, fb)
	}
	return f.blocks[len(f.blocks)-1], nil
}

// writeChunkToBlock writes chunk to block at its current payload tail,
// consumes it from f.pending, updates size/pos bookkeeping, and returns
// the number of bytes actually written.
func (f *File) writeChunkToBlock(block *FileBlock, chunk []byte) (int, error) {
	block.SetExtraOffset(uint64(block.PayloadLen()))
	wasAtTail := f.pos == f.size
	n, err := block.Write(chunk)
	f.pending = f.pending[n:]
	f.size += uint64(n)
	if wasAtTail {
		f.pos += uint64(n)
	}
	f.notifySize()
	return n, err
}

// allocateAndLinkNext allocates a new block, sets its own next_index to
// itself before linking it from prev — never the other order, so a
// reader can never observe a non-terminal self-loop.
func (f *File) allocateAndLinkNext(prev *FileBlock) error {
	idx, err := f.bitmap.Allocate()
	if err != nil {
		return err
	}
	fb, err := NewFileBlockForWrite(f.stream, f.sb, idx, idx)
	if err != nil {
		return err
	}
	if err := prev.SetNext(idx); err != nil {
		return err
	}
	f.blocks = append(f.blocks, fb)
	return nil
}

// Seek sets the logical position, clamping to [0, size].
func (f *File) Seek(off int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = off
	case io.SeekCurrent:
		target = int64(f.pos) + off
	case io.SeekEnd:
		target = int64(f.size) + off
	default:
		return int64(f.pos), NewValidationError("whence", whence, "invalid seek whence")
	}

	if target < 0 {
		target = 0
	}
	if target > int64(f.size) {
		target = int64(f.size)
	}
	f.pos = uint64(target)
	return target, nil
}

// Tell returns the current logical position.
func (f *File) Tell() uint64 { return f.pos }

// Truncate walks to the block containing byte new_size-1, trims it,
// clears its next_index to itself, and frees every block after it.
// new_size == 0 leaves a usable, empty file.
func (f *File) Truncate(newSize uint64) error {
	if err := f.Flush(); err != nil {
		return err
	}
	if newSize >= f.size {
		return nil
	}

	if newSize == 0 {
		for _, fb := range f.blocks[1:] {
			if err := freeAndResetBlock(f.bitmap, fb); err != nil {
				return err
			}
		}
		if len(f.blocks) > 0 {
			first := f.blocks[0]
			if err := first.resetPayloadLen(); err != nil {
				return err
			}
			if err := first.SetNext(first.Index()); err != nil {
				return err
			}
			f.blocks = f.blocks[:1]
		}
		f.size = 0
		f.pos = 0
		f.notifySize()
		return nil
	}

	blockIdx, inOff, err := f.locate(newSize - 1)
	if err != nil {
		return err
	}
	keep := f.blocks[blockIdx]
	if err := keep.setPayloadLen(uint32(inOff + 1)); err != nil {
		return err
	}
	if err := keep.SetNext(keep.Index()); err != nil {
		return err
	}

	for _, fb := range f.blocks[blockIdx+1:] {
		if err := freeAndResetBlock(f.bitmap, fb); err != nil {
			return err
		}
	}
	f.blocks = f.blocks[:blockIdx+1]
	f.size = newSize
	if f.pos > f.size {
		f.pos = f.size
	}
	f.notifySize()
	return nil
}

// Unlink frees every block in the chain and reports size 0 thereafter.
// Freed blocks also have their header reset to an empty, self-terminated
// state, so a File freshly opened against the same (now stale) start
// block index still observes size 0 rather than resurrecting the old
// chain from unwiped metadata.
func (f *File) Unlink() error {
	for _, fb := range f.blocks {
		if err := freeAndResetBlock(f.bitmap, fb); err != nil {
			return err
		}
	}
	f.blocks = nil
	f.size = 0
	f.pos = 0
	f.pending = nil
	f.notifySize()
	return nil
}

// freeAndResetBlock clears a block's bitmap bit and resets its header to
// payload_len=0, next_index=own_index, so any stale read of a freed
// block observes an empty, terminal block rather than leftover chain
// metadata.
func freeAndResetBlock(bitmap *VolumeBitmap, fb *FileBlock) error {
	if err := bitmap.Free(fb.Index()); err != nil {
		return err
	}
	if err := fb.resetPayloadLen(); err != nil {
		return err
	}
	return fb.SetNext(fb.Index())
}
