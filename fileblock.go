package teasafe

// FileBlock is the per-block record persisted in the block table: a
// 4-byte payload_len, an 8-byte next_index, and a payload region of
// FileBlockPayloadCap bytes. A FileBlock value owns no disk resources
// itself — it is a view onto its block, reopening the image stream's
// read/write cursors as needed; the bitmap is the sole owner of
// allocation state.
//
// This mirrors the original engine's FileBlock, which keeps an
// m_initialBytesWritten captured at read time distinct from the live,
// possibly-updated m_bytesWritten, specifically so a caller can detect a
// block that grew past what it was last known to be.
type FileBlock struct {
	stream *ImageStream
	sb     *Superblock

	index       uint64
	payloadLen  uint32
	initialLen  uint32
	nextIndex   uint64
	extraOffset uint64
}

// NewFileBlockForWrite initializes a new block on disk with payload_len=0
// and next_index=nextHint. Callers typically pass nextHint=index to seed
// the self-loop terminal sentinel.
func NewFileBlockForWrite(stream *ImageStream, sb *Superblock, index, nextHint uint64) (*FileBlock, error) {
	fb := &FileBlock{stream: stream, sb: sb, index: index, payloadLen: 0, nextIndex: nextHint}
	if err := fb.persistHeader(); err != nil {
		return nil, err
	}
	return fb, nil
}

// OpenFileBlock reads payload_len and next_index for an existing block.
// The read payload_len is also remembered as InitialPayloadLen, so a
// caller can later detect that the block grew; File itself does not read
// it.
func OpenFileBlock(stream *ImageStream, sb *Superblock, index uint64) (*FileBlock, error) {
	fb := &FileBlock{stream: stream, sb: sb, index: index}

	if _, err := stream.SeekG(sb.BlockOffset(index), 0); err != nil {
		return nil, err
	}
	header := make([]byte, FileBlockMeta)
	n, err := stream.Read(header)
	if err != nil {
		return nil, err
	}
	if n < FileBlockMeta {
		return nil, NewCorruptionError(int64(index), "truncated block header")
	}

	fb.payloadLen = Uint32LE(header[0:4])
	fb.initialLen = fb.payloadLen
	fb.nextIndex = Uint64LE(header[4:12])

	if fb.payloadLen > FileBlockPayloadCap {
		// This is untrusted on-disk data, not a caller-supplied argument, so
		// it's reported as corruption rather than through ValidatePayloadLen.
		return nil, NewCorruptionError(int64(index), "payload_len exceeds block capacity")
	}

	return fb, nil
}

// persistHeader writes payload_len and next_index to disk.
func (fb *FileBlock) persistHeader() error {
	header := make([]byte, FileBlockMeta)
	PutUint32LE(header[0:4], fb.payloadLen)
	PutUint64LE(header[4:12], fb.nextIndex)

	if _, err := fb.stream.SeekP(fb.sb.BlockOffset(fb.index), 0); err != nil {
		return err
	}
	_, err := fb.stream.Write(header)
	return err
}

// persistNext writes only the 8-byte next_index field in place.
func (fb *FileBlock) persistNext() error {
	buf := make([]byte, 8)
	PutUint64LE(buf, fb.nextIndex)
	if _, err := fb.stream.SeekP(fb.sb.BlockOffset(fb.index)+4, 0); err != nil {
		return err
	}
	_, err := fb.stream.Write(buf)
	return err
}

// persistPayloadLen writes only the 4-byte payload_len field in place.
func (fb *FileBlock) persistPayloadLen() error {
	buf := make([]byte, 4)
	PutUint32LE(buf, fb.payloadLen)
	if _, err := fb.stream.SeekP(fb.sb.BlockOffset(fb.index), 0); err != nil {
		return err
	}
	_, err := fb.stream.Write(buf)
	return err
}

// SetExtraOffset sets the in-block byte offset that Read/Write operate
// from, relative to the start of the payload region. It is the File
// layer's responsibility to keep this consistent with payload_len and
// FileBlockPayloadCap; FileBlock performs no bounds clamping.
func (fb *FileBlock) SetExtraOffset(extraOffset uint64) {
	fb.extraOffset = extraOffset
}

// Read reads len(buf) bytes starting at FileBlockMeta+ExtraOffset within
// the block.
func (fb *FileBlock) Read(buf []byte) (int, error) {
	off := fb.sb.BlockOffset(fb.index) + FileBlockMeta + int64(fb.extraOffset)
	if _, err := fb.stream.SeekG(off, 0); err != nil {
		return 0, err
	}
	return fb.stream.Read(buf)
}

// Write writes len(buf) bytes at FileBlockMeta+ExtraOffset, increments
// payload_len by len(buf), and persists the updated length. If the write
// did not fill the block to capacity, or started mid-block
// (ExtraOffset > 0), next_index is also rewritten to the block's own
// index — marking it terminal after a partial/mid-block write. A caller
// linking a subsequent block must overwrite next_index afterward; see
// File.allocateAndLinkNext, which does so only once the new block's own
// next_index has already been seeded, to never introduce a non-terminal
// self-loop.
func (fb *FileBlock) Write(buf []byte) (int, error) {
	off := fb.sb.BlockOffset(fb.index) + FileBlockMeta + int64(fb.extraOffset)
	if _, err := fb.stream.SeekP(off, 0); err != nil {
		return 0, err
	}
	n, err := fb.stream.Write(buf)
	if err != nil {
		return n, err
	}

	fb.payloadLen += uint32(n)
	if err := fb.persistPayloadLen(); err != nil {
		return n, err
	}

	if uint64(n) < FileBlockPayloadCap || fb.extraOffset > 0 {
		fb.nextIndex = fb.index
		if err := fb.persistNext(); err != nil {
			return n, err
		}
	}

	return n, nil
}

// setPayloadLen overwrites payload_len directly, without touching
// payload bytes or next_index. Used by truncation, which recomputes a
// retained block's length from scratch rather than incrementing it.
func (fb *FileBlock) setPayloadLen(n uint32) error {
	if err := ValidatePayloadLen(n); err != nil {
		return err
	}
	fb.payloadLen = n
	return fb.persistPayloadLen()
}

// resetPayloadLen sets payload_len back to 0, used when a block is
// reclaimed as the sole empty block of a truncated-to-empty or
// reseeded-overwrite file.
func (fb *FileBlock) resetPayloadLen() error {
	return fb.setPayloadLen(0)
}

// SetNext persists a new next_index pointer in place. Callers must set
// the new block's own next_index to itself before calling SetNext on
// the predecessor, never the other order — otherwise a reader could
// observe two terminal blocks or a dangling pointer.
func (fb *FileBlock) SetNext(next uint64) error {
	fb.nextIndex = next
	return fb.persistNext()
}

// RegisterWithBitmap marks this block's bit as in-use. Called once at
// allocation time.
func (fb *FileBlock) RegisterWithBitmap(bmp *VolumeBitmap) error {
	return bmp.SetBlockInUse(fb.index, true)
}

// PayloadLen returns the current reported payload length.
func (fb *FileBlock) PayloadLen() uint32 { return fb.payloadLen }

// InitialPayloadLen returns the payload length as it was when the block
// was opened via OpenFileBlock (0 for a freshly written block).
func (fb *FileBlock) InitialPayloadLen() uint32 { return fb.initialLen }

// NextIndex returns the block's current next-block pointer.
func (fb *FileBlock) NextIndex() uint64 { return fb.nextIndex }

// Index returns this block's own index.
func (fb *FileBlock) Index() uint64 { return fb.index }

// IsTerminal reports whether this block is the self-loop sentinel marking
// the end of its chain.
func (fb *FileBlock) IsTerminal() bool { return fb.nextIndex == fb.index }
