package teasafe

import (
	"io"
	"os"

	log "github.com/sirupsen/logrus"
)

// ImageStream is a seekable byte device over the host image file that
// transparently encrypts on write and decrypts on read, tracking
// independent read (gpos) and write (ppos) positions — mirroring the
// original engine's ContainerImageStream, which keeps two positions over
// a single std::fstream for exactly this reason: a File's read cursor and
// write cursor must be able to diverge (e.g. append-mode writes while a
// separate reader walks the chain from the start).
//
// Every byte passing through Read/Write is transformed by the configured
// ByteTransformer, keyed by the absolute offset at which the operation
// starts, so metadata (bitmap bits, block headers, superblock fields)
// travels the same encrypting path as payload.
type ImageStream struct {
	file        *os.File
	transformer ByteTransformer
	path        string

	gpos int64
	ppos int64
}

// OpenImageStream opens path for random-access read/write and wraps it
// with transformer, which must already be Init'd.
func OpenImageStream(path string, transformer ByteTransformer) (*ImageStream, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o666)
	if err != nil {
		return nil, NewIOError("open", 0, err)
	}
	return &ImageStream{file: f, transformer: transformer, path: path}, nil
}

// Read reads len(buf) ciphertext bytes from gpos, decrypts them with the
// transformer keyed at the starting absolute position, and advances gpos.
// It returns fewer bytes than len(buf) at EOF without marking the stream
// sticky-invalid; only a genuine I/O failure does that.
func (s *ImageStream) Read(buf []byte) (int, error) {
	if err := ValidateBuffer(buf, "buf", 0); err != nil {
		return 0, err
	}
	if s.gpos < 0 {
		return 0, ErrClosed
	}
	start := s.gpos
	if _, err := s.file.Seek(start, io.SeekStart); err != nil {
		s.gpos = -1
		return 0, NewIOError("read-seek", start, err)
	}

	ciphertext := make([]byte, len(buf))
	n, err := io.ReadFull(s.file, ciphertext)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		s.gpos = -1
		return n, NewIOError("read", start, err)
	}

	if n > 0 {
		if derr := s.transformer.Decrypt(buf[:n], ciphertext[:n], start); derr != nil {
			return n, derr
		}
	}
	s.gpos += int64(n)
	return n, nil
}

// Write encrypts len(buf) plaintext bytes with the transformer keyed at
// the starting absolute ppos, writes the ciphertext, and advances ppos.
func (s *ImageStream) Write(buf []byte) (int, error) {
	if err := ValidateBuffer(buf, "buf", 0); err != nil {
		return 0, err
	}
	if s.ppos < 0 {
		return 0, ErrClosed
	}
	start := s.ppos
	if _, err := s.file.Seek(start, io.SeekStart); err != nil {
		s.ppos = -1
		return 0, NewIOError("write-seek", start, err)
	}

	ciphertext := make([]byte, len(buf))
	if err := s.transformer.Encrypt(ciphertext, buf, start); err != nil {
		return 0, err
	}

	n, err := s.file.Write(ciphertext)
	if err != nil {
		s.ppos = -1
		log.Errorf("teasafe: image write failed at offset %d: %v", start, err)
		return n, NewIOError("write", start, err)
	}
	s.ppos += int64(n)
	return n, nil
}

// ReadRawAt reads len(buf) bytes at absolute offset off, bypassing the
// byte transformer entirely. It exists solely to bootstrap key
// derivation: the superblock's public cipher parameters (salt, IV quad)
// must be recoverable without the password, so they are the one region
// of the image that is never encrypted. It does not disturb gpos/ppos.
func (s *ImageStream) ReadRawAt(buf []byte, off int64) (int, error) {
	n, err := s.file.ReadAt(buf, off)
	if err != nil && err != io.EOF {
		return n, NewIOError("read-raw", off, err)
	}
	return n, nil
}

// WriteRawAt writes buf at absolute offset off, bypassing the byte
// transformer. See ReadRawAt.
func (s *ImageStream) WriteRawAt(buf []byte, off int64) (int, error) {
	n, err := s.file.WriteAt(buf, off)
	if err != nil {
		return n, NewIOError("write-raw", off, err)
	}
	return n, nil
}

// SetTransformer swaps the active byte transformer. Used once per open,
// after the public header has been read and the real cipher key
// derived, so the same underlying file handle can continue to serve the
// encrypted region without reopening the file.
func (s *ImageStream) SetTransformer(t ByteTransformer) {
	s.transformer = t
}

// SeekG sets the read position. whence follows io.Seek* semantics.
func (s *ImageStream) SeekG(off int64, whence int) (int64, error) {
	pos, err := s.file.Seek(off, whence)
	if err != nil {
		s.gpos = -1
		return -1, NewIOError("seekg", off, err)
	}
	s.gpos = pos
	return pos, nil
}

// SeekP sets the write position. whence follows io.Seek* semantics.
func (s *ImageStream) SeekP(off int64, whence int) (int64, error) {
	pos, err := s.file.Seek(off, whence)
	if err != nil {
		s.ppos = -1
		return -1, NewIOError("seekp", off, err)
	}
	s.ppos = pos
	return pos, nil
}

// TellG returns the current read position, or -1 if sticky-invalid.
func (s *ImageStream) TellG() int64 { return s.gpos }

// TellP returns the current write position, or -1 if sticky-invalid.
func (s *ImageStream) TellP() int64 { return s.ppos }

// Flush requests a durability hint from the host OS. It does not imply
// crash safety.
func (s *ImageStream) Flush() error {
	if err := s.file.Sync(); err != nil {
		return NewIOError("flush", s.ppos, err)
	}
	return nil
}

// Close closes the underlying host file and drops the handle, so IsOpen
// reports false afterward.
func (s *ImageStream) Close() error {
	err := s.file.Close()
	s.file = nil
	return err
}

// IsOpen reports whether the stream has a live file handle and neither
// position is sticky-invalid.
func (s *ImageStream) IsOpen() bool {
	return s.file != nil && s.gpos >= 0 && s.ppos >= 0
}

// Clear resets sticky error state on both positions to the current
// underlying file offset, mirroring std::ios::clear().
func (s *ImageStream) Clear() {
	if pos, err := s.file.Seek(0, io.SeekCurrent); err == nil {
		s.gpos = pos
		s.ppos = pos
	}
}
