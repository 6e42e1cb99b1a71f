package teasafe

import (
	"github.com/google/uuid"
)

// Image layout constants. BlockSize is a single compile-time constant;
// changing it breaks compatibility with images formatted under a
// different value.
const (
	// BlockSize (B) is the fixed size in bytes of every block in the
	// block table.
	BlockSize = 4096

	// FileBlockMeta (M) is the per-block metadata size: a 4-byte
	// payload_len followed by an 8-byte next_index.
	FileBlockMeta = 12

	// FileBlockPayloadCap (P) is the usable payload bytes per block.
	FileBlockPayloadCap = BlockSize - FileBlockMeta

	// magicBytes identifies a TeaSafe image; ASCII "TEA1". It lives in
	// the encrypted header, so a wrong password surfaces as a magic
	// mismatch rather than as a separate authentication step — the
	// design is confidentiality-oriented, not authenticated.
	magicBytes = uint32(0x31414554)

	// currentVersion is the on-disk format version this engine writes
	// and the newest version it will read.
	currentVersion = uint8(1)

	// publicHeaderSize is the size of the never-encrypted region at
	// offset 0: cipher suite (1) + IV quad (32) + salt length (2) +
	// salt (saltSize). This is the only image region ReadRawAt/
	// WriteRawAt ever touch; everything else, including the rest of the
	// superblock, traverses the encrypting stream.
	publicHeaderSize = 1 + 32 + 2 + saltSize

	// encryptedHeaderSize is the size of the encrypted remainder of the
	// superblock: magic (4) + version (1) + totalBlocks (8) +
	// volumeID (16).
	encryptedHeaderSize = 4 + 1 + 8 + 16

	// superblockSize (H) is the fixed total size of the superblock
	// region, public header followed by encrypted header.
	superblockSize = publicHeaderSize + encryptedHeaderSize
)

// Superblock is the fixed header at offset 0 of a TeaSafe image: magic,
// version, total block count, and the cipher's public parameters — the
// material that must be recoverable without the password. It does not
// record which blocks are in use; that belongs to VolumeBitmap.
type Superblock struct {
	Version     uint8
	Cipher      CipherSuite
	TotalBlocks uint64
	Params      CipherParams
	VolumeID    uuid.UUID
}

// NewSuperblock builds a fresh superblock for a new image. A new salt is
// always generated via kp.GenerateSalt.
func NewSuperblock(totalBlocks uint64, cipher CipherSuite, ivQuad [4]uint64, kp KeyProvider) (*Superblock, error) {
	salt, err := kp.GenerateSalt()
	if err != nil {
		return nil, err
	}
	return &Superblock{
		Version:     currentVersion,
		Cipher:      cipher,
		TotalBlocks: totalBlocks,
		Params:      CipherParams{IVQuad: ivQuad, Salt: salt},
		VolumeID:    uuid.New(),
	}, nil
}

// BitmapOffset returns the byte offset of the volume bitmap region.
func (s *Superblock) BitmapOffset() int64 {
	return superblockSize
}

// BitmapByteLen returns the number of bytes the flat bitmap occupies,
// before block-boundary padding.
func (s *Superblock) BitmapByteLen() int64 {
	return int64(BitmapByteLen(s.TotalBlocks))
}

// BlockTableOffset returns the byte offset of the first block in the
// block table: the first block boundary at or past the end of the
// bitmap region.
func (s *Superblock) BlockTableOffset() int64 {
	end := s.BitmapOffset() + s.BitmapByteLen()
	if rem := end % BlockSize; rem != 0 {
		end += BlockSize - rem
	}
	return end
}

// BlockOffset returns the absolute image offset of block i.
func (s *Superblock) BlockOffset(i uint64) int64 {
	return s.BlockTableOffset() + int64(i)*BlockSize
}

// writePublicHeader serializes the cipher suite and public cipher
// parameters into a fixed publicHeaderSize buffer.
func (s *Superblock) writePublicHeader(buf []byte) {
	_ = buf[publicHeaderSize-1]
	buf[0] = byte(s.Cipher)
	off := 1
	for _, v := range s.Params.IVQuad {
		PutUint64LE(buf[off:off+8], v)
		off += 8
	}
	salt := s.Params.Salt
	buf[off] = byte(len(salt))
	buf[off+1] = byte(len(salt) >> 8)
	off += 2
	copy(buf[off:off+saltSize], salt)
}

// readPublicHeader parses a fixed publicHeaderSize buffer.
func readPublicHeader(buf []byte) (CipherSuite, CipherParams, error) {
	if len(buf) < publicHeaderSize {
		return 0, CipherParams{}, NewCorruptionError(-1, "public header buffer too short")
	}
	cipher := CipherSuite(buf[0])
	var params CipherParams
	off := 1
	for i := range params.IVQuad {
		params.IVQuad[i] = Uint64LE(buf[off : off+8])
		off += 8
	}
	saltLen := int(buf[off]) | int(buf[off+1])<<8
	off += 2
	if saltLen > saltSize {
		return 0, CipherParams{}, NewCorruptionError(-1, "salt length exceeds reserved space")
	}
	params.Salt = append([]byte(nil), buf[off:off+saltLen]...)
	return cipher, params, nil
}

// writeEncryptedHeader serializes magic/version/totalBlocks/volumeID
// into a fixed encryptedHeaderSize buffer.
func (s *Superblock) writeEncryptedHeader(buf []byte) {
	_ = buf[encryptedHeaderSize-1]
	PutUint32LE(buf[0:4], magicBytes)
	buf[4] = s.Version
	PutUint64LE(buf[5:13], s.TotalBlocks)
	volBytes, _ := s.VolumeID.MarshalBinary()
	copy(buf[13:29], volBytes)
}

// readEncryptedHeader parses a fixed encryptedHeaderSize buffer. A magic
// mismatch here is the implicit password check: decrypting with the
// wrong key turns the magic into noise indistinguishable from
// corruption, since this design carries no authentication tag.
func (s *Superblock) readEncryptedHeader(buf []byte) error {
	if len(buf) < encryptedHeaderSize {
		return NewCorruptionError(-1, "encrypted header buffer too short")
	}
	magic := Uint32LE(buf[0:4])
	if magic != magicBytes {
		return NewCorruptionError(-1, "bad magic (wrong password or corrupt image)")
	}
	s.Version = buf[4]
	if s.Version > currentVersion {
		return NewCorruptionError(-1, "unsupported version")
	}
	s.TotalBlocks = Uint64LE(buf[5:13])
	if err := s.VolumeID.UnmarshalBinary(buf[13:29]); err != nil {
		return NewCorruptionError(-1, "bad volume id")
	}
	return nil
}

// ReadPublicHeader reads the never-encrypted cipher suite and cipher
// parameters directly from the image, bypassing stream's current
// transformer. Callers use the result to construct and Init the real
// transformer before calling ReadSuperblock.
func ReadPublicHeader(stream *ImageStream) (CipherSuite, CipherParams, error) {
	buf := make([]byte, publicHeaderSize)
	n, err := stream.ReadRawAt(buf, 0)
	if err != nil {
		return 0, CipherParams{}, err
	}
	if n < publicHeaderSize {
		return 0, CipherParams{}, NewCorruptionError(-1, "truncated public header")
	}
	return readPublicHeader(buf)
}

// Write persists the superblock: the public header in the clear via
// WriteRawAt, the remainder through stream's current transformer so it
// is encrypted exactly like every other byte crossing the image
// boundary.
func (s *Superblock) Write(stream *ImageStream) error {
	pub := make([]byte, publicHeaderSize)
	s.writePublicHeader(pub)
	if _, err := stream.WriteRawAt(pub, 0); err != nil {
		return err
	}

	enc := make([]byte, encryptedHeaderSize)
	s.writeEncryptedHeader(enc)
	if _, err := stream.SeekP(publicHeaderSize, 0); err != nil {
		return err
	}
	_, err := stream.Write(enc)
	return err
}

// ReadSuperblock reads the public header (raw) and the encrypted header
// (through stream's current transformer, which must already be keyed
// correctly) and assembles a Superblock.
func ReadSuperblock(stream *ImageStream) (*Superblock, error) {
	cipher, params, err := ReadPublicHeader(stream)
	if err != nil {
		return nil, err
	}

	if _, err := stream.SeekG(publicHeaderSize, 0); err != nil {
		return nil, err
	}
	enc := make([]byte, encryptedHeaderSize)
	n, err := stream.Read(enc)
	if err != nil {
		return nil, err
	}
	if n < encryptedHeaderSize {
		return nil, NewCorruptionError(-1, "truncated superblock")
	}

	sb := &Superblock{Cipher: cipher, Params: params}
	if err := sb.readEncryptedHeader(enc); err != nil {
		return nil, err
	}
	return sb, nil
}
