package teasafe

// CipherSuite selects the ByteTransformer implementation a Context uses.
type CipherSuite uint8

const (
	// CipherStreamChaCha20 uses IETF ChaCha20 as a position-addressable
	// keystream. This is the production choice.
	CipherStreamChaCha20 CipherSuite = iota
	// CipherNull is the identity transform, for tests and inspection
	// tooling that need to read a raw image.
	CipherNull
)

func (c CipherSuite) String() string {
	switch c {
	case CipherStreamChaCha20:
		return "stream-chacha20"
	case CipherNull:
		return "null"
	default:
		return "unknown"
	}
}

// Disposition selects how OpenExistingFile positions and prepares a file
// for I/O.
type Disposition uint8

const (
	// ReadOnly opens the file at position 0 and rejects writes.
	ReadOnly Disposition = iota
	// ReadWriteAppend opens the file positioned at end-of-file; writes
	// pack into the tail block's spare capacity before allocating more.
	ReadWriteAppend
	// ReadWriteOverwrite frees every block but the first and reseeds the
	// chain with one empty block, discarding prior contents eagerly
	// rather than lazily on first write.
	ReadWriteOverwrite
)

func (d Disposition) String() string {
	switch d {
	case ReadOnly:
		return "read_only"
	case ReadWriteAppend:
		return "read_write_append"
	case ReadWriteOverwrite:
		return "read_write_overwrite"
	default:
		return "unknown"
	}
}

// KDFKind selects the key-derivation function a PasswordKeyProvider uses.
type KDFKind uint8

const (
	// KDFArgon2id is the recommended, memory-hard key derivation function.
	KDFArgon2id KDFKind = iota
	// KDFPBKDF2 is the legacy, CPU-hard key derivation function, kept for
	// compatibility with images formatted by older tooling.
	KDFPBKDF2
)

// Argon2idParams controls Argon2id key derivation.
type Argon2idParams struct {
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
	KeySize     int // bytes; must be 32 for ChaCha20
}

// DefaultArgon2idParams returns the recommended Argon2id parameters.
func DefaultArgon2idParams() Argon2idParams {
	return Argon2idParams{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 4,
		KeySize:     32,
	}
}

// PBKDF2Params controls PBKDF2-HMAC-SHA256 key derivation.
type PBKDF2Params struct {
	Iterations int
	KeySize    int
}

// DefaultPBKDF2Params returns conservative PBKDF2 parameters.
func DefaultPBKDF2Params() PBKDF2Params {
	return PBKDF2Params{Iterations: 210000, KeySize: 32}
}

// ProgressCallback reports key-derivation progress as a percentage in
// [0, 100]. It is advisory only and cannot cancel derivation.
type ProgressCallback func(percent int)
