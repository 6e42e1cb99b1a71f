package teasafe

import (
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/chacha20"
)

// chachaBlockSize is the ChaCha20 keystream block size in bytes; the
// transformer seeks to byte-granular offsets by discarding the remainder
// of a block after positioning the block counter.
const chachaBlockSize = 64

// ByteTransformer produces a keystream keyed from a password and is
// XOR-combined with plaintext. Encrypt and Decrypt must be pure,
// symmetric functions of (key, absolute offset, length) so ImageStream
// can reseek to any offset and decrypt it independently of what came
// before or after.
type ByteTransformer interface {
	// Init derives key material from the password and the superblock's
	// public cipher parameters (salt + IV quad). Must be called once
	// before Encrypt/Decrypt.
	Init() error
	// Encrypt writes len(in) encrypted bytes to out, as if startPos were
	// the absolute offset of in[0] in the plaintext image.
	Encrypt(out, in []byte, startPos int64) error
	// Decrypt writes len(in) decrypted bytes to out, as if startPos were
	// the absolute offset of in[0] in the ciphertext image.
	Decrypt(out, in []byte, startPos int64) error
}

// CipherParams are the superblock's public cipher parameters: material
// that must be recoverable without the password.
type CipherParams struct {
	IVQuad [4]uint64
	Salt   []byte
}

// NullByteTransformer is the identity transform, used for tests and for
// tooling that needs to inspect a raw image.
type NullByteTransformer struct{}

func (NullByteTransformer) Init() error { return nil }

func (NullByteTransformer) Encrypt(out, in []byte, startPos int64) error {
	copy(out, in)
	return nil
}

func (NullByteTransformer) Decrypt(out, in []byte, startPos int64) error {
	copy(out, in)
	return nil
}

// StreamByteTransformer implements ByteTransformer using IETF ChaCha20 as
// a raw, position-addressable keystream rather than an AEAD construction,
// since this engine is confidentiality-only and carries no authentication
// tag. The ChaCha20 block counter gives exact byte-offset seeking: for
// absolute offset pos, the keystream for block pos/64 is generated and
// the first pos%64 bytes of it are discarded before XORing the caller's
// buffer.
type StreamByteTransformer struct {
	keyProvider KeyProvider
	params      CipherParams
	progress    ProgressCallback

	key   []byte
	nonce []byte
}

// NewStreamByteTransformer builds the production ByteTransformer. params
// must be populated from the superblock before Init is called.
func NewStreamByteTransformer(kp KeyProvider, params CipherParams) *StreamByteTransformer {
	return &StreamByteTransformer{keyProvider: kp, params: params}
}

// WithProgress attaches a progress callback forwarded to the underlying
// KeyProvider during Init.
func (t *StreamByteTransformer) WithProgress(cb ProgressCallback) *StreamByteTransformer {
	t.progress = cb
	if pkp, ok := t.keyProvider.(*PasswordKeyProvider); ok {
		pkp.WithProgress(cb)
	}
	return t
}

func (t *StreamByteTransformer) Init() error {
	if len(t.params.Salt) == 0 {
		return NewValidationError("salt", nil, "cipher params salt cannot be empty")
	}
	key, err := t.keyProvider.DeriveKey(t.params.Salt)
	if err != nil {
		return fmt.Errorf("teasafe: key derivation failed: %w", err)
	}
	if err := ValidateKey(key, 32); err != nil {
		return err
	}
	t.key = key
	t.nonce = deriveNonce(t.params)
	return nil
}

func (t *StreamByteTransformer) xor(out, in []byte, startPos int64) error {
	if err := ValidateOffset(startPos, "startPos"); err != nil {
		return err
	}
	if t.key == nil {
		return fmt.Errorf("teasafe: transformer not initialized")
	}

	c, err := chacha20.NewUnauthenticatedCipher(t.key, t.nonce)
	if err != nil {
		return fmt.Errorf("teasafe: failed to create chacha20 cipher: %w", err)
	}

	blockIndex := uint32(startPos / chachaBlockSize)
	offsetInBlock := int(startPos % chachaBlockSize)
	c.SetCounter(blockIndex)

	if offsetInBlock > 0 {
		discard := make([]byte, offsetInBlock)
		c.XORKeyStream(discard, discard)
	}

	c.XORKeyStream(out, in)
	return nil
}

func (t *StreamByteTransformer) Encrypt(out, in []byte, startPos int64) error {
	return t.xor(out, in, startPos)
}

func (t *StreamByteTransformer) Decrypt(out, in []byte, startPos int64) error {
	return t.xor(out, in, startPos)
}

// deriveNonce folds the superblock's IV quad and salt into the 12-byte
// nonce ChaCha20 requires. The IV quad is public (recoverable without the
// password) but still shapes the keystream, so two images formatted with
// the same password and different IVs never share a keystream.
func deriveNonce(params CipherParams) []byte {
	h := sha256.New()
	var ivBuf [32]byte
	for i, v := range params.IVQuad {
		PutUint64LE(ivBuf[i*8:i*8+8], v)
	}
	h.Write(ivBuf[:])
	h.Write(params.Salt)
	sum := h.Sum(nil)
	return sum[:chacha20.NonceSize]
}

// NewByteTransformer builds the ByteTransformer named by suite.
func NewByteTransformer(suite CipherSuite, kp KeyProvider, params CipherParams) (ByteTransformer, error) {
	switch suite {
	case CipherStreamChaCha20:
		return NewStreamByteTransformer(kp, params), nil
	case CipherNull:
		return NullByteTransformer{}, nil
	default:
		return nil, fmt.Errorf("teasafe: unsupported cipher suite %d", suite)
	}
}
