package teasafe

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

const saltSize = 32

// KeyProvider derives a symmetric key from a password and a salt stored
// in the superblock's public cipher parameters.
type KeyProvider interface {
	DeriveKey(salt []byte) ([]byte, error)
	GenerateSalt() ([]byte, error)
}

// PasswordKeyProvider implements KeyProvider using a password-based KDF.
type PasswordKeyProvider struct {
	password []byte
	kind     KDFKind
	argon2   Argon2idParams
	pbkdf2   PBKDF2Params
	progress ProgressCallback
}

// NewPasswordKeyProvider creates a KeyProvider using Argon2id.
func NewPasswordKeyProvider(password []byte, params Argon2idParams) *PasswordKeyProvider {
	if params.KeySize == 0 {
		params = DefaultArgon2idParams()
	}
	return &PasswordKeyProvider{password: password, kind: KDFArgon2id, argon2: params}
}

// NewPasswordKeyProviderPBKDF2 creates a KeyProvider using PBKDF2-HMAC-SHA256,
// for compatibility with images formatted under the legacy preset.
func NewPasswordKeyProviderPBKDF2(password []byte, params PBKDF2Params) *PasswordKeyProvider {
	if params.KeySize == 0 {
		params = DefaultPBKDF2Params()
	}
	return &PasswordKeyProvider{password: password, kind: KDFPBKDF2, pbkdf2: params}
}

// WithProgress attaches a progress callback invoked during DeriveKey. The
// callback is advisory only; it cannot cancel derivation.
func (p *PasswordKeyProvider) WithProgress(cb ProgressCallback) *PasswordKeyProvider {
	p.progress = cb
	return p
}

// DeriveKey derives the encryption key from the password and salt.
func (p *PasswordKeyProvider) DeriveKey(salt []byte) ([]byte, error) {
	if len(p.password) == 0 {
		return nil, NewValidationError("password", nil, "password cannot be empty")
	}
	if len(salt) == 0 {
		return nil, NewValidationError("salt", nil, "salt cannot be empty")
	}

	if p.progress != nil {
		p.progress(0)
	}

	var key []byte
	switch p.kind {
	case KDFArgon2id:
		key = argon2.IDKey(p.password, salt, p.argon2.Iterations, p.argon2.Memory, p.argon2.Parallelism, uint32(p.argon2.KeySize))
	case KDFPBKDF2:
		key = pbkdf2.Key(p.password, salt, p.pbkdf2.Iterations, p.pbkdf2.KeySize, sha256.New)
	default:
		return nil, fmt.Errorf("teasafe: unsupported kdf kind %d", p.kind)
	}

	if p.progress != nil {
		p.progress(100)
	}

	return key, nil
}

// GenerateSalt generates a new random salt suitable for DeriveKey.
func (p *PasswordKeyProvider) GenerateSalt() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("teasafe: failed to generate salt: %w", err)
	}
	return salt, nil
}

// NullKeyProvider derives no real key; used with CipherNull for tests and
// tooling that inspects a raw image.
type NullKeyProvider struct{}

func (NullKeyProvider) DeriveKey(salt []byte) ([]byte, error) { return make([]byte, 32), nil }
func (NullKeyProvider) GenerateSalt() ([]byte, error)         { return make([]byte, saltSize), nil }
