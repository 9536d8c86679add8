package security

import (
	"context"
	"fmt"

	"github.com/goliatone/go-relay/core"
)

// Keyring encrypts with the primary key and decrypts with whichever key the
// envelope names, so secrets sealed before a rotation stay readable.
// Unsealed values are returned as-is when AllowPlaintext is set, which lets
// rows written before encryption was enabled keep working.
type Keyring struct {
	primary        *AppKeyCipher
	keys           map[string]*AppKeyCipher
	AllowPlaintext bool
}

func NewKeyring(primary *AppKeyCipher, previous ...*AppKeyCipher) (*Keyring, error) {
	if primary == nil {
		return nil, fmt.Errorf("security: primary key is required")
	}
	ring := &Keyring{primary: primary, keys: map[string]*AppKeyCipher{}}
	for _, key := range append([]*AppKeyCipher{primary}, previous...) {
		if key == nil {
			continue
		}
		id := keyringID(key.KeyID(), key.Version())
		if _, exists := ring.keys[id]; exists {
			return nil, fmt.Errorf("security: duplicate key %s", id)
		}
		ring.keys[id] = key
	}
	return ring, nil
}

func (r *Keyring) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	if r == nil || r.primary == nil {
		return nil, fmt.Errorf("security: keyring is not configured")
	}
	return r.primary.Encrypt(ctx, plaintext)
}

func (r *Keyring) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	if r == nil || r.primary == nil {
		return nil, fmt.Errorf("security: keyring is not configured")
	}
	if !IsSealed(ciphertext) {
		if r.AllowPlaintext {
			return append([]byte(nil), ciphertext...), nil
		}
		return nil, fmt.Errorf("security: value is not sealed")
	}
	meta, err := ParseEnvelopeMetadata(ciphertext)
	if err != nil {
		return nil, err
	}
	key, ok := r.keys[keyringID(meta.KeyID, meta.Version)]
	if !ok {
		return nil, fmt.Errorf("security: no key for %s", keyringID(meta.KeyID, meta.Version))
	}
	return key.Decrypt(ctx, ciphertext)
}

// NeedsRotation reports whether ciphertext was sealed by a non-primary key.
func (r *Keyring) NeedsRotation(ciphertext []byte) bool {
	if r == nil || r.primary == nil || !IsSealed(ciphertext) {
		return true
	}
	meta, err := ParseEnvelopeMetadata(ciphertext)
	if err != nil {
		return true
	}
	return meta.KeyID != r.primary.KeyID() || meta.Version != r.primary.Version()
}

func keyringID(keyID string, version int) string {
	return fmt.Sprintf("%s@v%d", keyID, version)
}

var _ core.SecretCipher = (*Keyring)(nil)
