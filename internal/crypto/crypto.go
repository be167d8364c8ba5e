// Package crypto implements the transparent at-rest encryption layer for
// file transfers: a closed family of stream ciphers (simple substitution,
// ChaCha20, AES-256-CBC) behind a common encrypted-file header, with
// random-access range decryption so encrypted files remain seekable.
package crypto

import (
	"crypto/rand"
	"fmt"
)

// Method identifies one cipher of the family. It is a closed set: every
// switch over Method in this package and its callers handles all values
// explicitly, so adding a cipher is a compile-visible change.
type Method int

const (
	// MethodNone disables encryption. Files are transferred verbatim and
	// carry no header.
	MethodNone Method = iota
	// MethodSimple applies a key-derived byte substitution table. Stateless
	// per byte, so any byte range decrypts without surrounding ciphertext.
	MethodSimple
	// MethodChaCha20 is the ChaCha20 stream cipher. Range decryption seeks
	// the keystream by block-counter arithmetic instead of replaying it.
	MethodChaCha20
	// MethodAES256CBC is AES-256 in CBC mode with PKCS#7 padding. Range
	// decryption needs one extra preceding ciphertext block as IV.
	MethodAES256CBC
)

// ParseMethod maps a config/CLI string to a Method.
func ParseMethod(s string) (Method, error) {
	switch s {
	case "", "none", "no":
		return MethodNone, nil
	case "simple":
		return MethodSimple, nil
	case "chacha20":
		return MethodChaCha20, nil
	case "aes256cbc", "aes-256-cbc":
		return MethodAES256CBC, nil
	default:
		return MethodNone, fmt.Errorf("crypto: unknown encrypt method %q", s)
	}
}

// String returns the canonical config spelling of the method.
func (m Method) String() string {
	switch m {
	case MethodNone:
		return "none"
	case MethodSimple:
		return "simple"
	case MethodChaCha20:
		return "chacha20"
	case MethodAES256CBC:
		return "aes256cbc"
	default:
		return fmt.Sprintf("method(%d)", int(m))
	}
}

// tag is the one-byte method code stored in the encrypted-file header.
func (m Method) tag() (byte, error) {
	switch m {
	case MethodSimple:
		return 0x00, nil
	case MethodChaCha20:
		return 0x01, nil
	case MethodAES256CBC:
		return 0x02, nil
	case MethodNone:
		return 0, fmt.Errorf("crypto: method none has no header tag")
	default:
		return 0, fmt.Errorf("crypto: unknown method %d", int(m))
	}
}

func methodFromTag(tag byte) (Method, error) {
	switch tag {
	case 0x00:
		return MethodSimple, nil
	case 0x01:
		return MethodChaCha20, nil
	case 0x02:
		return MethodAES256CBC, nil
	default:
		return MethodNone, fmt.Errorf("crypto: unknown header tag 0x%02x", tag)
	}
}

// Rangeable reports whether ranges of a file encrypted with this method can
// be decrypted without the preceding ciphertext stream. All family members
// support it: simple substitution trivially, ChaCha20 via keystream seeking
// and AES-CBC by fetching one extra leading block.
func (m Method) Rangeable() bool {
	switch m {
	case MethodNone, MethodSimple, MethodChaCha20, MethodAES256CBC:
		return true
	default:
		return false
	}
}

// randomBytes returns n cryptographically random bytes.
func randomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand never fails on supported platforms.
		panic(fmt.Sprintf("crypto: reading random bytes: %v", err))
	}

	return b
}
