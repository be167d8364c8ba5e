package crypto

import (
	"fmt"
	"math"

	"golang.org/x/crypto/chacha20"
)

// chachaBlockSize is the ChaCha20 keystream block size in bytes.
const chachaBlockSize = 64

// newChaCha returns a ChaCha20 cipher positioned at plaintext offset zero.
func (fk *FileKeys) newChaCha() (*chacha20.Cipher, error) {
	c, err := chacha20.NewUnauthenticatedCipher(fk.Key, fk.NonceOrIV[:chacha20.NonceSize])
	if err != nil {
		return nil, fmt.Errorf("crypto: initializing chacha20: %w", err)
	}

	return c, nil
}

// chachaXORAt XORs src into dst with the keystream positioned at the given
// byte offset. The position is derived arithmetically: the block counter is
// set to offset/64 and the intra-block remainder is discarded, so seeking is
// O(1) regardless of offset. Replaying the keystream from zero would make
// random access on large files O(n).
func (fk *FileKeys) chachaXORAt(offset int64, dst, src []byte) error {
	c, err := fk.newChaCha()
	if err != nil {
		return err
	}

	block := offset / chachaBlockSize
	if block > math.MaxUint32 {
		return fmt.Errorf("crypto: offset %d exceeds the chacha20 counter range", offset)
	}

	c.SetCounter(uint32(block))

	if skip := offset % chachaBlockSize; skip > 0 {
		var discard [chachaBlockSize]byte
		c.XORKeyStream(discard[:skip], discard[:skip])
	}

	c.XORKeyStream(dst, src)

	return nil
}
