package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// aesBlockSize is the AES block size in bytes.
const aesBlockSize = 16

// newAESBlock wraps aes.NewCipher with a package-prefixed error.
func newAESBlock(key []byte) (cipher.Block, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: new aes cipher: %w", err)
	}

	return block, nil
}

// cbcEncrypt encrypts a block-aligned buffer with AES-256-CBC. The caller
// is responsible for padding; len(plain) must be a multiple of the block
// size.
func cbcEncrypt(plain, key, iv []byte) ([]byte, error) {
	block, err := newAESBlock(key)
	if err != nil {
		return nil, err
	}

	if len(plain)%aesBlockSize != 0 {
		return nil, fmt.Errorf("crypto: cbc encrypt needs block-aligned input, got %d bytes", len(plain))
	}

	out := make([]byte, len(plain))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, plain)

	return out, nil
}

// cbcDecrypt decrypts a block-aligned AES-256-CBC buffer. It performs no
// unpadding and no authentication: a wrong key yields deterministic garbage,
// never an error. Detection is the caller's job (checksum, header magic).
func cbcDecrypt(enc, key, iv []byte) ([]byte, error) {
	block, err := newAESBlock(key)
	if err != nil {
		return nil, err
	}

	if len(enc)%aesBlockSize != 0 {
		return nil, fmt.Errorf("crypto: cbc decrypt needs block-aligned input, got %d bytes", len(enc))
	}

	out := make([]byte, len(enc))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, enc)

	return out, nil
}

// pkcs7Pad appends PKCS#7 padding up to the block size.
func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	pad := make([]byte, n)

	for i := range pad {
		pad[i] = byte(n)
	}

	return append(data, pad...)
}

// cbcCipherLen returns the ciphertext body length for origLen plaintext
// bytes. Padding is added only when the plaintext is not block-aligned;
// an aligned plaintext is stored without a padding block, and the header's
// recorded original length disambiguates on decryption.
func cbcCipherLen(origLen int64) int64 {
	if rem := origLen % aesBlockSize; rem != 0 {
		return origLen + (aesBlockSize - rem)
	}

	return origLen
}
