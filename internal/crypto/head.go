package crypto

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Encrypted-file header layout. The plaintext head is
//
//	magic (32) | method tag (1) | salt (8) | random padding (8) | original length (8, big-endian)
//
// padded with random bytes to a 16-byte boundary, AES-256-CBC-encrypted
// under a key/IV derived from (password, headSalt), and followed by the
// 8-byte plaintext headSalt. Everything after the header is the cipher body.
const (
	magicLen      = 32
	rawHeadLen    = magicLen + 1 + saltLen + 8 + 8 // 57
	paddedHeadLen = 64                             // rawHeadLen rounded up to the AES block size
	// TotalHeadLen is the full on-disk header size: encrypted head plus
	// trailing plaintext salt.
	TotalHeadLen = paddedHeadLen + saltLen // 72
)

// headMagic marks a file as encrypted by this package. Exactly magicLen bytes.
var headMagic = []byte("\x00@@#__ALIPAN_GO___CRYPTO___#@@\x00\xff")

// FileKeys is the decryption context recovered from an encrypted-file
// header (or derived while encrypting): the method, the body key material
// and the original plaintext length.
type FileKeys struct {
	Method    Method
	Key       []byte // 32 bytes
	NonceOrIV []byte // 16 bytes; nonce for ChaCha20, IV for AES-CBC
	OrigLen   int64
	HeadLen   int64 // always TotalHeadLen for encrypted files
}

// sealHead builds the encrypted header for a file of origLen plaintext
// bytes, encrypted with method under the body salt.
func sealHead(password []byte, method Method, bodySalt []byte, origLen int64) ([]byte, error) {
	tag, err := method.tag()
	if err != nil {
		return nil, err
	}

	plain := make([]byte, 0, paddedHeadLen)
	plain = append(plain, headMagic...)
	plain = append(plain, tag)
	plain = append(plain, bodySalt...)
	plain = append(plain, randomBytes(8)...)
	plain = binary.BigEndian.AppendUint64(plain, uint64(origLen))
	plain = append(plain, randomBytes(paddedHeadLen-len(plain))...)

	headSalt := randomBytes(saltLen)
	key, iv := deriveKeyIV(password, headSalt)

	enc, err := cbcEncrypt(plain, key, iv)
	if err != nil {
		return nil, fmt.Errorf("crypto: sealing header: %w", err)
	}

	return append(enc, headSalt...), nil
}

// ParseHead attempts to interpret head (at least TotalHeadLen bytes) as an
// encrypted-file header under the given password. It returns (nil, nil)
// when the magic does not match, meaning the file is not encrypted by this
// package or the password is wrong; the two cases cannot be told apart.
func ParseHead(password, head []byte) (*FileKeys, error) {
	if len(head) < TotalHeadLen {
		return nil, nil
	}

	headSalt := head[paddedHeadLen:TotalHeadLen]
	key, iv := deriveKeyIV(password, headSalt)

	plain, err := cbcDecrypt(head[:paddedHeadLen], key, iv)
	if err != nil {
		return nil, fmt.Errorf("crypto: parsing header: %w", err)
	}

	if !bytes.Equal(plain[:magicLen], headMagic) {
		return nil, nil
	}

	method, err := methodFromTag(plain[magicLen])
	if err != nil {
		return nil, err
	}

	bodySalt := plain[magicLen+1 : magicLen+1+saltLen]
	origLen := binary.BigEndian.Uint64(plain[magicLen+1+saltLen+8 : magicLen+1+saltLen+16])

	bodyKey, nonceOrIV := deriveKeyIV(password, bodySalt)

	return &FileKeys{
		Method:    method,
		Key:       bodyKey,
		NonceOrIV: nonceOrIV,
		OrigLen:   int64(origLen),
		HeadLen:   TotalHeadLen,
	}, nil
}

// newFileKeys derives fresh body key material for encrypting a file.
func newFileKeys(password []byte, method Method, origLen int64) (*FileKeys, []byte) {
	bodySalt := randomBytes(saltLen)
	key, nonceOrIV := deriveKeyIV(password, bodySalt)

	return &FileKeys{
		Method:    method,
		Key:       key,
		NonceOrIV: nonceOrIV,
		OrigLen:   origLen,
		HeadLen:   TotalHeadLen,
	}, bodySalt
}
