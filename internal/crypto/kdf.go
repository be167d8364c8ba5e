package crypto

import "crypto/md5" //nolint:gosec // MD5 is mandated by the header key-derivation format, not used for integrity

// Key material sizes shared by the whole family.
const (
	keyLen  = 32
	ivLen   = 16
	saltLen = 8
)

// deriveKeyIV stretches a password and salt into a 32-byte key and a 16-byte
// IV/nonce using an MD5 chain: an initial MD5(password||salt) seed (PBKDF1
// with one round), then repeated MD5(prev||password||salt) until enough
// material accumulates. The construction is fixed by the on-disk header
// format; changing it would orphan existing encrypted files.
func deriveKeyIV(password, salt []byte) (key, iv []byte) {
	h := md5.New() //nolint:gosec // format-mandated
	h.Write(password)
	h.Write(salt)
	temp := h.Sum(nil)

	material := make([]byte, 0, keyLen+ivLen+md5.Size)
	material = append(material, temp...)

	for len(material) < keyLen+ivLen {
		h.Reset()
		h.Write(temp)
		h.Write(password)
		h.Write(salt)
		temp = h.Sum(nil)
		material = append(material, temp...)
	}

	return material[:keyLen], material[keyLen : keyLen+ivLen]
}
