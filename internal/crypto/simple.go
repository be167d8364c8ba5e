package crypto

import "crypto/sha256"

// subTable derives the 256-entry byte-substitution permutation for the
// simple cipher. A SHA-256 chain of the key drives a Fisher-Yates shuffle,
// so the table is deterministic for a given key. Substitution is stateless
// per byte, which is what makes arbitrary range decryption trivial.
func subTable(key []byte) (enc, dec [256]byte) {
	for i := range enc {
		enc[i] = byte(i)
	}

	stream := sha256.Sum256(key)
	buf := stream[:]
	next := 0

	nextByte := func() byte {
		if next == len(buf) {
			s := sha256.Sum256(buf)
			buf = s[:]
			next = 0
		}

		b := buf[next]
		next++

		return b
	}

	for i := 255; i > 0; i-- {
		j := (int(nextByte())<<8 | int(nextByte())) % (i + 1)
		enc[i], enc[j] = enc[j], enc[i]
	}

	for i, v := range enc {
		dec[v] = byte(i)
	}

	return enc, dec
}

// simpleKey combines the body key and nonce so the substitution table
// depends on both, matching the derivation used by the other methods.
func (fk *FileKeys) simpleKey() []byte {
	k := make([]byte, 0, len(fk.Key)+len(fk.NonceOrIV))
	k = append(k, fk.Key...)
	k = append(k, fk.NonceOrIV...)

	return k
}

func substitute(table *[256]byte, dst, src []byte) {
	for i, b := range src {
		dst[i] = table[b]
	}
}
