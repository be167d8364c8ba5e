package crypto

import (
	"crypto/cipher"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20"
)

// encryptChunk is the unit of source reads while streaming encryption.
const encryptChunk = 32 * 1024

// BodyLen returns the ciphertext body length (excluding the header) for a
// plaintext of origLen bytes encrypted with the given method.
func BodyLen(method Method, origLen int64) int64 {
	switch method {
	case MethodNone, MethodSimple, MethodChaCha20:
		return origLen
	case MethodAES256CBC:
		return cbcCipherLen(origLen)
	default:
		return origLen
	}
}

// EncryptedLen returns the total on-disk length (header plus body) of a
// plaintext of origLen bytes encrypted with the given method. For
// MethodNone it is origLen unchanged.
func EncryptedLen(method Method, origLen int64) int64 {
	if method == MethodNone {
		return origLen
	}

	return TotalHeadLen + BodyLen(method, origLen)
}

// EncryptReader wraps a plaintext source of known length and yields the
// encrypted-file byte stream: header first, then the cipher body. It is a
// forward-only reader; a retried upload builds a fresh one.
type EncryptReader struct {
	fk   *FileKeys
	src  io.Reader
	head []byte
	off  int // bytes of head already delivered

	// Per-method state. Exactly one of these is active.
	encTable *[256]byte
	chacha   *chacha20.Cipher
	cbc      cipher.BlockMode

	// AES-CBC staging: plaintext carry below one block, and encrypted
	// bytes not yet delivered.
	carry   []byte
	pending []byte
	srcEOF  bool
}

// NewEncryptReader creates an EncryptReader for src, which must yield
// exactly origLen bytes. MethodNone is rejected: unencrypted transfers
// use the source reader directly.
func NewEncryptReader(password []byte, method Method, src io.Reader, origLen int64) (*EncryptReader, error) {
	if method == MethodNone {
		return nil, fmt.Errorf("crypto: encrypt reader requires an encrypting method")
	}

	fk, bodySalt := newFileKeys(password, method, origLen)

	head, err := sealHead(password, method, bodySalt, origLen)
	if err != nil {
		return nil, err
	}

	r := &EncryptReader{fk: fk, src: src, head: head}

	switch method {
	case MethodSimple:
		enc, _ := subTable(fk.simpleKey())
		r.encTable = &enc
	case MethodChaCha20:
		c, chachaErr := fk.newChaCha()
		if chachaErr != nil {
			return nil, chachaErr
		}

		r.chacha = c
	case MethodAES256CBC:
		bm, cbcErr := newCBCEncrypter(fk.Key, fk.NonceOrIV)
		if cbcErr != nil {
			return nil, cbcErr
		}

		r.cbc = bm
	case MethodNone:
		// Unreachable, rejected above.
	}

	return r, nil
}

// Keys returns the derived file keys, primarily for tests.
func (r *EncryptReader) Keys() *FileKeys { return r.fk }

// Len returns the total encrypted stream length.
func (r *EncryptReader) Len() int64 {
	return int64(len(r.head)) + BodyLen(r.fk.Method, r.fk.OrigLen)
}

func (r *EncryptReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	// Header first.
	if r.off < len(r.head) {
		n := copy(p, r.head[r.off:])
		r.off += n

		return n, nil
	}

	switch r.fk.Method {
	case MethodSimple:
		n, err := r.src.Read(p)
		substitute(r.encTable, p[:n], p[:n])

		return n, err
	case MethodChaCha20:
		n, err := r.src.Read(p)
		r.chacha.XORKeyStream(p[:n], p[:n])

		return n, err
	case MethodAES256CBC:
		return r.readCBC(p)
	case MethodNone:
		// Unreachable: constructor rejects MethodNone.
		return 0, io.EOF
	default:
		return 0, fmt.Errorf("crypto: unknown method %d", int(r.fk.Method))
	}
}

// readCBC serves encrypted bytes from the staging buffer, refilling it by
// reading source chunks, carrying sub-block remainders, and padding the
// final short block.
func (r *EncryptReader) readCBC(p []byte) (int, error) {
	for len(r.pending) == 0 {
		if r.srcEOF {
			return 0, io.EOF
		}

		buf := make([]byte, encryptChunk)

		n, err := r.src.Read(buf)
		if n > 0 {
			r.carry = append(r.carry, buf[:n]...)
		}

		if err == io.EOF {
			r.srcEOF = true
		} else if err != nil {
			return 0, err
		}

		if r.srcEOF {
			// Final flush: pad only when the plaintext is not aligned.
			if len(r.carry)%aesBlockSize != 0 {
				r.carry = pkcs7Pad(r.carry, aesBlockSize)
			}

			if len(r.carry) > 0 {
				out := make([]byte, len(r.carry))
				r.cbc.CryptBlocks(out, r.carry)
				r.pending = out
				r.carry = nil
			}

			if len(r.pending) == 0 {
				return 0, io.EOF
			}

			break
		}

		aligned := len(r.carry) / aesBlockSize * aesBlockSize
		if aligned == 0 {
			continue
		}

		out := make([]byte, aligned)
		r.cbc.CryptBlocks(out, r.carry[:aligned])
		r.pending = append(r.pending, out...)
		r.carry = r.carry[aligned:]
	}

	n := copy(p, r.pending)
	r.pending = r.pending[n:]

	return n, nil
}

func newCBCEncrypter(key, iv []byte) (cipher.BlockMode, error) {
	block, err := newAESBlock(key)
	if err != nil {
		return nil, err
	}

	return cipher.NewCBCEncrypter(block, iv), nil
}

// RangeFetch retrieves a slice of the ciphertext body. Offsets are relative
// to the body start, i.e. the header is already excluded.
type RangeFetch func(off, n int64) ([]byte, error)

// DecryptRange decrypts the plaintext range [off, off+n) of an encrypted
// file, fetching only the ciphertext it needs:
//
//   - simple substitution maps the exact range byte for byte;
//   - ChaCha20 fetches the exact range and seeks the keystream to off;
//   - AES-CBC widens the fetch to block boundaries plus one preceding block
//     (the IV for the first requested block) and discards the surplus.
//
// Requests beyond the original length are clamped; a request entirely past
// the end returns an empty slice.
func (fk *FileKeys) DecryptRange(fetch RangeFetch, off, n int64) ([]byte, error) {
	if off < 0 || n < 0 {
		return nil, fmt.Errorf("crypto: negative range %d+%d", off, n)
	}

	if !fk.Method.Rangeable() {
		return nil, fmt.Errorf("crypto: method %d does not support range decryption", int(fk.Method))
	}

	end := off + n
	if end > fk.OrigLen {
		end = fk.OrigLen
	}

	if off >= end {
		return []byte{}, nil
	}

	switch fk.Method {
	case MethodSimple:
		ct, err := fetch(off, end-off)
		if err != nil {
			return nil, err
		}

		_, dec := subTable(fk.simpleKey())
		substitute(&dec, ct, ct)

		return ct, nil

	case MethodChaCha20:
		ct, err := fetch(off, end-off)
		if err != nil {
			return nil, err
		}

		if err := fk.chachaXORAt(off, ct, ct); err != nil {
			return nil, err
		}

		return ct, nil

	case MethodAES256CBC:
		return fk.decryptRangeCBC(fetch, off, end)

	case MethodNone:
		return fetch(off, end-off)

	default:
		return nil, fmt.Errorf("crypto: unknown method %d", int(fk.Method))
	}
}

// decryptRangeCBC decrypts [off, end) from a CBC body. The fetch is widened
// to [firstBlock*16 - 16, ceil16(end)): the extra leading block provides
// the IV when the range does not start at block zero.
func (fk *FileKeys) decryptRangeCBC(fetch RangeFetch, off, end int64) ([]byte, error) {
	firstBlock := off / aesBlockSize
	fetchEnd := cbcCipherLen(end)

	fetchStart := firstBlock * aesBlockSize
	iv := fk.NonceOrIV

	if firstBlock > 0 {
		fetchStart -= aesBlockSize
	}

	ct, err := fetch(fetchStart, fetchEnd-fetchStart)
	if err != nil {
		return nil, err
	}

	if int64(len(ct)) != fetchEnd-fetchStart {
		return nil, fmt.Errorf("crypto: short ciphertext fetch: want %d bytes, got %d", fetchEnd-fetchStart, len(ct))
	}

	if firstBlock > 0 {
		iv = ct[:aesBlockSize]
		ct = ct[aesBlockSize:]
	}

	plain, err := cbcDecrypt(ct, fk.Key, iv)
	if err != nil {
		return nil, err
	}

	// The requested range never reaches into padding (end is clamped to
	// OrigLen), so no unpadding here. Slice off the block-alignment
	// surplus on both sides.
	lo := off - firstBlock*aesBlockSize

	return plain[lo : lo+(end-off)], nil
}

// NewDecryptReader returns a sequential plaintext reader over a ciphertext
// body stream (positioned after the header). Used for whole-file decryption
// where no random access is needed.
func NewDecryptReader(fk *FileKeys, body io.Reader) (io.Reader, error) {
	switch fk.Method {
	case MethodSimple:
		_, dec := subTable(fk.simpleKey())

		return &mapReader{src: io.LimitReader(body, fk.OrigLen), table: dec}, nil
	case MethodChaCha20:
		c, err := fk.newChaCha()
		if err != nil {
			return nil, err
		}

		return &xorReader{src: io.LimitReader(body, fk.OrigLen), c: c}, nil
	case MethodAES256CBC:
		block, err := newAESBlock(fk.Key)
		if err != nil {
			return nil, err
		}

		bm := cipher.NewCBCDecrypter(block, fk.NonceOrIV)

		return &cbcReader{src: body, bm: bm, remaining: fk.OrigLen}, nil
	case MethodNone:
		return body, nil
	default:
		return nil, fmt.Errorf("crypto: unknown method %d", int(fk.Method))
	}
}

type mapReader struct {
	src   io.Reader
	table [256]byte
}

func (r *mapReader) Read(p []byte) (int, error) {
	n, err := r.src.Read(p)
	substitute(&r.table, p[:n], p[:n])

	return n, err
}

type xorReader struct {
	src io.Reader
	c   *chacha20.Cipher
}

func (r *xorReader) Read(p []byte) (int, error) {
	n, err := r.src.Read(p)
	r.c.XORKeyStream(p[:n], p[:n])

	return n, err
}

// cbcReader streams CBC decryption, delivering at most `remaining`
// plaintext bytes so trailing padding never escapes.
type cbcReader struct {
	src       io.Reader
	bm        cipher.BlockMode
	buf       []byte // undecrypted carry
	out       []byte // decrypted, undelivered
	remaining int64
	srcEOF    bool
}

func (r *cbcReader) Read(p []byte) (int, error) {
	for len(r.out) == 0 {
		if r.remaining == 0 {
			return 0, io.EOF
		}

		if r.srcEOF && len(r.buf) < aesBlockSize {
			return 0, io.ErrUnexpectedEOF
		}

		if !r.srcEOF {
			chunk := make([]byte, encryptChunk)

			n, err := r.src.Read(chunk)
			if n > 0 {
				r.buf = append(r.buf, chunk[:n]...)
			}

			if err == io.EOF {
				r.srcEOF = true
			} else if err != nil {
				return 0, err
			}
		}

		aligned := len(r.buf) / aesBlockSize * aesBlockSize
		if aligned == 0 {
			continue
		}

		out := make([]byte, aligned)
		r.bm.CryptBlocks(out, r.buf[:aligned])
		r.buf = r.buf[aligned:]

		if int64(len(out)) > r.remaining {
			out = out[:r.remaining]
		}

		r.out = out
		r.remaining -= int64(len(out))
	}

	n := copy(p, r.out)
	r.out = r.out[n:]

	return n, nil
}
