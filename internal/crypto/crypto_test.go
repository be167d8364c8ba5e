package crypto

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPassword = []byte("correct horse battery staple")

// encryptAll runs a full EncryptReader pass and returns the complete
// encrypted stream (header + body).
func encryptAll(t *testing.T, method Method, plain []byte) []byte {
	t.Helper()

	er, err := NewEncryptReader(testPassword, method, bytes.NewReader(plain), int64(len(plain)))
	require.NoError(t, err)

	out, err := io.ReadAll(er)
	require.NoError(t, err)
	assert.Equal(t, er.Len(), int64(len(out)), "EncryptedLen must match actual stream length")
	assert.Equal(t, EncryptedLen(method, int64(len(plain))), int64(len(out)))

	return out
}

// parseKeys recovers FileKeys from an encrypted stream.
func parseKeys(t *testing.T, stream []byte) *FileKeys {
	t.Helper()

	fk, err := ParseHead(testPassword, stream[:TotalHeadLen])
	require.NoError(t, err)
	require.NotNil(t, fk, "header must parse with the right password")

	return fk
}

func TestHeadMagicLength(t *testing.T) {
	assert.Len(t, headMagic, magicLen)
}

func TestParseMethod(t *testing.T) {
	tests := []struct {
		in      string
		want    Method
		wantErr bool
	}{
		{"", MethodNone, false},
		{"none", MethodNone, false},
		{"simple", MethodSimple, false},
		{"chacha20", MethodChaCha20, false},
		{"aes256cbc", MethodAES256CBC, false},
		{"aes-256-cbc", MethodAES256CBC, false},
		{"rot13", MethodNone, true},
	}

	for _, tt := range tests {
		got, err := ParseMethod(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}

		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestRoundTrip_AllMethods(t *testing.T) {
	methods := []Method{MethodSimple, MethodChaCha20, MethodAES256CBC}
	sizes := []int{0, 1, 15, 16, 17, 64*1024 + 7}

	for _, method := range methods {
		for _, size := range sizes {
			t.Run(fmt.Sprintf("%s/%d", method, size), func(t *testing.T) {
				plain := deterministicBytes(size)
				stream := encryptAll(t, method, plain)

				fk := parseKeys(t, stream)
				assert.Equal(t, method, fk.Method)
				assert.Equal(t, int64(size), fk.OrigLen)

				dr, err := NewDecryptReader(fk, bytes.NewReader(stream[TotalHeadLen:]))
				require.NoError(t, err)

				got, err := io.ReadAll(dr)
				require.NoError(t, err)
				assert.True(t, bytes.Equal(plain, got), "round trip must restore the plaintext")
			})
		}
	}
}

func TestEncrypt_ChangesBytes(t *testing.T) {
	plain := deterministicBytes(4096)

	for _, method := range []Method{MethodSimple, MethodChaCha20, MethodAES256CBC} {
		stream := encryptAll(t, method, plain)
		assert.False(t, bytes.Contains(stream, plain[:256]), "%s must not leak plaintext", method)
	}
}

func TestDecryptRange_Equivalence(t *testing.T) {
	plain := deterministicBytes(10_000)

	ranges := []struct{ off, n int64 }{
		{0, 1},
		{0, 10_000},
		{1, 15},
		{16, 16},
		{17, 33},   // non-block-aligned into non-block-aligned
		{4999, 77}, // middle of the file
		{9_990, 10},
		{9_990, 500}, // clamped at the end
		{10_000, 5},  // entirely past the end
	}

	for _, method := range []Method{MethodSimple, MethodChaCha20, MethodAES256CBC} {
		stream := encryptAll(t, method, plain)
		fk := parseKeys(t, stream)
		body := stream[TotalHeadLen:]

		fetch := func(off, n int64) ([]byte, error) {
			return append([]byte{}, body[off:off+n]...), nil
		}

		for _, rg := range ranges {
			got, err := fk.DecryptRange(fetch, rg.off, rg.n)
			require.NoError(t, err, "%s range %d+%d", method, rg.off, rg.n)

			end := rg.off + rg.n
			if end > int64(len(plain)) {
				end = int64(len(plain))
			}

			want := []byte{}
			if rg.off < end {
				want = plain[rg.off:end]
			}

			assert.True(t, bytes.Equal(want, got), "%s range %d+%d", method, rg.off, rg.n)
		}
	}
}

// TestDecryptRangeCBC_FetchesPrecedingBlock pins the widened-fetch contract:
// a non-block-aligned offset must pull exactly one extra leading ciphertext
// block to use as the IV, and the surplus plaintext must be discarded.
func TestDecryptRangeCBC_FetchesPrecedingBlock(t *testing.T) {
	plain := deterministicBytes(1024)
	stream := encryptAll(t, MethodAES256CBC, plain)
	fk := parseKeys(t, stream)
	body := stream[TotalHeadLen:]

	var fetchedOff, fetchedLen int64

	fetch := func(off, n int64) ([]byte, error) {
		fetchedOff, fetchedLen = off, n
		return append([]byte{}, body[off:off+n]...), nil
	}

	// Plaintext offset 100 lives in block 6; the fetch must start at
	// block 5 (byte 80) to recover the IV.
	got, err := fk.DecryptRange(fetch, 100, 50)
	require.NoError(t, err)
	assert.Equal(t, int64(80), fetchedOff)
	assert.Equal(t, int64(80), fetchedLen) // blocks 5 through 9
	assert.True(t, bytes.Equal(plain[100:150], got))

	// Offset zero uses the file IV; no extra block.
	_, err = fk.DecryptRange(fetch, 0, 16)
	require.NoError(t, err)
	assert.Equal(t, int64(0), fetchedOff)
	assert.Equal(t, int64(16), fetchedLen)
}

func TestParseHead_WrongPassword(t *testing.T) {
	stream := encryptAll(t, MethodChaCha20, deterministicBytes(128))

	fk, err := ParseHead([]byte("not the password"), stream[:TotalHeadLen])
	require.NoError(t, err)
	assert.Nil(t, fk, "wrong password must look like an unencrypted file, not crash")
}

func TestParseHead_PlainFile(t *testing.T) {
	head := deterministicBytes(TotalHeadLen)

	fk, err := ParseHead(testPassword, head)
	require.NoError(t, err)
	assert.Nil(t, fk)
}

func TestParseHead_TooShort(t *testing.T) {
	fk, err := ParseHead(testPassword, []byte("short"))
	require.NoError(t, err)
	assert.Nil(t, fk)
}

// TestSimpleTable_IsPermutation guards the substitution table derivation:
// both directions must be exact inverses.
func TestSimpleTable_IsPermutation(t *testing.T) {
	enc, dec := subTable([]byte("some key"))

	seen := map[byte]bool{}
	for _, v := range enc {
		assert.False(t, seen[v], "table must be a permutation")
		seen[v] = true
	}

	for i := range 256 {
		assert.Equal(t, byte(i), dec[enc[byte(i)]])
	}
}

func TestDeriveKeyIV_Deterministic(t *testing.T) {
	k1, iv1 := deriveKeyIV([]byte("pw"), []byte("salt0001"))
	k2, iv2 := deriveKeyIV([]byte("pw"), []byte("salt0001"))
	assert.Equal(t, k1, k2)
	assert.Equal(t, iv1, iv2)
	assert.Len(t, k1, keyLen)
	assert.Len(t, iv1, ivLen)

	k3, _ := deriveKeyIV([]byte("pw"), []byte("salt0002"))
	assert.NotEqual(t, k1, k3)
}

func TestEncryptedLen(t *testing.T) {
	assert.Equal(t, int64(100), EncryptedLen(MethodNone, 100))
	assert.Equal(t, int64(TotalHeadLen+100), EncryptedLen(MethodSimple, 100))
	assert.Equal(t, int64(TotalHeadLen+100), EncryptedLen(MethodChaCha20, 100))
	assert.Equal(t, int64(TotalHeadLen+112), EncryptedLen(MethodAES256CBC, 100))
	assert.Equal(t, int64(TotalHeadLen+96), EncryptedLen(MethodAES256CBC, 96), "aligned plaintext is stored without a padding block")
}

func TestDecryptRange_UnknownMethodRejected(t *testing.T) {
	fk := &FileKeys{Method: Method(99), OrigLen: 64}

	fetch := func(_, n int64) ([]byte, error) { return make([]byte, n), nil }

	_, err := fk.DecryptRange(fetch, 0, 16)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "range decryption")
}

func TestChaChaXORAt_OffsetBeyondCounterRange(t *testing.T) {
	stream := encryptAll(t, MethodChaCha20, deterministicBytes(128))
	fk := parseKeys(t, stream)

	buf := make([]byte, 8)

	// The 32-bit block counter addresses at most (2^32)*64 bytes of
	// keystream; one block past that must fail instead of wrapping to
	// the wrong keystream position.
	err := fk.chachaXORAt((int64(math.MaxUint32)+1)*chachaBlockSize, buf, buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "counter range")

	require.NoError(t, fk.chachaXORAt(int64(math.MaxUint32)*chachaBlockSize, buf, buf))
}

// deterministicBytes yields a reproducible pseudo-random buffer.
func deterministicBytes(n int) []byte {
	b := make([]byte, n)
	v := byte(7)

	for i := range b {
		v = v*31 + 17
		b[i] = v
	}

	return b
}
