package transfer

import (
	"crypto/md5"  //nolint:gosec // proof-code algorithm is fixed by the remote protocol
	"crypto/sha1" //nolint:gosec // content addressing is fixed by the remote protocol
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"strings"
)

// preHashLen is how many leading bytes the cheap dedup probe hashes.
const preHashLen = 1024

// PreHash returns the SHA-1 of the first KiB of content, the cheap
// probe sent with the initial create request. Files shorter than a KiB
// hash whatever is there.
func PreHash(r io.Reader) (string, error) {
	h := sha1.New() //nolint:gosec

	if _, err := io.Copy(h, io.LimitReader(r, preHashLen)); err != nil {
		return "", fmt.Errorf("transfer: computing pre-hash: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// ContentHash returns the SHA-1 of the full content in the uppercase
// hex form the remote expects.
func ContentHash(r io.Reader) (string, error) {
	h := sha1.New() //nolint:gosec

	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("transfer: computing content hash: %w", err)
	}

	return strings.ToUpper(hex.EncodeToString(h.Sum(nil))), nil
}

// ProofCode proves local possession of the content: the access token
// picks a pseudo-random offset, and the 8 bytes there are returned
// base64-encoded. The remote checks them against its stored copy.
func ProofCode(ra io.ReaderAt, size int64, accessToken string) (string, error) {
	if size == 0 {
		return "", nil
	}

	sum := md5.Sum([]byte(accessToken)) //nolint:gosec

	// The offset is the first 16 hex digits of the MD5, mod the length.
	n := new(big.Int)
	if _, ok := n.SetString(hex.EncodeToString(sum[:])[:16], 16); !ok {
		return "", fmt.Errorf("transfer: parsing proof offset")
	}

	offset := n.Mod(n, big.NewInt(size)).Int64()

	length := int64(8)
	if offset+length > size {
		length = size - offset
	}

	buf := make([]byte, length)
	if _, err := ra.ReadAt(buf, offset); err != nil {
		return "", fmt.Errorf("transfer: reading proof bytes: %w", err)
	}

	return base64.StdEncoding.EncodeToString(buf), nil
}
