// Package hasher computes the content hashes the resume decision tree
// compares between client and server.
package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"parcel/internal/config"
	"parcel/internal/errors"
)

// Hash returns the hex-encoded SHA-256 digest of the first k*CHUNK_SIZE
// bytes of path, or of the whole file when k == 0. It is pure with
// respect to the file's bytes: concurrent calls on the same path are
// safe, since each opens its own file descriptor.
func Hash(path string, k int64, chunkSize int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.NewIoError("hash_open", path, err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, config.HashBufferSize)

	var limit int64 = -1 // -1 means unbounded (whole file)
	if k > 0 {
		limit = k * chunkSize
	}

	var read int64
	for limit < 0 || read < limit {
		toRead := int64(len(buf))
		if limit >= 0 {
			remaining := limit - read
			if remaining < toRead {
				toRead = remaining
			}
		}
		if toRead <= 0 {
			break
		}

		n, err := f.Read(buf[:toRead])
		if n > 0 {
			if _, werr := h.Write(buf[:n]); werr != nil {
				return "", errors.NewIoError("hash_write", path, werr)
			}
			read += int64(n)
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return "", errors.NewIoError("hash_read", path, err)
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// WholeFile is a convenience wrapper for Hash(path, 0, chunkSize).
func WholeFile(path string, chunkSize int64) (string, error) {
	return Hash(path, 0, chunkSize)
}
