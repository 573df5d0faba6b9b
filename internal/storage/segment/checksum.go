package segment

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"

	"github.com/xtxerr/rfistat/internal/errors"
)

// Checksum computes the BLAKE3-256 digest of the file at path, hex encoded.
func Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open for checksum: %w", err)
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash file: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyDigest checks the file at path against the digest recorded at seal
// time, without decoding rows. Read paths call this before trusting a
// segment, so corruption surfaces as ErrChecksumMismatch instead of a
// decoder failure deeper in.
func VerifyDigest(path, want string) error {
	got, err := Checksum(path)
	if err != nil {
		return err
	}
	if got != want {
		return errors.Wrapf(errors.ErrChecksumMismatch, "%s: have %s, want %s", path, got, want)
	}
	return nil
}

// Verify re-reads the segment at path and checks it end to end: the file
// digest must equal want, the footer must parse, and every row must decode.
// The returned error unwraps to ErrChecksumMismatch or ErrSegmentCorrupt.
func Verify(path, want string) error {
	if err := VerifyDigest(path, want); err != nil {
		return err
	}

	r, err := Open(path)
	if err != nil {
		return err
	}
	defer r.Close()

	if _, err := r.ReadAll(); err != nil {
		return errors.Wrapf(errors.ErrSegmentCorrupt, "%s: %v", path, err)
	}

	return nil
}
