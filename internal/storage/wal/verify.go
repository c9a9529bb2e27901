package wal

import (
	"bytes"
	"crypto/sha256"
	"io"
	"os"
)

// VerifyTrailerChecksum checks that a finalized segment's SHA-256 trailer
// matches its contents.
func VerifyTrailerChecksum(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return err
	}
	if stat.Size() < HeaderSize+ChecksumSize {
		return ErrCorrupted
	}

	trailer := make([]byte, ChecksumSize)
	if _, err := f.ReadAt(trailer, stat.Size()-ChecksumSize); err != nil {
		return err
	}
	h := sha256.New()
	if _, err := io.Copy(h, io.NewSectionReader(f, 0, stat.Size()-ChecksumSize)); err != nil {
		return err
	}
	if !bytes.Equal(h.Sum(nil), trailer) {
		return ErrChecksumMismatch
	}
	return nil
}
