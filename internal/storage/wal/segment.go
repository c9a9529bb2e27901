package wal

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// File format constants.
const (
	FilePrefix      = "wal-"
	FileExtension   = ".log"
	MagicBytes      = "GMSHWAL\x01"
	MagicBytesSize  = 8
	BaseOffsetSize  = 8
	HeaderSize      = MagicBytesSize + BaseOffsetSize
	ChecksumSize    = 32
	DefaultFilePerm = 0600
	DefaultDirPerm  = 0750
)

var errInvalidMagic = errors.New("wal: invalid magic bytes")

type segmentInfo struct {
	id   uint64
	path string
}

func formatSegmentFilename(segmentID uint64) string {
	return fmt.Sprintf("%s%08d%s", FilePrefix, segmentID, FileExtension)
}

func parseSegmentFilename(name string) (uint64, bool) {
	if !strings.HasPrefix(name, FilePrefix) || !strings.HasSuffix(name, FileExtension) {
		return 0, false
	}
	var id uint64
	_, err := fmt.Sscanf(name, FilePrefix+"%d"+FileExtension, &id)
	return id, err == nil
}

// listSegments returns the segments in dir ordered by id. A missing
// directory has no segments.
func listSegments(dir string) ([]segmentInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("wal: read dir: %w", err)
	}

	var segs []segmentInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id, ok := parseSegmentFilename(e.Name())
		if !ok {
			continue
		}
		segs = append(segs, segmentInfo{id: id, path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].id < segs[j].id })
	return segs, nil
}

func encodeHeader(baseOffset int64) []byte {
	h := make([]byte, HeaderSize)
	copy(h, MagicBytes)
	binary.BigEndian.PutUint64(h[MagicBytesSize:], uint64(baseOffset))
	return h
}

// readHeader validates the magic and returns the segment base offset.
func readHeader(f io.ReaderAt) (int64, error) {
	h := make([]byte, HeaderSize)
	if _, err := f.ReadAt(h, 0); err != nil {
		return 0, fmt.Errorf("wal: read header: %w", err)
	}
	if string(h[:MagicBytesSize]) != MagicBytes {
		return 0, errInvalidMagic
	}
	return int64(binary.BigEndian.Uint64(h[MagicBytesSize:])), nil
}

func readSegmentBase(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("wal: open segment: %w", err)
	}
	defer f.Close()
	return readHeader(f)
}

// verifyChecksumTrailer reports whether the segment was finalized with a
// SHA-256 trailer, and the length of its data excluding the trailer.
func verifyChecksumTrailer(f io.ReaderAt, size int64) (closed bool, dataLen int64, err error) {
	if size < HeaderSize+ChecksumSize {
		return false, size, nil
	}

	trailer := make([]byte, ChecksumSize)
	if _, err := f.ReadAt(trailer, size-ChecksumSize); err != nil {
		return false, 0, fmt.Errorf("wal: read checksum trailer: %w", err)
	}

	dataLen = size - ChecksumSize
	h := sha256.New()
	if _, err := io.Copy(h, io.NewSectionReader(f, 0, dataLen)); err != nil {
		return false, 0, fmt.Errorf("wal: hash: %w", err)
	}
	if !bytes.Equal(h.Sum(nil), trailer) {
		return false, size, nil
	}
	return true, dataLen, nil
}

// readFrame reads one frame and returns its body (everything after the
// length field). A clean end of input is io.EOF; a partial frame is
// io.ErrUnexpectedEOF.
func readFrame(r *bufio.Reader) ([]byte, error) {
	var lenBuf [lengthSize]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(lenBuf[:])
	if length < minFrameLength || length > MaxFrameLength {
		return nil, ErrCorruptedEntry
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return body, nil
}

// frameOffset checks a frame body and returns its offset without
// decoding the payload.
func frameOffset(body []byte) (int64, error) {
	if len(body) < minFrameLength {
		return 0, ErrCorruptedEntry
	}
	if crc32Of(body[4:]) != binary.BigEndian.Uint32(body[:4]) {
		return 0, ErrChecksumMismatch
	}
	return int64(binary.BigEndian.Uint64(body[5:13])), nil
}

type scanResult struct {
	lastOffset int64 // -1 if the segment holds no frames
	entries    int
	validEnd   int64 // file position after the last intact frame
}

// scanSegment walks the frames in [HeaderSize, dataLen) and stops at the
// first incomplete or damaged frame.
func scanSegment(f io.ReaderAt, base, dataLen int64) (scanResult, error) {
	res := scanResult{lastOffset: -1, validEnd: HeaderSize}
	if dataLen <= HeaderSize {
		return res, nil
	}

	r := bufio.NewReader(io.NewSectionReader(f, HeaderSize, dataLen-HeaderSize))
	expect := base
	for {
		body, err := readFrame(r)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, ErrCorruptedEntry) {
				return res, nil
			}
			return res, err
		}
		off, err := frameOffset(body)
		if err != nil || off != expect {
			return res, nil
		}
		res.lastOffset = off
		res.entries++
		res.validEnd += int64(lengthSize + len(body))
		expect++
	}
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
