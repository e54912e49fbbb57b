package speech

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

var errNotWAV = errors.New("not a RIFF/WAVE file")

// maxFmtChunk covers WAVE_FORMAT_EXTENSIBLE (40 bytes) with room to spare.
const maxFmtChunk = 64

// WAVDuration reads the length in seconds from a PCM WAV header.
func WAVDuration(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var header [12]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		return 0, errNotWAV
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return 0, errNotWAV
	}

	var byteRate uint32
	for {
		var chunk [8]byte
		if _, err := io.ReadFull(f, chunk[:]); err != nil {
			return 0, fmt.Errorf("wav: data chunk not found: %w", err)
		}
		id := string(chunk[0:4])
		size := binary.LittleEndian.Uint32(chunk[4:8])
		switch id {
		case "fmt ":
			if size > maxFmtChunk {
				return 0, fmt.Errorf("wav: fmt chunk of %d bytes", size)
			}
			buf := make([]byte, size)
			if _, err := io.ReadFull(f, buf); err != nil {
				return 0, fmt.Errorf("wav fmt: %w", err)
			}
			if len(buf) < 12 {
				return 0, errNotWAV
			}
			byteRate = binary.LittleEndian.Uint32(buf[8:12])
			if size%2 == 1 {
				_, _ = f.Seek(1, io.SeekCurrent)
			}
		case "data":
			if byteRate == 0 {
				return 0, errors.New("wav: data chunk before fmt")
			}
			return float64(size) / float64(byteRate), nil
		default:
			skip := int64(size) + int64(size%2)
			if _, err := f.Seek(skip, io.SeekCurrent); err != nil {
				return 0, err
			}
		}
	}
}
