// Package archive writes and reads timeline dumps: a zstd-compressed
// stream of CBOR items, one header followed by every event of a run in
// sequence order.
package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/vincentbai/focustrace/internal/models"
)

// Version is the dump format written by Write.
const Version = 1

// ErrVersion is returned when a dump was written by an unknown format.
var ErrVersion = errors.New("unsupported archive version")

// Header identifies the run a dump belongs to.
type Header struct {
	Version    int       `cbor:"version"`
	RunID      string    `cbor:"run_id"`
	Preset     string    `cbor:"preset"`
	StartedAt  time.Time `cbor:"started_at"`
	Events     int       `cbor:"events"`
	Missed     int64     `cbor:"missed,omitempty"` // evicted before the dump was taken
	FinishedAt time.Time `cbor:"finished_at"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	// Nanosecond timestamps survive the round trip only as RFC 3339 text.
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("archive: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("archive: CBOR decoder initialization failed: " + err.Error())
	}
}

// Write streams header and events to w. header.Version and header.Events
// are filled in.
func Write(w io.Writer, header Header, events []models.Event) error {
	header.Version = Version
	header.Events = len(events)

	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("archive: creating compressor: %w", err)
	}
	encoder := encMode.NewEncoder(zw)
	if err := encoder.Encode(header); err != nil {
		zw.Close()
		return fmt.Errorf("archive: encoding header: %w", err)
	}
	for _, event := range events {
		if err := encoder.Encode(event); err != nil {
			zw.Close()
			return fmt.Errorf("archive: encoding event %d: %w", event.Seq, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("archive: flushing: %w", err)
	}
	return nil
}

// Read decodes a dump produced by Write.
func Read(r io.Reader) (Header, []models.Event, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return Header{}, nil, fmt.Errorf("archive: creating decompressor: %w", err)
	}
	defer zr.Close()

	decoder := decMode.NewDecoder(zr)
	var header Header
	if err := decoder.Decode(&header); err != nil {
		return Header{}, nil, fmt.Errorf("archive: decoding header: %w", err)
	}
	if header.Version != Version {
		return header, nil, fmt.Errorf("%w: %d", ErrVersion, header.Version)
	}

	events := make([]models.Event, 0, header.Events)
	for {
		var event models.Event
		err := decoder.Decode(&event)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return header, events, fmt.Errorf("archive: decoding event %d: %w", len(events)+1, err)
		}
		events = append(events, event)
	}
	if len(events) != header.Events {
		return header, events, fmt.Errorf("archive: truncated dump: %d of %d events", len(events), header.Events)
	}
	return header, events, nil
}

// WriteFile writes a dump to path, creating parent directories.
func WriteFile(path string, header Header, events []models.Event) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("archive: creating directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("archive: creating %s: %w", path, err)
	}
	if err := Write(file, header, events); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// ReadFile reads a dump from path.
func ReadFile(path string) (Header, []models.Event, error) {
	file, err := os.Open(path)
	if err != nil {
		return Header{}, nil, fmt.Errorf("archive: opening %s: %w", path, err)
	}
	defer file.Close()
	return Read(file)
}
