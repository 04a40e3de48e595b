package archive

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/vincentbai/focustrace/internal/models"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 123456789, time.UTC)

func sampleEvents() []models.Event {
	return []models.Event{
		{Seq: 1, Kind: models.KindInput, ID: "right", Timestamp: epoch, Payload: models.Payload{Source: models.SourceDispatch}},
		{Seq: 2, Kind: models.KindFocusSample, ID: "cell-0-1", Timestamp: epoch.Add(time.Nanosecond), Payload: models.Payload{Changed: true}},
		{Seq: 3, Kind: models.KindStall, ID: "heartbeat", Timestamp: epoch.Add(6 * time.Second), Payload: models.Payload{Severity: models.SeverityCritical, Delta: 6100 * time.Millisecond}},
		{Seq: 4, Kind: models.KindInput, ID: "left", Timestamp: epoch.Add(7 * time.Second), Degraded: true},
	}
}

func TestWriteRead(t *testing.T) {
	var buffer bytes.Buffer
	events := sampleEvents()
	header := Header{RunID: "run-1", Preset: "heavyReproduction", StartedAt: epoch, FinishedAt: epoch.Add(time.Minute), Missed: 12}

	if err := Write(&buffer, header, events); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, decoded, err := Read(&buffer)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got.Version != Version || got.RunID != "run-1" || got.Events != len(events) || got.Missed != 12 {
		t.Errorf("header = %+v", got)
	}
	if !got.StartedAt.Equal(epoch) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, epoch)
	}
	if len(decoded) != len(events) {
		t.Fatalf("decoded %d events, want %d", len(decoded), len(events))
	}
	for i := range events {
		want, have := events[i], decoded[i]
		if have.Seq != want.Seq || have.Kind != want.Kind || have.ID != want.ID || have.Degraded != want.Degraded {
			t.Errorf("event %d = %+v, want %+v", i, have, want)
		}
		if !have.Timestamp.Equal(want.Timestamp) {
			t.Errorf("event %d timestamp = %v, want %v", i, have.Timestamp, want.Timestamp)
		}
		if have.Payload != want.Payload {
			t.Errorf("event %d payload = %+v, want %+v", i, have.Payload, want.Payload)
		}
	}
}

func TestWriteIsDeterministic(t *testing.T) {
	var first, second bytes.Buffer
	header := Header{RunID: "run-1", StartedAt: epoch}
	if err := Write(&first, header, sampleEvents()); err != nil {
		t.Fatal(err)
	}
	if err := Write(&second, header, sampleEvents()); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first.Bytes(), second.Bytes()) {
		t.Error("identical input produced different dumps")
	}
}

func TestReadEmptyDump(t *testing.T) {
	var buffer bytes.Buffer
	if err := Write(&buffer, Header{RunID: "empty"}, nil); err != nil {
		t.Fatal(err)
	}
	header, events, err := Read(&buffer)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if header.RunID != "empty" || len(events) != 0 {
		t.Errorf("header = %+v, events = %d", header, len(events))
	}
}

func TestReadRejects(t *testing.T) {
	tests := []struct {
		name  string
		input func(t *testing.T) []byte
		want  error
	}{
		{
			name: "not compressed",
			input: func(t *testing.T) []byte {
				return []byte("plain text")
			},
		},
		{
			name: "future version",
			input: func(t *testing.T) []byte {
				raw, err := encMode.Marshal(Header{Version: Version + 1})
				if err != nil {
					t.Fatal(err)
				}
				return compress(t, raw)
			},
			want: ErrVersion,
		},
		{
			name: "missing events",
			input: func(t *testing.T) []byte {
				raw, err := encMode.Marshal(Header{Version: Version, Events: 3})
				if err != nil {
					t.Fatal(err)
				}
				return compress(t, raw)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Read(bytes.NewReader(tt.input(t)))
			if err == nil {
				t.Fatal("Read() succeeded, want error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("Read() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dumps", "run-1.cbor.zst")
	if err := WriteFile(path, Header{RunID: "run-1"}, sampleEvents()); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	header, events, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if header.RunID != "run-1" || len(events) != 4 {
		t.Errorf("header = %+v, events = %d", header, len(events))
	}
	if _, _, err := ReadFile(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("ReadFile() of a missing file succeeded")
	}
}

func compress(t *testing.T, raw []byte) []byte {
	t.Helper()
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer encoder.Close()
	return encoder.EncodeAll(raw, nil)
}
