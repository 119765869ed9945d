package recorder

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/harunnryd/callrelay/pkg/codec"
	"github.com/harunnryd/callrelay/pkg/errorsx"
)

const (
	RecordingFile = "call_recording.wav"
	EventsFile    = "events.json"

	callDirPrefix = "call_"
	dirTimeLayout = "20060102_150405"
)

type snapshot struct {
	callID    string
	startedAt time.Time
	chunks    []Chunk
	events    []Event
}

// CallDir is the artifacts directory name for a call.
func CallDir(callID string, startedAt time.Time) string {
	return callDirPrefix + sanitizeID(callID) + "_" + startedAt.Format(dirTimeLayout)
}

func writeArtifacts(root string, snap snapshot) (Artifacts, error) {
	art := Artifacts{
		Dir:    filepath.Join(root, CallDir(snap.callID, snap.startedAt)),
		Events: len(snap.events),
	}
	if err := os.MkdirAll(art.Dir, 0o755); err != nil {
		return art, errorsx.Wrap(err, errorsx.ReasonRecordingWrite)
	}

	var errs error
	if len(snap.chunks) > 0 {
		mixed := Mix(snap.chunks)
		path := filepath.Join(art.Dir, RecordingFile)
		if err := writeWAV(path, mixed); err != nil {
			errs = errors.Join(errs, err)
		} else {
			art.RecordingPath = path
			art.Duration = time.Duration(codec.DurationMS(len(mixed))) * time.Millisecond
		}
	}

	path := filepath.Join(art.Dir, EventsFile)
	if err := writeEvents(path, snap.events); err != nil {
		errs = errors.Join(errs, err)
	} else {
		art.EventsPath = path
	}
	return art, errorsx.Wrap(errs, errorsx.ReasonRecordingWrite)
}

func writeWAV(path string, samples []int16) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	enc := wav.NewEncoder(f, codec.SampleRate, 16, 1, 1)
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: codec.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		_ = f.Close()
		return fmt.Errorf("close wav: %w", err)
	}
	return f.Close()
}

func writeEvents(path string, events []Event) error {
	if events == nil {
		events = []Event{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(events); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func sanitizeID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, id)
}

// PurgeArtifacts removes call directories under dir last modified before
// maxAge ago. Returns the number removed.
func PurgeArtifacts(dir string, maxAge time.Duration) (int, error) {
	if dir == "" || maxAge <= 0 {
		return 0, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	var removed int
	var errs error
	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), callDirPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		removed++
	}
	return removed, errs
}
