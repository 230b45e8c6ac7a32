// Package replay reads raw touch event streams captured off a device,
// one JSON object per line. Streams come from files pulled over adb or
// piped in live; Follow tails a file that is still being written.
package replay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Event is one line of a captured touch stream.
type Event struct {
	TimestampMS int64   `json:"timestamp_ms"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Pressure    float64 `json:"pressure,omitempty"`
	Slot        int     `json:"slot,omitempty"`
}

// Read streams events from r, calling fn for each decoded line. Blank
// lines and #-comment lines are skipped silently; lines that fail to
// decode are counted and skipped so one mangled line does not void a
// whole capture. A non-nil error from fn stops the stream.
func Read(r io.Reader, fn func(Event) error) (skipped int, err error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			skipped++
			continue
		}
		if err := fn(ev); err != nil {
			return skipped, err
		}
	}
	if err := scanner.Err(); err != nil {
		return skipped, fmt.Errorf("scan event stream: %w", err)
	}
	return skipped, nil
}

// ParseFile loads every event from a capture file.
func ParseFile(path string) ([]Event, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open event stream: %w", err)
	}
	defer func() { _ = f.Close() }()

	var events []Event
	skipped, err := Read(f, func(ev Event) error {
		events = append(events, ev)
		return nil
	})
	if err != nil {
		return nil, skipped, err
	}
	return events, skipped, nil
}

// Follow tails a capture file, draining existing content first and then
// delivering new events as the writer appends them. The file may not
// exist yet; Follow waits for it to appear. Truncation restarts the read
// from the top. Follow returns when fn fails or the context is done.
func Follow(ctx context.Context, path string, fn func(Event) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}

	// Watch the parent directory. Capture tools often replace the file
	// outright, and a directory watch survives that.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	fw := &follower{}
	defer fw.close()

	if err := fw.open(abs); err != nil {
		return err
	}
	if fw.f != nil {
		if err := fw.drain(fn); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			evAbs, err := filepath.Abs(ev.Name)
			if err != nil || evAbs != abs {
				continue
			}
			if fw.f == nil {
				if err := fw.open(abs); err != nil {
					return err
				}
				if fw.f == nil {
					continue
				}
			}
			if err := fw.drain(fn); err != nil {
				return err
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch events: %w", err)
		}
	}
}

// follower holds tail state between drains.
type follower struct {
	f       *os.File
	offset  int64
	pending []byte
}

// open attaches to the capture file. A missing file is not an error; the
// caller retries on the Create event.
func (fw *follower) open(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open event stream: %w", err)
	}
	fw.f = f
	return nil
}

func (fw *follower) close() {
	if fw.f != nil {
		_ = fw.f.Close()
	}
}

// drain consumes everything appended since the last drain, delivering
// complete lines and holding a trailing partial line for the next write.
func (fw *follower) drain(fn func(Event) error) error {
	info, err := fw.f.Stat()
	if err != nil {
		return fmt.Errorf("stat event stream: %w", err)
	}
	if info.Size() < fw.offset {
		// Truncated; the writer started over.
		if _, err := fw.f.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("rewind event stream: %w", err)
		}
		fw.offset = 0
		fw.pending = fw.pending[:0]
	}

	data, err := io.ReadAll(fw.f)
	if err != nil {
		return fmt.Errorf("read event stream: %w", err)
	}
	fw.offset += int64(len(data))
	fw.pending = append(fw.pending, data...)

	for {
		nl := bytes.IndexByte(fw.pending, '\n')
		if nl < 0 {
			return nil
		}
		line := strings.TrimSpace(string(fw.pending[:nl]))
		fw.pending = fw.pending[nl+1:]

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
}
