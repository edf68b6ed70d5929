// Package runlog writes the per-channel text logs of a run. Each channel is
// an append-only file of plain lines an operator can use to retry by hand.
package runlog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

type Channel string

const (
	Download           Channel = "download"
	DownloadFailed     Channel = "err_download"
	ImportFailed       Channel = "err_import"
	MissingDefaultHost Channel = "err_downloading_reference"
	OtherError         Channel = "err_other"
	Deduplication      Channel = "deduplication"
)

// ImportChannels are flushed at the start of every import run.
var ImportChannels = []Channel{Download, DownloadFailed, ImportFailed, MissingDefaultHost, OtherError}

const (
	filePrefix    = "imagedownloader__"
	fileExtension = ".log"
)

type Sink struct {
	dir    string
	suffix string

	mu     sync.Mutex
	files  map[Channel]*os.File
	counts map[Channel]int
}

// New creates a sink writing into dir. A non-empty suffix (the active post
// ID range, e.g. "100-200") is appended to every file name so parallel runs
// over different ranges do not share logs.
func New(dir, suffix string) *Sink {
	return &Sink{
		dir:    dir,
		suffix: suffix,
		files:  make(map[Channel]*os.File),
		counts: make(map[Channel]int),
	}
}

// Path returns the file backing channel.
func (s *Sink) Path(channel Channel) string {
	name := filePrefix + string(channel)
	if s.suffix != "" {
		name += "_" + s.suffix
	}
	return filepath.Join(s.dir, name+fileExtension)
}

// Flush deletes previous logs of the given channels.
func (s *Sink) Flush(channels ...Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ch := range channels {
		if f, ok := s.files[ch]; ok {
			f.Close()
			delete(s.files, ch)
		}
		s.counts[ch] = 0
		if err := os.Remove(s.Path(ch)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("flush log %s: %w", ch, err)
		}
	}
	return nil
}

// Log appends one line to channel. Write errors are returned to the
// caller but never leave the sink unusable.
func (s *Sink) Log(channel Channel, format string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[channel]
	if !ok {
		if err := os.MkdirAll(s.dir, 0o755); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
		var err error
		f, err = os.OpenFile(s.Path(channel), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log %s: %w", channel, err)
		}
		s.files[channel] = f
	}

	line := strings.TrimRight(fmt.Sprintf(format, args...), "\n") + "\n"
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("write log %s: %w", channel, err)
	}
	s.counts[channel]++
	return nil
}

// Count returns how many lines were logged to channel during this run.
func (s *Sink) Count(channel Channel) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[channel]
}

func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for ch, f := range s.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.files, ch)
	}
	return firstErr
}
