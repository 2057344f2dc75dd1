package status

import (
	"errors"
	"fmt"
	"sync"

	fileutil "gcodesync/internal/file"

	"github.com/rs/zerolog/log"
)

// Status is the liveness flag read by the HMI.
type Status string

const (
	OK    Status = "OK"
	Error Status = "ERROR"
)

// Reporter publishes the sync status. Report never fails; implementations
// log what they could not persist.
type Reporter interface {
	Report(s Status)
}

// FileReporter writes the flag as the whole content of a single file.
type FileReporter struct {
	path string

	mu   sync.Mutex
	last Status
}

func NewFileReporter(path string) *FileReporter {
	return &FileReporter{path: path}
}

// Path returns the status file location.
func (r *FileReporter) Path() string { return r.path }

// Last returns the most recently reported status, even if persisting it failed.
func (r *FileReporter) Last() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Write replaces the file content with exactly s.
func (r *FileReporter) Write(s Status) error {
	if s != OK && s != Error {
		return fmt.Errorf("invalid status %q", s)
	}
	if r.path == "" {
		return errors.New("empty status file path")
	}
	if err := fileutil.WriteAtomic(r.path, []byte(s)); err != nil {
		return fmt.Errorf("write status file: %w", err)
	}
	return nil
}

// Report writes s and swallows any failure after logging it.
func (r *FileReporter) Report(s Status) {
	r.mu.Lock()
	r.last = s
	r.mu.Unlock()

	if err := r.Write(s); err != nil {
		log.Error().Err(err).Str("path", r.path).Str("status", string(s)).Msg("status flag not persisted")
		return
	}
	log.Debug().Str("path", r.path).Str("status", string(s)).Msg("status flag written")
}
