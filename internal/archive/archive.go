package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// Result describes the outcome of adding a single program to the bundle
type Result struct {
	Filename string `json:"filename"`
	Err      string `json:"error,omitempty"`
}

var ErrNoFiles = errors.New("no files to archive")

// Write streams a zip of the named files in dir into w. It always returns a
// results slice of the same length as names; files that cannot be read are
// reported in Result.Err and omitted from the archive.
func Write(w io.Writer, dir string, names []string) ([]Result, error) {
	if len(names) == 0 {
		return nil, ErrNoFiles
	}

	zipWriter := zip.NewWriter(w)
	results := make([]Result, len(names))
	for i, name := range names {
		results[i] = addFile(zipWriter, dir, name)
	}

	if err := zipWriter.Close(); err != nil {
		log.Error().Err(err).Msg("closing zip writer failed")
		return results, fmt.Errorf("close zip writer: %w", err)
	}
	return results, nil
}

// addFile copies dir/name into the zip under its base name.
func addFile(zipWriter *zip.Writer, dir, name string) Result {
	base := filepath.Base(name)
	result := Result{Filename: base}

	src, err := os.Open(filepath.Join(dir, base)) //nolint:gosec // names come from a listing of dir
	if err != nil {
		result.Err = err.Error()
		log.Warn().Str("file", base).Err(err).Msg("open program failed")
		return result
	}
	defer func() { _ = src.Close() }()

	info, err := src.Stat()
	if err != nil {
		result.Err = err.Error()
		return result
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		result.Err = err.Error()
		return result
	}
	header.Name = base
	header.Method = zip.Deflate

	entry, err := zipWriter.CreateHeader(header)
	if err != nil {
		result.Err = err.Error()
		log.Warn().Str("file", base).Err(err).Msg("zip entry create failed")
		return result
	}
	if _, err := io.Copy(entry, src); err != nil {
		result.Err = err.Error()
		log.Warn().Str("file", base).Err(err).Msg("copy into zip failed")
	}
	return result
}
