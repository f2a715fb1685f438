// Package report writes the results of a run: the summary CSV, the error
// log, and the per-discriminant artifact files under the data directory.
package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/uyen-nguyen-190304/GRH-verification/internal/verify"
)

// SummaryFile is the name of the summary CSV inside the output directory.
const SummaryFile = "summary.csv"

var summaryHeader = []string{"d", "eta", "n_used", "success"}

// Summary appends one CSV row per verified discriminant. Rows are flushed
// as they are written so that an interrupted run keeps its results.
type Summary struct {
	mu      sync.Mutex
	file    *os.File
	writer  *csv.Writer
	written atomic.Int64
}

// OpenSummary opens dir/summary.csv for appending, writing the header if
// the file is new.
func OpenSummary(dir string) (*Summary, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(dir, SummaryFile)
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open summary file: %w", err)
	}

	s := &Summary{file: file, writer: csv.NewWriter(file)}
	if stat, err := file.Stat(); err == nil && stat.Size() == 0 {
		if err := s.writer.Write(summaryHeader); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
		s.writer.Flush()
	}
	return s, nil
}

// Record writes the row for one outcome.
func (s *Summary) Record(out verify.Outcome) error {
	eta := ""
	if out.Eta != nil {
		eta = out.Eta.String()
	}
	record := []string{
		strconv.FormatInt(out.D, 10),
		eta,
		strconv.Itoa(out.NUsed),
		strconv.FormatBool(out.Success),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writer.Write(record); err != nil {
		return fmt.Errorf("failed to write summary record: %w", err)
	}
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		return fmt.Errorf("failed to flush summary file: %w", err)
	}
	s.written.Add(1)
	return nil
}

// Written returns the number of rows recorded by this process.
func (s *Summary) Written() int64 { return s.written.Load() }

// Close flushes and closes the file.
func (s *Summary) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writer.Flush()
	werr := s.writer.Error()
	cerr := s.file.Close()
	if werr != nil {
		return fmt.Errorf("failed to flush summary file: %w", werr)
	}
	if cerr != nil {
		return fmt.Errorf("failed to close summary file: %w", cerr)
	}
	return nil
}

// CompletedDiscriminants reads an existing summary and returns every d that
// already has a row. A missing file yields an empty set.
func CompletedDiscriminants(dir string) (map[int64]bool, error) {
	done := make(map[int64]bool)
	file, err := os.Open(filepath.Join(dir, SummaryFile))
	if errors.Is(err, fs.ErrNotExist) {
		return done, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open summary file: %w", err)
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1
	for line := 1; ; line++ {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read summary line %d: %w", line, err)
		}
		if len(record) == 0 || record[0] == summaryHeader[0] {
			continue
		}
		d, err := strconv.ParseInt(record[0], 10, 64)
		if err != nil {
			// A row cut short by a crash; the discriminant is redone.
			continue
		}
		done[d] = true
	}
	return done, nil
}
