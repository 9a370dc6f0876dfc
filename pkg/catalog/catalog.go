// Package catalog reads mix definition tables: one CSV row per training
// example naming the speech clip, noise clip, noise window, the two room
// impulse responses and the target SNR.
package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// Column names.
const (
	ColSpeech     = "speech"
	ColNoise      = "noise"
	ColSpeechRIR  = "speech_RIR"
	ColNoiseRIR   = "noise_RIR"
	ColSNR        = "SNR"
	ColNoiseStart = "noise_start"
	ColNoiseEnd   = "noise_end"
)

var requiredColumns = []string{ColSpeech, ColNoise, ColSpeechRIR, ColNoiseRIR, ColSNR, ColNoiseStart, ColNoiseEnd}

// Errors.
var (
	ErrMissingColumn = errors.New("catalog: missing column")
	ErrInvalidValue  = errors.New("catalog: invalid value")
)

// Row is one mix definition. Noise bounds are sample indices at the
// target sample rate.
type Row struct {
	Index      int // 1-based position among data rows
	Line       int // line in the source file
	Speech     string
	Noise      string
	SpeechRIR  string
	NoiseRIR   string
	SNR        float64
	NoiseStart int64
	NoiseEnd   int64

	// Err is set when the row's values are malformed; the other fields
	// hold what parsed before the first bad column.
	Err error
}

// NoiseWindow returns the noise offset and duration in seconds at sampleRate.
func (r Row) NoiseWindow(sampleRate int) (offset, duration float64) {
	fs := float64(sampleRate)
	return float64(r.NoiseStart) / fs, float64(r.NoiseEnd-r.NoiseStart) / fs
}

func (r Row) String() string {
	return fmt.Sprintf("row %d (%s + %s @ %g dB)", r.Index, r.Speech, r.Noise, r.SNR)
}

// ParseError locates a malformed catalog line.
type ParseError struct {
	Line   int
	Column string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("catalog: line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("catalog: line %d, column %s: %v", e.Line, e.Column, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ReadFile reads the catalog at path.
func ReadFile(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

// Read parses a catalog. The first record is the header; columns may
// appear in any order and unknown columns are ignored. Header and CSV
// syntax errors fail the whole read. A row with a malformed value is kept
// with Err set to a *ParseError so the batch can count it and move on.
func Read(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, &ParseError{Line: 1, Err: fmt.Errorf("%w: empty catalog", ErrMissingColumn)}
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if _, dup := cols[name]; !dup {
			cols[name] = i
		}
	}
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			return nil, &ParseError{Line: 1, Column: name, Err: ErrMissingColumn}
		}
	}

	var rows []Row
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("catalog: %w", err)
		}
		line, _ := cr.FieldPos(0)

		if blank(rec) {
			continue
		}

		row, err := parseRow(rec, cols, line)
		row.Err = err
		row.Index = len(rows) + 1
		rows = append(rows, row)
	}
	return rows, nil
}

func blank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func parseRow(rec []string, cols map[string]int, line int) (Row, error) {
	field := func(name string) (string, error) {
		i := cols[name]
		if i >= len(rec) {
			return "", &ParseError{Line: line, Column: name, Err: fmt.Errorf("%w: field missing", ErrInvalidValue)}
		}
		return strings.TrimSpace(rec[i]), nil
	}
	text := func(name string) (string, error) {
		v, err := field(name)
		if err == nil && v == "" {
			err = &ParseError{Line: line, Column: name, Err: fmt.Errorf("%w: empty", ErrInvalidValue)}
		}
		return v, err
	}
	number := func(name string) (float64, error) {
		v, err := text(name)
		if err != nil {
			return 0, err
		}
		f, perr := strconv.ParseFloat(v, 64)
		if perr != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, &ParseError{Line: line, Column: name, Err: fmt.Errorf("%w: %q is not a finite number", ErrInvalidValue, v)}
		}
		return f, nil
	}
	sample := func(name string) (int64, error) {
		f, err := number(name)
		if err != nil {
			return 0, err
		}
		if f < 0 || f != math.Trunc(f) || f > math.MaxInt64/2 {
			return 0, &ParseError{Line: line, Column: name, Err: fmt.Errorf("%w: %v is not a sample index", ErrInvalidValue, f)}
		}
		return int64(f), nil
	}

	var (
		row Row
		err error
	)
	row.Line = line
	if row.Speech, err = text(ColSpeech); err != nil {
		return row, err
	}
	if row.Noise, err = text(ColNoise); err != nil {
		return row, err
	}
	if row.SpeechRIR, err = text(ColSpeechRIR); err != nil {
		return row, err
	}
	if row.NoiseRIR, err = text(ColNoiseRIR); err != nil {
		return row, err
	}
	if row.SNR, err = number(ColSNR); err != nil {
		return row, err
	}
	if row.NoiseStart, err = sample(ColNoiseStart); err != nil {
		return row, err
	}
	if row.NoiseEnd, err = sample(ColNoiseEnd); err != nil {
		return row, err
	}
	if row.NoiseEnd <= row.NoiseStart {
		return row, &ParseError{Line: line, Column: ColNoiseEnd, Err: fmt.Errorf("%w: noise window [%d, %d) is empty", ErrInvalidValue, row.NoiseStart, row.NoiseEnd)}
	}
	return row, nil
}
