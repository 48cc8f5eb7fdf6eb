// Package csvsink implements the single serialized CSV writer that
// every worker's emitted Records flow into. encoding/csv cannot
// express a configurable escape byte, an arbitrary terminator rune,
// and flexible field counts all at once (it only exposes Comma and
// UseCRLF), so the RFC 4180 field-quoting logic here is hand-rolled
// over a buffered writer, the same shape as the original's
// csv::WriterBuilder.
package csvsink

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/amosweiskopf/sws/internal/errs"
)

// Record is an ordered, growable sequence of string fields.
type Record struct {
	fields []string
}

// NewRecord returns an empty Record.
func NewRecord() *Record { return &Record{} }

// PushField appends a field to the record.
func (r *Record) PushField(field string) {
	r.fields = append(r.fields, field)
}

// Fields returns the record's fields in emission order.
func (r *Record) Fields() []string { return r.fields }

// Terminator is either CRLF or an arbitrary single rune.
type Terminator struct {
	CRLF bool
	Char rune
}

// CRLFTerminator is the canonical CRLF terminator.
func CRLFTerminator() Terminator { return Terminator{CRLF: true} }

// AnyTerminator builds a terminator from an arbitrary rune.
func AnyTerminator(c rune) Terminator { return Terminator{Char: c} }

func (t Terminator) bytes() []byte {
	if t.CRLF {
		return []byte("\r\n")
	}
	return []byte(string(t.Char))
}

// OutputMode selects how the destination file is opened.
type OutputMode int

const (
	// CreateNew fails if the output file already exists.
	CreateNew OutputMode = iota
	// Append writes after any existing content.
	Append
	// Truncate overwrites any existing content.
	Truncate
)

// Config holds the CSV Sink's formatting knobs.
type Config struct {
	Delimiter  rune
	Escape     rune // used only when HasEscape is set
	HasEscape  bool // false means double-quote escaping
	Flexible   bool
	Terminator Terminator
}

// DefaultConfig matches the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		Delimiter:  ',',
		HasEscape:  false,
		Flexible:   false,
		Terminator: AnyTerminator('\n'),
	}
}

// Sink is the single writer every worker's Records flow into, safely
// shared behind a mutex.
type Sink struct {
	cfg Config
	mu  sync.Mutex
	w   *bufio.Writer
	c   io.Closer

	haveFirstRowWidth bool
	firstRowWidth     int
}

// Open resolves the output target (stdout, or a file opened per mode)
// and returns a ready Sink.
func Open(path string, mode OutputMode, cfg Config) (*Sink, error) {
	if path == "" || path == "-" {
		return &Sink{cfg: cfg, w: bufio.NewWriter(os.Stdout)}, nil
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &errs.SinkError{Msg: fmt.Sprintf("create directory %q", dir), Err: err}
		}
	}

	var flags int
	switch mode {
	case CreateNew:
		flags = os.O_CREATE | os.O_EXCL | os.O_WRONLY
	case Append:
		flags = os.O_CREATE | os.O_APPEND | os.O_WRONLY
	case Truncate:
		flags = os.O_CREATE | os.O_TRUNC | os.O_WRONLY
	default:
		return nil, errs.NewConfigError("unknown output mode %d", mode)
	}

	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, &errs.SinkError{Msg: fmt.Sprintf("open %q", path), Err: err}
	}

	return &Sink{cfg: cfg, w: bufio.NewWriter(f), c: f}, nil
}

// WriteRecord serializes and appends one record, in arrival order
// across all callers. Partial rows are never written: the whole row
// is rendered into a buffer before any bytes reach the underlying
// writer.
func (s *Sink) WriteRecord(r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fields := r.Fields()
	if !s.haveFirstRowWidth {
		s.haveFirstRowWidth = true
		s.firstRowWidth = len(fields)
	} else if !s.cfg.Flexible && len(fields) != s.firstRowWidth {
		return &errs.SinkError{Msg: fmt.Sprintf(
			"row has %d fields, expected %d (flexible=false)", len(fields), s.firstRowWidth)}
	}

	var line strings.Builder
	for i, field := range fields {
		if i > 0 {
			line.WriteRune(s.cfg.Delimiter)
		}
		s.writeField(&line, field)
	}
	line.Write(s.cfg.Terminator.bytes())

	if _, err := s.w.WriteString(line.String()); err != nil {
		return &errs.SinkError{Msg: "write record", Err: err}
	}
	return nil
}

func (s *Sink) writeField(b *strings.Builder, field string) {
	quoteChar := `"`
	if s.cfg.HasEscape {
		quoteChar = string(s.cfg.Escape)
	}

	needsQuoting := strings.ContainsRune(field, s.cfg.Delimiter) ||
		strings.ContainsAny(field, "\r\n") ||
		strings.Contains(field, quoteChar)
	if !needsQuoting {
		b.WriteString(field)
		return
	}

	b.WriteString(quoteChar)
	if s.cfg.HasEscape {
		// The escape char stands in for the quote char: it wraps the
		// field, and each escape char inside the field is prefixed
		// with another one.
		for _, r := range field {
			if string(r) == quoteChar {
				b.WriteString(quoteChar)
			}
			b.WriteRune(r)
		}
	} else {
		// Double-quote escaping (RFC 4180): a quote doubles itself.
		b.WriteString(strings.ReplaceAll(field, quoteChar, quoteChar+quoteChar))
	}
	b.WriteString(quoteChar)
}

// Flush flushes any buffered bytes without closing the sink.
func (s *Sink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Flush()
}

// Close flushes and closes the underlying file, if any (stdout is
// flushed but left open).
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Flush(); err != nil {
		return &errs.SinkError{Msg: "flush on close", Err: err}
	}
	if s.c != nil {
		return s.c.Close()
	}
	return nil
}
