package output

import (
	"bytes"
	"io"
	"sync"
	"time"
)

// Printer defines the progress output interface.
type Printer interface {
	Printf(format string, args ...any)
	PersistentPrintf(format string, args ...any)
	Okf(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Debugf(format string, args ...any)
	DebugSincef(startTime time.Time, format string, args ...any)
}

// Printf proxies formatted output to the printer.
func Printf(printer Printer, format string, args ...any) {
	if printer == nil {
		return
	}
	printer.Printf(format, args...)
}

// PersistentPrintf proxies persistent output to the printer.
func PersistentPrintf(printer Printer, format string, args ...any) {
	if printer == nil {
		return
	}
	printer.PersistentPrintf(format, args...)
}

// Nop discards everything. Useful for tests and quiet library use.
type Nop struct{}

func (Nop) Printf(string, ...any)                 {}
func (Nop) PersistentPrintf(string, ...any)       {}
func (Nop) Okf(string, ...any)                    {}
func (Nop) Warnf(string, ...any)                  {}
func (Nop) Errorf(string, ...any)                 {}
func (Nop) Debugf(string, ...any)                 {}
func (Nop) DebugSincef(time.Time, string, ...any) {}

// LineWriter forwards each complete line written to it to the printer's debug output.
type LineWriter struct {
	mu      sync.Mutex
	printer Printer
	prefix  string
	buf     bytes.Buffer
}

// NewLineWriter returns an io.WriteCloser that logs lines with prefix.
func NewLineWriter(printer Printer, prefix string) *LineWriter {
	return &LineWriter{printer: printer, prefix: prefix}
}

// Write buffers payload and emits every complete line.
func (w *LineWriter) Write(payload []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(payload)
	for {
		line, err := w.buf.ReadString('\n')
		if err == io.EOF {
			// keep the partial line for the next write
			w.buf.WriteString(line)
			break
		}
		w.emit(line[:len(line)-1])
	}
	return len(payload), nil
}

// Close flushes a trailing partial line.
func (w *LineWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.emit(w.buf.String())
		w.buf.Reset()
	}
	return nil
}

func (w *LineWriter) emit(line string) {
	if line == "" || w.printer == nil {
		return
	}
	w.printer.Debugf("%s%s", w.prefix, line)
}
