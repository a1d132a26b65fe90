package actions

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/greeddj/dagger-cache/internal/dagger/helpers"
)

// Output names published for later job steps.
const (
	OutputCacheHit        = "cache-hit"
	OutputVersion         = "dagger-version"
	OutputCacheKey        = "cache-key"
	OutputCacheMatchedKey = "cache-matched-key"
)

// Writer appends key/value pairs to the runner's command files.
// A Writer with empty paths only records values in memory.
type Writer struct {
	outputPath string
	envPath    string
	outputs    map[string]string
	env        map[string]string
}

// NewWriter returns a Writer for the GITHUB_OUTPUT and GITHUB_ENV files.
func NewWriter(outputPath, envPath string) *Writer {
	return &Writer{
		outputPath: strings.TrimSpace(outputPath),
		envPath:    strings.TrimSpace(envPath),
		outputs:    map[string]string{},
		env:        map[string]string{},
	}
}

// SetOutput publishes a step output.
func (w *Writer) SetOutput(name, value string) error {
	w.outputs[name] = value
	return appendPair(w.outputPath, name, value)
}

// ExportEnv exports a variable to the following steps.
func (w *Writer) ExportEnv(name, value string) error {
	w.env[name] = value
	return appendPair(w.envPath, name, value)
}

// Outputs returns the outputs set so far.
func (w *Writer) Outputs() map[string]string {
	return w.outputs
}

// Env returns the variables exported so far.
func (w *Writer) Env() map[string]string {
	return w.env
}

// appendPair writes name<<delim value delim, which is safe for any value.
func appendPair(path, name, value string) error {
	if path == "" {
		return nil
	}
	if strings.ContainsAny(name, "\r\n=") || name == "" {
		return fmt.Errorf("invalid name %q", name)
	}
	delim := "ghadelimiter_" + uuid.NewString()
	//nolint:gosec // path comes from the runner environment.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, helpers.FileMod)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(f, "%s<<%s\n%s\n%s\n", name, delim, value, delim); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
