/*
	Package cuber runs the external knossos_cuber tool that converts a directory of image
	slices into a pyramid of KNOSSOS cubes.  The tool is opaque to this module: it is
	invoked once and its exit status is only reported.
*/
package cuber

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/janelia-flyem/n5knossos/core"
)

const DefaultBinary = "knossos_cuber"

// Config describes one cuber invocation.
type Config struct {
	// Binary is the cuber executable name or path.  Defaults to DefaultBinary.
	Binary string

	// Format is the slice image format, e.g., "png" or "tif".
	Format string

	// ConfigPath is the cuber's own configuration file.
	ConfigPath string

	StackDir  string
	OutputDir string

	// ExtraArgs are inserted before the positional directory arguments.
	ExtraArgs []string

	// Strict makes a failed or unstartable cuber an error of Run.
	Strict bool
}

// Result of a cuber run.  ExitCode is -1 if the process could not be run.
type Result struct {
	ExitCode int
	Duration time.Duration
}

// Args returns the command line arguments given to the cuber.
func (c Config) Args() []string {
	args := []string{"-f", c.Format, "-c", c.ConfigPath}
	args = append(args, c.ExtraArgs...)
	return append(args, c.StackDir, c.OutputDir)
}

// Run creates the output directory and invokes the cuber, streaming its output to the
// log.  A failing cuber is logged; it is returned as an error only if Strict is set.
func Run(ctx context.Context, c Config) (Result, error) {
	result := Result{ExitCode: -1}
	if c.Binary == "" {
		c.Binary = DefaultBinary
	}
	if c.Format == "" {
		c.Format = "png"
	}
	if err := os.MkdirAll(c.OutputDir, 0755); err != nil {
		return result, fmt.Errorf("can't create cube directory %q: %v", c.OutputDir, err)
	}

	cmd := exec.CommandContext(ctx, c.Binary, c.Args()...)
	out := &lineLogger{prefix: c.Binary}
	cmd.Stdout = out
	cmd.Stderr = out
	core.Infof("Running %s\n", cmd)

	start := time.Now()
	err := cmd.Run()
	out.flush()
	result.Duration = time.Since(start)

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		result.ExitCode = 0
		core.Infof("%s finished in %s\n", c.Binary, result.Duration)
		return result, nil
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	}
	if c.Strict {
		return result, fmt.Errorf("%s failed: %w", c.Binary, err)
	}
	core.Warningf("%s failed after %s (exit code %d): %v\n", c.Binary, result.Duration, result.ExitCode, err)
	return result, nil
}

// lineLogger logs each complete line written to it.
type lineLogger struct {
	prefix string

	mu  sync.Mutex
	buf bytes.Buffer
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf.Write(p)
	for {
		i := bytes.IndexByte(l.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := l.buf.Next(i + 1)
		core.Infof("[%s] %s", l.prefix, line)
	}
	return len(p), nil
}

func (l *lineLogger) flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.buf.Len() > 0 {
		core.Infof("[%s] %s\n", l.prefix, l.buf.String())
		l.buf.Reset()
	}
}
