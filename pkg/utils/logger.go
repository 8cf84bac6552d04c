package utils

import (
	"bytes"
	"io"
	"sync"

	"github.com/fatih/color"
)

var colors = []color.Attribute{color.FgYellow, color.FgGreen, color.FgCyan, color.FgWhite, color.FgMagenta}

var (
	l     sync.Mutex
	index = -1
)

const MaxNameLength = 24

// PrefixWriter is an io.Writer that prefixes every line with a colored
// name, used to interleave streamed output from build steps.
type PrefixWriter struct {
	name   string
	writer io.Writer
	c      color.Attribute
}

// NewPrefixWriter returns a writer that prefixes each line written to it
// with name. If newColor is true the prefix is assigned the next color in
// a fixed rotation, otherwise it reuses the most recent one.
func NewPrefixWriter(name string, writer io.Writer, newColor bool) io.Writer {
	l.Lock()
	defer l.Unlock()
	if newColor || index < 0 {
		index = (index + 1) % len(colors)
	}

	if len(name) > MaxNameLength {
		name = name[:MaxNameLength-3] + "..."
	}

	return &PrefixWriter{
		name:   name,
		writer: writer,
		c:      colors[index],
	}
}

// Write forwards b line by line, each prefixed with the writer's name.
// The returned count covers only bytes of b actually accepted downstream;
// prefix bytes are not counted.
func (p *PrefixWriter) Write(b []byte) (int, error) {
	out := color.New(p.c)
	written := 0
	for _, line := range bytes.SplitAfter(b, []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		if _, err := out.Fprintf(p.writer, "%s | ", p.name); err != nil {
			return written, err
		}
		n, err := p.writer.Write(line)
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}
