package utils

import (
	"bytes"
	"io"
	"sync"

	"github.com/fatih/color"
)

// MaxPrefixNameLength bounds the job name shown in front of every output line.
const MaxPrefixNameLength = 24

var prefixColors = []color.Attribute{color.FgYellow, color.FgGreen, color.FgCyan, color.FgMagenta, color.FgBlue, color.FgWhite}

var (
	prefixColorLock  sync.Mutex
	prefixColorIndex = -1
)

type flusher interface {
	Flush() error
}

// PrefixedWriter prefixes each complete line written to it with a coloured job name.
type PrefixedWriter struct {
	name    string
	target  io.Writer
	painter *color.Color
	lock    *sync.Mutex
	pending bytes.Buffer
}

// NewPrefixedWriter builds a PrefixedWriter. Writers created with the same lock serialise their lines.
func NewPrefixedWriter(name string, target io.Writer, lock *sync.Mutex) *PrefixedWriter {
	prefixColorLock.Lock()
	prefixColorIndex = (prefixColorIndex + 1) % len(prefixColors)
	attribute := prefixColors[prefixColorIndex]
	prefixColorLock.Unlock()

	if nameRunes := []rune(name); len(nameRunes) > MaxPrefixNameLength {
		name = string(nameRunes[:MaxPrefixNameLength-3]) + "..."
	}
	if lock == nil {
		lock = &sync.Mutex{}
	}

	return &PrefixedWriter{
		name:    name,
		target:  target,
		painter: color.New(attribute),
		lock:    lock,
	}
}

// Write buffers partial lines and emits complete ones with the prefix.
func (writer *PrefixedWriter) Write(data []byte) (int, error) {
	writer.lock.Lock()
	defer writer.lock.Unlock()

	writer.pending.Write(data)
	for {
		line, readError := writer.pending.ReadBytes('\n')
		if readError != nil {
			writer.pending.Reset()
			writer.pending.Write(line)
			break
		}
		if emitError := writer.emit(line); emitError != nil {
			return len(data), emitError
		}
	}
	return len(data), nil
}

// Flush emits any buffered partial line.
func (writer *PrefixedWriter) Flush() error {
	writer.lock.Lock()
	defer writer.lock.Unlock()

	if writer.pending.Len() == 0 {
		return nil
	}
	line := append(writer.pending.Bytes(), '\n')
	writer.pending.Reset()
	return writer.emit(line)
}

func (writer *PrefixedWriter) emit(line []byte) error {
	if _, prefixError := writer.painter.Fprint(writer.target, writer.name, " | "); prefixError != nil {
		return prefixError
	}
	if _, lineError := writer.target.Write(line); lineError != nil {
		return lineError
	}
	if flushable, ok := writer.target.(flusher); ok {
		return flushable.Flush()
	}
	return nil
}
