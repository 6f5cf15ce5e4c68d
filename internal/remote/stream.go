package remote

import (
	"bufio"
	"io"
	"sync"
)

const maxLineBytes = 1024 * 1024

// lineWriter serializes whole lines from concurrent readers into one sink, so
// stdout and stderr lines never interleave mid-line and the live stream
// matches the captured transcript.
type lineWriter struct {
	mu   sync.Mutex
	sink io.Writer
}

func newLineWriter(sink io.Writer) *lineWriter {
	return &lineWriter{sink: sink}
}

func (w *lineWriter) writeLine(line []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.sink.Write(line); err != nil {
		return err
	}

	_, err := w.sink.Write([]byte{'\n'})

	return err
}

// forwardLines copies r to the sink line by line, as the lines are produced.
// It returns once r is exhausted.
func forwardLines(r io.Reader, w *lineWriter) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		if err := w.writeLine(scanner.Bytes()); err != nil {
			return err
		}
	}

	return scanner.Err()
}
