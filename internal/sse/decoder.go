// Package sse decodes text/event-stream bodies into frames and classifies
// frame payloads for the streaming session.
package sse

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// Frame is one dispatched event-stream frame.
type Frame struct {
	Event string
	ID    string
	// Data is the concatenation of the frame's data lines, joined with "\n".
	Data string
}

// Decoder reads frames from an event-stream body.
// A Decoder is not safe for concurrent use.
type Decoder struct {
	r        *bufio.Reader
	started  bool
	finished bool

	event   string
	id      string
	data    strings.Builder
	hasData bool
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 4096)}
}

// Next returns the next frame carrying at least one data line.
//
// Frames may span any number of underlying reads. When the body ends, a
// pending frame without a trailing blank line is still returned, and the
// following call returns io.EOF. Any other read error is returned unchanged.
func (d *Decoder) Next() (Frame, error) {
	if d.finished {
		return Frame{}, io.EOF
	}

	for {
		line, err := d.r.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return Frame{}, err
		}
		eof := err != nil

		if line != "" {
			if frame, ok := d.processLine(line); ok {
				return frame, nil
			}
		}

		if eof {
			d.finished = true
			if d.hasData {
				return d.dispatch(), nil
			}
			return Frame{}, io.EOF
		}
	}
}

// processLine applies one line to the pending frame. It reports a frame when
// the line is the blank separator closing a frame with data.
func (d *Decoder) processLine(line string) (Frame, bool) {
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")

	if !d.started {
		d.started = true
		line = strings.TrimPrefix(line, "\uFEFF")
	}

	if line == "" {
		if d.hasData {
			return d.dispatch(), true
		}
		d.reset()
		return Frame{}, false
	}

	if strings.HasPrefix(line, ":") {
		return Frame{}, false
	}

	field, value, found := strings.Cut(line, ":")
	if found {
		value = strings.TrimPrefix(value, " ")
	}

	switch field {
	case "data":
		if d.hasData {
			d.data.WriteByte('\n')
		}
		d.data.WriteString(value)
		d.hasData = true
	case "event":
		d.event = value
	case "id":
		// Ids containing NUL are ignored by the event-stream format.
		if !strings.ContainsRune(value, 0) {
			d.id = value
		}
	}
	// retry and unknown fields are ignored; reconnection is not supported.
	return Frame{}, false
}

func (d *Decoder) dispatch() Frame {
	frame := Frame{
		Event: d.event,
		ID:    d.id,
		Data:  d.data.String(),
	}
	d.reset()
	return frame
}

func (d *Decoder) reset() {
	d.event = ""
	d.id = ""
	d.data.Reset()
	d.hasData = false
}
