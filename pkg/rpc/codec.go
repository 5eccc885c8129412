package rpc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

// DefaultMaxFrameSize bounds a single envelope on the wire. Large payloads
// (blob contents, orchestration histories) travel inside one frame, so the
// cap is generous.
const DefaultMaxFrameSize = 32 * 1024 * 1024

// Encoder writes envelopes to an io.Writer, one JSON document per line.
// It is not safe for concurrent use; the session serializes writers.
type Encoder struct {
	w *bufio.Writer
}

// NewEncoder creates an envelope encoder.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

// Encode writes one envelope and flushes it.
func (e *Encoder) Encode(env Envelope) error {
	if err := env.Validate(); err != nil {
		return fmt.Errorf("invalid envelope: %w", err)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	if _, err := e.w.Write(data); err != nil {
		return fmt.Errorf("failed to write envelope: %w", err)
	}
	if err := e.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write frame delimiter: %w", err)
	}
	if err := e.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush envelope: %w", err)
	}
	return nil
}

// Decoder reads envelopes from an io.Reader.
type Decoder struct {
	r *bufio.Scanner
}

// NewDecoder creates an envelope decoder with the default frame size cap.
func NewDecoder(r io.Reader) *Decoder {
	return NewDecoderSize(r, DefaultMaxFrameSize)
}

// NewDecoderSize creates an envelope decoder with an explicit frame size cap.
func NewDecoderSize(r io.Reader, maxFrameSize int) *Decoder {
	scanner := bufio.NewScanner(r)
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)
	return &Decoder{r: scanner}
}

// Decode reads the next envelope. It returns io.EOF when the stream ends
// cleanly between frames.
func (d *Decoder) Decode() (Envelope, error) {
	if !d.r.Scan() {
		if err := d.r.Err(); err != nil {
			return Envelope{}, fmt.Errorf("frame read error: %w", err)
		}
		return Envelope{}, io.EOF
	}
	line := d.r.Bytes()
	if len(line) == 0 {
		return Envelope{}, fmt.Errorf("empty frame")
	}
	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return Envelope{}, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, fmt.Errorf("invalid envelope: %w", err)
	}
	return env, nil
}
