package stream

import (
	"errors"
	"fmt"
	"io"
	"iter"
)

// defaultChunkSize is the read size for a single network chunk.
const defaultChunkSize = 4096

// Reader pulls chunks from a response body and hands out complete
// event-records one at a time. The next chunk is only read once every
// record of the previous one has been consumed.
type Reader struct {
	src       io.Reader
	dec       *Decoder
	chunk     []byte
	queue     []string
	discarded string
	err       error
}

// NewReader creates a Reader over src.
func NewReader(src io.Reader) *Reader {
	return &Reader{
		src:   src,
		dec:   NewDecoder(),
		chunk: make([]byte, defaultChunkSize),
	}
}

// Next returns the next complete record. It returns io.EOF once the
// source is exhausted; trailing text without a delimiter is dropped and
// available from Discarded. Any other error is a transport failure.
func (r *Reader) Next() (string, error) {
	for len(r.queue) == 0 {
		if r.err != nil {
			return "", r.err
		}

		n, err := r.src.Read(r.chunk)
		if n > 0 {
			r.queue = append(r.queue, r.dec.Feed(r.chunk[:n])...)
		}

		switch {
		case errors.Is(err, io.EOF):
			r.discarded = r.dec.Finish()
			r.err = io.EOF
		case err != nil:
			r.err = fmt.Errorf("reading event stream: %w", err)
		}
	}

	rec := r.queue[0]
	r.queue = r.queue[1:]
	return rec, nil
}

// Discarded returns the delimiter-less remainder dropped at end of
// stream. It is empty until Next has returned io.EOF.
func (r *Reader) Discarded() string {
	return r.discarded
}

// Records returns a single-use iterator over the remaining records. A
// transport failure is yielded once as the final element; a clean end of
// stream simply stops the iteration.
func (r *Reader) Records() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for {
			rec, err := r.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield("", err)
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}
