// Package stream turns a chunked response body into the blank-line
// delimited event-records of a server-sent event stream.
package stream

import (
	"errors"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Delimiter separates two event-records on the wire.
const Delimiter = "\n\n"

// Decoder reassembles event-records from arbitrarily split byte chunks.
// It is not safe for concurrent use; one read loop owns it.
type Decoder struct {
	utf8    transform.Transformer
	pending []byte // undecoded tail, at most one incomplete rune
	buf     string // decoded text after the last delimiter
}

// NewDecoder creates a Decoder with an empty buffer.
func NewDecoder() *Decoder {
	return &Decoder{utf8: unicode.UTF8.NewDecoder()}
}

// Feed decodes chunk, appends it to the buffer and returns every record
// completed by it, in order. The text after the last delimiter stays
// buffered for the next call.
func (d *Decoder) Feed(chunk []byte) []string {
	d.buf += d.decode(chunk)
	if !strings.Contains(d.buf, Delimiter) {
		return nil
	}

	parts := strings.Split(d.buf, Delimiter)
	d.buf = parts[len(parts)-1]
	return parts[:len(parts)-1]
}

// Buffered returns the decoded text waiting for a delimiter.
func (d *Decoder) Buffered() string {
	return d.buf
}

// Finish ends the stream and returns the discarded remainder: text that
// never reached a delimiter plus any incomplete trailing rune.
func (d *Decoder) Finish() string {
	rest := d.buf
	if len(d.pending) > 0 {
		rest += strings.ToValidUTF8(string(d.pending), "�")
	}
	d.buf = ""
	d.pending = nil
	d.utf8.Reset()
	return rest
}

// decode runs the incremental UTF-8 decoder over pending+chunk. Bytes of a
// rune cut off at the end of the chunk are held back until the next call.
func (d *Decoder) decode(chunk []byte) string {
	src := append(d.pending, chunk...)
	d.pending = nil
	if len(src) == 0 {
		return ""
	}

	// Invalid bytes expand to a 3-byte U+FFFD each.
	dst := make([]byte, 3*len(src))
	var out strings.Builder
	for len(src) > 0 {
		nDst, nSrc, err := d.utf8.Transform(dst, src, false)
		out.Write(dst[:nDst])
		src = src[nSrc:]

		if errors.Is(err, transform.ErrShortDst) && nSrc > 0 {
			continue
		}
		if errors.Is(err, transform.ErrShortDst) {
			dst = make([]byte, 2*len(dst))
			continue
		}
		break
	}

	if len(src) > 0 {
		d.pending = append([]byte(nil), src...)
	}
	return out.String()
}
