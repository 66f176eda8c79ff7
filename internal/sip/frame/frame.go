// Package frame locates message boundaries in a byte stream using the
// protocol terminator. It knows nothing about message semantics.
package frame

import (
	"bufio"
	"errors"
	"io"

	"github.com/circkit/sip2/internal/sip"
)

var (
	// ErrPeerClosed reports a clean zero-byte read: the peer hung up
	// between messages. It is a normal termination condition, not a
	// transport failure.
	ErrPeerClosed      = errors.New("frame: peer closed the connection")
	ErrMessageTooLarge = errors.New("frame: message exceeds size limit")
)

// Limits constrains how much a single framed message may buffer.
type Limits struct {
	MaxMessageBytes int
}

func DefaultLimits() Limits {
	return Limits{MaxMessageBytes: 64 * 1024}
}

// Reader yields terminator-delimited message text from a stream.
type Reader struct {
	r      *bufio.Reader
	limits Limits
}

func NewReader(r io.Reader, limits Limits) *Reader {
	if limits.MaxMessageBytes <= 0 {
		limits = DefaultLimits()
	}
	return &Reader{r: bufio.NewReader(r), limits: limits}
}

// ReadMessage blocks for one complete message and returns its text with
// the terminator stripped. EOF before any bytes is ErrPeerClosed; EOF in
// the middle of a message is an unexpected-EOF transport error. The size
// limit is enforced while reading, so a stream that never produces a
// terminator cannot buffer past it.
func (r *Reader) ReadMessage() (string, error) {
	buf := make([]byte, 0, 64)
	for {
		b, err := r.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if len(buf) == 0 {
					return "", ErrPeerClosed
				}
				return "", io.ErrUnexpectedEOF
			}
			return "", err
		}
		if b == sip.Terminator {
			return string(buf), nil
		}
		buf = append(buf, b)
		if len(buf) >= r.limits.MaxMessageBytes {
			return "", ErrMessageTooLarge
		}
	}
}

// WriteMessage writes one message text followed by the terminator.
func WriteMessage(w io.Writer, text string) error {
	buf := make([]byte, 0, len(text)+1)
	buf = append(buf, text...)
	buf = append(buf, sip.Terminator)
	_, err := w.Write(buf)
	return err
}
