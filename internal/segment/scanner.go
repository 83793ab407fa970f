package segment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// DefaultChunkSize is the read size used when Config.ChunkSize is zero.
const DefaultChunkSize = 64 * 1024

// DefaultLabels are the speaker labels recognized out of the box.
var DefaultLabels = []string{"Me", "Assistant", "User", "System"}

// Config controls boundary recognition and chunking.
type Config struct {
	// Labels are recognized case-insensitively as "Label:" at line start.
	Labels []string
	// AnyLabel also accepts any identifier-like token followed by a colon.
	AnyLabel bool
	// ChunkSize is the number of bytes read per step.
	ChunkSize int
}

// DefaultConfig returns the built-in parser configuration.
func DefaultConfig() Config {
	labels := make([]string, len(DefaultLabels))
	copy(labels, DefaultLabels)
	return Config{Labels: labels, AnyLabel: true, ChunkSize: DefaultChunkSize}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.ChunkSize < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidChunkSize, c.ChunkSize)
	}
	if !c.AnyLabel {
		n := 0
		for _, l := range c.Labels {
			if strings.TrimSpace(l) != "" {
				n++
			}
		}
		if n == 0 {
			return ErrNoLabels
		}
	}
	return nil
}

// Segment is one parsed turn-group. Offsets are byte offsets, End exclusive.
type Segment struct {
	Start   int
	End     int
	Content string
	// Label is the speaker on the boundary line, empty for a bare timestamp.
	Label string
}

// Len returns the byte length of the segment.
func (s Segment) Len() int {
	return s.End - s.Start
}

// Stats describes one Scan run.
type Stats struct {
	Bytes    int64
	Chunks   int
	Segments int
	// MaxBuffered is the high-water mark of bytes held by the scanner.
	MaxBuffered int
}

// Scanner splits transcripts into segments. A Scanner holds no per-run state
// and is safe for concurrent use.
type Scanner struct {
	cfg     Config
	matcher *Matcher
}

// NewScanner validates cfg and returns a Scanner.
func NewScanner(cfg Config) (*Scanner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	return &Scanner{cfg: cfg, matcher: NewMatcher(cfg)}, nil
}

// Matcher returns the boundary matcher used by the scanner.
func (s *Scanner) Matcher() *Matcher {
	return s.matcher
}

// Config returns the effective configuration.
func (s *Scanner) Config() Config {
	return s.cfg
}

// Parse scans text and collects the segments.
func (s *Scanner) Parse(ctx context.Context, text string) ([]Segment, error) {
	var out []Segment
	_, err := s.Scan(ctx, strings.NewReader(text), func(seg Segment) error {
		out = append(out, seg)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Scan reads r chunk by chunk and calls fn for each segment in document
// order. An error returned by fn stops the scan and is returned as is.
func (s *Scanner) Scan(ctx context.Context, r io.Reader, fn func(Segment) error) (Stats, error) {
	st := &scanState{matcher: s.matcher, emit: fn}
	chunk := make([]byte, s.cfg.ChunkSize)

	for {
		if err := ctx.Err(); err != nil {
			return st.stats, fmt.Errorf("scan cancelled after %d bytes: %w", st.stats.Bytes, err)
		}
		n, rerr := r.Read(chunk)
		if n > 0 {
			st.stats.Chunks++
			st.stats.Bytes += int64(n)
			st.pending = append(st.pending, chunk[:n]...)
			st.track()
			if err := st.drainLines(); err != nil {
				return st.stats, err
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return st.stats, fmt.Errorf("read transcript: %w", rerr)
		}
	}

	if err := st.finish(); err != nil {
		return st.stats, err
	}
	return st.stats, nil
}

type scanState struct {
	matcher *Matcher
	emit    func(Segment) error
	stats   Stats

	// pending holds bytes read but not yet split into complete lines.
	pending []byte
	// pendingOffset is the input offset of pending[0].
	pendingOffset int
	line          int

	// preamble holds whitespace-only lines seen before the first marker.
	preamble []byte
	started  bool
	cur      []byte
	curStart int
	curLabel string
}

func (st *scanState) track() {
	if n := len(st.pending) + len(st.cur) + len(st.preamble); n > st.stats.MaxBuffered {
		st.stats.MaxBuffered = n
	}
}

// drainLines consumes every complete line in pending.
func (st *scanState) drainLines() error {
	consumed := 0
	for {
		i := bytes.IndexByte(st.pending[consumed:], '\n')
		if i < 0 {
			break
		}
		end := consumed + i + 1
		if err := st.handleLine(st.pending[consumed:end], st.pendingOffset+consumed); err != nil {
			return err
		}
		consumed = end
	}
	if consumed > 0 {
		rest := copy(st.pending, st.pending[consumed:])
		st.pending = st.pending[:rest]
		st.pendingOffset += consumed
	}
	return nil
}

func (st *scanState) handleLine(line []byte, offset int) error {
	st.line++
	body := bytes.TrimRight(line, "\r\n")

	if mk, ok := st.matcher.Match(body); ok {
		if st.started {
			if err := st.flush(offset); err != nil {
				return err
			}
			st.curStart = offset
		} else {
			// Only blank lines can precede the first marker, so the
			// preamble always starts at offset zero.
			st.started = true
			st.curStart = offset - len(st.preamble)
			st.cur = append(st.cur[:0], st.preamble...)
			st.preamble = nil
		}
		st.cur = append(st.cur, line...)
		st.curLabel = mk.Label
		st.track()
		return nil
	}

	if st.started {
		st.cur = append(st.cur, line...)
		st.track()
		return nil
	}
	if len(bytes.TrimSpace(line)) == 0 {
		st.preamble = append(st.preamble, line...)
		st.track()
		return nil
	}
	return &FormatError{Line: st.line, Offset: offset, Reason: "text before first segment boundary"}
}

// flush emits the current segment, which ends at end.
func (st *scanState) flush(end int) error {
	seg := Segment{
		Start:   st.curStart,
		End:     end,
		Content: string(st.cur),
		Label:   st.curLabel,
	}
	st.cur = st.cur[:0]
	st.curLabel = ""
	st.stats.Segments++
	if err := st.emit(seg); err != nil {
		return err
	}
	return nil
}

func (st *scanState) finish() error {
	if len(st.pending) > 0 {
		tail := st.pending
		st.pending = nil
		if err := st.handleLine(tail, st.pendingOffset); err != nil {
			return err
		}
		st.pendingOffset += len(tail)
	}
	if st.started {
		return st.flush(st.pendingOffset)
	}
	if st.stats.Bytes > 0 {
		return &FormatError{Line: 1, Offset: 0, Reason: "no segment boundary found"}
	}
	return nil
}

// IsFormatError reports whether err is or wraps a FormatError.
func IsFormatError(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}
