package registry

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/G-Research/rowfeed/internal/common/feederrors"
	"github.com/G-Research/rowfeed/internal/rowfeed/alias"
	"github.com/G-Research/rowfeed/internal/rowfeed/ranges"
)

const readBufferSize = 64 * 1024

// cursor is the single reader of one alias. Everything except offset and exhausted is fixed once the
// cursor is open; those two are atomics so the checkpoint scheduler can sample them without the entry lock.
type cursor struct {
	alias   alias.Alias
	file    alias.FileIdentity
	handle  *os.File
	section *io.SectionReader
	reader  *bufio.Reader
	decoder *encoding.Decoder
	parser  LineParser

	// Absolute file offsets. Reads never go past end.
	start     int64
	end       int64
	dataStart int64
	scoped    bool
	recycle   bool
	// The range as assigned, before clamping to the file size
	assigned ranges.ByteRange

	offset    int64
	exhausted int32
}

func openCursor(a alias.Alias, req ReserveRequest) (*cursor, []string, error) {
	fileErr := func(err error) error {
		return errors.WithStack(&feederrors.ErrFileOpen{Path: req.File.Path, Alias: string(a), Cause: err})
	}

	decoder, err := decoderFor(req.Encoding)
	if err != nil {
		return nil, nil, fileErr(err)
	}

	handle, err := os.Open(req.File.Path)
	if err != nil {
		return nil, nil, fileErr(err)
	}
	info, err := handle.Stat()
	if err != nil {
		_ = handle.Close()
		return nil, nil, fileErr(err)
	}
	size := info.Size()

	start, end := int64(0), size
	assigned := ranges.ByteRange{Start: start, End: end}
	if req.Range != nil {
		assigned = *req.Range
		start, end = req.Range.Start, req.Range.End
		if end > size {
			end = size
		}
		if start > end {
			start = end
		}
	}

	c := &cursor{
		alias:     a,
		file:      req.File,
		handle:    handle,
		section:   io.NewSectionReader(handle, start, end-start),
		decoder:   decoder,
		parser:    req.Parser,
		start:     start,
		end:       end,
		dataStart: start,
		offset:    start,
		scoped:    req.Range != nil,
		recycle:   req.Recycle,
		assigned:  assigned,
	}
	c.reader = bufio.NewReaderSize(c.section, readBufferSize)

	var header []string
	if req.ReadHeader || req.SkipFirstLine {
		var line string
		if start == 0 {
			// The first line lies inside this cursor: consume it so it is never delivered as data.
			line, _, err = c.readLine()
			c.dataStart = c.Offset()
		} else if req.ReadHeader {
			line, err = c.readFirstLine(size)
		}
		if err != nil {
			_ = handle.Close()
			return nil, nil, fileErr(err)
		}
		if req.ReadHeader {
			header, err = c.parser(line)
			if err != nil {
				_ = handle.Close()
				return nil, nil, fileErr(errors.Wrap(err, "could not split header line"))
			}
		}
	}
	return c, header, nil
}

func decoderFor(name string) (*encoding.Decoder, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, errors.Wrapf(err, "unsupported encoding %q", name)
	}
	canonical, _ := htmlindex.Name(enc)
	switch {
	case canonical == "utf-8":
		return nil, nil
	case strings.HasPrefix(canonical, "utf-16"), canonical == "replacement":
		// Lines are split on the byte '\n', which these encodings do not preserve.
		return nil, errors.Errorf("encoding %q is not ASCII compatible", name)
	}
	return enc.NewDecoder(), nil
}

// readLine returns the next line without its terminator. ok is false at the end of the section.
// Offsets count raw bytes, before decoding.
func (c *cursor) readLine() (string, bool, error) {
	raw, err := c.reader.ReadBytes('\n')
	if len(raw) == 0 {
		if err == io.EOF {
			return "", false, nil
		}
		return "", false, errors.WithStack(err)
	}
	atomic.AddInt64(&c.offset, int64(len(raw)))
	if err != nil && err != io.EOF {
		return "", false, errors.WithStack(err)
	}
	line, err := c.decode(trimLineEnding(raw))
	if err != nil {
		return "", false, err
	}
	return line, true, nil
}

// readFirstLine reads line one of the file independently of the cursor position.
func (c *cursor) readFirstLine(size int64) (string, error) {
	raw, err := bufio.NewReader(io.NewSectionReader(c.handle, 0, size)).ReadBytes('\n')
	if err != nil && err != io.EOF {
		return "", errors.WithStack(err)
	}
	return c.decode(trimLineEnding(raw))
}

func (c *cursor) decode(raw []byte) (string, error) {
	if c.decoder == nil {
		return string(raw), nil
	}
	decoded, err := c.decoder.Bytes(raw)
	if err != nil {
		return "", errors.Wrapf(err, "could not decode line of %s", c.file.Path)
	}
	return string(decoded), nil
}

// rewind moves the cursor back to the first data line.
func (c *cursor) rewind() error {
	if _, err := c.section.Seek(c.dataStart-c.start, io.SeekStart); err != nil {
		return errors.WithStack(err)
	}
	c.reader.Reset(c.section)
	atomic.StoreInt64(&c.offset, c.dataStart)
	return nil
}

func (c *cursor) Offset() int64 {
	return atomic.LoadInt64(&c.offset)
}

func (c *cursor) isExhausted() bool {
	return atomic.LoadInt32(&c.exhausted) == 1
}

func (c *cursor) markExhausted() {
	atomic.StoreInt32(&c.exhausted, 1)
}

func (c *cursor) state() CursorState {
	return CursorState{
		Alias:     c.alias,
		File:      c.file,
		Start:     c.start,
		Offset:    c.Offset(),
		End:       c.end,
		Scoped:    c.scoped,
		Recycle:   c.recycle,
		Exhausted: c.isExhausted(),
		Assigned:  c.assigned,
	}
}

func trimLineEnding(raw []byte) []byte {
	raw = bytes.TrimSuffix(raw, []byte("\n"))
	return bytes.TrimSuffix(raw, []byte("\r"))
}
