// Package registry hands out the shared file cursors that readers pull rows through.
//
// Each alias owns at most one open file handle for the life of the run. The first Reserve for an alias
// opens the file at the start of its byte range; every later Reserve for the same alias is a no-op
// returning the header resolved by the first. NextRow advances the alias's cursor by exactly one
// physical line.
//
// Locking is per alias: the registry lock only guards the alias map, so readers of unrelated aliases
// never wait on each other.
package registry

import (
	"io"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/rowfeed/internal/common/feederrors"
	"github.com/G-Research/rowfeed/internal/rowfeed/alias"
	"github.com/G-Research/rowfeed/internal/rowfeed/ranges"
)

// LineParser splits one line of the file into fields.
type LineParser func(line string) ([]string, error)

type ReserveRequest struct {
	File alias.FileIdentity
	// Nil reads the whole file
	Range    *ranges.ByteRange
	Encoding string
	// Parse the first line of the file as the header and return it from Reserve
	ReadHeader bool
	// Drop the first line of the file without parsing it
	SkipFirstLine bool
	// Start over from the first data line at the end of the range instead of reporting io.EOF
	Recycle bool
	Parser  LineParser
}

// CursorState is a copy of a cursor's position. All offsets are absolute file offsets.
type CursorState struct {
	Alias     alias.Alias
	File      alias.FileIdentity
	Start     int64
	Offset    int64
	End       int64
	Scoped    bool
	Recycle   bool
	Exhausted bool
	// Range the cursor was reserved with, or the whole file when unscoped. End may lie past the file size.
	Assigned ranges.ByteRange
}

// Remaining is the number of bytes left before the end of the range.
func (s CursorState) Remaining() int64 {
	return s.End - s.Offset
}

type entry struct {
	mutex  sync.Mutex
	cursor *cursor
	header []string
}

type Registry struct {
	mutex   sync.Mutex
	entries map[alias.Alias]*entry
	// Open cursors by file base name
	byFile map[string][]*cursor
	closed bool
}

func NewRegistry() *Registry {
	return &Registry{
		entries: map[alias.Alias]*entry{},
		byFile:  map[string][]*cursor{},
	}
}

// Reserve opens the file for alias a unless another reader already has.
// It returns the parsed header when req.ReadHeader is set (or was set by the first reader).
// Open failures are returned as *feederrors.ErrFileOpen and leave the alias unreserved.
func (r *Registry) Reserve(a alias.Alias, req ReserveRequest) ([]string, error) {
	e, err := r.entryFor(a)
	if err != nil {
		return nil, err
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.cursor != nil {
		return e.header, nil
	}

	if req.Parser == nil {
		req.Parser = wholeLine
	}
	c, header, err := openCursor(a, req)
	if err != nil {
		return nil, err
	}

	r.mutex.Lock()
	if r.closed {
		r.mutex.Unlock()
		_ = c.handle.Close()
		return nil, errors.WithStack(errRegistryClosed(a))
	}
	r.byFile[req.File.Name] = append(r.byFile[req.File.Name], c)
	r.mutex.Unlock()

	e.cursor = c
	e.header = header
	log.WithField("alias", a).
		WithField("file", req.File.Path).
		Infof("Reserved file at offset %d (range end %d, scoped %t)", c.start, c.end, c.scoped)
	return header, nil
}

// NextRow returns the fields of the next line for alias a, or io.EOF once the cursor is exhausted.
// Recycling cursors start over from the first data line instead of reporting io.EOF, unless there is no data.
func (r *Registry) NextRow(a alias.Alias) ([]string, error) {
	r.mutex.Lock()
	e, ok := r.entries[a]
	r.mutex.Unlock()
	if !ok {
		return nil, errors.WithStack(errNotReserved(a))
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()
	c := e.cursor
	if c == nil {
		return nil, errors.WithStack(errNotReserved(a))
	}
	if c.isExhausted() {
		return nil, io.EOF
	}

	line, ok, err := c.readLine()
	if err != nil {
		return nil, err
	}
	if !ok {
		if !c.recycle {
			c.markExhausted()
			return nil, io.EOF
		}
		if err := c.rewind(); err != nil {
			return nil, err
		}
		line, ok, err = c.readLine()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, io.EOF
		}
	}
	return c.parser(line)
}

// State returns the position of the cursor for alias a, if it has been reserved.
func (r *Registry) State(a alias.Alias) (CursorState, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	for _, cursors := range r.byFile {
		for _, c := range cursors {
			if c.alias == a {
				return c.state(), true
			}
		}
	}
	return CursorState{}, false
}

// Cursors returns the positions of every cursor open on files with the given base name.
// It never waits for a reader.
func (r *Registry) Cursors(fileName string) []CursorState {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	cursors := r.byFile[fileName]
	states := make([]CursorState, 0, len(cursors))
	for _, c := range cursors {
		states = append(states, c.state())
	}
	return states
}

// Close closes every open file. Further reservations fail.
func (r *Registry) Close() error {
	r.mutex.Lock()
	if r.closed {
		r.mutex.Unlock()
		return nil
	}
	r.closed = true
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mutex.Unlock()

	var result *multierror.Error
	for _, e := range entries {
		e.mutex.Lock()
		if e.cursor != nil {
			if err := e.cursor.handle.Close(); err != nil {
				result = multierror.Append(result, errors.Wrapf(err, "closing %s", e.cursor.alias))
			}
			e.cursor.markExhausted()
		}
		e.mutex.Unlock()
	}
	return result.ErrorOrNil()
}

func (r *Registry) entryFor(a alias.Alias) (*entry, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.closed {
		return nil, errors.WithStack(errRegistryClosed(a))
	}
	e, ok := r.entries[a]
	if !ok {
		e = &entry{}
		r.entries[a] = e
	}
	return e, nil
}

func wholeLine(line string) ([]string, error) {
	return []string{line}, nil
}

func errNotReserved(a alias.Alias) error {
	return &feederrors.ErrInvalidArgument{Name: "alias", Value: a, Message: "alias has not been reserved"}
}

func errRegistryClosed(a alias.Alias) error {
	return &feederrors.ErrInvalidArgument{Name: "alias", Value: a, Message: "registry is closed"}
}
