// Package dataset binds configured CSV data sets to the reader threads of a load test.
//
// Every iteration of a thread calls IterationStart on each of its ThreadReaders, which pulls the next row
// of the thread's alias and copies it into the thread's variables.
package dataset

import (
	"context"
	"io"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/rowfeed/internal/common/feederrors"
	"github.com/G-Research/rowfeed/internal/common/logging"
	"github.com/G-Research/rowfeed/internal/rowfeed/alias"
	"github.com/G-Research/rowfeed/internal/rowfeed/configuration"
	"github.com/G-Research/rowfeed/internal/rowfeed/metrics"
	"github.com/G-Research/rowfeed/internal/rowfeed/ranges"
	"github.com/G-Research/rowfeed/internal/rowfeed/registry"
)

type RangeSource interface {
	Resolve(ctx context.Context, file alias.FileIdentity) (ranges.ByteRange, bool, error)
}

// RowSource hands out the rows of reserved aliases. *registry.Registry is the implementation.
type RowSource interface {
	Reserve(a alias.Alias, req registry.ReserveRequest) ([]string, error)
	NextRow(a alias.Alias) ([]string, error)
	State(a alias.Alias) (registry.CursorState, bool)
}

// Checkpointer starts publishing the read position of a file. Repeated calls for one file are no-ops.
type Checkpointer interface {
	Start(file alias.FileIdentity) bool
}

// Dependencies are shared by every data set of a run.
type Dependencies struct {
	Registry     RowSource
	Aliases      *alias.Resolver
	Ranges       RangeSource
	Checkpointer Checkpointer
	// Value of every variable once the data set is exhausted
	EOFValue string
}

type DataSet struct {
	config configuration.DataSetConfig
	name   string
	file   alias.FileIdentity
	names  []string
	parser registry.LineParser
	deps   Dependencies
}

// New checks config and binds it to deps. A leading ~ in the file name is expanded to the home directory.
func New(config configuration.DataSetConfig, deps Dependencies) (*DataSet, error) {
	path, err := homedir.Expand(strings.TrimSpace(config.Filename))
	if err != nil {
		return nil, errors.WithStack(&feederrors.ErrInvalidArgument{
			Name:    "filename",
			Value:   config.Filename,
			Message: err.Error(),
		})
	}
	file := alias.NewFileIdentity(path)
	if file.Path == "" {
		return nil, errors.WithStack(&feederrors.ErrInvalidArgument{
			Name:    "filename",
			Value:   config.Filename,
			Message: "a data set needs a file",
		})
	}
	parser, err := NewLineParser(config.Delimiter, config.QuotedData)
	if err != nil {
		return nil, err
	}
	if deps.EOFValue == "" {
		deps.EOFValue = configuration.DefaultEOFValue
	}
	return &DataSet{
		config: config,
		name:   config.DisplayName(),
		file:   file,
		names:  SplitVariableNames(config.VariableNames),
		parser: parser,
		deps:   deps,
	}, nil
}

func (d *DataSet) Name() string {
	return d.name
}

func (d *DataSet) File() alias.FileIdentity {
	return d.file
}

// ForThread returns the reader one thread uses for this data set.
func (d *DataSet) ForThread(identity alias.Identity) *ThreadReader {
	return &ThreadReader{
		dataSet:  d,
		identity: identity,
		logger: log.WithField("dataset", d.name).
			WithField("file", d.file.Path).
			WithField("thread", identity.Thread),
	}
}

// ThreadReader is not safe for concurrent use; each thread has its own.
type ThreadReader struct {
	dataSet   *DataSet
	identity  alias.Identity
	logger    *log.Entry
	alias     alias.Alias
	names     []string
	reserved  bool
	exhausted bool
}

// IterationStart reads the next row and stores its fields in vars, keyed by variable name.
// The first call resolves the alias and byte range of the thread and reserves the file.
//
// At the end of the file every variable is set to the EOF value, unless the data set is configured
// to stop the thread, in which case *feederrors.ErrEndOfInput is returned. *feederrors.ErrFileOpen stops
// only the calling thread; *feederrors.ErrConnectionInit should stop the process.
func (t *ThreadReader) IterationStart(ctx context.Context, vars map[string]string) error {
	if !t.reserved {
		if err := t.reserve(ctx); err != nil {
			return err
		}
	}

	row, err := t.dataSet.deps.Registry.NextRow(t.alias)
	if err == io.EOF {
		t.exhausted = true
		return t.endOfFile(vars)
	}
	if err != nil {
		// The bad line has been consumed, so the next iteration carries on after it.
		logging.WithStacktrace(t.logger, err).Error("Failed to read row")
		return t.endOfFile(vars)
	}

	n := len(t.names)
	if len(row) < n {
		n = len(row)
	}
	for i := 0; i < n; i++ {
		vars[t.names[i]] = row[i]
	}
	metrics.RowsDelivered.WithLabelValues(t.dataSet.name).Inc()
	return nil
}

// Exhausted reports whether the reader has run out of rows. Recycling readers only run out when the file has no data.
func (t *ThreadReader) Exhausted() bool {
	return t.exhausted
}

func (t *ThreadReader) Alias() alias.Alias {
	return t.alias
}

// VariableNames are the configured names, or the header of the file once the reader is reserved.
func (t *ThreadReader) VariableNames() []string {
	return t.names
}

func (t *ThreadReader) reserve(ctx context.Context) error {
	d := t.dataSet
	t.alias = d.deps.Aliases.Resolve(d.file, d.config.ShareMode, t.identity)

	byteRange, scoped, err := d.deps.Ranges.Resolve(ctx, d.file)
	if err != nil {
		if feederrors.IsFatal(err) {
			return err
		}
		logging.WithStacktrace(t.logger, err).Warn("Byte range unavailable, reading the whole file")
		scoped = false
	}

	req := registry.ReserveRequest{
		File:          d.file,
		Encoding:      d.config.FileEncoding,
		ReadHeader:    len(d.names) == 0,
		SkipFirstLine: len(d.names) > 0 && d.config.IgnoreFirstLine,
		Recycle:       d.config.ShouldRecycle(),
		Parser:        d.parser,
	}
	if scoped {
		req.Range = &byteRange
	}
	header, err := d.deps.Registry.Reserve(t.alias, req)
	if err != nil {
		return err
	}

	t.names = d.names
	if len(t.names) == 0 {
		t.names = trimAll(header)
	}
	t.reserved = true
	d.deps.Checkpointer.Start(d.file)
	t.logger.WithField("alias", t.alias).Debugf("Reading variables %v", t.names)
	return nil
}

func (t *ThreadReader) endOfFile(vars map[string]string) error {
	metrics.EndOfFile.WithLabelValues(t.dataSet.name).Inc()
	if t.dataSet.config.StopThread {
		return errors.WithStack(&feederrors.ErrEndOfInput{
			File:       t.dataSet.file.Path,
			DataSet:    t.dataSet.name,
			StopThread: true,
			Recycle:    t.dataSet.config.ShouldRecycle(),
		})
	}
	for _, name := range t.names {
		vars[name] = t.dataSet.deps.EOFValue
	}
	return nil
}
