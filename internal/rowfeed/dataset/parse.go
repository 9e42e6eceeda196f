package dataset

import (
	"encoding/csv"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"

	"github.com/G-Research/rowfeed/internal/common/feederrors"
	"github.com/G-Research/rowfeed/internal/rowfeed/registry"
)

const tabEscape = `\t`

// ResolveDelimiter turns a configured delimiter into the one used to split lines.
func ResolveDelimiter(delimiter string) string {
	switch delimiter {
	case "":
		return ","
	case tabEscape:
		return "\t"
	default:
		return delimiter
	}
}

// NewLineParser returns a parser splitting lines on delimiter. Quoted data honours double quotes around fields
// and so needs a single character delimiter.
func NewLineParser(delimiter string, quoted bool) (registry.LineParser, error) {
	delimiter = ResolveDelimiter(delimiter)
	if !quoted {
		return func(line string) ([]string, error) {
			return strings.Split(line, delimiter), nil
		}, nil
	}

	comma, size := utf8.DecodeRuneInString(delimiter)
	if size != len(delimiter) || comma == '"' || comma == '\r' || comma == '\n' || comma == utf8.RuneError {
		return nil, errors.WithStack(&feederrors.ErrInvalidArgument{
			Name:    "delimiter",
			Value:   delimiter,
			Message: "quoted data needs a single character delimiter",
		})
	}
	return func(line string) ([]string, error) {
		reader := csv.NewReader(strings.NewReader(line))
		reader.Comma = comma
		reader.LazyQuotes = true
		reader.FieldsPerRecord = -1
		record, err := reader.Read()
		if err == io.EOF {
			return []string{""}, nil
		}
		if err != nil {
			return nil, errors.Wrapf(err, "could not split line %q", line)
		}
		return record, nil
	}, nil
}

// SplitVariableNames splits a comma separated list of variable names.
func SplitVariableNames(names string) []string {
	if strings.TrimSpace(names) == "" {
		return nil
	}
	split := strings.Split(names, ",")
	for i, name := range split {
		split[i] = strings.TrimSpace(name)
	}
	return split
}

func trimAll(names []string) []string {
	trimmed := make([]string, len(names))
	for i, name := range names {
		trimmed[i] = strings.TrimSpace(name)
	}
	return trimmed
}
