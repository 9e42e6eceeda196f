package ranges

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/rowfeed/internal/common/feederrors"
	"github.com/G-Research/rowfeed/internal/rowfeed/alias"
	"github.com/G-Research/rowfeed/internal/rowfeed/configuration"
	"github.com/G-Research/rowfeed/internal/rowfeed/metrics"
	"github.com/G-Research/rowfeed/internal/rowfeed/store"
)

// DescriptorKeyFormat is filled with scene id, report id and customer id.
const DescriptorKeyFormat = "PRESSURE:ENGINE:INSTANCE:%s:%s:%s"

// ByteRange is the half-open slice [Start, End) of a file assigned to this pod.
type ByteRange struct {
	Start int64
	End   int64
}

func (r ByteRange) Len() int64 {
	return r.End - r.Start
}

func (r ByteRange) String() string {
	return fmt.Sprintf("[%d, %d)", r.Start, r.End)
}

// StoreProvider hands out the shared coordination store, connecting on first use.
type StoreProvider interface {
	Store() (store.Store, error)
}

type resolution struct {
	byteRange ByteRange
	ok        bool
}

// Resolver looks up the byte range assigned to a file in the run descriptor.
//
// The descriptor is a JSON object stored in one hash field, keyed by file base name:
//
//	{"data.csv": {"start": 100, "end": 200}}
//
// Ranges are immutable for a run, so found ranges are cached for good. Absent or unreadable
// descriptors are cached for a short while only.
type Resolver struct {
	stores  StoreProvider
	key     string
	field   string
	timeout time.Duration
	missTTL time.Duration
	cache   *cache.Cache
}

func NewResolver(stores StoreProvider, run configuration.RunConfig, config configuration.RangeConfig) *Resolver {
	return &Resolver{
		stores:  stores,
		key:     DescriptorKey(run),
		field:   config.DescriptorField,
		timeout: config.Timeout,
		missTTL: config.MissTTL,
		cache:   cache.New(config.MissTTL, 2*config.MissTTL+time.Minute),
	}
}

// DescriptorKey is the hash key of the run descriptor.
func DescriptorKey(run configuration.RunConfig) string {
	return fmt.Sprintf(DescriptorKeyFormat, run.SceneId, run.ReportId, run.CustomerId)
}

// Resolve returns the range assigned to file. ok is false when the file should be read unscoped.
//
// A non-nil error is either a *feederrors.ErrRangeUnavailable, which callers should log and otherwise treat
// as "no range", or a *feederrors.ErrConnectionInit, which is fatal.
func (r *Resolver) Resolve(ctx context.Context, file alias.FileIdentity) (ByteRange, bool, error) {
	if cached, found := r.cache.Get(file.Name); found {
		res := cached.(resolution)
		return res.byteRange, res.ok, nil
	}

	s, err := r.stores.Store()
	if err != nil {
		return ByteRange{}, false, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	descriptor, found, err := s.GetField(ctx, r.key, r.field)
	if err != nil {
		metrics.RangeResolutions.WithLabelValues(metrics.RangeUnavailable).Inc()
		r.cache.Set(file.Name, resolution{}, r.missTTL)
		return ByteRange{}, false, errors.WithStack(&feederrors.ErrRangeUnavailable{
			File:  file.Name,
			Key:   r.key,
			Cause: err,
		})
	}
	if !found || strings.TrimSpace(descriptor) == "" {
		metrics.RangeResolutions.WithLabelValues(metrics.RangeUnscoped).Inc()
		r.cache.Set(file.Name, resolution{}, r.missTTL)
		return ByteRange{}, false, nil
	}

	byteRange, ok, err := parseDescriptor(descriptor, file.Name)
	if err != nil {
		metrics.RangeResolutions.WithLabelValues(metrics.RangeUnavailable).Inc()
		r.cache.Set(file.Name, resolution{}, r.missTTL)
		return ByteRange{}, false, errors.WithStack(&feederrors.ErrRangeUnavailable{
			File:    file.Name,
			Key:     r.key,
			Message: "malformed run descriptor",
			Cause:   err,
		})
	}
	if !ok {
		metrics.RangeResolutions.WithLabelValues(metrics.RangeUnscoped).Inc()
		r.cache.Set(file.Name, resolution{}, r.missTTL)
		return ByteRange{}, false, nil
	}

	log.WithField("file", file.Name).Infof("Assigned byte range %s", byteRange)
	metrics.RangeResolutions.WithLabelValues(metrics.RangeScoped).Inc()
	r.cache.Set(file.Name, resolution{byteRange: byteRange, ok: true}, cache.NoExpiration)
	return byteRange, true, nil
}

func parseDescriptor(descriptor string, fileName string) (ByteRange, bool, error) {
	files := map[string]json.RawMessage{}
	if err := json.Unmarshal([]byte(descriptor), &files); err != nil {
		return ByteRange{}, false, errors.WithStack(err)
	}
	rawEntry, ok := files[fileName]
	if !ok || string(rawEntry) == "null" {
		return ByteRange{}, false, nil
	}
	entry := map[string]json.RawMessage{}
	if err := json.Unmarshal(rawEntry, &entry); err != nil {
		return ByteRange{}, false, errors.Wrapf(err, "entry for %s", fileName)
	}
	rawStart, hasStart := entry["start"]
	rawEnd, hasEnd := entry["end"]
	if !hasStart || !hasEnd {
		return ByteRange{}, false, nil
	}
	start, err := parseOffset(rawStart)
	if err != nil {
		return ByteRange{}, false, errors.Wrapf(err, "start of %s", fileName)
	}
	end, err := parseOffset(rawEnd)
	if err != nil {
		return ByteRange{}, false, errors.Wrapf(err, "end of %s", fileName)
	}
	if start < 0 || end < start {
		return ByteRange{}, false, errors.Errorf("invalid range %d-%d for %s", start, end, fileName)
	}
	return ByteRange{Start: start, End: end}, true, nil
}

// parseOffset accepts both JSON numbers and numeric strings.
func parseOffset(raw json.RawMessage) (int64, error) {
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, errors.Errorf("offset %s is neither a number nor a string", string(raw))
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return n, nil
}
