// Package alias decides which logical readers share a physical file cursor.
//
// A reader's alias is the file path, optionally suffixed with a discriminator chosen by its ShareMode:
//
//	All        data.csv
//	Group      data.csv@<thread group instance>
//	Thread     data.csv@<thread instance>
//	Custom     data.csv@<user tag>
//
// Readers that resolve to the same alias read through one cursor.
package alias

import (
	"path/filepath"
	"strings"

	"github.com/G-Research/rowfeed/internal/common/stringinterner"
)

// Alias is the key under which a file cursor is shared.
type Alias string

// FileIdentity names a shared input file. Path is the file as configured and is used to open it and to build
// aliases; Name is its base name and is the only form used in coordination store keys.
type FileIdentity struct {
	Path string
	Name string
}

// NewFileIdentity trims the configured file name and derives its base name.
func NewFileIdentity(path string) FileIdentity {
	path = strings.TrimSpace(path)
	return FileIdentity{
		Path: path,
		Name: filepath.Base(filepath.ToSlash(path)),
	}
}

func (f FileIdentity) String() string {
	return f.Path
}

// Identity holds the execution context tokens a reader can be discriminated by.
type Identity struct {
	// Thread group instance
	Group string
	// Thread instance
	Thread string
}

// Resolve computes the alias for a file under the given share mode. It is a pure function.
func Resolve(file FileIdentity, mode ShareMode, identity Identity) Alias {
	switch mode.Kind {
	case ShareGroup:
		return Alias(file.Path + "@" + identity.Group)
	case ShareThread:
		return Alias(file.Path + "@" + identity.Thread)
	case ShareCustom:
		return Alias(file.Path + "@" + mode.Tag)
	default:
		return Alias(file.Path)
	}
}

// Resolver is Resolve with interning, so that the many threads resolving the same alias on every
// iteration end up holding one copy of it.
type Resolver struct {
	interner *stringinterner.StringInterner
}

func NewResolver(cacheSize uint32) *Resolver {
	return &Resolver{interner: stringinterner.New(cacheSize)}
}

func (r *Resolver) Resolve(file FileIdentity, mode ShareMode, identity Identity) Alias {
	return Alias(r.interner.Intern(string(Resolve(file, mode, identity))))
}
