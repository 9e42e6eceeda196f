package stringinterner

import (
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
)

// StringInterner deduplicates strings with equal value but different backing arrays.
// Readers resolve their file alias on every iteration; interning keeps a single copy per alias.
//
// StringInterner is backed by an LRU so that only the most recently interned strings are kept.
// It is safe for concurrent use.
type StringInterner struct {
	lru *lru.Cache
}

// New return a new *StringInterner backed by a LRU of the given size.
func New(cacheSize uint32) *StringInterner {
	lru, err := lru.New(int(cacheSize))
	if err != nil {
		panic(errors.WithStack(err).Error())
	}
	return &StringInterner{lru: lru}
}

// Intern ensures the string is cached and returns the cached string
func (interner *StringInterner) Intern(s string) string {
	if existing, ok, _ := interner.lru.PeekOrAdd(s, s); ok {
		return existing.(string)
	}
	return s
}

// Len returns the number of strings currently interned.
func (interner *StringInterner) Len() int {
	return interner.lru.Len()
}
