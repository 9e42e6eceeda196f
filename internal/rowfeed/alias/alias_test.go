package alias

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewFileIdentity(t *testing.T) {
	tests := map[string]struct {
		path string
		want FileIdentity
	}{
		"bare name":      {"data.csv", FileIdentity{Path: "data.csv", Name: "data.csv"}},
		"nested":         {"/mnt/data/users.csv", FileIdentity{Path: "/mnt/data/users.csv", Name: "users.csv"}},
		"padded":         {"  data/x.csv \n", FileIdentity{Path: "data/x.csv", Name: "x.csv"}},
		"relative upper": {"../a/b.csv", FileIdentity{Path: "../a/b.csv", Name: "b.csv"}},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, NewFileIdentity(tc.path))
		})
	}
}

func TestResolve(t *testing.T) {
	file := NewFileIdentity("/data/data.csv")
	id := Identity{Group: "g1", Thread: "t1"}

	tests := map[string]struct {
		mode ShareMode
		want Alias
	}{
		"all":    {All(), "/data/data.csv"},
		"group":  {Group(), "/data/data.csv@g1"},
		"thread": {Thread(), "/data/data.csv@t1"},
		"custom": {Custom("batch-a"), "/data/data.csv@batch-a"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, Resolve(file, tc.mode, id))
		})
	}
}

func TestResolve_SameInputsSameAlias(t *testing.T) {
	file := NewFileIdentity("data.csv")
	for _, mode := range []ShareMode{All(), Group(), Thread(), Custom("x")} {
		id := Identity{Group: "g", Thread: "t"}
		assert.Equal(t, Resolve(file, mode, id), Resolve(file, mode, id), mode.String())
	}
}

func TestResolve_DifferentDiscriminatorsNeverCollide(t *testing.T) {
	file := NewFileIdentity("data.csv")
	seen := map[Alias]string{}
	for i := 0; i < 10; i++ {
		candidates := map[string]Alias{
			fmt.Sprintf("group-%d", i):  Resolve(file, Group(), Identity{Group: fmt.Sprintf("g%d", i)}),
			fmt.Sprintf("thread-%d", i): Resolve(file, Thread(), Identity{Thread: fmt.Sprintf("t%d", i)}),
			fmt.Sprintf("custom-%d", i): Resolve(file, Custom(fmt.Sprintf("c%d", i)), Identity{}),
		}
		for source, a := range candidates {
			previous, exists := seen[a]
			assert.False(t, exists, "%s collides with %s on %s", source, previous, a)
			seen[a] = source
		}
	}
}

func TestResolve_AllIgnoresIdentity(t *testing.T) {
	file := NewFileIdentity("data.csv")
	assert.Equal(t,
		Resolve(file, All(), Identity{Group: "g1", Thread: "t1"}),
		Resolve(file, All(), Identity{Group: "g2", Thread: "t2"}))
}

func TestResolver_Interns(t *testing.T) {
	r := NewResolver(16)
	file := NewFileIdentity("data.csv")
	first := r.Resolve(file, Thread(), Identity{Thread: "t1"})
	second := r.Resolve(file, Thread(), Identity{Thread: "t1"})
	assert.Equal(t, first, second)
	assert.Equal(t, Alias("data.csv@t1"), first)
}

func TestParseShareMode(t *testing.T) {
	tests := map[string]struct {
		value string
		want  ShareMode
	}{
		"empty":           {"", All()},
		"resource all":    {"shareMode.all", All()},
		"bare all":        {"ALL", All()},
		"resource group":  {"shareMode.group", Group()},
		"bare group":      {"group", Group()},
		"resource thread": {"shareMode.thread", Thread()},
		"bare thread":     {" Thread ", Thread()},
		"custom":          {"myTag", Custom("myTag")},
		"custom trimmed":  {"  myTag ", Custom("myTag")},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, ParseShareMode(tc.value))
		})
	}
}

func TestShareMode_TextRoundTrip(t *testing.T) {
	for _, mode := range []ShareMode{All(), Group(), Thread(), Custom("tag")} {
		text, err := mode.MarshalText()
		assert.NoError(t, err)

		var decoded ShareMode
		assert.NoError(t, decoded.UnmarshalText(text))
		assert.Equal(t, mode, decoded)
	}
}
