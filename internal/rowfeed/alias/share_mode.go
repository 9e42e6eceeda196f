package alias

import (
	"strings"
)

type ShareKind int

const (
	ShareAll ShareKind = iota
	ShareGroup
	ShareThread
	ShareCustom
)

// Config values for the predefined modes. The bare forms ("all", "group", "thread") are accepted too.
const (
	ShareModeAll    = "shareMode.all"
	ShareModeGroup  = "shareMode.group"
	ShareModeThread = "shareMode.thread"
)

// ShareMode selects which readers collapse onto one alias. Tag is only meaningful for ShareCustom.
type ShareMode struct {
	Kind ShareKind
	Tag  string
}

func All() ShareMode { return ShareMode{Kind: ShareAll} }
func Group() ShareMode { return ShareMode{Kind: ShareGroup} }
func Thread() ShareMode { return ShareMode{Kind: ShareThread} }
func Custom(tag string) ShareMode { return ShareMode{Kind: ShareCustom, Tag: tag} }

// ParseShareMode maps a configured value to a ShareMode. Empty means All; anything that isn't a
// predefined mode is a custom tag.
func ParseShareMode(value string) ShareMode {
	trimmed := strings.TrimSpace(value)
	switch strings.ToLower(trimmed) {
	case "", "all", strings.ToLower(ShareModeAll):
		return All()
	case "group", strings.ToLower(ShareModeGroup):
		return Group()
	case "thread", strings.ToLower(ShareModeThread):
		return Thread()
	default:
		return Custom(trimmed)
	}
}

func (m ShareMode) String() string {
	switch m.Kind {
	case ShareGroup:
		return ShareModeGroup
	case ShareThread:
		return ShareModeThread
	case ShareCustom:
		return m.Tag
	default:
		return ShareModeAll
	}
}

// UnmarshalText lets configuration decoders read share modes from plain strings.
func (m *ShareMode) UnmarshalText(text []byte) error {
	*m = ParseShareMode(string(text))
	return nil
}

func (m ShareMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}
