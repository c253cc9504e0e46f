package rules

import (
	"fmt"
	"sort"
)

type Channel string

const (
	ChannelNotecard Channel = "notecard"
	ChannelHost     Channel = "host"
)

// Channels lists firmware channels in the order they are checked and updated.
var Channels = []Channel{ChannelNotecard, ChannelHost}

func (c Channel) Valid() bool {
	return c == ChannelNotecard || c == ChannelHost
}

// Title is the capitalised channel name used in operator messages.
func (c Channel) Title() string {
	switch c {
	case ChannelNotecard:
		return "Notecard"
	case ChannelHost:
		return "Host"
	default:
		return string(c)
	}
}

// Target is what a matched rule asks for. Exactly one of Version or
// Channels is set. A nil *Target means no update is needed.
type Target struct {
	Version  string
	Channels map[Channel]*string
}

func VersionTarget(version string) *Target {
	return &Target{Version: version}
}

func ChannelTarget(versions map[Channel]string) *Target {
	t := &Target{Channels: make(map[Channel]*string, len(versions))}
	for ch, v := range versions {
		v := v
		t.Channels[ch] = &v
	}
	return t
}

func (t *Target) ChannelAgnostic() bool {
	return t != nil && t.Channels == nil
}

// For returns the requested version for a channel. ok is false when the
// target has no entry for the channel or the entry is null.
func (t *Target) For(ch Channel) (string, bool) {
	if t == nil || t.Channels == nil {
		return "", false
	}
	v, ok := t.Channels[ch]
	if !ok || v == nil {
		return "", false
	}
	return *v, true
}

func (t *Target) Clone() *Target {
	if t == nil {
		return nil
	}
	c := &Target{Version: t.Version}
	if t.Channels != nil {
		c.Channels = make(map[Channel]*string, len(t.Channels))
		for ch, v := range t.Channels {
			if v == nil {
				c.Channels[ch] = nil
				continue
			}
			cp := *v
			c.Channels[ch] = &cp
		}
	}
	return c
}

// Rule pairs a set of field conditions with a target. A rule without
// conditions always matches.
type Rule struct {
	ID         string
	Conditions map[string]Condition
	Target     *Target
}

// RuleSet is evaluated in order; the first fully matching rule wins.
type RuleSet []Rule

func Single(rule Rule) RuleSet {
	return RuleSet{rule}
}

// DefaultRules accepts any device and never requests an update.
func DefaultRules() RuleSet {
	return RuleSet{{ID: "default"}}
}

// IDAt is the rule's declared id, or rule-N for the 1-based position N.
func (r Rule) IDAt(index int) string {
	if r.ID != "" {
		return r.ID
	}
	return fmt.Sprintf("rule-%d", index+1)
}

func (r Rule) fieldPaths() []string {
	paths := make([]string, 0, len(r.Conditions))
	for path := range r.Conditions {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

func (r Rule) matches(attrs Attributes) (bool, error) {
	for _, path := range r.fieldPaths() {
		value, present := Resolve(attrs, path)
		ok, err := r.Conditions[path].Matches(value, present)
		if err != nil {
			return false, fmt.Errorf("condition %q: %w", path, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
