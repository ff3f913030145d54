package uci

import (
	"fmt"
	"strings"
	"time"
)

type SourceKind string

const (
	SourceLocal   SourceKind = "local"
	SourceRemote  SourceKind = "remote"
	SourceBinding SourceKind = "binding"
)

// Source describes one engine candidate. For local sources Locator is an
// executable path or a name resolved through PATH. Remote sources are either a
// ws(s):// endpoint speaking UCI over text frames or an http(s):// URL of an
// engine binary that is downloaded and run locally. Binding sources name an
// in-process engine registered with Register.
type Source struct {
	Name    string     `yaml:"name" validate:"required"`
	Kind    SourceKind `yaml:"kind" validate:"required,oneof=local remote binding"`
	Locator string     `yaml:"locator" validate:"required"`
	Args    []string   `yaml:"args,omitempty"`
}

func (s Source) String() string {
	name := strings.TrimSpace(s.Name)
	if name == "" {
		name = s.Locator
	}
	return fmt.Sprintf("%s(%s:%s)", name, s.Kind, s.Locator)
}

const (
	defaultHandshakeTimeout = 4 * time.Second
	maxSkillLevel           = 20
)

type Options struct {
	SkillLevel       int
	HandshakeTimeout time.Duration
	// SearchTimeout of zero derives the deadline from the requested depth.
	SearchTimeout time.Duration
	// Extra are sent as setoption commands after the skill level.
	Extra map[string]string
}

func validateOptions(opt Options) error {
	if opt.SkillLevel < 0 || opt.SkillLevel > maxSkillLevel {
		return fmt.Errorf("skill level %d out of range 0-%d", opt.SkillLevel, maxSkillLevel)
	}
	if opt.HandshakeTimeout < 0 {
		return fmt.Errorf("handshake timeout must be >= 0: %s", opt.HandshakeTimeout)
	}
	if opt.SearchTimeout < 0 {
		return fmt.Errorf("search timeout must be >= 0: %s", opt.SearchTimeout)
	}
	return nil
}

func (o Options) handshakeTimeout() time.Duration {
	if o.HandshakeTimeout > 0 {
		return o.HandshakeTimeout
	}
	return defaultHandshakeTimeout
}

func (o Options) searchTimeout(depth int) time.Duration {
	if o.SearchTimeout > 0 {
		return o.SearchTimeout
	}
	return computeSearchTimeout(depth)
}

func computeSearchTimeout(depth int) time.Duration {
	if depth <= 0 {
		return 6 * time.Second
	}
	base := time.Duration(depth) * 300 * time.Millisecond
	if base < 6*time.Second {
		base = 6 * time.Second
	}
	if base > 20*time.Second {
		base = 20 * time.Second
	}
	return base
}
