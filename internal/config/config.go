package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/park285/cheese-duel/internal/chess/builtin"
	"github.com/park285/cheese-duel/internal/chess/uci"
	"github.com/park285/cheese-duel/internal/domain"
	yaml "gopkg.in/yaml.v3"
)

// strengthSkill maps the advertised strength (rough Elo) to the engine's
// Skill Level option.
var strengthSkill = map[int]int{
	300:  1,
	800:  5,
	1200: 10,
}

// Settings is the part of the configuration read from the environment.
type Settings struct {
	SourcesFile   string `env:"ENGINE_SOURCES_FILE"`
	StockfishPath string `env:"STOCKFISH_PATH"`
	DownloadDir   string `env:"ENGINE_DOWNLOAD_DIR"`
	BookPath      string `env:"CHESS_POLYGLOT_BOOK_PATH"`

	Strength    int    `env:"CHESS_STRENGTH" envDefault:"800" validate:"oneof=300 800 1200"`
	SkillLevel  int    `env:"CHESS_SKILL_LEVEL" envDefault:"-1" validate:"min=-1,max=20"`
	SearchDepth int    `env:"CHESS_SEARCH_DEPTH" envDefault:"15" validate:"min=1,max=60"`
	HumanSide   string `env:"CHESS_HUMAN_SIDE" envDefault:"white" validate:"oneof=white black"`

	HandshakeTimeout  time.Duration `env:"ENGINE_HANDSHAKE_TIMEOUT" envDefault:"4s" validate:"min=0"`
	SearchTimeout     time.Duration `env:"ENGINE_SEARCH_TIMEOUT" envDefault:"0s" validate:"min=0"`
	HandoffDelay      time.Duration `env:"CHESS_HANDOFF_DELAY" envDefault:"200ms" validate:"min=0"`
	MaxEngineFailures int           `env:"CHESS_MAX_ENGINE_FAILURES" envDefault:"2" validate:"min=1,max=10"`

	RedisURL    string `env:"REDIS_URL"`
	SnapshotPNG string `env:"CHESS_SNAPSHOT_PNG"`
	MessagesDir string `env:"MESSAGES_DIR"`
}

type AppConfig struct {
	Settings
	Sources []uci.Source `validate:"min=1,dive"`
}

type sourcesFile struct {
	Sources []uci.Source `yaml:"sources"`
}

// Load reads the environment, the optional sources file and validates the
// result.
func Load() (*AppConfig, error) {
	var cfg AppConfig
	if err := env.Parse(&cfg.Settings); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if path := strings.TrimSpace(cfg.SourcesFile); path != "" {
		sources, err := LoadSources(path)
		if err != nil {
			return nil, err
		}
		cfg.Sources = sources
	} else {
		cfg.Sources = DefaultSources(cfg.StockfishPath)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(cfg *AppConfig) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			parts := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(parts, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	known := uci.Bindings()
	for _, src := range cfg.Sources {
		if src.Kind != uci.SourceBinding {
			continue
		}
		if !slices.Contains(known, strings.ToLower(strings.TrimSpace(src.Locator))) {
			return fmt.Errorf("invalid config: unknown engine binding %q (registered: %s)", src.Locator, strings.Join(known, ", "))
		}
	}
	return nil
}

// LoadSources reads an ordered candidate list from a YAML file:
//
//	sources:
//	  - name: stockfish
//	    kind: local
//	    locator: /usr/bin/stockfish
func LoadSources(path string) ([]uci.Source, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}
	var f sourcesFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse sources file %s: %w", path, err)
	}
	if len(f.Sources) == 0 {
		return nil, fmt.Errorf("sources file %s lists no engines", path)
	}
	for i := range f.Sources {
		f.Sources[i].Kind = uci.SourceKind(strings.ToLower(strings.TrimSpace(string(f.Sources[i].Kind))))
	}
	return f.Sources, nil
}

// DefaultSources is STOCKFISH_PATH when set, then stockfish on PATH, then the
// builtin engine.
func DefaultSources(stockfishPath string) []uci.Source {
	var out []uci.Source
	if p := strings.TrimSpace(stockfishPath); p != "" {
		out = append(out, uci.Source{Name: "stockfish-path", Kind: uci.SourceLocal, Locator: p})
	}
	if p, err := exec.LookPath("stockfish"); err == nil && p != strings.TrimSpace(stockfishPath) {
		out = append(out, uci.Source{Name: "stockfish", Kind: uci.SourceLocal, Locator: p})
	}
	out = append(out, uci.Source{Name: "builtin", Kind: uci.SourceBinding, Locator: builtin.BindingName})
	return out
}

// Skill resolves the engine skill level; an explicit CHESS_SKILL_LEVEL wins
// over the strength table.
func (c *AppConfig) Skill() int {
	if c.SkillLevel >= 0 {
		return c.SkillLevel
	}
	if s, ok := strengthSkill[c.Strength]; ok {
		return s
	}
	return strengthSkill[800]
}

func (c *AppConfig) Side() domain.Side {
	side, err := domain.ParseSide(c.HumanSide)
	if err != nil {
		return domain.White
	}
	return side
}

func (c *AppConfig) EngineOptions() uci.Options {
	opt := uci.Options{
		SkillLevel:       c.Skill(),
		HandshakeTimeout: c.HandshakeTimeout,
		SearchTimeout:    c.SearchTimeout,
	}
	if p := strings.TrimSpace(c.BookPath); p != "" {
		opt.Extra = map[string]string{builtin.BookFileOption: p}
	}
	return opt
}
