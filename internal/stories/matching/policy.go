package matching

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"paykit/internal/stories/catalog"
)

var ErrInvalidPolicy = errors.New("invalid selection policy")

const TieBreakCatalogOrder = "catalog-order"

// Policy orders candidates. Implementations are pure and deterministic.
type Policy interface {
	Rank(candidates []Candidate) []Candidate
}

// DefaultPolicy keeps the payee's catalog order.
type DefaultPolicy struct{}

func (DefaultPolicy) Rank(candidates []Candidate) []Candidate {
	return rankBy(candidates, func(Candidate) int { return 0 })
}

// PolicyConfig is the user-facing rule set.
type PolicyConfig struct {
	Prefer   []catalog.MethodID `yaml:"prefer"`
	Avoid    []catalog.MethodID `yaml:"avoid"`
	TieBreak string             `yaml:"tie_break"`
}

// CustomPolicy ranks preferred methods first (in prefer-list order), then
// unlisted methods, then avoided methods. Ties keep catalog order.
type CustomPolicy struct {
	prefer map[catalog.MethodID]int
	avoid  map[catalog.MethodID]struct{}
}

func NewCustomPolicy(cfg PolicyConfig) (*CustomPolicy, error) {
	if cfg.TieBreak != "" && cfg.TieBreak != TieBreakCatalogOrder {
		return nil, fmt.Errorf("%w: unknown tie_break %q", ErrInvalidPolicy, cfg.TieBreak)
	}
	for _, m := range slices.Concat(cfg.Prefer, cfg.Avoid) {
		if strings.TrimSpace(string(m)) == "" {
			return nil, fmt.Errorf("%w: empty method id", ErrInvalidPolicy)
		}
	}
	if dup := lo.FindDuplicates(cfg.Prefer); len(dup) > 0 {
		return nil, fmt.Errorf("%w: %q listed twice in prefer", ErrInvalidPolicy, dup[0])
	}
	if both := lo.Intersect(cfg.Prefer, cfg.Avoid); len(both) > 0 {
		return nil, fmt.Errorf("%w: %q is both preferred and avoided", ErrInvalidPolicy, both[0])
	}

	p := &CustomPolicy{
		prefer: make(map[catalog.MethodID]int, len(cfg.Prefer)),
		avoid:  make(map[catalog.MethodID]struct{}, len(cfg.Avoid)),
	}
	for i, m := range cfg.Prefer {
		p.prefer[m] = i
	}
	for _, m := range cfg.Avoid {
		p.avoid[m] = struct{}{}
	}
	return p, nil
}

func (p *CustomPolicy) Rank(candidates []Candidate) []Candidate {
	unlisted := len(p.prefer)
	return rankBy(candidates, func(c Candidate) int {
		if i, ok := p.prefer[c.Method]; ok {
			return i
		}
		if _, ok := p.avoid[c.Method]; ok {
			return unlisted + 1
		}
		return unlisted
	})
}

// rankBy sorts a copy by weight then catalog position and renumbers Rank.
func rankBy(candidates []Candidate, weight func(Candidate) int) []Candidate {
	out := slices.Clone(candidates)
	slices.SortStableFunc(out, func(a, b Candidate) int {
		if wa, wb := weight(a), weight(b); wa != wb {
			return wa - wb
		}
		return a.Position - b.Position
	})
	for i := range out {
		out[i].Rank = i
	}
	return out
}

// ParsePolicy reads a YAML rule set. Unknown keys are rejected. An empty
// document yields DefaultPolicy.
func ParsePolicy(data []byte) (Policy, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return DefaultPolicy{}, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var cfg PolicyConfig
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return DefaultPolicy{}, nil
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidPolicy, err)
	}
	if len(cfg.Prefer) == 0 && len(cfg.Avoid) == 0 && cfg.TieBreak == "" {
		return DefaultPolicy{}, nil
	}
	return NewCustomPolicy(cfg)
}

// LoadPolicy reads a policy file. An empty path yields DefaultPolicy.
func LoadPolicy(path string) (Policy, error) {
	if path == "" {
		return DefaultPolicy{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return ParsePolicy(data)
}
