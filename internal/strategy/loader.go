package strategy

import (
	"fmt"
	"os"
	"sort"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/hmuraoka/trading-core/internal/config"
)

// strategiesFile mirrors the on-disk strategies listing.
type strategiesFile struct {
	Version    string                     `yaml:"strategy_system_version"`
	Strategies map[string]strategyConfig  `yaml:"strategies"`
}

type strategyConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ClassName    string  `yaml:"class_name"`
	StrategyType string  `yaml:"strategy_type"`
	Priority     int     `yaml:"priority"`
	Weight       float64 `yaml:"weight"`
	Description  string  `yaml:"description"`
}

// Loaded pairs an instantiated strategy with its listing metadata.
type Loaded struct {
	Strategy Strategy
	ID       string
	Weight   float64
	Priority int
	Family   Family
}

// Loader reads the strategies listing, instantiates each enabled entry
// through the registry with its tunables from the threshold store, and
// returns the set sorted by priority. It is the only construction path
// for strategies used by the live manager.
type Loader struct {
	logger *zap.Logger
	store  *config.ThresholdStore
	path   string
}

// NewLoader creates a loader over the listing file.
func NewLoader(logger *zap.Logger, store *config.ThresholdStore, path string) *Loader {
	return &Loader{
		logger: logger.Named("strategy-loader"),
		store:  store,
		path:   path,
	}
}

// Load instantiates every enabled strategy, sorted by ascending priority.
func (l *Loader) Load() ([]Loaded, error) {
	raw, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("strategies file %s: %w", l.path, err)
	}

	var file strategiesFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("strategies file %s: %w", l.path, err)
	}
	if len(file.Strategies) == 0 {
		return nil, fmt.Errorf("strategies file %s: no strategies section", l.path)
	}

	var loaded []Loaded
	ids := make([]string, 0, len(file.Strategies))
	for id := range file.Strategies {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		cfg := file.Strategies[id]
		if !cfg.Enabled {
			l.logger.Info("Strategy disabled, skipping", zap.String("id", id))
			continue
		}
		entry, err := l.loadOne(id, cfg)
		if err != nil {
			return nil, err
		}
		loaded = append(loaded, entry)
	}

	sort.SliceStable(loaded, func(i, j int) bool { return loaded[i].Priority < loaded[j].Priority })

	l.logger.Info("Strategies loaded",
		zap.Int("count", len(loaded)),
		zap.String("version", file.Version))
	return loaded, nil
}

func (l *Loader) loadOne(id string, cfg strategyConfig) (Loaded, error) {
	if cfg.ClassName == "" {
		return Loaded{}, fmt.Errorf("strategy %q: class_name is required", id)
	}
	if cfg.StrategyType == "" {
		return Loaded{}, fmt.Errorf("strategy %q: strategy_type is required", id)
	}
	if cfg.Weight < 0 || cfg.Weight > 1 {
		return Loaded{}, fmt.Errorf("strategy %q: weight %v out of [0,1]", id, cfg.Weight)
	}

	reg, err := Lookup(cfg.ClassName)
	if err != nil {
		return Loaded{}, fmt.Errorf("strategy %q: %w", id, err)
	}

	instance := reg.Factory(l.logger, l.store)

	l.logger.Info("Strategy loaded",
		zap.String("id", id),
		zap.String("class", cfg.ClassName),
		zap.Float64("weight", cfg.Weight),
		zap.Int("priority", cfg.Priority))

	return Loaded{
		Strategy: instance,
		ID:       id,
		Weight:   cfg.Weight,
		Priority: cfg.Priority,
		Family:   reg.Family,
	}, nil
}
