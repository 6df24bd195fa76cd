// Package config provides the layered threshold store: every tunable
// numeric parameter in the core resolves through it by dotted path.
// A base YAML file is loaded first and deep-merged with a tuning overlay
// whose leaves win. Thresholds and tunables are looked up here, with
// defaults at the call sites and in the shipped config files; some
// strategies' confidence formulas also use fixed coefficients and caps
// written in the strategy code, which the store does not cover.
package config

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// ErrMissingKey is returned by Require when a path resolves nowhere and no
// default was supplied.
var ErrMissingKey = errors.New("threshold key not found")

// ThresholdStore resolves dotted-path parameters against a merged
// base + overlay tree. The tree is read-only after load; Reload drops the
// cache so the next access re-reads both files. Reload must not be called
// while a trading cycle is in flight.
type ThresholdStore struct {
	logger      *zap.Logger
	basePath    string
	overlayPath string

	mu     sync.RWMutex
	v      *viper.Viper
	loaded bool
}

// NewThresholdStore creates a store over the given base and overlay files.
// Neither file is read until first access.
func NewThresholdStore(logger *zap.Logger, basePath, overlayPath string) *ThresholdStore {
	return &ThresholdStore{
		logger:      logger.Named("thresholds"),
		basePath:    basePath,
		overlayPath: overlayPath,
	}
}

// Load reads and merges the configuration files. Missing files are
// tolerated with a warning; callers are expected to pass defaults.
// Load is idempotent until Reload is called.
func (s *ThresholdStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *ThresholdStore) loadLocked() error {
	if s.loaded {
		return nil
	}

	v := viper.New()
	v.SetConfigType("yaml")

	if err := s.mergeFile(v, s.basePath); err != nil {
		return fmt.Errorf("base config %s: %w", s.basePath, err)
	}
	if err := s.mergeFile(v, s.overlayPath); err != nil {
		return fmt.Errorf("overlay config %s: %w", s.overlayPath, err)
	}

	s.v = v
	s.loaded = true
	return nil
}

func (s *ThresholdStore) mergeFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Warn("Config file missing, continuing with defaults",
				zap.String("path", path))
			return nil
		}
		return err
	}
	defer f.Close()

	if err := v.MergeConfig(f); err != nil {
		return err
	}
	return nil
}

// Reload drops the cached tree. The next lookup re-reads both files.
func (s *ThresholdStore) Reload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = false
	s.v = nil
	s.logger.Info("Threshold cache cleared")
}

// ensure returns the loaded viper instance, loading lazily on first use.
func (s *ThresholdStore) ensure() *viper.Viper {
	s.mu.RLock()
	if s.loaded {
		v := s.v
		s.mu.RUnlock()
		return v
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		if err := s.loadLocked(); err != nil {
			s.logger.Error("Threshold load failed, all lookups fall back to defaults",
				zap.Error(err))
			// Keep an empty tree so lookups resolve to defaults.
			s.v = viper.New()
			s.loaded = true
		}
	}
	return s.v
}

// Has reports whether the path resolves in the merged tree.
func (s *ThresholdStore) Has(keyPath string) bool {
	return s.ensure().IsSet(keyPath)
}

// Float resolves a float64 parameter, returning def when the path is absent.
func (s *ThresholdStore) Float(keyPath string, def float64) float64 {
	v := s.ensure()
	if !v.IsSet(keyPath) {
		return def
	}
	return v.GetFloat64(keyPath)
}

// Int resolves an int parameter, returning def when the path is absent.
func (s *ThresholdStore) Int(keyPath string, def int) int {
	v := s.ensure()
	if !v.IsSet(keyPath) {
		return def
	}
	return v.GetInt(keyPath)
}

// Bool resolves a bool parameter, returning def when the path is absent.
func (s *ThresholdStore) Bool(keyPath string, def bool) bool {
	v := s.ensure()
	if !v.IsSet(keyPath) {
		return def
	}
	return v.GetBool(keyPath)
}

// String resolves a string parameter, returning def when the path is absent.
func (s *ThresholdStore) String(keyPath, def string) string {
	v := s.ensure()
	if !v.IsSet(keyPath) {
		return def
	}
	return v.GetString(keyPath)
}

// FloatMap resolves a mapping of name -> float64 (used for per-regime
// strategy weights). Returns nil when the path is absent or holds no map.
func (s *ThresholdStore) FloatMap(keyPath string) map[string]float64 {
	v := s.ensure()
	if !v.IsSet(keyPath) {
		return nil
	}
	raw := v.GetStringMap(keyPath)
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]float64, len(raw))
	for name := range raw {
		out[name] = v.GetFloat64(keyPath + "." + name)
	}
	return out
}

// Sub returns the subtree at the path as a generic map, or nil when absent.
// The loader uses this to hand each strategy its own tunables.
func (s *ThresholdStore) Sub(keyPath string) map[string]any {
	v := s.ensure()
	if !v.IsSet(keyPath) {
		return nil
	}
	return v.GetStringMap(keyPath)
}

// Require resolves a path that must exist; it fails with ErrMissingKey
// rather than inventing a value.
func (s *ThresholdStore) Require(keyPath string) (any, error) {
	v := s.ensure()
	if !v.IsSet(keyPath) {
		return nil, fmt.Errorf("%w: %s", ErrMissingKey, keyPath)
	}
	return v.Get(keyPath), nil
}

// FloatOk resolves a float64 and reports whether the path existed. Fusion
// uses this for per-regime keys that fall back to global ones.
func (s *ThresholdStore) FloatOk(keyPath string) (float64, bool) {
	v := s.ensure()
	if !v.IsSet(keyPath) {
		return 0, false
	}
	return v.GetFloat64(keyPath), true
}
