package config

import (
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// RuleConfig holds the operator-tunable thresholds for entity resolution and
// the quality gate. It lives in a YAML file that is hot-reloaded so threshold
// changes take effect without a pipeline restart.
type RuleConfig struct {
	Resolver struct {
		// Minimum trigram similarity for a fuzzy catalog match.
		SimilarityThreshold float64 `yaml:"similarity_threshold"`
	} `yaml:"resolver"`

	Quality struct {
		// Upper sanity bound on a single transaction amount.
		AmountCeiling float64 `yaml:"amount_ceiling"`
		// Relative tolerance for the line-item sum reconciliation.
		LineSumTolerance float64 `yaml:"line_sum_tolerance"`
		// Trailing window for the resolution-coverage rule.
		CoverageWindowMinutes int `yaml:"coverage_window_minutes"`
		// Alert when the unresolved line-item fraction exceeds this.
		MaxUnresolvedRate float64 `yaml:"max_unresolved_rate"`
	} `yaml:"quality"`
}

// RulesLoader reads the rule config file and watches it for changes.
type RulesLoader struct {
	path    string
	mu      sync.RWMutex
	current *RuleConfig
	watcher *fsnotify.Watcher
}

// NewRulesLoader creates a loader and performs the initial load. A missing
// file is not an error: the defaults apply until the file appears.
func NewRulesLoader(path string) (*RulesLoader, error) {
	l := &RulesLoader{path: path}
	cfg, err := l.load()
	if err != nil {
		if os.IsNotExist(err) {
			cfg = defaultRules()
		} else {
			return nil, err
		}
	}
	l.current = cfg
	return l, nil
}

// Rules returns the current (latest) rule configuration.
func (l *RulesLoader) Rules() *RuleConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// Watch starts a background goroutine that hot-reloads the rule file on
// change. Call the returned stop function to clean up. A file that fails to
// parse leaves the previous config in effect.
func (l *RulesLoader) Watch() (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("rules watcher: %w", err)
	}
	if err := w.Add(l.path); err != nil {
		w.Close()
		return nil, fmt.Errorf("rules watcher add %s: %w", l.path, err)
	}
	l.watcher = w

	done := make(chan struct{})
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					cfg, err := l.load()
					if err != nil {
						continue
					}
					l.mu.Lock()
					l.current = cfg
					l.mu.Unlock()
				}
			case <-w.Errors:
			case <-done:
				return
			}
		}
	}()

	return func() { close(done) }, nil
}

func (l *RulesLoader) load() (*RuleConfig, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, err
	}
	cfg := defaultRules()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse rules %s: %w", l.path, err)
	}
	return cfg, nil
}

func defaultRules() *RuleConfig {
	cfg := &RuleConfig{}
	cfg.Resolver.SimilarityThreshold = 0.6
	cfg.Quality.AmountCeiling = 100000
	cfg.Quality.LineSumTolerance = 0.01
	cfg.Quality.CoverageWindowMinutes = 60
	cfg.Quality.MaxUnresolvedRate = 0.5
	return cfg
}
