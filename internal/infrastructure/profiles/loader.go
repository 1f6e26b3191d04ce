// Package profiles loads system prompt profiles from YAML files and keeps
// them in sync with the directory while the service runs.
package profiles

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ngoclaw/scenegate/internal/domain/entity"
	"github.com/ngoclaw/scenegate/pkg/safego"
)

// File is the on-disk shape of one profile.
//
//	name: default
//	head: |
//	  You are ...
//	rules: |
//	  Keep every reply ...
type File struct {
	Name  string `yaml:"name"`
	Head  string `yaml:"head"`
	Rules string `yaml:"rules"`
}

// Store is the profile management surface the loader writes through.
type Store interface {
	Upsert(ctx context.Context, name, headText, ruleText string) (*entity.SystemPromptProfile, error)
	ActivateByName(ctx context.Context, name string) (*entity.SystemPromptProfile, error)
	Active(ctx context.Context) (*entity.SystemPromptProfile, error)
}

// Config 加载器配置
type Config struct {
	Dir         string
	Watch       bool
	DefaultName string        // activated when no profile is active
	Debounce    time.Duration // coalesces bursts of editor writes
}

// Loader 提示词配置文件加载器
type Loader struct {
	dir         string
	defaultName string
	debounce    time.Duration
	store       Store
	watcher     *fsnotify.Watcher
	logger      *zap.Logger

	mu       sync.Mutex
	pending  map[string]*time.Timer
	onReload func(p *entity.SystemPromptProfile)
}

// NewLoader 创建加载器；Watch 为 true 时创建文件监视器
func NewLoader(cfg Config, store Store, logger *zap.Logger) (*Loader, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("profiles dir is required")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 200 * time.Millisecond
	}

	l := &Loader{
		dir:         cfg.Dir,
		defaultName: cfg.DefaultName,
		debounce:    cfg.Debounce,
		store:       store,
		logger:      logger.With(zap.String("component", "profile_loader")),
		pending:     make(map[string]*time.Timer),
	}

	if cfg.Watch {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("failed to create watcher: %w", err)
		}
		l.watcher = watcher
	}
	return l, nil
}

// OnReload registers a callback invoked after a watched file is re-applied.
func (l *Loader) OnReload(fn func(p *entity.SystemPromptProfile)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onReload = fn
}

// ParseFile reads one profile file. A missing name falls back to the file
// name without extension.
func ParseFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	f.Name = strings.TrimSpace(f.Name)
	if f.Name == "" {
		f.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if strings.TrimSpace(f.Head) == "" && strings.TrimSpace(f.Rules) == "" {
		return nil, fmt.Errorf("profile %s: head and rules are both empty", path)
	}
	return &f, nil
}

// LoadAll applies every profile file in the directory, then activates the
// default profile if nothing is active yet. Unreadable files are logged and
// skipped.
func (l *Loader) LoadAll(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			l.logger.Warn("Profiles dir missing", zap.String("dir", l.dir))
			return 0, l.ensureActive(ctx)
		}
		return 0, fmt.Errorf("failed to read profiles dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !isProfileFile(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	loaded := 0
	for _, name := range names {
		if _, err := l.apply(ctx, filepath.Join(l.dir, name)); err != nil {
			l.logger.Error("Failed to load profile", zap.String("file", name), zap.Error(err))
			continue
		}
		loaded++
	}

	l.logger.Info("Profiles loaded", zap.String("dir", l.dir), zap.Int("count", loaded))
	return loaded, l.ensureActive(ctx)
}

func (l *Loader) apply(ctx context.Context, path string) (*entity.SystemPromptProfile, error) {
	f, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	return l.store.Upsert(ctx, f.Name, f.Head, f.Rules)
}

func (l *Loader) ensureActive(ctx context.Context) error {
	_, err := l.store.Active(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, entity.ErrNoActiveProfile) {
		return err
	}
	if l.defaultName == "" {
		l.logger.Warn("No active profile and no default configured")
		return nil
	}
	p, err := l.store.ActivateByName(ctx, l.defaultName)
	if err != nil {
		l.logger.Warn("Default profile not activated",
			zap.String("name", l.defaultName),
			zap.Error(err),
		)
		return nil
	}
	l.logger.Info("Default profile activated", zap.String("id", p.ID()), zap.String("name", p.Name()))
	return nil
}

// StartWatching re-applies profile files as they are written. Removing a
// file leaves the stored profile in place.
func (l *Loader) StartWatching(ctx context.Context) error {
	if l.watcher == nil {
		return nil
	}
	if err := l.watcher.Add(l.dir); err != nil {
		return fmt.Errorf("failed to watch profiles dir: %w", err)
	}

	safego.Go(l.logger, "profile-watcher", func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-l.watcher.Events:
				if !ok {
					return
				}
				l.handleWatchEvent(ctx, event)
			case err, ok := <-l.watcher.Errors:
				if !ok {
					return
				}
				l.logger.Error("Watcher error", zap.Error(err))
			}
		}
	})

	l.logger.Info("Profile hot-reload watching started", zap.String("dir", l.dir))
	return nil
}

func (l *Loader) handleWatchEvent(ctx context.Context, event fsnotify.Event) {
	if !isProfileFile(event.Name) {
		return
	}
	switch {
	case event.Op&(fsnotify.Write|fsnotify.Create) != 0:
		l.schedule(ctx, event.Name)
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		l.logger.Info("Profile file removed, stored profile kept",
			zap.String("file", filepath.Base(event.Name)),
		)
	}
}

// schedule reloads path once the debounce window passes without new writes.
func (l *Loader) schedule(ctx context.Context, path string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if t, ok := l.pending[path]; ok {
		t.Stop()
	}
	l.pending[path] = time.AfterFunc(l.debounce, func() {
		l.mu.Lock()
		delete(l.pending, path)
		cb := l.onReload
		l.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		safego.Run(l.logger, "profile-reload", func() {
			p, err := l.apply(ctx, path)
			if err != nil {
				l.logger.Error("Profile reload failed", zap.String("file", filepath.Base(path)), zap.Error(err))
				return
			}
			l.logger.Info("Profile reloaded", zap.String("name", p.Name()))
			if cb != nil {
				cb(p)
			}
		})
	})
}

// Close 关闭监视器并取消未执行的重载
func (l *Loader) Close() error {
	l.mu.Lock()
	for path, t := range l.pending {
		t.Stop()
		delete(l.pending, path)
	}
	l.mu.Unlock()

	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}

func isProfileFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
