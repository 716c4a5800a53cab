package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/papercomputeco/chatbroker/pkg/persona"
)

// LivePersona is a persona that can be swapped while workers read it.
type LivePersona struct {
	current atomic.Pointer[persona.Persona]
}

// NewLivePersona creates a LivePersona holding p.
func NewLivePersona(p persona.Persona) *LivePersona {
	l := &LivePersona{}
	l.Store(p)
	return l
}

// Persona returns the current persona.
func (l *LivePersona) Persona() persona.Persona {
	return *l.current.Load()
}

// Store replaces the current persona.
func (l *LivePersona) Store(p persona.Persona) {
	l.current.Store(&p)
}

// debounce coalesces the burst of events editors emit on save.
const debounce = 50 * time.Millisecond

// Watch reloads path whenever it changes and hands the new configuration to
// onChange. Invalid edits are logged and skipped. It blocks until ctx is
// cancelled.
func Watch(ctx context.Context, path string, onChange func(*Config), logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors replace files rather than writing in place.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	logger.Debug("watching config", zap.String("path", abs))

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			pending = time.After(debounce)

		case <-pending:
			pending = nil
			cfg, err := Load(abs, true)
			if err != nil {
				logger.Warn("ignoring invalid config change", zap.String("path", abs), zap.Error(err))
				continue
			}
			logger.Info("config reloaded", zap.String("path", abs))
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", zap.Error(err))
		}
	}
}
