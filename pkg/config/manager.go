package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// ReloadedMessage is the log message emitted when a config is successfully reloaded.
const ReloadedMessage = "Config reloaded successfully"

// DefaultDebounceDelay coalesces the burst of filesystem events a single
// config update produces into one reload.
const DefaultDebounceDelay = 2 * time.Second

// Manager provides thread-safe configuration management with hot-reload support.
type Manager[T any] struct {
	mu              sync.RWMutex
	config          *T
	configPath      string
	loadFunc        func(string) (*T, error)
	logger          *logrus.Logger
	watcher         *fsnotify.Watcher
	updateCallbacks []func(*T)
	debounceTimer   *time.Timer
	debounceDelay   time.Duration
	lastHash        string
}

// NewManager creates a new config manager with the specified load function.
func NewManager[T any](configPath string, loadFunc func(string) (*T, error), logger *logrus.Logger, debounceDelay time.Duration) (*Manager[T], error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	manager := &Manager[T]{
		configPath:      configPath,
		loadFunc:        loadFunc,
		logger:          logger,
		watcher:         watcher,
		updateCallbacks: make([]func(*T), 0),
		debounceDelay:   debounceDelay,
	}

	if err := manager.load(); err != nil {
		watcher.Close()
		return nil, err
	}

	// Seed the content hash so an unchanged rewrite of the file is a no-op.
	if configBytes, err := os.ReadFile(configPath); err == nil {
		hash := sha256.Sum256(configBytes)
		manager.lastHash = hex.EncodeToString(hash[:])
	}

	return manager, nil
}

// Get returns the current configuration in a thread-safe manner.
func (m *Manager[T]) Get() *T {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// load loads and validates the configuration from the file.
func (m *Manager[T]) load() error {
	config, err := m.loadFunc(m.configPath)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.config = config
	m.mu.Unlock()

	return nil
}

// reload attempts to reload the configuration and update callbacks if successful.
func (m *Manager[T]) reload() {
	m.mu.Lock()
	configBytes, err := os.ReadFile(m.configPath)
	if err != nil {
		m.mu.Unlock()
		m.logger.WithFields(logrus.Fields{
			"config_path": m.configPath,
			"error":       err,
		}).Error("Failed to read config file for hash validation")
		return
	}

	newHash := sha256.Sum256(configBytes)
	newHashStr := hex.EncodeToString(newHash[:])
	if newHashStr == m.lastHash {
		m.mu.Unlock()
		m.logger.WithField("config_path", m.configPath).Info("Config file content unchanged, skipping reload")
		return
	}

	newConfig, err := m.loadFunc(m.configPath)
	if err != nil {
		m.mu.Unlock()
		m.logger.WithFields(logrus.Fields{
			"config_path": m.configPath,
			"error":       err,
		}).Error("Failed to reload config, keeping existing config")
		return
	}

	m.config = newConfig
	m.lastHash = newHashStr
	callbacks := make([]func(*T), len(m.updateCallbacks))
	copy(callbacks, m.updateCallbacks)

	m.logger.WithField("config_path", m.configPath).Info(ReloadedMessage)

	// Callbacks run without the lock; they may be slow.
	m.mu.Unlock()
	for _, callback := range callbacks {
		callback(newConfig)
	}
}

// OnUpdate registers a callback function that will be called when the configuration is updated.
func (m *Manager[T]) OnUpdate(callback func(*T)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCallbacks = append(m.updateCallbacks, callback)
}

// Watch starts watching the configuration file for changes and reloads when changes are detected.
// The containing directory is watched rather than the file itself: mounted
// config volumes update via symlink swaps that make the watched inode
// disappear.
func (m *Manager[T]) Watch(ctx context.Context) error {
	configDir := filepath.Dir(m.configPath)
	if err := m.watcher.Add(configDir); err != nil {
		return err
	}

	normalizedConfigPath := filepath.Clean(m.configPath)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-m.watcher.Events:
				if !ok {
					return
				}

				eventPath := filepath.Clean(event.Name)
				shouldReload := false

				if event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
					// Directory-level changes may affect the file
					shouldReload = true
				} else if eventPath == normalizedConfigPath {
					if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
						shouldReload = true
					}
				}

				if shouldReload {
					m.logger.WithFields(logrus.Fields{
						"config_path": m.configPath,
						"event":       event,
					}).Info("Config file changed, scheduling reload")

					m.mu.Lock()
					if m.debounceTimer != nil {
						m.debounceTimer.Stop()
					}
					m.debounceTimer = time.AfterFunc(m.debounceDelay, m.reload)
					m.mu.Unlock()
				}
			case err, ok := <-m.watcher.Errors:
				if !ok {
					return
				}
				m.logger.WithFields(logrus.Fields{
					"config_path": m.configPath,
					"error":       err,
				}).Error("Error watching config file")
			}
		}
	}()

	return nil
}

// Close closes the file watcher and cleans up resources.
func (m *Manager[T]) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.debounceTimer != nil {
		m.debounceTimer.Stop()
	}
	return m.watcher.Close()
}
