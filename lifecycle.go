// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package throttle

import (
	"sync"

	"go.uber.org/zap"
)

// Lifecycle shares one Store between any number of independent loads of the
// host module. The store is built on the first Load and released exactly once,
// when the last matching Unload runs.
type Lifecycle struct {
	mu      sync.Mutex
	configs []Config
	logger  *zap.Logger
	refs    int
	store   *Store
}

// NewLifecycle returns a Lifecycle that builds its store with the given
// configuration.
func NewLifecycle(configs ...Config) *Lifecycle {
	c := &config{}
	for _, cfg := range configs {
		cfg(c)
	}
	logger := c.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Lifecycle{configs: configs, logger: logger}
}

// Load takes a reference on the shared store, creating it if this is the first
// reference.
func (l *Lifecycle) Load() (*Store, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.refs == 0 {
		s, err := New(l.configs...)
		if err != nil {
			return nil, err
		}
		l.store = s
		l.logger.Info("store allocated", zap.Int("partitions", len(s.parts)))
	}
	l.refs++
	l.logger.Debug("store loaded", zap.Int("refs", l.refs))
	return l.store, nil
}

// Unload drops a reference taken by Load. Dropping the last one closes the
// store. Unloading more often than loading panics.
func (l *Lifecycle) Unload() {
	if s := l.release(); s != nil {
		s.Close()
	}
}

// release drops a reference and hands back the store when it was the last
// one. The store is closed by the caller, after l.mu is released, so the
// lifecycle lock is never held together with a partition lock.
func (l *Lifecycle) release() *Store {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.refs == 0 {
		panic(invariant(l.logger, "unload without matching load"))
	}
	l.refs--
	l.logger.Debug("store unloaded", zap.Int("refs", l.refs))
	if l.refs > 0 {
		return nil
	}
	s := l.store
	l.store = nil
	return s
}

// Refs returns the number of outstanding loads.
func (l *Lifecycle) Refs() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refs
}
