package model

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/xerrors"

	"github.com/Brownie44l1/leaf-api/internal/lgr"
)

var ErrModelLoad = errors.New("model loading failed")

// Loader produces a classifier. It is called until it succeeds once.
type Loader func() (Classifier, error)

type handle struct {
	classifier Classifier
}

// Cache loads the model at most once per process and shares the handle.
// A failed load is not remembered: the next Get tries again.
type Cache struct {
	load    Loader
	mu      sync.Mutex
	current atomic.Pointer[handle]
}

func NewCache(load Loader) *Cache {
	return &Cache{load: load}
}

func (c *Cache) Get() (Classifier, error) {
	if h := c.current.Load(); h != nil {
		return h.classifier, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// another caller may have finished loading while we waited
	if h := c.current.Load(); h != nil {
		return h.classifier, nil
	}

	start := time.Now()
	classifier, err := c.load()
	if err == nil && classifier == nil {
		err = errors.New("loader returned no model")
	}
	if err != nil {
		lgr.Logger.Error("model loading error", slog.Any("error", xerrors.Errorf("load: %w", err)))
		return nil, fmt.Errorf("%w: %w", ErrModelLoad, err)
	}

	c.current.Store(&handle{classifier: classifier})
	lgr.Logger.Info("model loaded successfully", slog.Duration("took", time.Since(start)))
	return classifier, nil
}

func (c *Cache) Loaded() bool {
	return c.current.Load() != nil
}

// Close releases the loaded model, if any. Get must not be called afterwards.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	h := c.current.Swap(nil)
	if h == nil {
		return nil
	}
	return h.classifier.Close()
}
