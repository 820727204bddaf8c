package storage

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"callinsight-server/pkg/errors"
	"callinsight-server/pkg/metrics"
)

// ObjectBackend is a single byte-storage backend behind the gateway.
type ObjectBackend interface {
	// Name identifies the backend in logs and metrics
	Name() string

	// Ping verifies the backend is reachable and its container exists,
	// creating the container if needed
	Ping(ctx context.Context) error

	// Put stores data under key and returns an opaque location reference
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)

	// Get retrieves the bytes stored under key
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes the object; the bool reports whether it existed
	Delete(ctx context.Context, key string) (bool, error)
}

// Gateway stores raw call audio on a preferred object-store backend with a
// filesystem fallback. Once an operation against the preferred backend fails,
// the gateway switches to the fallback for the rest of its lifetime; there is
// no per-call retry of the preferred backend.
type Gateway struct {
	logger    *logrus.Entry
	preferred ObjectBackend
	fallback  ObjectBackend

	// degraded is set exactly once and is visible to all subsequent
	// operations the moment a fallback transition happens
	degraded     atomic.Bool
	fallbackOnce sync.Once
}

// NewGateway constructs a gateway over the given backends. The fallback must
// be usable; if the preferred backend is nil or unreachable at construction
// time the gateway starts degraded.
func NewGateway(logger *logrus.Logger, preferred, fallback ObjectBackend) (*Gateway, error) {
	if fallback == nil {
		return nil, errors.New("storage gateway requires a fallback backend")
	}

	entry := logger.WithField("component", "storage_gateway")

	if err := fallback.Ping(context.Background()); err != nil {
		return nil, errors.Wrap(err, "fallback storage backend is unusable")
	}

	g := &Gateway{
		logger:    entry,
		preferred: preferred,
		fallback:  fallback,
	}

	if preferred == nil {
		g.degraded.Store(true)
		entry.Warn("No preferred storage backend configured, using filesystem storage")
		return g, nil
	}

	if err := preferred.Ping(context.Background()); err != nil {
		g.degraded.Store(true)
		entry.WithError(err).WithField("backend", preferred.Name()).
			Warn("Preferred storage backend unreachable, permanently falling back to filesystem storage")
	}

	return g, nil
}

// UsingFallback reports whether the gateway has switched to the fallback.
func (g *Gateway) UsingFallback() bool {
	return g.degraded.Load()
}

func (g *Gateway) active() ObjectBackend {
	if g.degraded.Load() {
		return g.fallback
	}
	return g.preferred
}

// failover pins the gateway to the fallback backend. Safe to call from
// concurrent operations; only the first call performs the transition.
func (g *Gateway) failover(cause error) {
	g.fallbackOnce.Do(func() {
		g.degraded.Store(true)
		metrics.RecordStorageFallback()
		g.logger.WithError(cause).WithField("backend", g.preferred.Name()).
			Warn("Storage backend failed, switching to filesystem fallback for all subsequent operations")
	})
}

// Put stores audio bytes under key and returns an opaque location. A failure
// on the preferred backend triggers the one-time fallback transition and a
// single retry against the fallback; a fallback failure is terminal.
func (g *Gateway) Put(ctx context.Context, key string, data []byte) (string, error) {
	contentType := ContentTypeFor(key)

	backend := g.active()
	location, err := backend.Put(ctx, key, data, contentType)
	if err == nil {
		metrics.RecordStorageOperation("put", backend.Name(), "success")
		return location, nil
	}
	metrics.RecordStorageOperation("put", backend.Name(), "error")

	if backend != g.fallback {
		g.failover(err)
		location, err = g.fallback.Put(ctx, key, data, contentType)
		if err == nil {
			metrics.RecordStorageOperation("put", g.fallback.Name(), "success")
			return location, nil
		}
		metrics.RecordStorageOperation("put", g.fallback.Name(), "error")
	}

	return "", errors.Wrap(errors.ErrStorageUnavailable, err.Error()).WithField("key", key)
}

// Get retrieves the bytes stored under key, mirroring Put's fallback behavior.
func (g *Gateway) Get(ctx context.Context, key string) ([]byte, error) {
	backend := g.active()
	data, err := backend.Get(ctx, key)
	if err == nil {
		metrics.RecordStorageOperation("get", backend.Name(), "success")
		return data, nil
	}
	metrics.RecordStorageOperation("get", backend.Name(), "error")

	if backend != g.fallback {
		g.failover(err)
		data, err = g.fallback.Get(ctx, key)
		if err == nil {
			metrics.RecordStorageOperation("get", g.fallback.Name(), "success")
			return data, nil
		}
		metrics.RecordStorageOperation("get", g.fallback.Name(), "error")
	}

	return nil, errors.Wrap(errors.ErrStorageUnavailable, err.Error()).WithField("key", key)
}

// Delete removes the object stored under key. The bool reports whether the
// object existed on the backend that served the request.
func (g *Gateway) Delete(ctx context.Context, key string) (bool, error) {
	backend := g.active()
	existed, err := backend.Delete(ctx, key)
	if err == nil {
		metrics.RecordStorageOperation("delete", backend.Name(), "success")
		return existed, nil
	}
	metrics.RecordStorageOperation("delete", backend.Name(), "error")

	if backend != g.fallback {
		g.failover(err)
		existed, err = g.fallback.Delete(ctx, key)
		if err == nil {
			metrics.RecordStorageOperation("delete", g.fallback.Name(), "success")
			return existed, nil
		}
		metrics.RecordStorageOperation("delete", g.fallback.Name(), "error")
	}

	return false, errors.Wrap(errors.ErrStorageUnavailable, err.Error()).WithField("key", key)
}

// ContentTypeFor infers the MIME type of an audio file from its extension.
func ContentTypeFor(key string) string {
	switch strings.ToLower(filepath.Ext(key)) {
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".m4a":
		return "audio/mp4"
	case ".ogg":
		return "audio/ogg"
	case ".flac":
		return "audio/flac"
	default:
		return "application/octet-stream"
	}
}
