// Package meta carries per-request log metadata through a context.
package meta

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

type metadata struct {
	carrier map[interface{}]interface{}
	mu      sync.RWMutex
}

func (c *metadata) Value(key interface{}) interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.carrier[key]
}

func (c *metadata) WithValue(key, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.carrier[key] = value
}

type contextKey struct{}

var metaContextKey = contextKey{}

type requestIDKey struct{}

// Begin attaches a metadata carrier to parent, or returns parent when it
// already has one. Call it as close to the root context as possible.
func Begin(parent context.Context) context.Context {
	if parent.Value(metaContextKey) != nil {
		return parent
	}
	return context.WithValue(parent, metaContextKey, &metadata{
		carrier: make(map[interface{}]interface{}),
	})
}

func metadataFrom(parent context.Context) *metadata {
	value := parent.Value(metaContextKey)
	if value == nil {
		logrus.Debug("meta not found from context, should call meta.Begin() first?")
		return nil
	}
	return value.(*metadata)
}

func WithValue(parent context.Context, key, val interface{}) {
	if m := metadataFrom(parent); m != nil {
		m.WithValue(key, val)
	}
}

func Value(parent context.Context, key interface{}) interface{} {
	m := metadataFrom(parent)
	if m == nil {
		return nil
	}
	return m.Value(key)
}

func WithRequestID(parent context.Context, id string) {
	WithValue(parent, requestIDKey{}, id)
}

// RequestID returns the request id recorded in parent, "" when none.
func RequestID(parent context.Context) string {
	id, _ := Value(parent, requestIDKey{}).(string)
	return id
}
