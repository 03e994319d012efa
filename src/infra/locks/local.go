// Package locks provides the in-process implementation of the correlation key locks.
package locks

import (
	"context"
	"sort"
	"sync"
)

// LocalLocker holds exclusive locks over key sets inside one process. A key set is
// acquired all-or-nothing, so two callers can never each hold part of the other's set.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]chan struct{})}
}

// Lock blocks until every key in scope is free, then takes them all.
func (l *LocalLocker) Lock(ctx context.Context, scope string, keys []string) (func(), error) {
	scoped := ScopedKeys(scope, keys)

	for {
		l.mu.Lock()
		var busy chan struct{}
		for _, k := range scoped {
			if ch, ok := l.held[k]; ok {
				busy = ch
				break
			}
		}

		if busy == nil {
			release := make(chan struct{})
			for _, k := range scoped {
				l.held[k] = release
			}
			l.mu.Unlock()

			var once sync.Once
			return func() {
				once.Do(func() {
					l.mu.Lock()
					for _, k := range scoped {
						delete(l.held, k)
					}
					l.mu.Unlock()
					close(release)
				})
			}, nil
		}
		l.mu.Unlock()

		select {
		case <-busy:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// ScopedKeys prefixes, sorts and de-duplicates keys.
func ScopedKeys(scope string, keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		sk := scope + ":" + k
		if _, ok := seen[sk]; ok {
			continue
		}
		seen[sk] = struct{}{}
		out = append(out, sk)
	}
	sort.Strings(out)
	return out
}
