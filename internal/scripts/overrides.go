package scripts

import (
	"fmt"
	"sort"
	"sync"
)

// Scope names accepted in requests.
const (
	ScopeConfig = "config"
	ScopeTemp   = "temp"
)

// Overrides holds temporary per-environment values set over HTTP. They
// apply only to requests sent with the temp scope.
type Overrides struct {
	mu   sync.RWMutex
	envs map[string]map[string]string
}

func NewOverrides() *Overrides {
	return &Overrides{envs: map[string]map[string]string{}}
}

// Set replaces the overrides for one environment.
func (o *Overrides) Set(env string, values map[string]string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.envs[env] = copyMap(values)
}

// Get returns a copy of one environment's overrides.
func (o *Overrides) Get(env string) (map[string]string, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	v, ok := o.envs[env]
	if !ok {
		return nil, false
	}
	return copyMap(v), true
}

// All returns a deep copy of every environment's overrides.
func (o *Overrides) All() map[string]map[string]string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]map[string]string, len(o.envs))
	for k, v := range o.envs {
		out[k] = copyMap(v)
	}
	return out
}

// Environments lists environments with overrides, sorted.
func (o *Overrides) Environments() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]string, 0, len(o.envs))
	for k := range o.envs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ForScope picks the overrides a request scope asks for. Only the temp
// scope uses any, and it requires overrides for env; every other scope,
// named or not, runs with the collection's own values.
func (o *Overrides) ForScope(scope, env string) (map[string]string, error) {
	if scope != ScopeTemp {
		return nil, nil
	}
	v, ok := o.Get(env)
	if !ok {
		return nil, fmt.Errorf("no overrides found for environment %q: %w", env, ErrNotFound)
	}
	return v, nil
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
