package uci

import (
	"context"
	"io"
	"sort"
	"strings"
	"sync"
)

// BindingFunc runs an in-process engine. It reads protocol commands from in,
// writes engine output to out and returns when in is exhausted or ctx ends.
type BindingFunc func(ctx context.Context, in io.Reader, out io.Writer) error

var (
	bindingsMu sync.RWMutex
	bindings   = map[string]BindingFunc{}
)

// Register makes an in-process engine available to binding sources.
// Registering the same name twice replaces the earlier entry.
func Register(name string, fn BindingFunc) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || fn == nil {
		return
	}
	bindingsMu.Lock()
	bindings[key] = fn
	bindingsMu.Unlock()
}

func Unregister(name string) {
	bindingsMu.Lock()
	delete(bindings, strings.ToLower(strings.TrimSpace(name)))
	bindingsMu.Unlock()
}

func Bindings() []string {
	bindingsMu.RLock()
	defer bindingsMu.RUnlock()
	out := make([]string, 0, len(bindings))
	for k := range bindings {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func lookupBinding(name string) (BindingFunc, bool) {
	bindingsMu.RLock()
	defer bindingsMu.RUnlock()
	fn, ok := bindings[strings.ToLower(strings.TrimSpace(name))]
	return fn, ok
}
