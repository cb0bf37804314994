// Package providerspec lists the model providers uigen can reach through
// the chat.completions wire format, with their endpoint defaults.
package providerspec

import (
	"sort"
	"strings"
	"sync"
)

// StandIn is the in-process provider that needs no network.
const StandIn = "standin"

type Spec struct {
	Key     string
	Aliases []string

	DefaultBaseURL   string
	DefaultPath      string
	DefaultAPIKeyEnv string
	// ProviderOptionsKey selects the request's provider_options entry that
	// gets merged into the body.
	ProviderOptionsKey string
	// KeyOptional providers accept unauthenticated requests (local servers).
	KeyOptional bool
	// Local providers run in process; no adapter is built for them.
	Local bool
}

var (
	aliasOnce  sync.Once
	aliasIndex map[string]string
)

func aliases() map[string]string {
	aliasOnce.Do(func() {
		aliasIndex = aliasIndexFrom(builtinSpecs)
	})
	return aliasIndex
}

func aliasIndexFrom(specs map[string]Spec) map[string]string {
	out := map[string]string{}
	for rawKey, spec := range specs {
		key := strings.ToLower(strings.TrimSpace(rawKey))
		if key == "" {
			continue
		}
		out[key] = key
		for _, rawAlias := range spec.Aliases {
			if alias := strings.ToLower(strings.TrimSpace(rawAlias)); alias != "" {
				out[alias] = key
			}
		}
	}
	return out
}

// CanonicalProviderKey resolves aliases. Unknown keys come back lowercased
// and trimmed.
func CanonicalProviderKey(in string) string {
	key := strings.ToLower(strings.TrimSpace(in))
	if key == "" {
		return ""
	}
	if canonical, ok := aliases()[key]; ok {
		return canonical
	}
	return key
}

func Builtin(key string) (Spec, bool) {
	s, ok := builtinSpecs[CanonicalProviderKey(key)]
	if !ok {
		return Spec{}, false
	}
	s.Aliases = append([]string{}, s.Aliases...)
	return s, true
}

// Keys returns every builtin provider key, sorted.
func Keys() []string {
	out := make([]string, 0, len(builtinSpecs))
	for k := range builtinSpecs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
