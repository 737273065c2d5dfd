package aliasing

import (
	"log/slog"
	"sort"
	"strings"
)

type (
	// Resolver resolves legacy machine/factory identifiers to their canonical form.
	// Thread-safe for concurrent use (immutable after construction).
	Resolver struct {
		aliases map[string]string
	}
)

// maxChainDepth bounds transitive alias resolution so a pathological or
// undetected cycle can never spin the resolver forever.
const maxChainDepth = 32

// NewResolver creates a resolver from config with validation.
//
// Validates, processing entries in sorted key order for deterministic output:
//   - Entries with an empty legacy key are skipped.
//   - Entries whose canonical value is empty/whitespace-only are skipped.
//   - Self-referential aliases (legacy == canonical) are skipped.
//   - An alias whose canonical value leads back to its own legacy key through
//     the aliases already accepted is treated as circular and skipped (the
//     earlier entry, by sort order, wins). Non-circular chains are kept.
//
// Returns a resolver containing only valid aliases. If config is nil or has
// no aliases, returns a no-op resolver (passthrough).
func NewResolver(cfg *Config) *Resolver {
	if cfg == nil || len(cfg.IDAliases) == 0 {
		return &Resolver{aliases: map[string]string{}}
	}

	keys := make([]string, 0, len(cfg.IDAliases))
	for k := range cfg.IDAliases {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	valid := make(map[string]string, len(keys))

	for _, rawKey := range keys {
		legacy := strings.TrimSpace(rawKey)
		canonical := strings.TrimSpace(cfg.IDAliases[rawKey])

		if legacy == "" || canonical == "" {
			continue
		}

		if legacy == canonical {
			slog.Warn("Skipping self-referential alias", slog.String("id", legacy))

			continue
		}

		circular := false

		for cur, hops := canonical, 0; hops < maxChainDepth; hops++ {
			if cur == legacy {
				circular = true

				break
			}

			next, ok := valid[cur]
			if !ok {
				break
			}

			cur = next
		}

		if circular {
			slog.Warn("Skipping circular alias",
				slog.String("id", legacy),
				slog.String("canonical", canonical))

			continue
		}

		valid[legacy] = canonical
	}

	return &Resolver{aliases: valid}
}

// AliasCount returns the number of loaded aliases.
func (r *Resolver) AliasCount() int {
	if r == nil {
		return 0
	}

	return len(r.aliases)
}

// HasAlias reports whether id has a configured alias entry.
func (r *Resolver) HasAlias(id string) bool {
	if r == nil || id == "" {
		return false
	}

	_, ok := r.aliases[id]

	return ok
}

// Aliases returns a copy of the underlying alias table.
func (r *Resolver) Aliases() map[string]string {
	cp := make(map[string]string, r.AliasCount())

	if r == nil {
		return cp
	}

	for k, v := range r.aliases {
		cp[k] = v
	}

	return cp
}

// AliasSlices returns the alias table as parallel key/value slices.
func (r *Resolver) AliasSlices() ([]string, []string) {
	if r == nil || len(r.aliases) == 0 {
		return []string{}, []string{}
	}

	keys := make([]string, 0, len(r.aliases))
	values := make([]string, 0, len(r.aliases))

	for k, v := range r.aliases {
		keys = append(keys, k)
		values = append(values, v)
	}

	return keys, values
}

// Resolve maps a legacy machineId/factoryId to its canonical form, following
// transitive chains (A → B → C resolves A to C). Stops after maxChainDepth
// hops so an undetected cycle cannot loop forever.
// Returns the input unchanged if it is empty or has no alias entry.
func (r *Resolver) Resolve(id string) string {
	if r == nil || id == "" {
		return id
	}

	current := id

	for range maxChainDepth {
		next, ok := r.aliases[current]
		if !ok {
			return current
		}

		current = next
	}

	return current
}
