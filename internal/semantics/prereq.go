package semantics

import "sync"

// SchemaCaps describes what the active schema provides, independent of any
// particular command.
type SchemaCaps struct {
	HasUniqueKeyField bool
	HasVersionField   bool
	HasUpdateLog      bool
	// Generation changes whenever the schema is reloaded; a cached
	// prerequisite check is invalidated when Generation advances.
	Generation uint64
}

// PrereqResult is the outcome of validating a mode's schema prerequisites.
type PrereqResult struct {
	OK     bool
	Reason string
}

// PrereqCache memoizes Validate per (mode, schema generation), mirroring the
// source's practice of checking schema prerequisites once per schema
// generation rather than on every request.
type PrereqCache struct {
	mu    sync.Mutex
	cache map[Mode]cachedPrereq
}

type cachedPrereq struct {
	generation uint64
	result     PrereqResult
}

func NewPrereqCache() *PrereqCache {
	return &PrereqCache{cache: make(map[Mode]cachedPrereq)}
}

// Validate checks mode's schema-level prerequisites (RequireUniqueKeyFieldInSchema,
// RequireVersionFieldInSchema, RequireUpdateLog) against caps, reusing a
// cached result for the same schema generation.
func (c *PrereqCache) Validate(mode Mode, caps SchemaCaps) PrereqResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cached, ok := c.cache[mode]; ok && cached.generation == caps.Generation {
		return cached.result
	}

	rules := Evaluate(mode, RequestShape{})
	result := PrereqResult{OK: true}
	switch {
	case rules.RequireUniqueKeyFieldInSchema.Enforced && !caps.HasUniqueKeyField:
		result = PrereqResult{OK: false, Reason: "schema has no unique key field for " + string(mode)}
	case rules.RequireVersionFieldInSchema.Enforced && !caps.HasVersionField:
		result = PrereqResult{OK: false, Reason: "schema has no version field for " + string(mode)}
	case rules.RequireUpdateLog.Enforced && !caps.HasUpdateLog:
		result = PrereqResult{OK: false, Reason: "no update log configured for " + string(mode)}
	}

	c.cache[mode] = cachedPrereq{generation: caps.Generation, result: result}
	return result
}
