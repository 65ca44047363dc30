package relay

import "github.com/wayneeseguin/relay/pkg/types"

// FilterFunc decides whether an event is admitted. Filters must be pure:
// no mutation of the property map or any shared state.
type FilterFunc func(level types.Level, properties map[string]interface{}) bool

// FilterChain is an ordered list of predicates. An event passes only if
// every predicate accepts; evaluation short-circuits on the first rejection.
// Order is caller-defined and deterministic.
type FilterChain struct {
	filters []FilterFunc
}

// NewFilterChain builds a chain from the given predicates in order.
func NewFilterChain(filters ...FilterFunc) FilterChain {
	return FilterChain{filters: filters}
}

// Accept evaluates the chain.
func (c FilterChain) Accept(level types.Level, properties map[string]interface{}) bool {
	for _, f := range c.filters {
		if !f(level, properties) {
			return false
		}
	}
	return true
}

// Len returns the number of predicates in the chain.
func (c FilterChain) Len() int { return len(c.filters) }

// MinimumLevelFilter accepts events at or above level.
func MinimumLevelFilter(level types.Level) FilterFunc {
	return func(l types.Level, _ map[string]interface{}) bool {
		return l >= level
	}
}

// PropertyFilter accepts events whose named property equals value.
func PropertyFilter(key string, value interface{}) FilterFunc {
	return func(_ types.Level, properties map[string]interface{}) bool {
		v, ok := properties[key]
		return ok && v == value
	}
}
