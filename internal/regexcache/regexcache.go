// Package regexcache implements C3: a compile-once, match-many cache for
// the regular expressions modules hand the bot. Modules call match
// helpers with pattern text on every invocation; compiling that pattern
// fresh on every Job would make pattern-heavy modules dominate the
// command channel's timeout budget for no reason, so compiled forms are
// kept keyed by pattern source.
package regexcache

import (
	"fmt"
	"regexp"
	"sync"
)

// Cache memoizes compiled regular expressions by source text.
type Cache struct {
	mu    sync.RWMutex
	byKey map[string]*regexp.Regexp
}

// New constructs an empty Cache.
func New() *Cache {
	return &Cache{byKey: make(map[string]*regexp.Regexp)}
}

// Compile returns the compiled form of pattern, compiling and caching it
// on first use.
func (c *Cache) Compile(pattern string) (*regexp.Regexp, error) {
	c.mu.RLock()
	re, ok := c.byKey[pattern]
	c.mu.RUnlock()
	if ok {
		return re, nil
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("regexcache: compile %q: %w", pattern, err)
	}

	c.mu.Lock()
	c.byKey[pattern] = re
	c.mu.Unlock()
	return re, nil
}

// MatchString reports whether s matches pattern, compiling pattern on
// first use.
func (c *Cache) MatchString(pattern, s string) (bool, error) {
	re, err := c.Compile(pattern)
	if err != nil {
		return false, err
	}
	return re.MatchString(s), nil
}

// FindStringSubmatch returns re's first match in s, compiling pattern on
// first use.
func (c *Cache) FindStringSubmatch(pattern, s string) ([]string, error) {
	re, err := c.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return re.FindStringSubmatch(s), nil
}

// Len returns the number of distinct patterns currently cached.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byKey)
}

// Purge clears the cache.
func (c *Cache) Purge() {
	c.mu.Lock()
	c.byKey = make(map[string]*regexp.Regexp)
	c.mu.Unlock()
}
