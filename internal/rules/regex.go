package rules

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"piper/pkg/model"
)

// regexCache 编译结果缓存，键为带内联标志的完整表达式
var regexCache = &patternCache{m: make(map[string]*regexp.Regexp)}

type patternCache struct {
	mu sync.RWMutex
	m  map[string]*regexp.Regexp
}

func (c *patternCache) Get(pattern string) (*regexp.Regexp, error) {
	c.mu.RLock()
	re, ok := c.m[pattern]
	c.mu.RUnlock()
	if ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.m[pattern] = re
	c.mu.Unlock()
	return re, nil
}

// inlineFlags 将配置中的标志名转为 RE2 内联标志
func inlineFlags(flags []string) string {
	var b strings.Builder
	for _, f := range flags {
		switch strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(f), " ", "_")) {
		case "CASE_INSENSITIVE":
			b.WriteByte('i')
		case "DOTALL":
			b.WriteByte('s')
		case "MULTILINE":
			b.WriteByte('m')
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return "(?" + b.String() + ")"
}

// Compile 编译 RegexMatch，结果被缓存
func Compile(r model.RegexMatch) (*regexp.Regexp, error) {
	re, err := regexCache.Get(inlineFlags(r.Flags) + r.Pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex %q: %w", r.Pattern, err)
	}
	return re, nil
}

func matchRegex(r model.RegexMatch, data []byte) (bool, error) {
	re, err := Compile(r)
	if err != nil {
		return false, err
	}
	return re.Match(data), nil
}
