package rules

import (
	"regexp"
	"strings"
	"sync"
)

// regexCache urlFilter/regexFilter 编译缓存
var regexCache = &cache{m: make(map[string]*regexp.Regexp)}

type cache struct {
	mu sync.RWMutex
	m  map[string]*regexp.Regexp
}

// Get 获取或编译正则
func (c *cache) Get(pattern string) (*regexp.Regexp, error) {
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

// compileURLFilter 将 urlFilter 语法转换为正则
//
//	||  域名锚点，匹配 scheme 后的主机名或其子域
//	|   行首或行尾锚点
//	*   任意字符
//	^   分隔符（非字母数字且不属于 _-.%），或 URL 结尾
func compileURLFilter(filter string) string {
	var b strings.Builder
	b.WriteString("(?i)")
	rest := filter
	switch {
	case strings.HasPrefix(rest, "||"):
		b.WriteString(`^[a-z][a-z0-9+.-]*://([^/?#]*\.)?`)
		rest = rest[2:]
	case strings.HasPrefix(rest, "|"):
		b.WriteString("^")
		rest = rest[1:]
	}
	endAnchor := false
	if strings.HasSuffix(rest, "|") {
		endAnchor = true
		rest = rest[:len(rest)-1]
	}
	for _, r := range rest {
		switch r {
		case '*':
			b.WriteString(".*")
		case '^':
			b.WriteString(`(?:[^a-z0-9_.%-]|$)`)
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	if endAnchor {
		b.WriteString("$")
	}
	return b.String()
}

// matchURLFilter urlFilter 匹配
func matchURLFilter(url, filter string) bool {
	if filter == "" {
		return true
	}
	re, err := regexCache.Get(compileURLFilter(filter))
	if err != nil {
		return false
	}
	return re.MatchString(url)
}

// matchRegex regexFilter 匹配
func matchRegex(s, pattern string) bool {
	re, err := regexCache.Get(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}
