package acquisition

import (
	"regexp"
	"strings"
)

var markdownLink = regexp.MustCompile(`^\[[^\]]*\]\(\s*([^)\s]+)\s*\)$`)

// NormalizeURL приводит ссылку кандидата к абсолютному http(s) URL.
// Возвращает false, если ссылка непригодна.
func NormalizeURL(raw string) (string, bool) {
	u := strings.TrimSpace(raw)
	if m := markdownLink.FindStringSubmatch(u); m != nil {
		u = m[1]
	}
	if strings.HasPrefix(u, "//") {
		u = "https:" + u
	}
	lower := strings.ToLower(u)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return "", false
	}
	return u, true
}

// DedupeURLs нормализует ссылки и удаляет повторы с сохранением
// порядка первого появления.
func DedupeURLs(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		u, ok := NormalizeURL(r)
		if !ok {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
