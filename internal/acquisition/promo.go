package acquisition

import (
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// DefaultPromoTokens — рекламные и комплектные маркеры в названиях товаров.
var DefaultPromoTokens = []string{
	"기획", "증정", "사은품", "한정", "단독", "특가", "이벤트", "세트", "선물",
	"1+1", "2+1", "덤",
	"gift", "bundle", "promo", "special set", "limited edition",
}

// promoFile — формат YAML-файла с дополнительными маркерами.
type promoFile struct {
	PromoTokens []string `yaml:"promo_tokens"`
}

// LoadPromoTokens читает YAML-файл и возвращает маркеры по умолчанию
// вместе с маркерами из файла. Пустой path — только маркеры по умолчанию.
func LoadPromoTokens(path string) ([]string, error) {
	tokens := slices.Clone(DefaultPromoTokens)
	if path == "" {
		return tokens, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("чтение файла маркеров %s: %w", path, err)
	}
	var pf promoFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("разбор файла маркеров %s: %w", path, err)
	}
	for _, t := range pf.PromoTokens {
		t = strings.TrimSpace(t)
		if t != "" && !slices.Contains(tokens, t) {
			tokens = append(tokens, t)
		}
	}
	return tokens, nil
}

// compilePromo строит регулярное выражение из маркеров.
// Более длинные маркеры идут первыми, чтобы при совпадении в одной позиции
// выигрывал самый длинный. Латинские маркеры ищутся по границам слов.
// Повторы маркеров (без учёта регистра) отбрасываются.
func compilePromo(tokens []string) *regexp.Regexp {
	seen := make(map[string]struct{}, len(tokens))
	unique := make([]string, 0, len(tokens))
	for _, t := range tokens {
		t = strings.TrimSpace(t)
		key := strings.ToLower(t)
		if _, dup := seen[key]; dup || t == "" {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, t)
	}
	slices.SortStableFunc(unique, func(a, b string) int {
		return len(b) - len(a)
	})

	alts := make([]string, 0, len(unique))
	for _, t := range unique {
		q := regexp.QuoteMeta(t)
		if isLatinWord(t) {
			q = `\b` + q + `\b`
		}
		alts = append(alts, q)
	}
	if len(alts) == 0 {
		return nil
	}
	return regexp.MustCompile(`(?i)(?:` + strings.Join(alts, "|") + `)`)
}

func isLatinWord(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ') {
			return false
		}
	}
	first, last := rune(s[0]), rune(s[len(s)-1])
	return unicode.IsLetter(first) && unicode.IsLetter(last)
}
