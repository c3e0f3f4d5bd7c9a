package acquisition

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var (
	// multiSize — объём с повторами: "40ml+40ml", "40ml x 2", "30g*3".
	multiSize = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?\s*(?:ml|mg|kg|g|l|oz|ea|매|개|입))(?:\s*[+x×*]\s*\d+(?:\.\d+)?\s*(?:ml|mg|kg|g|l|oz|ea|매|개|입)?)+`)
	// trailingGroup — скобочная группа в конце строки.
	trailingGroup = regexp.MustCompile(`\s*[(\[【（]([^()\[\]【】（）]*)[)\]】）]\s*$`)
	// bracketGroup — любая скобочная группа.
	bracketGroup = regexp.MustCompile(`[(\[【（][^()\[\]【】（）]*[)\]】）]`)
	spaces       = regexp.MustCompile(`\s+`)
)

// trailingJunk — символы, которые остаются висеть после усечения.
const trailingJunk = " \t-+/,|·:;([【（{"

// NormalizeTitle приводит название к NFKC и схлопывает пробелы.
// Полноширинные символы и совместимые формы становятся обычными.
func NormalizeTitle(title string) string {
	return collapseSpaces(norm.NFKC.String(title))
}

// Cleaner — детерминированная очистка названия без AI.
type Cleaner struct {
	promo *regexp.Regexp
}

// NewCleaner создаёт Cleaner с указанными рекламными маркерами.
func NewCleaner(tokens []string) *Cleaner {
	return &Cleaner{promo: compilePromo(tokens)}
}

// Clean строит поисковый запрос из названия:
// усечение по самому раннему рекламному маркеру, удаление хвостовой
// скобки с маркером, схлопывание повторов объёма, нормализация пробелов
// и префикс бренда, если название ещё не начинается с него.
func (c *Cleaner) Clean(title, brand string) string {
	title = NormalizeTitle(title)
	brand = NormalizeTitle(brand)

	q := c.truncate(title)
	q = c.dropTrailingPromoGroups(q)
	if q == "" {
		q = c.stripAll(title)
	}
	q = multiSize.ReplaceAllString(q, "$1")
	q = collapseSpaces(q)

	if brand != "" && !hasPrefixFold(q, brand) {
		q = collapseSpaces(brand + " " + q)
	}
	return q
}

// truncate обрезает строку перед самым ранним рекламным маркером.
func (c *Cleaner) truncate(s string) string {
	if c.promo == nil {
		return s
	}
	loc := c.promo.FindStringIndex(s)
	if loc == nil {
		return s
	}
	return strings.TrimRight(s[:loc[0]], trailingJunk)
}

// dropTrailingPromoGroups удаляет хвостовые скобочные группы, содержащие маркер.
func (c *Cleaner) dropTrailingPromoGroups(s string) string {
	if c.promo == nil {
		return s
	}
	for {
		m := trailingGroup.FindStringSubmatchIndex(s)
		if m == nil || !c.promo.MatchString(s[m[2]:m[3]]) {
			return s
		}
		s = strings.TrimRight(s[:m[0]], trailingJunk)
	}
}

// stripAll — запасной вариант, когда название начинается с маркера:
// удаляются скобочные группы с маркерами и сами маркеры.
func (c *Cleaner) stripAll(s string) string {
	if c.promo == nil {
		return s
	}
	s = bracketGroup.ReplaceAllStringFunc(s, func(g string) string {
		if c.promo.MatchString(g) {
			return " "
		}
		return g
	})
	s = c.promo.ReplaceAllString(s, " ")
	return strings.Trim(collapseSpaces(s), trailingJunk)
}

func collapseSpaces(s string) string {
	return strings.TrimSpace(spaces.ReplaceAllString(s, " "))
}

// hasPrefixFold сравнивает без учёта регистра. Caser не потокобезопасен,
// поэтому создаётся на каждый вызов.
func hasPrefixFold(s, prefix string) bool {
	fold := cases.Fold()
	return strings.HasPrefix(fold.String(s), fold.String(prefix))
}
