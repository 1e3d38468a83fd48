package resolver

import (
	"regexp"
	"strings"

	"github.com/golnet1/majordomo-bridge/internal/catalog"
)

// Leading verb/preposition patterns stripped from spoken queries, e.g.
// "свет на улице" → "улице", "температура в парной" → "парной".
var leadingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(включи|выключи|зажги|потуши|проверь)\s+`),
	regexp.MustCompile(`^(свет|освещение|статус)\s+(на|в)\s+`),
	regexp.MustCompile(`^(температура|влажность|давление)\s+(в|на)\s+`),
	regexp.MustCompile(`^(свет|освещение|статус|температура|влажность|давление)\s*`),
	regexp.MustCompile(`^(на|в)\s+`),
}

// Trailing Russian case endings stripped so "улицу"/"улице" find "улица".
var trailingSuffixes = []string{"ом", "е", "у"}

// NormalizeQuery reduces a spoken device reference to catalog lookup form.
func NormalizeQuery(query string) string {
	q := catalog.NormalizeAlias(query)

	for _, pat := range leadingPatterns {
		q = pat.ReplaceAllString(q, "")
	}
	q = strings.TrimSpace(q)

	for _, suffix := range trailingSuffixes {
		if trimmed := strings.TrimSuffix(q, suffix); trimmed != q {
			q = trimmed
			break
		}
	}

	return strings.TrimSpace(q)
}
