package response

import (
	"regexp"
	"strings"
)

var (
	boldStars       = regexp.MustCompile(`\*\*(.+?)\*\*`)
	boldUnderscores = regexp.MustCompile(`__(.+?)__`)
	strikethrough   = regexp.MustCompile(`~~(.+?)~~`)
	codeSpan        = regexp.MustCompile("`+([^`]+?)`+")
	italicStar      = regexp.MustCompile(`\*([^*\s](?:[^*]*[^*\s])?)\*`)
	// underscores inside words (snake_case, E_150) are not emphasis
	italicUnderscore = regexp.MustCompile(`(^|[^\p{L}\p{N}_])_([^_\s](?:[^_]*[^_\s])?)_($|[^\p{L}\p{N}_])`)

	multiSpace = regexp.MustCompile(` {2,}`)

	strayMarkers = strings.NewReplacer("**", "", "__", "", "~~", "", "`", "")
)

// Sanitize removes markdown emphasis, strikethrough and code-span markers,
// keeping the enclosed words, then collapses repeated spaces. Other
// punctuation is left alone.
func Sanitize(s string) string {
	s = codeSpan.ReplaceAllString(s, "$1")
	s = boldStars.ReplaceAllString(s, "$1")
	s = boldUnderscores.ReplaceAllString(s, "$1")
	s = strikethrough.ReplaceAllString(s, "$1")
	s = italicStar.ReplaceAllString(s, "$1")
	s = replaceUntilStable(italicUnderscore, s, "$1$2$3")
	s = strayMarkers.Replace(s)
	s = multiSpace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Adjacent matches share their boundary character, so one pass can miss the
// second of "_a_ _b_".
func replaceUntilStable(re *regexp.Regexp, s, repl string) string {
	for {
		next := re.ReplaceAllString(s, repl)
		if next == s {
			return s
		}
		s = next
	}
}
