package page

import (
	"html"
	"regexp"

	"github.com/caffeineduck/pyhost/dom"
)

var rawBodies = []*regexp.Regexp{rawBody(ScriptTag), rawBody(ConfigTag)}

func rawBody(tag string) *regexp.Regexp {
	return regexp.MustCompile(`(?is)(<` + tag + `\b[^>]*>)(.*?)(</` + tag + `\s*>)`)
}

// keepRawBodies escapes the bodies of script and config elements so the
// HTML parser keeps them as text: `a<b` stays source instead of becoming a
// tag. Entities are decoded once, so `&lt;` still reads as `<`.
func keepRawBodies(page string) string {
	for _, re := range rawBodies {
		page = re.ReplaceAllStringFunc(page, func(m string) string {
			sub := re.FindStringSubmatch(m)
			return sub[1] + html.EscapeString(html.UnescapeString(sub[2])) + sub[3]
		})
	}
	return page
}

func parsePage(data []byte) (*dom.Document, error) {
	return dom.ParseString(keepRawBodies(string(data)))
}
