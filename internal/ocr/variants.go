package ocr

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

const (
	largeToken = "._AC_SL1500_."
	altToken1  = "._AC_SL1200_."
	altToken2  = "._AC_SL1000_."
)

var (
	dottedToken = regexp.MustCompile(`\._[^./]*\.`)
	extension   = regexp.MustCompile(`\.[A-Za-z0-9]+$`)
)

// Params is one complete recognizer request configuration.
type Params struct {
	Name              string
	Language          string
	Engine            int
	IsTable           bool
	DetectOrientation bool
}

// Values encodes p as provider query/form fields.
func (p Params) Values() url.Values {
	lang := p.Language
	if lang == "" {
		lang = "eng"
	}
	engine := p.Engine
	if engine == 0 {
		engine = 2
	}
	v := url.Values{}
	v.Set("language", lang)
	v.Set("isOverlayRequired", "false")
	v.Set("OCREngine", strconv.Itoa(engine))
	v.Set("scale", "true")
	v.Set("isTable", strconv.FormatBool(p.IsTable))
	if p.DetectOrientation {
		v.Set("detectOrientation", "true")
	}
	return v
}

// ParamVariants is the fixed middle axis of the matrix.
var ParamVariants = []Params{
	{Name: "default"},
	{Name: "orientation", DetectOrientation: true},
	{Name: "engine1", Engine: 1},
	{Name: "table", IsTable: true},
	{Name: "auto_language", Language: "auto"},
}

// withToken swaps the dotted size token of u for token, or inserts token
// before the extension when u has none.
func withToken(u, token string) string {
	if loc := dottedToken.FindStringIndex(u); loc != nil {
		return u[:loc[0]] + token + u[loc[1]:]
	}
	if loc := extension.FindStringIndex(u); loc != nil {
		return u[:loc[0]] + token + u[loc[0]+1:]
	}
	return u
}

// stripToken removes the dotted size token from u.
func stripToken(u string) string {
	if loc := dottedToken.FindStringIndex(u); loc != nil {
		return u[:loc[0]] + "." + u[loc[1]:]
	}
	return u
}

// URLVariants returns the outer axis of the matrix: the original URL, a large
// rewrite, a token-stripped rewrite and two alternate sizes, deduplicated.
func URLVariants(imageURL string) []string {
	imageURL = strings.TrimSpace(imageURL)
	if imageURL == "" {
		return nil
	}
	return dedupe([]string{
		imageURL,
		withToken(imageURL, largeToken),
		stripToken(imageURL),
		withToken(imageURL, altToken1),
		withToken(imageURL, altToken2),
	})
}

// Credentials orders the configured key before the fallback pool, dropping blanks and repeats.
func Credentials(primary string, pool []string) []string {
	return dedupe(append([]string{primary}, pool...))
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
