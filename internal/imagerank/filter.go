package imagerank

import (
	"regexp"
	"strings"
)

// LargeToken is the dynamic-resolution token that asks the image host for a 1500px variant.
const LargeToken = "._AC_SL1500_."

var (
	// First dotted token segment, e.g. "._AC_SX300_." in "71abc._AC_SX300_.jpg".
	dynamicToken = regexp.MustCompile(`\._[^./]*\.`)
	// Size tokens that appear outside a dotted segment.
	bareSizeToken = regexp.MustCompile(`(?i)_(?:AC_)?(?:SX|SS|SL|UL)\d+_[^./]*`)

	imageExt = regexp.MustCompile(`(?i)\.(jpg|jpeg|png)$`)

	decorativeWords = []string{"sprite", "spacer", "pixel", "favicon", "icon", "logo", "transparent", "placeholder"}

	tinyTokens = []*regexp.Regexp{
		regexp.MustCompile(`(?i)__ac_sr\d{2,3},\d{2,3}__`),
		regexp.MustCompile(`(?i)_sx\d{2,3}_`),
		regexp.MustCompile(`(?i)_ss\d{2,3}_`),
		// A+ tiles at 160-229px wide are decorative.
		regexp.MustCompile(`(?i)__ac_sr(16[0-9]|18[0-9]|22[0-9]),`),
	}

	looseDeny = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(sprite|spacer|pixel|favicon|transparent|placeholder|arrow|button|star|rating)`),
		regexp.MustCompile(`(?i)__ac_sr\d{1,2},\d{1,2}__`),
		regexp.MustCompile(`(?i)_ss\d{1,2}_`),
		regexp.MustCompile(`(?i)/G/\d{2}/`),
	}
)

// NormalizeURL upgrades protocol-relative URLs and asks for the large variant of
// a sized image. It returns "" for blank input and is idempotent.
func NormalizeURL(src string) string {
	out := strings.TrimSpace(src)
	if out == "" {
		return ""
	}
	if strings.HasPrefix(out, "//") {
		out = "https:" + out
	}
	if loc := dynamicToken.FindStringIndex(out); loc != nil {
		return out[:loc[0]] + LargeToken + out[loc[1]:]
	}
	return bareSizeToken.ReplaceAllString(out, "")
}

// IsValidOCRImage reports whether url looks like a content image worth sending
// to a recognizer. Decorative assets and tiny grid thumbnails are rejected.
func IsValidOCRImage(url, alt string) bool {
	if url == "" || !imageExt.MatchString(url) {
		return false
	}
	hay := strings.ToLower(url + " " + alt)
	for _, w := range decorativeWords {
		if strings.Contains(hay, w) {
			return false
		}
	}
	for _, re := range tinyTokens {
		if re.MatchString(url) {
			return false
		}
	}
	return true
}

// Filter keeps the URLs accepted by IsValidOCRImage, in order.
func Filter(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if IsValidOCRImage(u, "") {
			out = append(out, u)
		}
	}
	return out
}

// looseCandidate is the relaxed check used by the page-wide scan.
func looseCandidate(url string) bool {
	if len(url) <= 20 || !imageExt.MatchString(url) {
		return false
	}
	for _, re := range looseDeny {
		if re.MatchString(url) {
			return false
		}
	}
	return true
}
