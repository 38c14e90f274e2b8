package agent

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/listing-enricher/internal/imagerank"
)

// ScrapeResult is the core product data read from one rendered page.
type ScrapeResult struct {
	Title        string   `json:"title"`
	Bullets      []string `json:"bullets"`
	Description  string   `json:"description"`
	Brand        string   `json:"brand"`
	Manufacturer string   `json:"manufacturer"`
}

const titleSelector = "#productTitle"

var (
	readableSelectors = strings.Join([]string{
		"p", "li", "h3", "h4", "h5",
		".aplus-p1", ".aplus-p2", ".aplus-p3",
		".a-size-small",
		".apm-brand-story-text h3", ".apm-brand-story-text p",
	}, ",")

	htmlTag     = regexp.MustCompile(`<[^>]+>`)
	imageURL    = regexp.MustCompile(`(?i)\bhttps?://\S+\.(?:jpg|jpeg|png)\b`)
	multiSpace  = regexp.MustCompile(`\s{2,}`)
	nonWord     = regexp.MustCompile(`[\W_]+`)
	storeLink   = regexp.MustCompile(`(?i)visit\s+the\s+store`)
	shopAllLink = regexp.MustCompile(`(?i)shop\s+all`)
)

const mediaSelector = "img, picture, svg, video, canvas"

// Scrape reads the core fields. ok is false when the page has no product
// title, in which case nothing should be reported for the page.
func Scrape(doc *goquery.Document) (ScrapeResult, bool) {
	title := doc.Find(titleSelector).First()
	if title.Length() == 0 {
		return ScrapeResult{}, false
	}

	var bullets []string
	doc.Find("#feature-bullets ul li").Each(func(_ int, li *goquery.Selection) {
		if t := strings.TrimSpace(li.Text()); t != "" {
			bullets = append(bullets, t)
		}
	})

	sections := imagerank.FindSections(doc)
	return ScrapeResult{
		Title:        strings.TrimSpace(title.Text()),
		Bullets:      bullets,
		Description:  description(doc),
		Brand:        sectionText(sections.Brand),
		Manufacturer: sectionText(sections.Manufacturer),
	}, true
}

func description(doc *goquery.Document) string {
	if t := strings.TrimSpace(doc.Find("#productDescription").First().Text()); t != "" {
		return t
	}
	aplus := doc.Find("#aplus_feature_div").First()
	if aplus.Length() == 0 {
		return ""
	}
	var paras []string
	aplus.Find("p").Each(func(_ int, p *goquery.Selection) {
		if t := strings.TrimSpace(p.Text()); t != "" {
			paras = append(paras, t)
		}
	})
	if len(paras) > 0 {
		return strings.Join(paras, "\n")
	}
	return strings.TrimSpace(aplus.Text())
}

// sectionText merges the readable lines of every block, dropping repeats.
func sectionText(blocks []*goquery.Selection) string {
	seen := make(map[string]struct{})
	var lines []string
	for _, b := range blocks {
		for _, line := range readableLines(b) {
			if _, ok := seen[line]; ok {
				continue
			}
			seen[line] = struct{}{}
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// readableLines returns the copyable text lines of root, skipping media-only
// nodes, store links and fragments shorter than three characters.
func readableLines(root *goquery.Selection) []string {
	seen := make(map[string]struct{})
	var lines []string
	root.Find(readableSelectors).Each(func(_ int, el *goquery.Selection) {
		if mediaOnly(el) {
			return
		}
		t := StripMarkup(el.Text())
		if len(t) < 3 || storeLink.MatchString(t) || shopAllLink.MatchString(t) {
			return
		}
		if _, ok := seen[t]; ok {
			return
		}
		seen[t] = struct{}{}
		lines = append(lines, t)
	})
	return lines
}

func mediaOnly(el *goquery.Selection) bool {
	hasMedia := el.Is(mediaSelector) || el.Find(mediaSelector).Length() > 0
	if !hasMedia {
		return false
	}
	return len(nonWord.ReplaceAllString(strings.TrimSpace(el.Text()), "")) < 2
}

// StripMarkup removes tags and image URLs from s and collapses whitespace.
func StripMarkup(s string) string {
	s = htmlTag.ReplaceAllString(s, " ")
	s = imageURL.ReplaceAllString(s, " ")
	return strings.TrimSpace(multiSpace.ReplaceAllString(s, " "))
}
