package imagerank

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	// Source attributes in preference order; high-resolution hints first.
	srcAttrs = []string{"data-src", "data-old-hires", "data-a-dynamic-image-src", "data-lazy-src", "src"}

	backgroundURL = regexp.MustCompile(`(?i)background-image\s*:\s*url\(\s*['"]?([^'")]+?)['"]?\s*\)`)
	noscriptImg   = regexp.MustCompile(`(?i)<img[^>]+src=['"]?([^'"\s>]+)['"]?[^>]*>`)
)

const nestedImages = ".apm-brand-story-image-img, .apm-brand-story-background-image img, .aplus-module img"

// orderedSet keeps first-seen order.
type orderedSet struct {
	seen  map[string]struct{}
	items []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]struct{})}
}

func (s *orderedSet) add(v string) bool {
	if v == "" {
		return false
	}
	if _, ok := s.seen[v]; ok {
		return false
	}
	s.seen[v] = struct{}{}
	s.items = append(s.items, v)
	return true
}

// firstAttr returns the first non-empty attribute among names.
func firstAttr(sel *goquery.Selection, names ...string) string {
	for _, name := range names {
		if v, ok := sel.Attr(name); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// DynamicImageKeys returns the URLs of a JSON-encoded responsive-image attribute
// in document order. Malformed JSON yields nil.
func DynamicImageKeys(raw string) []string {
	dec := json.NewDecoder(strings.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil
	}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return keys
		}
		key, ok := tok.(string)
		if !ok {
			return keys
		}
		keys = append(keys, key)
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return keys
		}
	}
	return keys
}

// CollectFromRoot gathers valid, normalized image URLs found under root:
// image elements, inline background images, responsive-image JSON, nested
// brand-story cards and noscript fallbacks. The result is deduplicated.
func CollectFromRoot(root *goquery.Selection) []string {
	urls := newOrderedSet()
	addIfValid := func(raw, alt string) {
		if src := NormalizeURL(raw); IsValidOCRImage(src, alt) {
			urls.add(src)
		}
	}

	root.Find("img").Each(func(_ int, img *goquery.Selection) {
		alt, _ := img.Attr("alt")
		addIfValid(firstAttr(img, srcAttrs...), alt)
	})

	root.Find("[style*='background-image']").Each(func(_ int, node *goquery.Selection) {
		style, _ := node.Attr("style")
		if m := backgroundURL.FindStringSubmatch(style); len(m) > 1 {
			addIfValid(m[1], "")
		}
	})

	root.Find("[data-a-dynamic-image]").Each(func(_ int, node *goquery.Selection) {
		raw, _ := node.Attr("data-a-dynamic-image")
		for _, u := range DynamicImageKeys(raw) {
			addIfValid(u, "")
		}
	})

	root.Find(nestedImages).Each(func(_ int, img *goquery.Selection) {
		alt, _ := img.Attr("alt")
		addIfValid(firstAttr(img, "data-src", "src"), alt)
	})

	root.Find("noscript").Each(func(_ int, ns *goquery.Selection) {
		for _, src := range noscriptSources(ns) {
			addIfValid(src, "")
		}
	})

	return urls.items
}

// noscriptSources extracts img sources from a noscript element. The parser
// keeps noscript content as raw text, so the markup is matched directly.
func noscriptSources(ns *goquery.Selection) []string {
	var out []string
	for _, m := range noscriptImg.FindAllStringSubmatch(ns.Text(), -1) {
		if len(m) > 1 {
			out = append(out, m[1])
		}
	}
	ns.Find("img").Each(func(_ int, img *goquery.Selection) {
		if src := firstAttr(img, "src"); src != "" {
			out = append(out, src)
		}
	})
	return out
}
