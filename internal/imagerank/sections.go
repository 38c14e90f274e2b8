package imagerank

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Section labels where an image candidate was found.
type Section string

const (
	SectionBrand        Section = "brand"
	SectionManufacturer Section = "manufacturer"
	SectionDescription  Section = "description"
	SectionFallback     Section = "fallback"
)

// Structural containers tried, in order, as the block owning a heading.
var blockSelectors = []string{
	".bucket",
	".aplus-module",
	".aplus-v2",
	"#aplus_feature_div",
	"#aplus",
	"[data-aplus-module]",
	".apm-module-wrapper",
	".apm-tablemodule",
	".premium-module",
	"section",
	"article",
	".feature",
	"div[id*='feature']",
	"div[class*='module']",
}

const maxParentWalk = 8

// headingRule matches normalized heading text by substring or exact equality.
type headingRule struct {
	contains []string
	equals   []string
}

func (r headingRule) match(text string) bool {
	for _, c := range r.contains {
		if strings.Contains(text, c) {
			return true
		}
	}
	for _, e := range r.equals {
		if text == e {
			return true
		}
	}
	return false
}

type sectionFinder struct {
	h2, h3    headingRule
	selectors []string
	// fallback admits an .aplus-v2 block when nothing else matched.
	fallback func(text string, images int) bool
}

var finders = map[Section]sectionFinder{
	SectionBrand: {
		h2: headingRule{
			contains: []string{"from the brand", "from brand", "brand information"},
			equals:   []string{"brand story", "about the brand"},
		},
		h3: headingRule{
			contains: []string{"from the brand", "from brand"},
			equals:   []string{"brand story"},
		},
		selectors: []string{
			"#aplusBrandStory_feature_div",
			"[data-feature-name='aplusBrandStory']",
			"[data-module-name='aplusBrandStory']",
			".apm-brand-story-hero",
			".apm-brand-story-card",
			".apm-brand-story-carousel",
			".aplus-brand-story-hero",
			".aplus-brand-story",
			"[data-aplus-module*='brand']",
			".brand-story",
			".apm-brand-story-carousel-container",
			".aplus-module[class*='brand-story-hero-1-image-logo']",
			".aplus-module[class*='brand-story-card-1-four-asin']",
			".aplus-module[class*='brand-story-card-2-media-asset']",
		},
		fallback: func(text string, images int) bool {
			if images == 0 {
				return false
			}
			text = strings.ToLower(text)
			for _, k := range []string{"brand", "company", "story", "values", "mission"} {
				if strings.Contains(text, k) {
					return true
				}
			}
			return false
		},
	},
	SectionManufacturer: {
		h2: headingRule{
			contains: []string{"from the manufacturer", "from manufacturer", "manufacturer information", "manufacturer description"},
			equals:   []string{"manufacturer", "about the manufacturer"},
		},
		h3: headingRule{
			contains: []string{"from the manufacturer", "from manufacturer"},
			equals:   []string{"manufacturer"},
		},
		selectors: []string{
			"#aplusManufacturerDescription_feature_div",
			"[data-feature-name='aplusManufacturerDescription']",
			"[data-module-name='aplusManufacturerDescription']",
			"[data-aplus-module*='manufacturer']",
			".manufacturer-description",
			".aplus-manufacturer",
			".aplus-module[class*='3p-module-b']",
			".aplus-module[class*='module-12']",
			".aplus-module[class*='module-4']",
			".aplus-module[class*='module-5']",
		},
		fallback: func(text string, images int) bool { return images > 0 && len(text) > 100 },
	},
	SectionDescription: {
		h2: headingRule{
			contains: []string{"product description", "description", "product details", "product information", "product features"},
			equals:   []string{"about this item"},
		},
		h3: headingRule{
			contains: []string{"product description", "description"},
			equals:   []string{"about this item"},
		},
		selectors: []string{
			"#productDescription",
			"#aplus_feature_div",
			".aplus-module",
			"[data-feature-name*='description']",
			"[data-module-name*='description']",
			"[data-aplus-module*='description']",
			".product-description",
			".aplus-product-description",
			"#feature-bullets",
		},
		fallback: func(text string, images int) bool { return images > 0 && len(text) > 50 },
	},
}

// Sections holds the blocks found for each semantic section.
type Sections struct {
	Brand        []*goquery.Selection
	Manufacturer []*goquery.Selection
	Description  []*goquery.Selection
}

// FindSections locates brand, manufacturer and description blocks. A block may
// appear under more than one section; see Unique.
func FindSections(doc *goquery.Document) Sections {
	return Sections{
		Brand:        findSection(doc, finders[SectionBrand]),
		Manufacturer: findSection(doc, finders[SectionManufacturer]),
		Description:  findSection(doc, finders[SectionDescription]),
	}
}

// Unique drops blocks already claimed by a higher-priority section.
func (s Sections) Unique() Sections {
	claimed := make(map[*html.Node]struct{})
	keep := func(blocks []*goquery.Selection) []*goquery.Selection {
		out := make([]*goquery.Selection, 0, len(blocks))
		for _, b := range blocks {
			n := b.Get(0)
			if _, ok := claimed[n]; ok {
				continue
			}
			claimed[n] = struct{}{}
			out = append(out, b)
		}
		return out
	}
	return Sections{
		Brand:        keep(s.Brand),
		Manufacturer: keep(s.Manufacturer),
		Description:  keep(s.Description),
	}
}

// Blocks returns the blocks for one section.
func (s Sections) Blocks(section Section) []*goquery.Selection {
	switch section {
	case SectionBrand:
		return s.Brand
	case SectionManufacturer:
		return s.Manufacturer
	case SectionDescription:
		return s.Description
	default:
		return nil
	}
}

func findSection(doc *goquery.Document, f sectionFinder) []*goquery.Selection {
	var blocks []*goquery.Selection
	seen := make(map[*html.Node]struct{})
	add := func(sel *goquery.Selection) {
		if sel == nil || sel.Length() == 0 {
			return
		}
		sel = sel.First()
		n := sel.Get(0)
		if _, ok := seen[n]; ok {
			return
		}
		seen[n] = struct{}{}
		blocks = append(blocks, sel)
	}

	for _, level := range []struct {
		tag  string
		rule headingRule
	}{{"h2", f.h2}, {"h3", f.h3}} {
		doc.Find(level.tag).Each(func(_ int, h *goquery.Selection) {
			if level.rule.match(headingText(h)) {
				add(ClosestBlock(h))
			}
		})
	}

	for _, sel := range f.selectors {
		doc.Find(sel).Each(func(_ int, n *goquery.Selection) { add(n) })
	}

	if len(blocks) == 0 && f.fallback != nil {
		doc.Find(".aplus-v2").Each(func(_ int, div *goquery.Selection) {
			if f.fallback(strings.TrimSpace(div.Text()), div.Find("img").Length()) {
				add(div)
			}
		})
	}
	return blocks
}

func headingText(h *goquery.Selection) string {
	return strings.ToLower(strings.TrimSpace(h.Text()))
}

// ClosestBlock returns the structurally meaningful container that owns heading.
// Known section containers win; otherwise the nearest ancestor (up to eight
// levels) with a section-like class, then the first plausible ancestor.
func ClosestBlock(heading *goquery.Selection) *goquery.Selection {
	for _, sel := range blockSelectors {
		if c := heading.Closest(sel); c.Length() > 0 {
			return c
		}
	}

	var fallback *goquery.Selection
	parent := heading.Parent()
	for i := 0; i < maxParentWalk && parent.Length() > 0; i++ {
		if parent.Children().Length() > 1 || goquery.NodeName(parent) == "div" {
			class, _ := parent.Attr("class")
			if containsAny(class, "aplus", "bucket", "module", "section") {
				return parent
			}
			if fallback == nil {
				fallback = parent
			}
		}
		parent = parent.Parent()
	}
	if fallback != nil {
		return fallback
	}
	if p := heading.Parent(); p.Length() > 0 {
		return p
	}
	return heading
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Describe names a block by class, then id.
func Describe(block *goquery.Selection) string {
	if class, _ := block.Attr("class"); class != "" {
		return class
	}
	if id, _ := block.Attr("id"); id != "" {
		return id
	}
	return "unknown"
}
