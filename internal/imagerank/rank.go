// Package imagerank picks the product images most likely to carry readable
// text: brand story first, then manufacturer and description sections, then a
// progressively wider sweep of the page.
package imagerank

import (
	"sync"

	"github.com/PuerkitoBio/goquery"
)

// DefaultMax is the number of candidates ranked per page.
const DefaultMax = 4

// Candidate is one ranked image URL and the section it came from.
type Candidate struct {
	URL     string  `json:"url"`
	Section Section `json:"section"`
}

// URLs returns the candidate URLs in rank order.
func URLs(cands []Candidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.URL
	}
	return out
}

// Page wraps a parsed document and memoizes its section analysis.
type Page struct {
	Doc *goquery.Document

	once     sync.Once
	sections Sections
}

// NewPage wraps doc.
func NewPage(doc *goquery.Document) *Page {
	return &Page{Doc: doc}
}

// Sections returns the page's sections with cross-section duplicates removed.
func (p *Page) Sections() Sections {
	p.once.Do(func() { p.sections = FindSections(p.Doc).Unique() })
	return p.sections
}

// Strategy produces raw candidate URLs for one widening step.
type Strategy struct {
	Name    string
	Section Section
	Collect func(p *Page) []string
}

// DefaultStrategies returns the widening order: the three semantic sections in
// priority order, the product gallery, content containers, a page-wide scan and
// finally loose data attributes.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{Name: "brand", Section: SectionBrand, Collect: sectionImages(SectionBrand)},
		{Name: "manufacturer", Section: SectionManufacturer, Collect: sectionImages(SectionManufacturer)},
		{Name: "description", Section: SectionDescription, Collect: sectionImages(SectionDescription)},
		{Name: "gallery", Section: SectionFallback, Collect: galleryImages},
		{Name: "containers", Section: SectionFallback, Collect: containerImages},
		{Name: "page_scan", Section: SectionFallback, Collect: pageScanImages},
		{Name: "data_attributes", Section: SectionFallback, Collect: dataAttributeImages},
	}
}

// Widen runs strategies in order until max unique candidates are collected.
// Every admitted URL passes IsValidOCRImage.
func Widen(p *Page, strategies []Strategy, max int) []Candidate {
	if max <= 0 {
		return nil
	}
	seen := make(map[string]struct{}, max)
	out := make([]Candidate, 0, max)
	for _, s := range strategies {
		if len(out) >= max {
			break
		}
		for _, u := range s.Collect(p) {
			if !IsValidOCRImage(u, "") {
				continue
			}
			if _, dup := seen[u]; dup {
				continue
			}
			seen[u] = struct{}{}
			out = append(out, Candidate{URL: u, Section: s.Section})
			if len(out) >= max {
				break
			}
		}
	}
	return out
}

// Rank returns up to max candidates for doc in priority order.
func Rank(doc *goquery.Document, max int) []Candidate {
	return Widen(NewPage(doc), DefaultStrategies(), max)
}

func sectionImages(section Section) func(*Page) []string {
	return func(p *Page) []string {
		var out []string
		for _, block := range p.Sections().Blocks(section) {
			out = append(out, CollectFromRoot(block)...)
		}
		return out
	}
}

var gallerySelectors = []string{
	"#altImages img",
	"#imageBlock img",
	"#landingImage",
	".image img",
	"[data-a-dynamic-image]",
	"#main-image",
	".s-image",
}

func galleryImages(p *Page) []string {
	urls := newOrderedSet()
	for _, sel := range gallerySelectors {
		p.Doc.Find(sel).Each(func(_ int, el *goquery.Selection) {
			src := firstAttr(el, "data-src", "src")
			if src == "" {
				if keys := DynamicImageKeys(el.AttrOr("data-a-dynamic-image", "")); len(keys) > 0 {
					src = keys[0]
				}
			}
			if src = NormalizeURL(src); imageExt.MatchString(src) {
				urls.add(src)
			}
		})
	}
	return urls.items
}

var containerSelectors = []string{
	"#aplus_feature_div",
	"#aplus",
	".bucket",
	".aplus-v2",
	".aplus-module",
	"#productDescription",
	"[data-feature-name]",
	".celwidget",
	"#feature-bullets",
	".s-result-item",
	"[data-component-type]",
}

func containerImages(p *Page) []string {
	urls := newOrderedSet()
	for _, sel := range containerSelectors {
		p.Doc.Find(sel).Each(func(_ int, c *goquery.Selection) {
			for _, u := range CollectFromRoot(c) {
				urls.add(u)
			}
		})
	}
	return urls.items
}

func pageScanImages(p *Page) []string {
	urls := newOrderedSet()
	p.Doc.Find("img").Each(func(_ int, img *goquery.Selection) {
		if src := NormalizeURL(firstAttr(img, "data-src", "src")); looseCandidate(src) {
			urls.add(src)
		}
	})
	return urls.items
}

func dataAttributeImages(p *Page) []string {
	urls := newOrderedSet()
	accept := func(raw string) {
		if src := NormalizeURL(raw); len(src) > 20 && imageExt.MatchString(src) {
			urls.add(src)
		}
	}
	p.Doc.Find("[data-a-dynamic-image], [data-src]").Each(func(_ int, el *goquery.Selection) {
		if raw, ok := el.Attr("data-a-dynamic-image"); ok {
			if keys := DynamicImageKeys(raw); len(keys) > 0 {
				accept(keys[0])
			}
			return
		}
		accept(firstAttr(el, "data-src", "src"))
	})
	p.Doc.Find("noscript").Each(func(_ int, ns *goquery.Selection) {
		for _, src := range noscriptSources(ns) {
			accept(src)
		}
	})
	return urls.items
}
