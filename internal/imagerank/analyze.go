package imagerank

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Heading describes one h2 on the page.
type Heading struct {
	Text  string `json:"text"`
	ID    string `json:"id"`
	Class string `json:"class"`
}

// Block summarizes one .aplus-v2 container.
type Block struct {
	ID          string `json:"id"`
	Class       string `json:"class"`
	TextPreview string `json:"text_preview"`
	ImageCount  int    `json:"image_count"`
}

// SectionImage is an image found inside a section block.
type SectionImage struct {
	URL       string  `json:"url"`
	Section   Section `json:"section"`
	Container string  `json:"container"`
}

// Analysis is the section report returned for debugging a page.
type Analysis struct {
	Brand         int            `json:"brand"`
	Manufacturer  int            `json:"manufacturer"`
	Description   int            `json:"description"`
	Headings      []Heading      `json:"headings"`
	AplusBlocks   []Block        `json:"aplus_blocks"`
	SectionImages []SectionImage `json:"section_images"`
	Priority      []Candidate    `json:"priority"`
	TotalImages   int            `json:"total_images"`
	TotalAplus    int            `json:"total_aplus"`
	PageTitle     string         `json:"page_title"`
}

const previewLen = 100

// Analyze reports what the ranker sees on doc.
func Analyze(doc *goquery.Document, max int) Analysis {
	raw := FindSections(doc)
	a := Analysis{
		Brand:        len(raw.Brand),
		Manufacturer: len(raw.Manufacturer),
		Description:  len(raw.Description),
		TotalImages:  doc.Find("img").Length(),
		TotalAplus:   doc.Find(".aplus-v2").Length(),
		PageTitle:    strings.TrimSpace(doc.Find("title").First().Text()),
	}

	doc.Find("h2").Each(func(_ int, h *goquery.Selection) {
		a.Headings = append(a.Headings, Heading{
			Text:  strings.TrimSpace(h.Text()),
			ID:    h.AttrOr("id", "no-id"),
			Class: h.AttrOr("class", "no-class"),
		})
	})
	doc.Find(".aplus-v2").Each(func(_ int, div *goquery.Selection) {
		text := strings.TrimSpace(div.Text())
		if r := []rune(text); len(r) > previewLen {
			text = string(r[:previewLen]) + "..."
		}
		a.AplusBlocks = append(a.AplusBlocks, Block{
			ID:          div.AttrOr("id", "no-id"),
			Class:       div.AttrOr("class", "no-class"),
			TextPreview: text,
			ImageCount:  div.Find("img").Length(),
		})
	})
	for _, section := range []Section{SectionBrand, SectionManufacturer, SectionDescription} {
		for _, block := range raw.Blocks(section) {
			for _, u := range CollectFromRoot(block) {
				a.SectionImages = append(a.SectionImages, SectionImage{URL: u, Section: section, Container: Describe(block)})
			}
		}
	}
	a.Priority = Rank(doc, max)
	return a
}
