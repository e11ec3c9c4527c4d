package catalog

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"stockwatch/internal/inventory"
)

// Selectors describe where product data lives in a listing page.
type Selectors struct {
	Item          string // one element per product
	Name          string
	NoscriptImage string // image inside <noscript>, preferred
	ThumbImage    string // lazy-loaded fallback, read from data-thumb
	SoldOutMarker string // substring of the item text marking it unavailable
}

// DefaultSelectors match chiikawamarket.jp's Shopify theme.
func DefaultSelectors() Selectors {
	return Selectors{
		Item:          "div.product--root",
		Name:          "h2.product_name",
		NoscriptImage: "img[src]",
		ThumbImage:    "img[data-thumb]",
		SoldOutMarker: "売り切れ",
	}
}

func (s Selectors) withDefaults() Selectors {
	d := DefaultSelectors()
	if strings.TrimSpace(s.Item) == "" {
		s.Item = d.Item
	}
	if strings.TrimSpace(s.Name) == "" {
		s.Name = d.Name
	}
	if strings.TrimSpace(s.NoscriptImage) == "" {
		s.NoscriptImage = d.NoscriptImage
	}
	if strings.TrimSpace(s.ThumbImage) == "" {
		s.ThumbImage = d.ThumbImage
	}
	if s.SoldOutMarker == "" {
		s.SoldOutMarker = d.SoldOutMarker
	}
	return s
}

// ParseProducts extracts products from a listing page. It also returns how
// many items matched sel.Item; items without a name are counted but skipped,
// so matched > len(products) means the page was only partly understood.
func ParseProducts(doc *goquery.Document, sel Selectors) ([]inventory.RawProduct, int) {
	sel = sel.withDefaults()
	var out []inventory.RawProduct
	items := doc.Find(sel.Item)
	items.Each(func(_ int, item *goquery.Selection) {
		name := strings.TrimSpace(item.Find(sel.Name).First().Text())
		if name == "" {
			return
		}
		out = append(out, inventory.RawProduct{
			Name:     name,
			ImageURL: normalizeURL(itemImage(item, sel)),
			InStock:  !strings.Contains(item.Text(), sel.SoldOutMarker),
		})
	})
	return out, items.Length()
}

func itemImage(item *goquery.Selection, sel Selectors) string {
	var src string
	item.Find("noscript").EachWithBreak(func(_ int, ns *goquery.Selection) bool {
		src = noscriptImage(ns, sel.NoscriptImage)
		return src == ""
	})
	if src != "" {
		return src
	}
	thumb, _ := item.Find(sel.ThumbImage).First().Attr("data-thumb")
	return strings.TrimSpace(thumb)
}

// noscriptImage handles both parse modes: with scripting enabled the HTML
// parser keeps <noscript> content as raw text, so it is parsed again.
func noscriptImage(ns *goquery.Selection, imgSel string) string {
	if v, ok := ns.Find(imgSel).First().Attr("src"); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	raw := strings.TrimSpace(ns.Text())
	if raw == "" {
		return ""
	}
	inner, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return ""
	}
	v, _ := inner.Find(imgSel).First().Attr("src")
	return strings.TrimSpace(v)
}

func normalizeURL(u string) string {
	if strings.HasPrefix(u, "//") {
		return "https:" + u
	}
	return u
}
