// Package scanner extracts <img> references from stored post HTML.
package scanner

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"post_image_downloader/internal/domain"
)

// ExtractImgTuples returns src, title and alt of every <img> in document
// order. Missing attributes are empty strings; repeated images are kept.
func ExtractImgTuples(html string) []domain.ImageReference {
	doc, err := parse(html)
	if err != nil {
		return nil
	}

	var refs []domain.ImageReference
	doc.Find("img").Each(func(_ int, img *goquery.Selection) {
		refs = append(refs, domain.ImageReference{
			Src:   strings.TrimSpace(img.AttrOr("src", "")),
			Title: img.AttrOr("title", ""),
			Alt:   img.AttrOr("alt", ""),
		})
	})
	return refs
}

// ExtractUniqueImgSrcs returns the distinct non-empty <img> srcs in first-seen order.
func ExtractUniqueImgSrcs(html string) []string {
	doc, err := parse(html)
	if err != nil {
		return nil
	}

	seen := make(map[string]struct{})
	var srcs []string
	doc.Find("img").Each(func(_ int, img *goquery.Selection) {
		src, ok := img.Attr("src")
		src = strings.TrimSpace(src)
		if !ok || src == "" {
			return
		}
		if _, dup := seen[src]; dup {
			return
		}
		seen[src] = struct{}{}
		srcs = append(srcs, src)
	})
	return srcs
}

// FirstImgSrc returns the src of the first <img> carrying a non-empty src.
func FirstImgSrc(html string) (string, bool) {
	for _, ref := range ExtractImgTuples(html) {
		if ref.Src != "" {
			return ref.Src, true
		}
	}
	return "", false
}

var attrEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#039;",
)

// EscapeAttr returns s as it would appear inside an HTML attribute value.
func EscapeAttr(s string) string {
	return attrEscaper.Replace(s)
}

// ReplaceSrc replaces both the raw and the attribute-escaped form of oldSrc.
func ReplaceSrc(content, oldSrc, newSrc string) string {
	if escaped := EscapeAttr(oldSrc); escaped != oldSrc {
		content = strings.ReplaceAll(content, escaped, EscapeAttr(newSrc))
	}
	return strings.ReplaceAll(content, oldSrc, newSrc)
}

// ContainsSrc reports whether content still holds oldSrc in either form.
func ContainsSrc(content, src string) bool {
	return strings.Contains(content, src) || strings.Contains(content, EscapeAttr(src))
}

func parse(html string) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}
