package fetch

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var titleTagRe = regexp.MustCompile(`(?is)<title[^>]*>([^<]*)</title>`)

// titleDecoders are tried in order against the raw <title> bytes of legacy
// pages that declare no usable charset. x/text's Big5 tables carry the HKSCS
// extensions, which covers the site's pre-2010 pages.
var titleDecoders = []encoding.Encoding{
	traditionalchinese.Big5,
}

// NormalizeCJK collapses whitespace runs to single spaces and normalizes the
// text to NFC. Keyword comparison happens on this form on both sides, so
// combining-character variants of the same hanzi never miss.
func NormalizeCJK(text string) string {
	if text == "" {
		return ""
	}
	collapsed := strings.Join(strings.Fields(text), " ")
	return norm.NFC.String(collapsed)
}

// ExtractTitle pulls the article title out of a fetched page.
//
// Preference order: the og:title meta tag of a charset-decoded parse, then
// the raw <title> tag reinterpreted through the legacy encodings until a
// decode yields CJK ideographs, then the raw title as-is.
func ExtractTitle(content Content) string {
	if content.HTML == "" {
		return ""
	}

	if title := ogTitle(content); title != "" {
		return NormalizeCJK(title)
	}

	m := titleTagRe.FindStringSubmatch(content.HTML)
	if m == nil {
		return ""
	}
	raw := strings.Join(strings.Fields(m[1]), " ")
	if raw == "" {
		return ""
	}

	for _, enc := range titleDecoders {
		decoded, _, err := transform.String(enc.NewDecoder(), raw)
		if err != nil {
			continue
		}
		normalized := NormalizeCJK(decoded)
		if normalized != "" && containsCJK(normalized) {
			return normalized
		}
	}

	if utf8.ValidString(raw) {
		return NormalizeCJK(raw)
	}
	return ""
}

// ogTitle parses the document with charset detection and returns the og:title
// content, if any. Pages that declare their encoding (even Big5) come out as
// clean UTF-8 here.
func ogTitle(content Content) string {
	reader, err := charset.NewReader(strings.NewReader(content.HTML), content.ContentType)
	if err != nil {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(reader)
	if err != nil {
		return ""
	}
	title, ok := doc.Find(`meta[property="og:title"]`).First().Attr("content")
	if !ok {
		return ""
	}
	return strings.TrimSpace(title)
}

func containsCJK(s string) bool {
	for _, r := range s {
		if r >= 0x4E00 && r <= 0x9FFF {
			return true
		}
	}
	return false
}
