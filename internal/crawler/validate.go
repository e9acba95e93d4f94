package crawler

import (
	"bytes"
	"encoding/json"

	"github.com/PuerkitoBio/goquery"
)

// ValidateHTML rejects documents without a <title>. Soft blocks and captcha
// interstitials usually lack one.
func ValidateHTML(data []byte) error {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return Malformed("unparseable html: %v", err)
	}
	if doc.Find("title").Length() == 0 {
		return Malformed("html page has no title")
	}
	return nil
}

// ValidateJSON rejects anything that is not well-formed JSON.
func ValidateJSON(data []byte) error {
	if !json.Valid(data) {
		return Malformed("invalid json")
	}
	return nil
}
