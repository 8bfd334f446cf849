package template

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
)

// Tracker rewrites outgoing HTML so opens and clicks report back to the
// ingestion endpoints. An empty base URL disables rewriting entirely.
type Tracker struct {
	baseURL string
}

func NewTracker(baseURL string) *Tracker {
	return &Tracker{baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/")}
}

// InjectOpenPixel appends an invisible 1x1 image keyed by queue item ID.
func (t *Tracker) InjectOpenPixel(html, itemID string) string {
	if t == nil || t.baseURL == "" {
		return html
	}

	pixelURL := fmt.Sprintf("%s/track/open/%s/%s", t.baseURL, itemID, Token(itemID))
	pixel := fmt.Sprintf(`<img src="%s" alt="" width="1" height="1" style="display:none">`, pixelURL)

	if idx := strings.LastIndex(strings.ToLower(html), "</body>"); idx != -1 {
		return html[:idx] + pixel + html[idx:]
	}
	return html + pixel
}

// RewriteLinks points every <a href> at the click endpoint, carrying the
// original destination as a query parameter.
func (t *Tracker) RewriteLinks(html, itemID string) string {
	if t == nil || t.baseURL == "" {
		return html
	}

	const startTag = `<a href="`
	offset := 0

	for {
		startIdx := strings.Index(html[offset:], startTag)
		if startIdx == -1 {
			break
		}
		startIdx += offset + len(startTag)

		endIdx := strings.Index(html[startIdx:], `"`)
		if endIdx == -1 {
			break
		}
		endIdx += startIdx

		originalURL := html[startIdx:endIdx]
		if strings.HasPrefix(originalURL, t.baseURL) || strings.HasPrefix(originalURL, "mailto:") {
			offset = endIdx
			continue
		}

		trackedURL := fmt.Sprintf("%s/track/click/%s/%s?url=%s",
			t.baseURL, itemID, Token(itemID), url.QueryEscape(originalURL))

		html = html[:startIdx] + trackedURL + html[endIdx:]
		offset = startIdx + len(trackedURL)
	}

	return html
}

// Apply runs link rewriting then pixel injection.
func (t *Tracker) Apply(html, itemID string) string {
	return t.InjectOpenPixel(t.RewriteLinks(html, itemID), itemID)
}

// Token derives the tracking token embedded in rewritten URLs for a queue
// item. The ingestion endpoints recompute it to reject forged requests.
func Token(itemID string) string {
	hash := sha256.Sum256([]byte(itemID))
	return base64.URLEncoding.EncodeToString(hash[:])[:20]
}
