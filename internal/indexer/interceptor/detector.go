package interceptor

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/slipstream/searchd/internal/indexer/types"
)

// Protection vendors reported in ProtectionInfo.
const (
	VendorCloudflare = "cloudflare"
	VendorDDoSGuard  = "ddos-guard"
	VendorCustom     = "custom"
)

// challengeTitles maps challenge page titles to whether a browser-based
// solver can pass them.
var challengeTitles = map[string]struct {
	vendor   string
	solvable bool
}{
	"just a moment...":                  {VendorCloudflare, true},
	"attention required! | cloudflare": {VendorCloudflare, true},
	"access denied":                     {VendorCloudflare, false},
	"ddos-guard":                        {VendorDDoSGuard, true},
}

// challengeMarkers are body fragments of interstitial challenge pages.
var challengeMarkers = []string{
	"checking your browser",
	"ddos protection by cloudflare",
	"cf-browser-verification",
}

// ProtectionDetector fails any exchange whose response is an anti-bot
// challenge instead of site content.
type ProtectionDetector struct{}

// PreRequest implements Interceptor.
func (ProtectionDetector) PreRequest(req *http.Request) (*http.Request, error) {
	return req, nil
}

// PostResponse implements Interceptor.
func (ProtectionDetector) PostResponse(_ *http.Request, resp *Response) (*Response, error) {
	if info, ok := Detect(resp); ok {
		return nil, types.NewProtectionError(resp.StatusCode, info)
	}
	return resp, nil
}

// Detect reports whether resp is a protection challenge and which vendor
// issued it.
func Detect(resp *Response) (types.ProtectionInfo, bool) {
	if resp == nil {
		return types.ProtectionInfo{}, false
	}
	if strings.EqualFold(resp.Header.Get("Cf-Mitigated"), "challenge") {
		return types.ProtectionInfo{Vendor: VendorCloudflare, Solvable: true}, true
	}

	server := strings.ToLower(resp.Header.Get("Server"))
	switch {
	case strings.HasPrefix(server, "cloudflare") && challengeStatus(resp.StatusCode):
		if info, ok := detectByContent(resp.Body); ok {
			return info, true
		}
	case strings.HasPrefix(server, "ddos-guard") && challengeStatus(resp.StatusCode):
		return types.ProtectionInfo{Vendor: VendorDDoSGuard, Solvable: true}, true
	}

	if isCustomChallenge(resp) {
		return types.ProtectionInfo{Vendor: VendorCustom, Solvable: true}, true
	}
	return types.ProtectionInfo{}, false
}

func challengeStatus(code int) bool {
	return code == http.StatusForbidden ||
		code == http.StatusServiceUnavailable ||
		code == http.StatusTooManyRequests
}

func detectByContent(body []byte) (types.ProtectionInfo, bool) {
	if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body)); err == nil {
		title := strings.ToLower(strings.TrimSpace(doc.Find("title").First().Text()))
		if c, ok := challengeTitles[title]; ok {
			return types.ProtectionInfo{Vendor: c.vendor, Solvable: c.solvable}, true
		}
	}

	lower := bytes.ToLower(body)
	for _, marker := range challengeMarkers {
		if bytes.Contains(lower, []byte(marker)) {
			return types.ProtectionInfo{Vendor: VendorCloudflare, Solvable: true}, true
		}
	}
	return types.ProtectionInfo{}, false
}

// isCustomChallenge matches home-grown DDoS pages that vary on the user
// agent and serve an uncompressed interstitial.
func isCustomChallenge(resp *Response) bool {
	vary := strings.ReplaceAll(resp.Header.Get("Vary"), " ", "")
	if !strings.EqualFold(vary, "Accept-Encoding,User-Agent") {
		return false
	}
	if resp.Header.Get("Content-Encoding") != "" {
		return false
	}
	return bytes.Contains(bytes.ToLower(resp.Body), []byte("ddos"))
}
