package utils

import (
	"fmt"
	"strings"
)

// LureURL builds the target-facing landing link for one (campaign, target)
// pair. The correlation params are the only state the link carries.
func LureURL(baseURL, campaignKey, targetKey string) string {
	return fmt.Sprintf("%s/lure?%s",
		strings.TrimRight(baseURL, "/"), EncodeURLParams(campaignKey, targetKey))
}

// TrackingPixelURL builds the open-tracking pixel URL.
func TrackingPixelURL(baseURL, campaignKey, targetKey string) string {
	return fmt.Sprintf("%s/t/px.png?%s",
		strings.TrimRight(baseURL, "/"), EncodeURLParams(campaignKey, targetKey))
}

// InjectTrackingPixel appends the 1x1 open pixel to rendered email HTML.
func InjectTrackingPixel(htmlContent, pixelURL string) string {
	pixel := fmt.Sprintf(`<img src="%s" alt="" width="1" height="1" style="display:none">`, pixelURL)
	return htmlContent + pixel
}
