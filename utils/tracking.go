package utils

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
)

// Tracking tokens are an HMAC over the message id so the tracking and
// unsubscribe endpoints can validate hits without a lookup.

// TrackingToken derives the token for a message id.
func TrackingToken(secret, messageID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(messageID))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))[:20]
}

// ValidTrackingToken checks a token received on a tracking hit.
func ValidTrackingToken(secret, messageID, token string) bool {
	return hmac.Equal([]byte(TrackingToken(secret, messageID)), []byte(token))
}

// GenerateTrackingPixelURL generates a tracking pixel URL for email opens
func GenerateTrackingPixelURL(baseURL, secret, messageID string) string {
	return fmt.Sprintf("%s/track/open/%s/%s", baseURL, messageID, TrackingToken(secret, messageID))
}

// GenerateClickTrackURL generates a tracked URL for links
func GenerateClickTrackURL(baseURL, secret, messageID, originalURL string) string {
	encodedURL := url.QueryEscape(originalURL)
	return fmt.Sprintf("%s/track/click/%s/%s?url=%s", baseURL, messageID, TrackingToken(secret, messageID), encodedURL)
}

// UnsubscribeToken packs the recipient email with its own HMAC so the
// public unsubscribe endpoint can recover and verify the identity.
func UnsubscribeToken(secret, email string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("unsubscribe:" + email))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))[:20]
	return base64.RawURLEncoding.EncodeToString([]byte(email)) + "." + sig
}

// ParseUnsubscribeToken recovers the email from a token, or fails if
// the signature does not match.
func ParseUnsubscribeToken(secret, token string) (string, error) {
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("malformed unsubscribe token")
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("malformed unsubscribe token: %w", err)
	}
	email := string(raw)
	if !hmac.Equal([]byte(UnsubscribeToken(secret, email)), []byte(token)) {
		return "", fmt.Errorf("invalid unsubscribe token signature")
	}
	return email, nil
}

// GenerateUnsubscribeURL builds the public opt-out link appended to
// outbound emails.
func GenerateUnsubscribeURL(baseURL, secret, email string) string {
	return fmt.Sprintf("%s/unsubscribe/%s", baseURL, UnsubscribeToken(secret, email))
}

// InjectTracking injects open and click tracking into email content
func InjectTracking(htmlContent, baseURL, secret, messageID string) string {
	pixelURL := GenerateTrackingPixelURL(baseURL, secret, messageID)
	trackingPixel := fmt.Sprintf(`<img src="%s" alt="" width="1" height="1" style="display:none">`, pixelURL)

	modifiedHTML := injectClickTracking(htmlContent, baseURL, secret, messageID)

	return modifiedHTML + trackingPixel
}

func injectClickTracking(html, baseURL, secret, messageID string) string {
	// Simplified rewriter; tracked URLs never contain the start tag so
	// re-scanning past the replacement is safe.
	startTag := "<a href=\""
	endTag := "\""
	offset := 0

	for {
		startIdx := strings.Index(html[offset:], startTag)
		if startIdx == -1 {
			break
		}
		startIdx += offset + len(startTag)

		endIdx := strings.Index(html[startIdx:], endTag)
		if endIdx == -1 {
			break
		}
		endIdx += startIdx

		originalURL := html[startIdx:endIdx]
		trackedURL := GenerateClickTrackURL(baseURL, secret, messageID, originalURL)

		html = html[:startIdx] + trackedURL + html[endIdx:]
		offset = startIdx + len(trackedURL)
	}

	return html
}

// AppendUnsubscribeFooter adds the opt-out link required on every
// outbound cadence email.
func AppendUnsubscribeFooter(htmlContent, baseURL, secret, email string) string {
	link := GenerateUnsubscribeURL(baseURL, secret, email)
	footer := fmt.Sprintf(`<p style="font-size:11px;color:#999"><a href="%s">Unsubscribe</a></p>`, link)
	return htmlContent + footer
}
