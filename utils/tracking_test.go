package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackingTokenRoundTrip(t *testing.T) {
	token := TrackingToken("secret", "msg-123")

	assert.True(t, ValidTrackingToken("secret", "msg-123", token))
	assert.False(t, ValidTrackingToken("secret", "msg-456", token))
	assert.False(t, ValidTrackingToken("other-secret", "msg-123", token))
	assert.False(t, ValidTrackingToken("secret", "msg-123", "forged-token-value"))
}

func TestUnsubscribeTokenRoundTrip(t *testing.T) {
	token := UnsubscribeToken("secret", "ana@acme.com")

	email, err := ParseUnsubscribeToken("secret", token)
	require.NoError(t, err)
	assert.Equal(t, "ana@acme.com", email)

	_, err = ParseUnsubscribeToken("other-secret", token)
	assert.Error(t, err)

	_, err = ParseUnsubscribeToken("secret", "garbage")
	assert.Error(t, err)

	// Tampered identity with the original signature
	parts := strings.SplitN(token, ".", 2)
	forged := UnsubscribeToken("secret", "victim@acme.com")
	forgedParts := strings.SplitN(forged, ".", 2)
	_, err = ParseUnsubscribeToken("secret", forgedParts[0]+"."+parts[1])
	assert.Error(t, err)
}

func TestInjectTracking(t *testing.T) {
	html := `<p>Veja <a href="https://example.com/page">o material</a> e <a href="https://example.com/other">mais</a></p>`

	out := InjectTracking(html, "http://localhost:5000", "secret", "msg-1")

	assert.Contains(t, out, "/track/open/msg-1/")
	assert.Equal(t, 2, strings.Count(out, "/track/click/msg-1/"), "every link rewritten")
	assert.Contains(t, out, "url=https%3A%2F%2Fexample.com%2Fpage")
	assert.NotContains(t, out, `href="https://example.com/page"`)
	assert.Contains(t, out, "o material", "link text untouched")
}

func TestInjectTrackingNoLinks(t *testing.T) {
	out := InjectTracking("<p>sem links</p>", "http://localhost:5000", "secret", "msg-2")
	assert.Contains(t, out, "<p>sem links</p>")
	assert.Contains(t, out, "/track/open/msg-2/")
}

func TestAppendUnsubscribeFooter(t *testing.T) {
	out := AppendUnsubscribeFooter("<p>corpo</p>", "http://localhost:5000", "secret", "ana@acme.com")

	assert.Contains(t, out, "/unsubscribe/")
	token := UnsubscribeToken("secret", "ana@acme.com")
	assert.Contains(t, out, token)
}
