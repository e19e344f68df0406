package notifier

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/storefront/services/account/internal/domain"
)

const rawToken = "4f2a9c0d1e3b5a7c9e1f3a5b7c9d1e3f5a7b9c1d3e5f7a9b1c3d5e7f9a1b3c5d"

func newTestRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := NewRenderer("https://shop.example.com")
	require.NoError(t, err)
	return r
}

func TestNewRenderer_RejectsRelativeURL(t *testing.T) {
	_, err := NewRenderer("/shop")
	assert.Error(t, err)

	_, err = NewRenderer("shop.example.com")
	assert.Error(t, err)
}

func TestRenderer_LinksCarryTokenAsQuery(t *testing.T) {
	r := newTestRenderer(t)

	for kind, path := range map[domain.TemplateKind]string{
		domain.TemplateVerification:  "/verify-email",
		domain.TemplatePasswordReset: "/reset-password",
	} {
		u, err := url.Parse(r.Link(kind, rawToken))
		require.NoError(t, err)
		assert.Equal(t, "shop.example.com", u.Host)
		assert.Equal(t, path, u.Path)
		assert.Equal(t, rawToken, u.Query().Get("token"))
	}

	assert.Equal(t, "https://shop.example.com", r.Link(domain.TemplateWelcome, ""))
}

func TestRenderer_KeepsBasePath(t *testing.T) {
	r, err := NewRenderer("https://example.com/store/")
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/store/verify-email?token=abc", r.Link(domain.TemplateVerification, "abc"))
}

func TestRenderer_Render(t *testing.T) {
	r := newTestRenderer(t)

	email, err := r.Render(Message{
		To:        "jane@example.com",
		Kind:      domain.TemplatePasswordReset,
		FirstName: "Jane",
		Token:     rawToken,
	})
	require.NoError(t, err)

	assert.Equal(t, "jane@example.com", email.To)
	assert.Equal(t, "Reset your password", email.Subject)
	assert.Contains(t, email.Text, "Hi Jane")
	assert.Contains(t, email.Text, "https://shop.example.com/reset-password?token="+rawToken)
	assert.Contains(t, email.HTML, `href="https://shop.example.com/reset-password?token=`+rawToken+`"`)
}

func TestRenderer_EscapesNameInHTML(t *testing.T) {
	r := newTestRenderer(t)

	email, err := r.Render(Message{To: "x@example.com", Kind: domain.TemplateWelcome, FirstName: "<b>Eve</b>"})
	require.NoError(t, err)

	assert.NotContains(t, email.HTML, "<b>Eve</b>")
	assert.Contains(t, email.HTML, "&lt;b&gt;Eve&lt;/b&gt;")
}

func TestRenderer_DefaultGreeting(t *testing.T) {
	r := newTestRenderer(t)

	email, err := r.Render(Message{To: "x@example.com", Kind: domain.TemplateWelcome})
	require.NoError(t, err)
	assert.Contains(t, email.Text, "Hi there")
}

func TestRenderer_InvalidMessages(t *testing.T) {
	r := newTestRenderer(t)

	tests := []struct {
		name string
		msg  Message
	}{
		{"no recipient", Message{Kind: domain.TemplateWelcome}},
		{"unknown kind", Message{To: "x@example.com", Kind: "newsletter"}},
		{"verification without token", Message{To: "x@example.com", Kind: domain.TemplateVerification}},
		{"reset without token", Message{To: "x@example.com", Kind: domain.TemplatePasswordReset}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Render(tt.msg)
			assert.Error(t, err)
		})
	}
}
