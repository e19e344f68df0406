package notifier

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"net/url"
	texttemplate "text/template"

	"github.com/utafrali/storefront/services/account/internal/domain"
)

// Email is a rendered Message.
type Email struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"html"`
}

type templateSet struct {
	subject string
	text    *texttemplate.Template
	html    *htmltemplate.Template
}

type templateData struct {
	FirstName string
	Link      string
}

var templates = map[domain.TemplateKind]templateSet{
	domain.TemplateVerification: {
		subject: "Confirm your email address",
		text: texttemplate.Must(texttemplate.New("verification.txt").Parse(
			"Hi {{.FirstName}},\n\nPlease confirm your email address by opening the link below. It is valid for 24 hours.\n\n{{.Link}}\n\nIf you did not create an account you can ignore this message.\n")),
		html: htmltemplate.Must(htmltemplate.New("verification.html").Parse(
			`<p>Hi {{.FirstName}},</p><p>Please confirm your email address. The link is valid for 24 hours.</p><p><a href="{{.Link}}">Confirm email</a></p><p>If you did not create an account you can ignore this message.</p>`)),
	},
	domain.TemplatePasswordReset: {
		subject: "Reset your password",
		text: texttemplate.Must(texttemplate.New("password_reset.txt").Parse(
			"Hi {{.FirstName}},\n\nSomeone asked to reset the password of your account. The link below is valid for 10 minutes.\n\n{{.Link}}\n\nIf this was not you, no action is needed.\n")),
		html: htmltemplate.Must(htmltemplate.New("password_reset.html").Parse(
			`<p>Hi {{.FirstName}},</p><p>Someone asked to reset the password of your account. The link is valid for 10 minutes.</p><p><a href="{{.Link}}">Choose a new password</a></p><p>If this was not you, no action is needed.</p>`)),
	},
	domain.TemplateWelcome: {
		subject: "Welcome to the store",
		text: texttemplate.Must(texttemplate.New("welcome.txt").Parse(
			"Hi {{.FirstName}},\n\nYour email address is confirmed and your account is ready.\n\n{{.Link}}\n")),
		html: htmltemplate.Must(htmltemplate.New("welcome.html").Parse(
			`<p>Hi {{.FirstName}},</p><p>Your email address is confirmed and your account is ready.</p><p><a href="{{.Link}}">Start shopping</a></p>`)),
	},
}

var linkPaths = map[domain.TemplateKind]string{
	domain.TemplateVerification:  "verify-email",
	domain.TemplatePasswordReset: "reset-password",
	domain.TemplateWelcome:       "",
}

// Renderer turns Messages into Emails with links under a base URL.
type Renderer struct {
	baseURL *url.URL
}

// NewRenderer parses baseURL, which must be absolute.
func NewRenderer(baseURL string) (*Renderer, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q is not absolute", baseURL)
	}
	return &Renderer{baseURL: u}, nil
}

// Link returns the link for kind. Token-carrying kinds put the raw token in
// the "token" query parameter.
func (r *Renderer) Link(kind domain.TemplateKind, token string) string {
	u := r.baseURL.JoinPath(linkPaths[kind])
	if kind.CarriesToken() {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// Render produces the Email for msg.
func (r *Renderer) Render(msg Message) (Email, error) {
	if err := msg.validate(); err != nil {
		return Email{}, err
	}
	set := templates[msg.Kind]

	data := templateData{FirstName: msg.FirstName, Link: r.Link(msg.Kind, msg.Token)}
	if data.FirstName == "" {
		data.FirstName = "there"
	}

	var text, html bytes.Buffer
	if err := set.text.Execute(&text, data); err != nil {
		return Email{}, fmt.Errorf("render %s text: %w", msg.Kind, err)
	}
	if err := set.html.Execute(&html, data); err != nil {
		return Email{}, fmt.Errorf("render %s html: %w", msg.Kind, err)
	}

	return Email{To: msg.To, Subject: set.subject, Text: text.String(), HTML: html.String()}, nil
}
