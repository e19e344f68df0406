package domain

// TemplateKind selects the message a Notifier renders.
type TemplateKind string

const (
	TemplateVerification  TemplateKind = "verification"
	TemplatePasswordReset TemplateKind = "password_reset"
	TemplateWelcome       TemplateKind = "welcome"
)

// ValidTemplateKinds returns every template the notifiers know how to render.
func ValidTemplateKinds() []TemplateKind {
	return []TemplateKind{TemplateVerification, TemplatePasswordReset, TemplateWelcome}
}

// IsValid reports whether k is a known template.
func (k TemplateKind) IsValid() bool {
	for _, v := range ValidTemplateKinds() {
		if k == v {
			return true
		}
	}
	return false
}

// CarriesToken reports whether messages of this kind embed a one-time link.
func (k TemplateKind) CarriesToken() bool {
	return k == TemplateVerification || k == TemplatePasswordReset
}
