package models

// SelectorConfig holds CSS selectors used by the selector strategy.
type SelectorConfig struct {
	Container   string `yaml:"container,omitempty" json:"container,omitempty"`
	Title       string `yaml:"title,omitempty" json:"title,omitempty"`
	Link        string `yaml:"link,omitempty" json:"link,omitempty"`
	LinkAttr    string `yaml:"link_attr,omitempty" json:"link_attr,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Amount      string `yaml:"amount,omitempty" json:"amount,omitempty"`
	Deadline    string `yaml:"deadline,omitempty" json:"deadline,omitempty"`
}

// SourceDescriptor identifies one external grant-listing source and how to
// fetch and parse it. Loaded once at startup and never mutated.
type SourceDescriptor struct {
	ID           string         `yaml:"id" json:"id"`
	Name         string         `yaml:"name" json:"name"`
	PrimaryURL   string         `yaml:"primary_url" json:"primary_url"`
	FallbackURLs []string       `yaml:"fallback_urls,omitempty" json:"fallback_urls,omitempty"`
	Strategy     string         `yaml:"strategy" json:"strategy"`
	Category     string         `yaml:"category" json:"category"`
	Region       string         `yaml:"region,omitempty" json:"region,omitempty"`
	FinanceURL   string         `yaml:"finance_url,omitempty" json:"finance_url,omitempty"`
	Keywords     []string       `yaml:"keywords,omitempty" json:"keywords,omitempty"`
	Selectors    SelectorConfig `yaml:"selectors,omitempty" json:"selectors,omitempty"`
}

// URLs returns the primary URL followed by the fallbacks, in fetch order.
func (s SourceDescriptor) URLs() []string {
	out := make([]string, 0, 1+len(s.FallbackURLs))
	if s.PrimaryURL != "" {
		out = append(out, s.PrimaryURL)
	}
	return append(out, s.FallbackURLs...)
}
