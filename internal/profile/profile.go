// Package profile holds the per-site override table. Supporting a new site
// is a data change in profiles.yaml or the user's profile file.
package profile

import (
	"strings"
	"time"
)

// Role names used by Adjust rules.
const (
	RoleInput   = "input"
	RoleSubmit  = "submit"
	RoleNewChat = "new_conversation"
)

// Adjust adds Delta to the score of every candidate for Role that matches
// Selector.
type Adjust struct {
	Role     string `yaml:"role"`
	Selector string `yaml:"selector"`
	Delta    int    `yaml:"delta"`
}

// Profile is the override record for one site.
type Profile struct {
	Name  string   `yaml:"name"`
	Match []string `yaml:"match"`
	URL   string   `yaml:"url"`

	InputSelectors   []string `yaml:"input"`
	SubmitSelectors  []string `yaml:"submit"`
	NewChatSelectors []string `yaml:"newChat"`
	Adjust           []Adjust `yaml:"adjust"`

	KeyboardOnlySubmit        bool          `yaml:"keyboardOnlySubmit"`
	SuppressCompositionEvents bool          `yaml:"suppressCompositionEvents"`
	SkipRealtimeSync          bool          `yaml:"skipRealtimeSync"`
	PreSubmitDelay            time.Duration `yaml:"preSubmitDelay"`
	NewConversationURL        string        `yaml:"newConversationURL"`
}

// Matches reports whether host contains one of the profile's patterns.
func (p *Profile) Matches(host string) bool {
	host = strings.ToLower(host)
	for _, m := range p.Match {
		if m != "" && strings.Contains(host, strings.ToLower(m)) {
			return true
		}
	}
	return false
}

// Selectors returns the override list for a role.
func (p *Profile) Selectors(role string) []string {
	if p == nil {
		return nil
	}
	switch role {
	case RoleInput:
		return p.InputSelectors
	case RoleSubmit:
		return p.SubmitSelectors
	case RoleNewChat:
		return p.NewChatSelectors
	}
	return nil
}

// Adjustments returns the score rules that apply to role.
func (p *Profile) Adjustments(role string) []Adjust {
	if p == nil {
		return nil
	}
	var out []Adjust
	for _, a := range p.Adjust {
		if a.Role == role || a.Role == "" {
			out = append(out, a)
		}
	}
	return out
}
