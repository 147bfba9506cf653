// Package resolve finds the chat input, the send control and the
// new-conversation control on an unfamiliar page. Site profile overrides
// are tried first; otherwise every element in every root is scored and the
// strict best wins, ties going to the earlier element in composed order.
// Resolution only reads the snapshot.
package resolve

import (
	"fmt"
	"sort"
	"strings"

	"chatcast/internal/dom"
	"chatcast/internal/domain"
	"chatcast/internal/profile"
)

// Role is what the resolver is looking for.
type Role string

const (
	RoleInput           Role = profile.RoleInput
	RoleSubmit          Role = profile.RoleSubmit
	RoleNewConversation Role = profile.RoleNewChat
)

// Candidate is one scored element.
type Candidate struct {
	El      *dom.Element
	Score   int
	Reasons []string
}

// Rejected reports whether the candidate was excluded outright.
func (c Candidate) Rejected() bool { return c.Score == rejected }

func (c Candidate) String() string {
	if c.Rejected() {
		return fmt.Sprintf("%s rejected (%s)", c.El, strings.Join(c.Reasons, " "))
	}
	return fmt.Sprintf("%s %d [%s]", c.El, c.Score, strings.Join(c.Reasons, " "))
}

// Result is a resolved element and how it was found.
type Result struct {
	El       *dom.Element
	Score    int
	Override string // selector that matched, empty for scored results
}

// Resolve returns the best element for role. anchor is the resolved input
// and is only used for submit proximity; it may be nil. p may be nil for
// unknown sites.
func Resolve(doc *dom.Document, role Role, p *profile.Profile, anchor *dom.Element) (Result, error) {
	if el, sel := Override(doc, role, p); el != nil {
		return Result{El: el, Override: sel}, nil
	}

	ranked := Rank(doc, role, p, anchor)
	if len(ranked) == 0 || ranked[0].Rejected() {
		return Result{}, fmt.Errorf("resolve %s on %s: %w", role, doc.Host, domain.ErrElementNotFound)
	}
	best := ranked[0]
	if role != RoleInput && best.Score <= 0 {
		return Result{El: best.El, Score: best.Score},
			fmt.Errorf("resolve %s on %s: best score %d: %w", role, doc.Host, best.Score, domain.ErrSubmitAmbiguous)
	}
	return Result{El: best.El, Score: best.Score}, nil
}

// Override returns the first visible, enabled match of the profile's
// selectors for role, trying them in order.
func Override(doc *dom.Document, role Role, p *profile.Profile) (*dom.Element, string) {
	s := &scorer{role: role, profile: p}
	for _, sel := range p.Selectors(string(role)) {
		for _, el := range doc.Query(sel) {
			if s.exclude(el) == "" {
				return el, sel
			}
		}
	}
	return nil, ""
}

// Rank scores every candidate of the right shape and returns them best
// first. Rejected candidates sort last. The sort is stable over composed
// order, so equal scores keep document order.
func Rank(doc *dom.Document, role Role, p *profile.Profile, anchor *dom.Element) []Candidate {
	s := &scorer{role: role, profile: p, anchor: anchor}
	var out []Candidate
	doc.Walk(func(el *dom.Element) bool {
		if !shaped(role, el) {
			return true
		}
		score, reasons := s.score(el)
		out = append(out, Candidate{El: el, Score: score, Reasons: reasons})
		return true
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// shaped is the structural pre-filter per role.
func shaped(role Role, el *dom.Element) bool {
	switch role {
	case RoleInput:
		return inputShaped(el)
	case RoleSubmit:
		return controlShaped(el, submitKeywords)
	case RoleNewConversation:
		if el.Tag() == "a" || strings.EqualFold(el.Attr("role"), "link") ||
			strings.EqualFold(el.Attr("role"), "menuitem") {
			return true
		}
		return controlShaped(el, nil) || newChatLabelled(el)
	}
	return false
}

func inputShaped(el *dom.Element) bool {
	if el.IsTextControl() {
		return true
	}
	if el.Editable {
		// Only the editing host, not the paragraphs inside it.
		if p := el.Parent(); p != nil && p.Editable {
			return false
		}
		return true
	}
	return strings.EqualFold(el.Attr("role"), "textbox")
}

// controlShaped accepts buttons, role=button elements, and any element
// whose attributes carry one of keywords. Elements nested in another
// control are skipped so a button and its icon are not both candidates.
func controlShaped(el *dom.Element, keywords []string) bool {
	if !isControl(el) {
		if keywords == nil || matchAny(attrText(el, "aria-label", "title", "data-testid", "id", "class"), keywords) == "" {
			return false
		}
	}
	for p := el.Parent(); p != nil; p = p.Parent() {
		if isControl(p) {
			return false
		}
	}
	return true
}

func isControl(el *dom.Element) bool {
	switch el.Tag() {
	case "button":
		return true
	case "input":
		switch strings.ToLower(el.Attr("type")) {
		case "submit", "button", "image":
			return true
		}
	}
	return strings.EqualFold(el.Attr("role"), "button")
}

func newChatLabelled(el *dom.Element) bool {
	label := normalizeNewChat(attrText(el, "aria-label", "title", "data-testid", "id", "class"))
	for _, kw := range newChatKeywords {
		if strings.Contains(label, kw) {
			return true
		}
	}
	return false
}
