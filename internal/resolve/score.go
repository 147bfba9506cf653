package resolve

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"chatcast/internal/dom"
	"chatcast/internal/profile"
)

// Signal weights. Tuned against live sites; expect to revisit them when
// sites change their markup.
const (
	wTextarea        = 30
	wContentEditable = 25
	wTextboxRole     = 15
	wTextInput       = 10
	wInputKeyword    = 20
	wInputNegative   = -40
	wLowerHalf       = 15
	wTopBand         = -10

	wSubmitKeyword  = 40
	wTypeSubmit     = 15
	wButton         = 10
	wButtonRole     = 5
	wIcon           = 10
	wSendIcon       = 10
	wRightAligned   = 15
	wLeftAligned    = -15
	wSameRoot       = 5
	wNearInput      = 10
	wSubmitNegative = -100
	wHasPopup       = -50
	wExpanded       = -30

	wNewChatKeyword  = 40
	wNewChatControl  = 5
	wNewChatNegative = -60

	// nearDistance is how far, in CSS pixels, a submit control may sit from
	// the input box and still count as next to it.
	nearDistance = 160
	// shortText bounds the visible label considered for submit keywords.
	shortText = 24
)

// rejected marks a candidate excluded outright.
const rejected = math.MinInt32

type scorer struct {
	role    Role
	profile *profile.Profile
	anchor  *dom.Element
}

// score returns the candidate's score and the signals that produced it.
func (s *scorer) score(el *dom.Element) (int, []string) {
	if why := s.exclude(el); why != "" {
		return rejected, []string{why}
	}
	var c tally
	switch s.role {
	case RoleInput:
		s.scoreInput(el, &c)
	case RoleSubmit:
		s.scoreSubmit(el, &c)
	case RoleNewConversation:
		s.scoreNewChat(el, &c)
	}
	for _, a := range s.profile.Adjustments(string(s.role)) {
		if a.Selector != "" && el.Is(a.Selector) {
			c.add(fmt.Sprintf("profile:%s", a.Selector), a.Delta)
		}
	}
	return c.total, c.reasons
}

type tally struct {
	total   int
	reasons []string
}

func (t *tally) add(name string, delta int) {
	t.total += delta
	t.reasons = append(t.reasons, fmt.Sprintf("%s%+d", name, delta))
}

// exclude returns a non-empty reason when el can never win.
func (s *scorer) exclude(el *dom.Element) string {
	if !el.Visible() {
		return "invisible"
	}
	if isDisabled(el) {
		return "disabled"
	}
	if s.role == RoleInput && isReadOnly(el) {
		return "readonly"
	}
	return ""
}

func (s *scorer) scoreInput(el *dom.Element, c *tally) {
	switch {
	case el.Tag() == "textarea":
		c.add("textarea", wTextarea)
	case el.Editable:
		c.add("contenteditable", wContentEditable)
	case el.Tag() == "input":
		c.add("input", wTextInput)
	}
	if strings.EqualFold(el.Attr("role"), "textbox") {
		c.add("role=textbox", wTextboxRole)
	}

	label := attrText(el, "aria-label", "placeholder", "aria-placeholder", "data-placeholder",
		"title", "name", "id", "class", "data-testid")
	if kw := matchAny(label, inputNegative); kw != "" {
		c.add("negative:"+kw, wInputNegative)
	} else if kw := matchAny(label, inputKeywords); kw != "" {
		c.add("keyword:"+kw, wInputKeyword)
	}

	vp := el.Root.Viewport
	if vp.H > 0 {
		_, cy := el.Center()
		if cy > vp.H/2 {
			c.add("lower-half", wLowerHalf)
		}
		if el.Box.Y < vp.H*0.2 {
			c.add("top-band", wTopBand)
		}
	}
}

func (s *scorer) scoreSubmit(el *dom.Element, c *tally) {
	label := submitLabel(el)
	negative := matchAny(label, submitNegative)
	if negative != "" {
		c.add("negative:"+negative, wSubmitNegative)
	}
	if kw := matchAny(label, submitKeywords); kw != "" {
		c.add("keyword:"+kw, wSubmitKeyword)
	}

	if strings.EqualFold(el.Attr("type"), "submit") {
		c.add("type=submit", wTypeSubmit)
	}
	switch {
	case el.Tag() == "button":
		c.add("button", wButton)
	case strings.EqualFold(el.Attr("role"), "button"):
		c.add("role=button", wButtonRole)
	}

	if icon, sendIcon := iconOf(el); icon {
		c.add("icon", wIcon)
		if sendIcon {
			c.add("send-icon", wSendIcon)
		}
	}

	if popup := el.Attr("aria-haspopup"); el.HasAttr("aria-haspopup") && !strings.EqualFold(popup, "false") {
		c.add("haspopup", wHasPopup)
	}
	if el.HasAttr("aria-expanded") {
		c.add("expanded", wExpanded)
	}

	if vw := el.Root.Viewport.W; vw > 0 {
		cx, _ := el.Center()
		switch {
		case cx > vw*0.6:
			c.add("right", wRightAligned)
		case cx < vw*0.3:
			c.add("left", wLeftAligned)
		}
	}

	if a := s.anchor; a != nil {
		if a.Root == el.Root {
			c.add("same-root", wSameRoot)
			if near(a, el) {
				c.add("near-input", wNearInput)
			}
		}
	}
}

func (s *scorer) scoreNewChat(el *dom.Element, c *tally) {
	label := normalizeNewChat(attrText(el, "aria-label", "title", "data-testid", "id", "class", "href") +
		" " + shortLabel(el))
	if kw := matchAny(label, newChatNegative); kw != "" {
		c.add("negative:"+kw, wNewChatNegative)
	}
	for _, kw := range newChatKeywords {
		if !strings.Contains(label, kw) {
			continue
		}
		c.add("keyword:"+kw, wNewChatKeyword)
		switch el.Tag() {
		case "button", "a":
			c.add(el.Tag(), wNewChatControl)
		}
		return
	}
}

// isDisabled covers the native property, ARIA and the class/attribute
// conventions UI kits use on non-form controls.
func isDisabled(el *dom.Element) bool {
	if el.Disabled || el.HasAttr("disabled") && el.IsFormControl() {
		return true
	}
	if strings.EqualFold(el.Attr("aria-disabled"), "true") {
		return true
	}
	if el.IsFormControl() {
		return false
	}
	if v, ok := attrValue(el, "data-disabled"); ok && !strings.EqualFold(v, "false") {
		return true
	}
	for _, cls := range strings.Fields(el.Attr("class")) {
		cls = strings.ToLower(cls)
		if cls == "disabled" || cls == "is-disabled" ||
			strings.HasSuffix(cls, "--disabled") || strings.HasSuffix(cls, "-disabled") ||
			strings.HasSuffix(cls, "_disabled") {
			return true
		}
	}
	return false
}

func isReadOnly(el *dom.Element) bool {
	if el.ReadOnly || el.HasAttr("readonly") {
		return true
	}
	if strings.EqualFold(el.Attr("aria-readonly"), "true") {
		return true
	}
	return strings.EqualFold(el.Attr("contenteditable"), "false")
}

func attrValue(el *dom.Element, name string) (string, bool) {
	if !el.HasAttr(name) {
		return "", false
	}
	return el.Attr(name), true
}

func attrText(el *dom.Element, names ...string) string {
	var parts []string
	for _, n := range names {
		if v := el.Attr(n); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " ")
}

func shortLabel(el *dom.Element) string {
	t := el.Text()
	if utf8.RuneCountInString(t) > shortText {
		return ""
	}
	return t
}

func submitLabel(el *dom.Element) string {
	return attrText(el, "aria-label", "title", "data-testid", "id", "class", "name", "value") +
		" " + shortLabel(el)
}

// iconOf reports whether el is or holds an svg/img icon, and whether that
// icon looks like a send arrow.
func iconOf(el *dom.Element) (icon, send bool) {
	check := func(e *dom.Element) {
		switch e.Tag() {
		case "svg", "img", "use", "path", "i":
		default:
			if !strings.Contains(strings.ToLower(e.Attr("class")), "icon") {
				return
			}
		}
		if e.Tag() != "path" {
			icon = true
		}
		hint := attrText(e, "class", "data-icon", "aria-label", "href", "xlink:href", "src", "alt", "name", "data-testid")
		if matchAny(hint, iconKeywords) != "" {
			send = true
		}
	}
	check(el)
	for _, d := range el.Descendants() {
		check(d)
	}
	return icon, send
}

// near reports whether the control's centre lies within nearDistance of
// the input's box.
func near(input, el *dom.Element) bool {
	if input.Box.W == 0 && input.Box.H == 0 {
		return input.Contains(el) || input.Parent() != nil && input.Parent().Contains(el)
	}
	cx, cy := el.Center()
	dx := math.Max(0, math.Max(input.Box.X-cx, cx-(input.Box.X+input.Box.W)))
	dy := math.Max(0, math.Max(input.Box.Y-cy, cy-(input.Box.Y+input.Box.H)))
	return math.Hypot(dx, dy) <= nearDistance
}
