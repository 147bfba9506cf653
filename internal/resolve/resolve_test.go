package resolve

import (
	"errors"
	"testing"

	"chatcast/internal/dom"
	"chatcast/internal/domain"
	"chatcast/internal/profile"
)

func chatPage(body ...*dom.Node) *dom.Document {
	return dom.FromSnapshot(dom.Page("https://chat.example.com/", body...))
}

func mustResolve(t *testing.T, doc *dom.Document, role Role, p *profile.Profile, anchor *dom.Element) *dom.Element {
	t.Helper()
	res, err := Resolve(doc, role, p, anchor)
	if err != nil {
		t.Fatalf("Resolve(%s): %v", role, err)
	}
	return res.El
}

func TestResolve_InputPrefersChatTextarea(t *testing.T) {
	doc := chatPage(
		dom.E("input", "type", "text", "placeholder", "Search").At(300, 10, 300, 30),
		dom.E("textarea", "placeholder", "Ask anything").At(300, 650, 800, 90),
		dom.E("input", "type", "checkbox").At(10, 700, 10, 10),
	)
	el := mustResolve(t, doc, RoleInput, nil, nil)
	if el.Tag() != "textarea" {
		t.Errorf("winner = %v", el)
	}
}

func TestResolve_InputSkipsReadOnlyAndDisabled(t *testing.T) {
	doc := chatPage(
		dom.E("textarea", "readonly", "", "placeholder", "Ask").At(300, 650, 800, 90),
		dom.E("textarea", "disabled", "", "placeholder", "Ask").At(300, 650, 800, 90),
		dom.E("div", "contenteditable", "true", "aria-readonly", "true").At(300, 650, 800, 90),
	)
	if _, err := Resolve(doc, RoleInput, nil, nil); !errors.Is(err, domain.ErrElementNotFound) {
		t.Errorf("expected ErrElementNotFound, got %v", err)
	}
}

func TestResolve_EditingHostOnly(t *testing.T) {
	doc := chatPage(
		dom.E("div", "contenteditable", "true", "class", "chat-input").At(300, 650, 800, 90).Kids(
			dom.E("p", "contenteditable", "true").At(300, 650, 800, 20),
		),
	)
	el := mustResolve(t, doc, RoleInput, nil, nil)
	if el.Tag() != "div" {
		t.Errorf("winner = %v, want editing host", el)
	}
}

func TestResolve_Deterministic(t *testing.T) {
	doc := chatPage(
		dom.E("textarea").At(300, 650, 400, 90),
		dom.E("textarea").At(720, 650, 400, 90),
	)
	first := mustResolve(t, doc, RoleInput, nil, nil)
	for i := 0; i < 20; i++ {
		if got := mustResolve(t, doc, RoleInput, nil, nil); got != first {
			t.Fatalf("run %d: winner changed from %s to %s", i, first.Ref, got.Ref)
		}
	}
	if first.Ref != "0.0.0" {
		t.Errorf("tie should go to the first in document order, got %s", first.Ref)
	}
}

func TestResolve_DisabledSendNeverWins(t *testing.T) {
	input := dom.E("textarea").At(300, 650, 800, 90)
	doc := chatPage(
		input,
		dom.E("button", "aria-label", "Send", "disabled", "").At(1200, 700, 40, 40),
		dom.E("div", "role", "button", "class", "send-btn is-disabled").At(1200, 700, 40, 40),
		dom.E("button", "aria-label", "Send", "aria-disabled", "true").At(1200, 700, 40, 40),
		dom.E("button", "class", "plain").At(900, 700, 40, 40),
	)
	anchor := doc.ByRef("0.0.0")
	el := mustResolve(t, doc, RoleSubmit, nil, anchor)
	if el.Attr("class") != "plain" {
		t.Errorf("winner = %v, want the enabled plain button", el)
	}

	only := chatPage(dom.E("button", "aria-label", "Send", "disabled", "").At(1200, 700, 40, 40))
	if _, err := Resolve(only, RoleSubmit, nil, nil); !errors.Is(err, domain.ErrElementNotFound) {
		t.Errorf("expected ErrElementNotFound, got %v", err)
	}
}

func TestResolve_InvisibleSendNeverWins(t *testing.T) {
	doc := chatPage(
		dom.E("button", "aria-label", "Send"),
		dom.E("button").At(1200, 700, 40, 40),
	)
	el := mustResolve(t, doc, RoleSubmit, nil, nil)
	if el.HasAttr("aria-label") {
		t.Errorf("hidden send button won: %v", el)
	}
}

func TestResolve_NegativeKeywordPrecedence(t *testing.T) {
	doc := chatPage(
		dom.E("button", "aria-label", "Send skill settings").At(1200, 700, 40, 40),
		dom.E("button").At(1200, 700, 40, 40),
	)
	ranked := Rank(doc, RoleSubmit, nil, nil)
	var labelled, plain Candidate
	for _, c := range ranked {
		if c.El.HasAttr("aria-label") {
			labelled = c
		} else {
			plain = c
		}
	}
	if labelled.Score >= plain.Score {
		t.Errorf("labelled %d should score below plain %d", labelled.Score, plain.Score)
	}
	if el := mustResolve(t, doc, RoleSubmit, nil, nil); el.HasAttr("aria-label") {
		t.Errorf("winner = %v", el)
	}
}

func TestResolve_PopupPenalty(t *testing.T) {
	doc := chatPage(
		dom.E("button", "aria-label", "Send options", "aria-haspopup", "menu").At(1200, 700, 40, 40),
		dom.E("button", "aria-label", "Send").At(1150, 700, 40, 40),
	)
	el := mustResolve(t, doc, RoleSubmit, nil, nil)
	if el.HasAttr("aria-haspopup") {
		t.Errorf("popup trigger won: %v", el)
	}
}

func TestResolve_SubmitAmbiguous(t *testing.T) {
	doc := chatPage(
		dom.E("button", "aria-label", "Voice input").At(20, 700, 40, 40),
	)
	res, err := Resolve(doc, RoleSubmit, nil, nil)
	if !errors.Is(err, domain.ErrSubmitAmbiguous) {
		t.Fatalf("expected ErrSubmitAmbiguous, got %v", err)
	}
	if res.Score > 0 {
		t.Errorf("score = %d", res.Score)
	}
}

func TestResolve_SendIconButton(t *testing.T) {
	input := dom.E("textarea").At(300, 650, 800, 90)
	doc := chatPage(
		input,
		dom.E("button").At(20, 20, 32, 32).Kids(dom.E("svg").At(24, 24, 24, 24)),
		dom.E("button").At(1120, 700, 32, 32).Kids(
			dom.E("svg", "data-icon", "arrow-up").At(1124, 704, 24, 24),
		),
	)
	el := mustResolve(t, doc, RoleSubmit, nil, doc.ByRef("0.0.0"))
	if el.Ref != "0.0.2" {
		t.Errorf("winner = %v", el)
	}
}

func TestResolve_Overrides(t *testing.T) {
	p := &profile.Profile{
		Name:            "x",
		InputSelectors:  []string{"#missing", "[[[", ".hidden-editor", ".editor"},
		SubmitSelectors: []string{".go"},
	}
	doc := chatPage(
		dom.E("textarea", "placeholder", "Ask anything").At(300, 650, 800, 90),
		dom.E("div", "class", "hidden-editor", "contenteditable", "true"),
		dom.E("div", "class", "editor", "contenteditable", "true").At(300, 10, 800, 20),
		dom.E("span", "class", "go").At(10, 10, 10, 10),
	)
	res, err := Resolve(doc, RoleInput, p, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Override != ".editor" || res.El.Attr("class") != "editor" {
		t.Errorf("override result = %+v", res)
	}
	sub, err := Resolve(doc, RoleSubmit, p, res.El)
	if err != nil || sub.El.Attr("class") != "go" {
		t.Errorf("submit override = %+v err=%v", sub, err)
	}
}

func TestResolve_ProfileAdjustment(t *testing.T) {
	p := &profile.Profile{
		Adjust: []profile.Adjust{{Role: profile.RoleInput, Selector: ".secondary", Delta: 100}},
	}
	doc := chatPage(
		dom.E("textarea", "placeholder", "Ask").At(300, 650, 800, 90),
		dom.E("textarea", "class", "secondary").At(300, 650, 800, 90),
	)
	el := mustResolve(t, doc, RoleInput, p, nil)
	if el.Attr("class") != "secondary" {
		t.Errorf("winner = %v", el)
	}
}

func TestResolve_ThroughShadowAndFrame(t *testing.T) {
	doc := chatPage(
		dom.E("chat-app").At(0, 0, 1280, 800).Shadowed(
			dom.E("textarea", "placeholder", "Message").At(300, 650, 800, 90),
			dom.E("button", "aria-label", "Send message").At(1120, 700, 40, 40),
		),
	)
	in := mustResolve(t, doc, RoleInput, nil, nil)
	if in.Root.Kind != dom.RootShadow {
		t.Errorf("input root = %s", in.Root.Kind)
	}
	sub := mustResolve(t, doc, RoleSubmit, nil, in)
	if sub.Ref != "0.0.0/s/1" {
		t.Errorf("submit ref = %s", sub.Ref)
	}

	framed := chatPage(
		dom.E("iframe").At(0, 0, 1280, 800).Framed("https://chat.example.com/embed", dom.Size{W: 1280, H: 800},
			dom.E("div", "contenteditable", "true", "aria-label", "提问").At(300, 650, 800, 90),
		),
	)
	fin := mustResolve(t, framed, RoleInput, nil, nil)
	if fin.Root.Kind != dom.RootFrame || fin.Ref != "0.0.0/f/0" {
		t.Errorf("frame input = %v", fin)
	}
}

func TestResolve_NewConversation(t *testing.T) {
	doc := chatPage(
		dom.E("a", "href", "/settings").At(10, 10, 100, 20).Kids(dom.T("Settings")),
		dom.E("div", "class", "sidebar-new-chat-btn").At(10, 40, 100, 20),
		dom.E("button", "aria-label", "Delete chat").At(10, 70, 100, 20),
	)
	el := mustResolve(t, doc, RoleNewConversation, nil, nil)
	if el.Attr("class") != "sidebar-new-chat-btn" {
		t.Errorf("winner = %v", el)
	}

	none := chatPage(dom.E("a", "href", "/about").At(10, 10, 100, 20).Kids(dom.T("About")))
	if _, err := Resolve(none, RoleNewConversation, nil, nil); err == nil {
		t.Error("a plain link must not be taken for a new-chat control")
	}
}

func TestResolve_Fixture(t *testing.T) {
	doc, err := dom.LoadFile("../dom/testdata/chat.json")
	if err != nil {
		t.Fatal(err)
	}
	in := mustResolve(t, doc, RoleInput, nil, nil)
	if in.Attr("placeholder") != "Ask anything" {
		t.Errorf("input = %v", in)
	}
	sub := mustResolve(t, doc, RoleSubmit, nil, in)
	if sub.Text() != "发送" {
		t.Errorf("submit = %v", sub)
	}
	nc := mustResolve(t, doc, RoleNewConversation, nil, nil)
	if nc.Tag() != "a" {
		t.Errorf("new chat = %v", nc)
	}
}

func TestMatchAny_WordStart(t *testing.T) {
	cases := []struct {
		s, want string
	}{
		{"sendButton", "send"},
		{"chat-send-btn", "send"},
		{"dynamic-panel", ""},
		{"btnMic", "mic"},
		{"点击发送", "发送"},
		{"", ""},
	}
	for _, c := range cases {
		got := matchAny(c.s, append(append([]string{}, submitKeywords...), submitNegative...))
		if got != c.want {
			t.Errorf("matchAny(%q) = %q, want %q", c.s, got, c.want)
		}
	}
}
