package dom

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestLoadFile_Refs(t *testing.T) {
	doc, err := LoadFile("testdata/chat.json")
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if doc.Host != "chat.example.com" {
		t.Errorf("host = %q", doc.Host)
	}
	ta := doc.ByRef("0.0.2.0.0")
	if ta == nil || ta.Tag() != "textarea" {
		t.Fatalf("ByRef textarea = %v", ta)
	}
	if ta.Attr("placeholder") != "Ask anything" || !ta.HasValue {
		t.Errorf("textarea state not carried: %v", ta)
	}
	if got := doc.Query("form button"); len(got) != 2 {
		t.Errorf("Query(form button) = %d elements", len(got))
	}
}

func TestFromSnapshot_ComposedOrder(t *testing.T) {
	snap := Page("https://x.test/",
		E("div", "id", "a").At(0, 0, 10, 10).Shadowed(
			E("span", "id", "in-shadow").At(0, 0, 5, 5),
		).Kids(
			E("p", "id", "light").At(0, 0, 5, 5),
		),
		E("iframe", "id", "f").At(0, 0, 100, 100).Framed("https://x.test/frame", Size{W: 100, H: 100},
			E("textarea", "id", "in-frame").At(0, 80, 100, 20),
		),
	)
	doc := FromSnapshot(snap)

	var ids []string
	doc.Walk(func(el *Element) bool {
		if id := el.Attr("id"); id != "" {
			ids = append(ids, id)
		}
		return true
	})
	if got := strings.Join(ids, ","); got != "a,in-shadow,light,f,in-frame" {
		t.Errorf("composed order = %s", got)
	}

	sh := doc.Query("#in-shadow")
	if len(sh) != 1 {
		t.Fatalf("shadow query = %d", len(sh))
	}
	if sh[0].Ref != "0.0.0/s/0" || sh[0].Root.Kind != RootShadow {
		t.Errorf("shadow element ref=%s kind=%s", sh[0].Ref, sh[0].Root.Kind)
	}
	fr := doc.Query("#in-frame")
	if len(fr) != 1 || fr[0].Ref != "0.0.1/f/0" {
		t.Fatalf("frame query = %v", fr)
	}
	if fr[0].Root.Viewport.H != 100 || fr[0].Root.Depth != 1 {
		t.Errorf("frame root = %+v", fr[0].Root)
	}
	if len(doc.Roots()) != 3 {
		t.Errorf("roots = %d", len(doc.Roots()))
	}
}

func TestFromSnapshot_IsolatedFrameSkipped(t *testing.T) {
	snap := Page("https://x.test/", E("iframe").At(0, 0, 10, 10))
	snap.Nodes[0].Children[0].Children[0].Frame = &Frame{Isolated: true}
	doc := FromSnapshot(snap)
	if len(doc.Roots()) != 1 {
		t.Errorf("isolated frame should not add a root, got %d", len(doc.Roots()))
	}
}

func TestElement_Visible(t *testing.T) {
	snap := Page("https://x.test/",
		E("div", "id", "host").Shadowed(
			E("button", "id", "inner").At(0, 0, 10, 10),
		),
		E("span", "id", "laid"),
		E("span", "id", "gone"),
	)
	snap.Nodes[0].Children[0].Children[1].Laid = true
	doc := FromSnapshot(snap)

	if doc.Query("#inner")[0].Visible() {
		t.Error("element behind a hidden host must be hidden")
	}
	if !doc.Query("#laid")[0].Visible() {
		t.Error("element with a layout parent is visible")
	}
	if doc.Query("#gone")[0].Visible() {
		t.Error("element without box or layout parent is hidden")
	}
}

func TestElement_TextAndIs(t *testing.T) {
	doc := FromSnapshot(Page("https://x.test/",
		E("button", "class", "btn primary").At(0, 0, 1, 1).Kids(
			T("  Send "), E("span").Kids(T("now")),
		),
	))
	btn := doc.Query("button")[0]
	if btn.Text() != "Send now" {
		t.Errorf("Text = %q", btn.Text())
	}
	if !btn.Is(".primary") || btn.Is(".secondary") {
		t.Error("Is mismatch")
	}
	if btn.Is("[[[") {
		t.Error("invalid selector must not match")
	}
	if len(doc.Query("[[[")) != 0 {
		t.Error("invalid selector query must be empty")
	}
	if !btn.Contains(btn.Children()[0]) {
		t.Error("Contains child")
	}
}

func TestElement_TextTruncatesOnRuneBoundary(t *testing.T) {
	doc := FromSnapshot(Page("https://x.test/",
		E("div").At(0, 0, 1, 1).Kids(T(strings.Repeat("你好", 200))),
	))
	got := doc.Query("div")[0].Text()
	if !utf8.ValidString(got) {
		t.Fatalf("Text is not valid UTF-8 (len %d)", len(got))
	}
	if len(got) > maxTextLen || len(got) < maxTextLen-utf8.UTFMax {
		t.Errorf("len = %d, want just under %d", len(got), maxTextLen)
	}
	if !strings.HasPrefix(strings.Repeat("你好", 200), got) {
		t.Error("Text is not a prefix of the content")
	}
}

func TestDecodeBytes_Invalid(t *testing.T) {
	if _, err := DecodeBytes([]byte("{")); err == nil {
		t.Error("expected decode error")
	}
}
