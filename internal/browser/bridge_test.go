package browser

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/chromedp/cdproto/target"

	"chatcast/internal/domain"
)

func TestNewBridge_Defaults(t *testing.T) {
	b := NewBridge(BridgeConfig{})
	if !strings.HasSuffix(b.profileDir, ".chatcast/chrome") {
		t.Fatalf("profileDir = %q", b.profileDir)
	}
	if b.userAgent != defaultUserAgent {
		t.Fatalf("userAgent = %q", b.userAgent)
	}
	if b.Remote() {
		t.Fatal("bridge without remoteURL should launch its own browser")
	}
}

func TestBridge_OpenTabBeforeStart(t *testing.T) {
	b := NewBridge(BridgeConfig{ProfileDir: t.TempDir()})
	if _, err := b.OpenTab(context.Background(), "kimi", "https://kimi.com"); !errors.Is(err, errNotStarted) {
		t.Fatalf("err = %v, want errNotStarted", err)
	}
	if _, err := b.Attach(context.Background(), func(string) (string, bool) { return "", false }); !errors.Is(err, errNotStarted) {
		t.Fatalf("err = %v, want errNotStarted", err)
	}
}

func TestBridge_LoginRefusedForRemote(t *testing.T) {
	b := NewBridge(BridgeConfig{RemoteURL: "ws://127.0.0.1:9222"})
	if err := b.Login(context.Background(), "https://kimi.com"); err == nil {
		t.Fatal("expected error for login through a remote browser")
	}
}

func TestPageTargets_FiltersNonPages(t *testing.T) {
	infos := []*target.Info{
		{TargetID: "1", Type: "page", URL: "https://chat.deepseek.com/"},
		{TargetID: "2", Type: "service_worker", URL: "https://chat.deepseek.com/sw.js"},
		{TargetID: "3", Type: "page", URL: "devtools://devtools/bundled/inspector.html"},
		{TargetID: "4", Type: "page", URL: "chrome-extension://abc/popup.html"},
		{TargetID: "5", Type: "page", URL: "https://www.kimi.com/"},
	}
	got := pageTargets(infos)
	if len(got) != 2 || got[0].TargetID != "1" || got[1].TargetID != "5" {
		t.Fatalf("unexpected targets: %+v", got)
	}
}

func TestCallExpr_EncodesArguments(t *testing.T) {
	expr, err := callExpr("dispatch", "0.0.2/s/0", `he said "hi"`, true, []domain.Event{{Type: "keydown", Key: "Enter"}})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(expr, `)("dispatch","0.0.2/s/0","he said \"hi\"",true,[{"type":"keydown","key":"Enter"}])`) {
		t.Fatalf("unexpected call: %s", expr[strings.LastIndex(expr, ")("):])
	}
	if !strings.HasPrefix(expr, "(") {
		t.Fatal("ops script should be wrapped")
	}
}

func TestCallExpr_NoEvents(t *testing.T) {
	expr, err := callExpr("readText", "0.0", "", false, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(expr, `("readText","0.0","",false,[])`) {
		t.Fatalf("unexpected call: %s", expr[strings.LastIndex(expr, ")("):])
	}
}

func TestOpError_MapsMissingElement(t *testing.T) {
	if err := opError("no element at 0.0.9"); !errors.Is(err, domain.ErrElementNotFound) {
		t.Fatalf("err = %v", err)
	}
	if err := opError("not inside a shadow root"); errors.Is(err, domain.ErrElementNotFound) {
		t.Fatal("unrelated error mapped to ErrElementNotFound")
	}
}

func TestScripts_Embedded(t *testing.T) {
	if !strings.Contains(snapshotJS, `"/s/"`) || !strings.Contains(snapshotJS, `"/f/"`) {
		t.Fatal("snapshot script must emit shadow and frame hops")
	}
	for _, op := range []string{"setNativeValue", "insertText", "setTextContent", "readText", "setHostValue", "focus", "dispatch"} {
		if !strings.Contains(opsJS, `case "`+op+`"`) {
			t.Errorf("ops script lacks %s", op)
		}
	}
}
