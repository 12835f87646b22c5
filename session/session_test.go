package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"chat-triage-bot/backend"
	"chat-triage-bot/config"
	"chat-triage-bot/failsafe"
	"chat-triage-bot/retention"
	"chat-triage-bot/screenshot"
	"chat-triage-bot/template"
)

// scriptBackend serves canned locate results and records every synthesized
// action. Each role gets a distinct X coordinate so clicks are attributable.
type scriptBackend struct {
	found    map[template.Role]backend.Match
	pasteErr error
	actions  []string
}

func (s *scriptBackend) Locate(tpl *template.Template, threshold float64) (backend.Match, bool) {
	m, ok := s.found[tpl.Role]
	return m, ok
}

func (s *scriptBackend) LocateUntil(tpl *template.Template, threshold float64, timeout, poll time.Duration) (backend.Match, bool) {
	return s.Locate(tpl, threshold)
}

func (s *scriptBackend) Click(m backend.Match) error {
	s.actions = append(s.actions, fmt.Sprintf("click@%d", m.X))
	return nil
}

func (s *scriptBackend) Paste(text string) error {
	if s.pasteErr != nil {
		return s.pasteErr
	}
	s.actions = append(s.actions, "paste:"+text)
	return nil
}

func (s *scriptBackend) Hotkey(keys ...string) error {
	s.actions = append(s.actions, "hotkey:"+strings.Join(keys, "+"))
	return nil
}

func (s *scriptBackend) Capture(r screenshot.Region) (image.Image, error) {
	return image.NewRGBA(image.Rect(0, 0, 2, 2)), nil
}

func (s *scriptBackend) has(action string) bool {
	for _, a := range s.actions {
		if a == action {
			return true
		}
	}
	return false
}

// fakeInference records calls; GenerateReply returns the scripted pair.
type fakeInference struct {
	text       string
	extractErr error
	reply      string
	escalate   bool
	chatCalls  int
}

func (f *fakeInference) ExtractText(ctx context.Context, imagePath, customerID string) (string, error) {
	return f.text, f.extractErr
}

func (f *fakeInference) GenerateReply(ctx context.Context, customerID, message string) (string, bool) {
	f.chatCalls++
	return f.reply, f.escalate
}

// fakeCapturer hands back a fixed path without touching the screen.
type fakeCapturer struct {
	path string
	err  error
}

func (f *fakeCapturer) CaptureChat(customerID string) (string, error) {
	return f.path, f.err
}

// Coordinates used by scriptBackend matches, one per role.
const (
	posNewMessage = 1
	posInputBox   = 2
	posSendButton = 3
	posTransfer   = 4
)

func allFound() map[template.Role]backend.Match {
	return map[template.Role]backend.Match{
		template.RoleNewMessage:     {X: posNewMessage, Width: 10, Height: 10, Score: 0.9},
		template.RoleInputBox:       {X: posInputBox, Width: 10, Height: 10, Score: 0.9},
		template.RoleSendButton:     {X: posSendButton, Width: 10, Height: 10, Score: 0.9},
		template.RoleTransferButton: {X: posTransfer, Width: 10, Height: 10, Score: 0.9},
	}
}

func testTemplates(t *testing.T) *template.Set {
	t.Helper()
	dir := t.TempDir()
	img := image.NewRGBA(image.Rect(0, 0, 3, 3))
	for _, role := range []template.Role{
		template.RoleNewMessage, template.RoleInputBox, template.RoleSendButton,
		template.RoleTransferButton, template.RoleChatWindow,
	} {
		f, err := os.Create(filepath.Join(dir, string(role)+".png"))
		if err != nil {
			t.Fatal(err)
		}
		if err := png.Encode(f, img); err != nil {
			t.Fatal(err)
		}
		f.Close()
	}
	set, err := template.LoadSet(dir)
	if err != nil {
		t.Fatalf("LoadSet: %v", err)
	}
	return set
}

func newTestOrchestrator(t *testing.T, b backend.Backend, inf *fakeInference, capt Capturer) *Orchestrator {
	t.Helper()
	cfg := &config.Config{}
	cfg.Settings.Confidence = 0.8
	cfg.Settings.CheckInterval = 1
	cfg.Settings.ErrorRetryInterval = 1
	sw := retention.NewSweeper(t.TempDir(), 7, false)

	o := NewOrchestrator(b, testTemplates(t), inf, capt, sw, cfg)
	o.sleep = func(time.Duration) {}
	o.now = func() time.Time { return time.Unix(1700000000, 0) }
	return o
}

func TestPollIdleWhenNoNewMessage(t *testing.T) {
	b := &scriptBackend{found: map[template.Role]backend.Match{}}
	inf := &fakeInference{}
	o := newTestOrchestrator(t, b, inf, &fakeCapturer{path: "x.png"})

	sess, err := o.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if sess != nil {
		t.Errorf("expected idle self-loop, got session %+v", sess)
	}
	if len(b.actions) != 0 {
		t.Errorf("idle poll must not drive input: %v", b.actions)
	}
}

func TestPollAutoReply(t *testing.T) {
	b := &scriptBackend{found: allFound()}
	inf := &fakeInference{text: "发货了吗", reply: "您的包裹预计明天到达", escalate: false}
	o := newTestOrchestrator(t, b, inf, &fakeCapturer{path: "shot.png"})

	sess, err := o.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if sess.State != StateClosed || sess.Outcome != OutcomeAutoReplied {
		t.Errorf("session = %+v, want closed/auto-replied", sess)
	}
	if !strings.HasPrefix(sess.ID, "customer_") {
		t.Errorf("surrogate id = %q", sess.ID)
	}
	if !b.has("paste:您的包裹预计明天到达") {
		t.Errorf("reply text not pasted: %v", b.actions)
	}
	if !b.has(fmt.Sprintf("click@%d", posSendButton)) {
		t.Errorf("send button not clicked: %v", b.actions)
	}
	if b.has(fmt.Sprintf("click@%d", posTransfer)) {
		t.Errorf("hand-off must not fire for a marker-free reply: %v", b.actions)
	}
}

func TestPollEscalationSendsRemainderThenHandsOff(t *testing.T) {
	b := &scriptBackend{found: allFound()}
	inf := &fakeInference{text: "投诉", reply: "这个问题比较复杂，处理", escalate: true}
	o := newTestOrchestrator(t, b, inf, &fakeCapturer{path: "shot.png"})

	sess, err := o.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if sess.State != StateClosed || sess.Outcome != OutcomeEscalated {
		t.Errorf("session = %+v, want closed/escalated", sess)
	}

	pasteIdx, transferIdx := -1, -1
	for i, a := range b.actions {
		switch a {
		case "paste:这个问题比较复杂，处理":
			pasteIdx = i
		case fmt.Sprintf("click@%d", posTransfer):
			transferIdx = i
		}
	}
	if pasteIdx == -1 {
		t.Fatalf("remainder not sent: %v", b.actions)
	}
	if transferIdx == -1 {
		t.Fatalf("hand-off not triggered: %v", b.actions)
	}
	if pasteIdx > transferIdx {
		t.Errorf("remainder must be sent before the hand-off: %v", b.actions)
	}
}

func TestPollEscalationEmptyRemainderSkipsSend(t *testing.T) {
	b := &scriptBackend{found: allFound()}
	inf := &fakeInference{text: "投诉", reply: "  ", escalate: true}
	o := newTestOrchestrator(t, b, inf, &fakeCapturer{path: "shot.png"})

	sess, err := o.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if sess.Outcome != OutcomeEscalated {
		t.Errorf("outcome = %v, want escalated", sess.Outcome)
	}
	for _, a := range b.actions {
		if strings.HasPrefix(a, "paste:") {
			t.Errorf("blank remainder must not be pasted: %v", b.actions)
		}
	}
	if !b.has(fmt.Sprintf("click@%d", posTransfer)) {
		t.Errorf("hand-off missing: %v", b.actions)
	}
}

func TestPollEscalationHandsOffWhenSendFails(t *testing.T) {
	// Input box never appears, so the remainder cannot be pasted; the
	// customer must still reach the human queue.
	found := allFound()
	delete(found, template.RoleInputBox)
	b := &scriptBackend{found: found}
	inf := &fakeInference{text: "投诉", reply: "这个问题比较复杂，处理", escalate: true}
	o := newTestOrchestrator(t, b, inf, &fakeCapturer{path: "shot.png"})

	sess, err := o.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if !b.has(fmt.Sprintf("click@%d", posTransfer)) {
		t.Errorf("hand-off must fire even when the remainder cannot be sent: %v", b.actions)
	}
	if sess.Outcome != OutcomeEscalated {
		t.Errorf("outcome = %v, want escalated", sess.Outcome)
	}
	for _, a := range b.actions {
		if strings.HasPrefix(a, "paste:") {
			t.Errorf("nothing should be pasted without an input box: %v", b.actions)
		}
	}
}

func TestPollExtractionFailure(t *testing.T) {
	b := &scriptBackend{found: allFound()}
	inf := &fakeInference{extractErr: errors.New("vision workflow failed")}
	o := newTestOrchestrator(t, b, inf, &fakeCapturer{path: "shot.png"})

	sess, err := o.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll must absorb per-customer failures: %v", err)
	}
	if sess.State != StateFailed || sess.Outcome != OutcomeFailed {
		t.Errorf("session = %+v, want failed", sess)
	}
	if inf.chatCalls != 0 {
		t.Error("no conversational call may happen after a read failure")
	}
	for _, a := range b.actions {
		if strings.HasPrefix(a, "paste:") {
			t.Errorf("nothing may be sent after a read failure: %v", b.actions)
		}
	}
}

func TestPollCaptureFailure(t *testing.T) {
	b := &scriptBackend{found: allFound()}
	inf := &fakeInference{}
	o := newTestOrchestrator(t, b, inf, &fakeCapturer{err: errors.New("no display")})

	sess, err := o.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if sess.State != StateFailed {
		t.Errorf("state = %v, want failed", sess.State)
	}
	if inf.chatCalls != 0 {
		t.Error("capture failure must not reach the chat endpoint")
	}
}

func TestRunExitsCleanlyOnFailsafe(t *testing.T) {
	b := &scriptBackend{found: allFound(), pasteErr: failsafe.ErrCancelled}
	inf := &fakeInference{text: "在吗", reply: "在的", escalate: false}
	o := newTestOrchestrator(t, b, inf, &fakeCapturer{path: "shot.png"})

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("fail-safe must stop the loop cleanly, got %v", err)
	}
	if b.has(fmt.Sprintf("click@%d", posSendButton)) || b.has("hotkey:enter") {
		t.Errorf("no send action may follow an aborted paste: %v", b.actions)
	}
}

func TestRunSweepsEveryTenthPass(t *testing.T) {
	dir := t.TempDir()
	b := &scriptBackend{found: map[template.Role]backend.Match{}}
	cfg := &config.Config{}
	cfg.Settings.Confidence = 0.8
	cfg.Settings.CheckInterval = 1
	cfg.Settings.ErrorRetryInterval = 1
	sw := retention.NewSweeper(dir, 0, true)
	o := NewOrchestrator(b, testTemplates(t), &fakeInference{}, &fakeCapturer{path: "x.png"}, sw, cfg)

	expired := filepath.Join(dir, "customer_1_20240101_000000.png")
	ctx, cancel := context.WithCancel(context.Background())
	passes := 0
	o.sleep = func(time.Duration) {
		passes++
		if passes == 1 {
			// Appears after the startup sweep; only the periodic sweep can
			// remove it.
			if err := os.WriteFile(expired, []byte("png"), 0644); err != nil {
				t.Fatal(err)
			}
			old := time.Now().Add(-time.Hour)
			if err := os.Chtimes(expired, old, old); err != nil {
				t.Fatal(err)
			}
		}
		if passes == 9 {
			if _, err := os.Stat(expired); err != nil {
				t.Errorf("sweep ran before the tenth pass: %v", err)
			}
		}
		if passes >= 11 {
			cancel()
		}
	}

	if err := o.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}
	if _, err := os.Stat(expired); !os.IsNotExist(err) {
		t.Error("expired screenshot should be swept on the tenth pass")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	b := &scriptBackend{found: map[template.Role]backend.Match{}}
	o := newTestOrchestrator(t, b, &fakeInference{}, &fakeCapturer{path: "x.png"})

	ctx, cancel := context.WithCancel(context.Background())
	polls := 0
	o.sleep = func(time.Duration) {
		polls++
		if polls >= 3 {
			cancel()
		}
	}
	if err := o.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run returned %v, want context.Canceled", err)
	}
}
