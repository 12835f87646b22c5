// Package session runs the polling state machine that detects a new
// customer, drives the capture, extraction and reply pipeline, and isolates
// per-customer failures from the loop.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"chat-triage-bot/backend"
	"chat-triage-bot/config"
	"chat-triage-bot/dify"
	"chat-triage-bot/failsafe"
	"chat-triage-bot/retention"
	"chat-triage-bot/template"
)

// State of one triage attempt.
type State string

const (
	StateIdle        State = "idle"
	StateDetected    State = "detected"
	StateCaptureDone State = "capture_done"
	StateExtracted   State = "extracted"
	StateReplied     State = "replied"
	StateEscalated   State = "escalated"
	StateClosed      State = "closed"
	StateFailed      State = "failed"
)

// Outcome of a finished session.
type Outcome string

const (
	OutcomeAutoReplied Outcome = "auto-replied"
	OutcomeEscalated   Outcome = "escalated"
	OutcomeFailed      Outcome = "failed"
)

// CustomerSession identifies one in-progress triage. Sessions live only in
// memory: a crash mid-session simply means the customer is rescanned on the
// next poll.
type CustomerSession struct {
	ID             string
	ScreenshotPath string
	State          State
	Outcome        Outcome
}

// Capturer produces the chat screenshot for a customer.
type Capturer interface {
	CaptureChat(customerID string) (string, error)
}

const (
	settleDelay = 2 * time.Second
	locateWait  = 10 * time.Second
	locatePoll  = 500 * time.Millisecond
	closeWait   = 2 * time.Second
	sweepEvery  = 10
)

// Orchestrator owns at most one CustomerSession at a time and never starts a
// new one while a session is in flight. Single-threaded by design: the
// clipboard and input focus are process-wide shared resources.
type Orchestrator struct {
	backend    backend.Backend
	templates  *template.Set
	inference  dify.Inference
	capturer   Capturer
	sweeper    *retention.Sweeper
	confidence float64

	checkInterval      time.Duration
	errorRetryInterval time.Duration

	now   func() time.Time
	sleep func(time.Duration)
}

func NewOrchestrator(b backend.Backend, tpls *template.Set, inf dify.Inference, capt Capturer, sw *retention.Sweeper, cfg *config.Config) *Orchestrator {
	return &Orchestrator{
		backend:            b,
		templates:          tpls,
		inference:          inf,
		capturer:           capt,
		sweeper:            sw,
		confidence:         cfg.Settings.Confidence,
		checkInterval:      time.Duration(cfg.Settings.CheckInterval) * time.Second,
		errorRetryInterval: time.Duration(cfg.Settings.ErrorRetryInterval) * time.Second,
		now:                time.Now,
		sleep:              time.Sleep,
	}
}

// Run polls until ctx is cancelled or the fail-safe trigger fires. A single
// customer's failure never stops the loop; unexpected top-of-loop errors are
// answered with the longer retry sleep instead of a crash.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.sweeper.Sweep()

	runCount := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		_, err := o.Poll(ctx)

		// Every pass counts toward the sweep cadence, error retries included.
		runCount++
		if runCount >= sweepEvery {
			o.sweeper.Sweep()
			runCount = 0
		}

		switch {
		case errors.Is(err, failsafe.ErrCancelled):
			log.Printf("Fail-safe stop requested, shutting down")
			return nil
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return err
		case err != nil:
			log.Printf("Runtime error: %v", err)
			o.sleep(o.errorRetryInterval)
		default:
			o.sleep(o.checkInterval)
		}
	}
}

// Poll runs one loop iteration. It returns a nil session when no new
// customer is waiting (the Idle self-loop). Per-customer failures are
// absorbed here: only cancellation and context errors escape.
func (o *Orchestrator) Poll(ctx context.Context) (*CustomerSession, error) {
	newMsg := o.templates.MustGet(template.RoleNewMessage)
	match, found := o.backend.Locate(newMsg, o.confidence)
	if !found {
		return nil, nil
	}

	sess := &CustomerSession{
		ID:    fmt.Sprintf("customer_%d", o.now().Unix()),
		State: StateDetected,
	}
	log.Printf("Detected new customer: %s", sess.ID)

	if err := o.handle(ctx, sess, match); err != nil {
		if errors.Is(err, failsafe.ErrCancelled) || errors.Is(err, context.Canceled) {
			return sess, err
		}
		log.Printf("Handling customer %s failed: %v", sess.ID, err)
		sess.State = StateFailed
		sess.Outcome = OutcomeFailed
	}
	return sess, nil
}

// handle drives one customer through the pipeline. Any returned error marks
// the session failed; cancellation propagates further up.
func (o *Orchestrator) handle(ctx context.Context, sess *CustomerSession, newMsgMatch backend.Match) error {
	// Open the chat and let the window load.
	if err := o.backend.Click(newMsgMatch); err != nil {
		return fmt.Errorf("open chat: %w", err)
	}
	o.sleep(settleDelay)

	path, err := o.capturer.CaptureChat(sess.ID)
	if err != nil {
		return fmt.Errorf("capture chat: %w", err)
	}
	sess.ScreenshotPath = path
	sess.State = StateCaptureDone

	// A read failure is never forwarded to the customer: nothing was read,
	// so nothing is sent and no chat call is made.
	message, err := o.inference.ExtractText(ctx, path, sess.ID)
	if err != nil {
		return fmt.Errorf("extract text: %w", err)
	}
	if message == "" {
		return fmt.Errorf("extract text: empty result")
	}
	sess.State = StateExtracted
	log.Printf("Customer %s message: %s", sess.ID, message)

	reply, escalate := o.inference.GenerateReply(ctx, sess.ID, message)
	if escalate {
		log.Printf("Customer %s needs a human operator", sess.ID)
		if strings.TrimSpace(reply) != "" {
			if err := o.sendReply(reply); err != nil {
				if errors.Is(err, failsafe.ErrCancelled) {
					return err
				}
				// The hand-off still runs: the customer must reach the
				// human queue even when the remainder could not be sent.
				log.Printf("Sending remainder to %s failed: %v", sess.ID, err)
			}
		}
		if err := o.transferToHuman(); err != nil {
			if errors.Is(err, failsafe.ErrCancelled) {
				return err
			}
			// The remainder text is already delivered and the customer sits
			// in the human queue either way.
			log.Printf("Hand-off control not activated for %s: %v", sess.ID, err)
		}
		sess.State = StateEscalated
		sess.Outcome = OutcomeEscalated
	} else {
		log.Printf("Auto-replying to customer %s: %s", sess.ID, reply)
		if err := o.sendReply(reply); err != nil {
			return fmt.Errorf("send reply: %w", err)
		}
		sess.State = StateReplied
		sess.Outcome = OutcomeAutoReplied
	}

	if err := o.closeChat(); err != nil {
		return err
	}
	sess.State = StateClosed
	return nil
}

// sendReply clicks the input box, clears it, pastes the text and sends it.
// The send button may be absent in some skins; Enter is the fallback.
func (o *Orchestrator) sendReply(text string) error {
	inputBox := o.templates.MustGet(template.RoleInputBox)
	match, found := o.backend.LocateUntil(inputBox, o.confidence, locateWait, locatePoll)
	if !found {
		return fmt.Errorf("input box not found")
	}
	if err := o.backend.Click(match); err != nil {
		return err
	}
	if err := o.backend.Hotkey("a", "ctrl"); err != nil {
		return err
	}
	if err := o.backend.Paste(text); err != nil {
		return err
	}

	sendBtn := o.templates.MustGet(template.RoleSendButton)
	if btn, ok := o.backend.LocateUntil(sendBtn, o.confidence, locateWait, locatePoll); ok {
		return o.backend.Click(btn)
	}
	return o.backend.Hotkey("enter")
}

func (o *Orchestrator) transferToHuman() error {
	transfer := o.templates.MustGet(template.RoleTransferButton)
	match, found := o.backend.LocateUntil(transfer, o.confidence, locateWait, locatePoll)
	if !found {
		return fmt.Errorf("transfer button not found")
	}
	if err := o.backend.Click(match); err != nil {
		return err
	}
	log.Printf("Conversation handed off to a human operator")
	return nil
}

// closeChat dismisses the session's chat view and returns to the landing
// view. Both controls are optional templates.
func (o *Orchestrator) closeChat() error {
	if closeTpl, ok := o.templates.Get(template.RoleCloseChat); ok {
		if match, found := o.backend.LocateUntil(closeTpl, o.confidence, closeWait, locatePoll); found {
			if err := o.backend.Click(match); err != nil {
				return err
			}
		}
	}
	if landing, ok := o.templates.Get(template.RoleReceptionCenter); ok {
		if match, found := o.backend.Locate(landing, o.confidence); found {
			if err := o.backend.Click(match); err != nil {
				return err
			}
		}
	}
	return nil
}
