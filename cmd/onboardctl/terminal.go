package main

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/GoCodeAlone/onboarding/wizard"
)

// terminalNav prints where the user goes next and records that the wizard
// is over.
type terminalNav struct {
	out  io.Writer
	once sync.Once
	done chan struct{}

	mu       sync.Mutex
	redirect string
	login    bool
}

func newTerminalNav(out io.Writer) *terminalNav {
	return &terminalNav{out: out, done: make(chan struct{})}
}

func (n *terminalNav) ToLogin() {
	n.mu.Lock()
	n.login = true
	n.mu.Unlock()
	fmt.Fprintln(n.out, warnMsg("Please log in again: %s", boldStyle.Render("onboardctl login")))
	n.once.Do(func() { close(n.done) })
}

func (n *terminalNav) Redirect(url string) {
	n.mu.Lock()
	n.redirect = url
	n.mu.Unlock()
	fmt.Fprintln(n.out, successMsg("Your account is verified. Continue at %s", accentStyle.Render(url)))
	n.once.Do(func() { close(n.done) })
}

// Done is closed once the user has been sent elsewhere.
func (n *terminalNav) Done() <-chan struct{} { return n.done }

type terminalNotifier struct{ out io.Writer }

func (t terminalNotifier) Notify(n wizard.Notice) {
	switch n.Level {
	case wizard.NoticeInfo:
		fmt.Fprintln(t.out, infoMsg("%s", n.Message))
	case wizard.NoticeError:
		fmt.Fprintln(t.out, warnMsg("%s", n.Message))
	default:
		fmt.Fprintln(t.out, errorMsg("%s", n.Message))
	}
}

const riskWarning = `Trading leveraged products carries a high level of risk and may not be
suitable for you based on the answers you gave. You could lose more than
your initial deposit.`

type terminalConfirmer struct{ p *prompter }

func (t terminalConfirmer) ConfirmRisk(context.Context) (bool, error) {
	t.p.println(warnStyle.Render(riskWarning))
	return t.p.Confirm("Do you understand the risks and wish to continue?")
}

// terminalWidget stands in for the embedded verification UI: it shows the
// access token for the provider's mobile or web flow and reports the
// submission when the user confirms it.
type terminalWidget struct{ p *prompter }

func (t terminalWidget) Launch(ctx context.Context, token string) (<-chan wizard.WidgetEvent, error) {
	events := make(chan wizard.WidgetEvent, 1)
	t.p.println(infoMsg("Identity verification access token:"))
	t.p.println("  " + accentStyle.Render(token))
	go func() {
		defer close(events)
		ans, err := t.p.Ask("Complete verification with this token, then press Enter (or type q to stop):", "")
		if err != nil || ans == "q" {
			return
		}
		select {
		case events <- wizard.WidgetEvent{Kind: wizard.EventApplicantSubmitted}:
		case <-ctx.Done():
		}
	}()
	return events, nil
}
