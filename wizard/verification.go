package wizard

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Verification defaults.
const (
	DefaultPollInterval   = 5 * time.Second
	DefaultPollAttempts   = 60
	DefaultRedirectTarget = "https://my.vaultmarkets.trade/en/account-opening-process"
)

// ErrVerificationPending is returned when polling gives up without a
// terminal result.
var ErrVerificationPending = errors.New("wizard: verification still pending")

// WidgetEventKind enumerates the lifecycle events of the verification widget.
type WidgetEventKind int

const (
	EventStepCompleted WidgetEventKind = iota
	EventError
	EventApplicantSubmitted
)

func (k WidgetEventKind) String() string {
	switch k {
	case EventStepCompleted:
		return "idCheck.onStepCompleted"
	case EventError:
		return "idCheck.onError"
	case EventApplicantSubmitted:
		return "idCheck.onApplicantSubmitted"
	default:
		return "unknown"
	}
}

// WidgetEvent is one message from the verification widget.
type WidgetEvent struct {
	Kind WidgetEventKind
	// Detail is the provider's payload, e.g. the completed step name.
	Detail string
	Err    error
}

// Orchestrator runs the verification step: it obtains an access token,
// launches the widget, and once the applicant has submitted polls for the
// outcome until approval or until the attempts run out.
type Orchestrator struct {
	Client   VerificationClient
	Widget   Widget
	Nav      Navigator
	Notifier Notifier
	Logger   *slog.Logger

	Interval time.Duration
	Attempts int
	Target   string
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

func (o *Orchestrator) notify(level NoticeLevel, msg string) {
	if o.Notifier != nil {
		o.Notifier.Notify(Notice{Level: level, Message: msg})
	}
}

// Run blocks until the verification reaches an outcome, the widget closes
// without a submission, or ctx is cancelled. A poll in flight is always
// finished before Run returns.
func (o *Orchestrator) Run(ctx context.Context) error {
	token, err := o.Client.KYCToken(ctx)
	if err != nil {
		return o.thirdParty("token", err)
	}
	if token == "" {
		return o.thirdParty("token", errors.New("empty access token"))
	}
	events, err := o.Widget.Launch(ctx, token)
	if err != nil {
		return o.thirdParty("launch", err)
	}

	var (
		polling  bool
		pollDone = make(chan error, 1)
	)
	for {
		select {
		case <-ctx.Done():
			if polling {
				<-pollDone
			}
			return ctx.Err()
		case err := <-pollDone:
			return err
		case ev, ok := <-events:
			if !ok {
				events = nil
				if !polling {
					return nil
				}
				continue
			}
			switch ev.Kind {
			case EventStepCompleted:
				o.logger().Info("verification step completed", "detail", ev.Detail)
			case EventError:
				o.logger().Error("verification widget error", "detail", ev.Detail,
					"error", &ThirdPartyError{Op: "widget", Err: ev.Err})
				o.notify(NoticeError, MsgVerificationError)
			case EventApplicantSubmitted:
				if polling {
					continue
				}
				polling = true
				o.logger().Info("applicant submitted, polling for verification result")
				go func() { pollDone <- o.Poll(ctx) }()
			}
		}
	}
}

func (o *Orchestrator) thirdParty(op string, err error) error {
	tpe := &ThirdPartyError{Op: op, Err: err}
	o.logger().Error("verification unavailable", "error", tpe)
	o.notify(NoticeError, MsgVerificationFail)
	return tpe
}

// Poll queries the verification status at a fixed interval. On approval it
// redirects to a one-time login URL for the target, falling back to the
// bare target when the URL cannot be generated.
func (o *Orchestrator) Poll(ctx context.Context) error {
	interval := o.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	attempts := o.Attempts
	if attempts <= 0 {
		attempts = DefaultPollAttempts
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		st, err := o.Client.KYCStatus(ctx)
		switch {
		case err != nil:
			o.logger().Warn("verification status check failed", "attempt", attempt, "error", err)
		case st.Approved():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			o.logger().Info("verification approved", "attempt", attempt)
			o.redirect(ctx)
			return nil
		default:
			o.logger().Debug("verification pending", "attempt", attempt, "status", st.Status)
		}
		if attempt == attempts {
			break
		}
		if !sleepCtx(ctx, interval) {
			return ctx.Err()
		}
	}
	o.notify(NoticeInfo, MsgVerificationSlow)
	return ErrVerificationPending
}

func (o *Orchestrator) redirect(ctx context.Context) {
	target := o.Target
	if target == "" {
		target = DefaultRedirectTarget
	}
	url, err := o.Client.GenerateRedirect(ctx, target)
	if err != nil || url == "" {
		o.logger().Error("could not generate login redirect, using fallback", "error", err)
		url = target
	}
	if o.Nav != nil {
		o.Nav.Redirect(url)
	}
}
