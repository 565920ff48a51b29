package main

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	q "github.com/GoCodeAlone/onboarding/questionnaire"
	"github.com/GoCodeAlone/onboarding/wizard"
	"github.com/spf13/cobra"
)

// errBack is returned by a prompt when the user asks for the previous
// screen.
var errBack = errors.New("back")

var stepTitles = map[int]string{
	1: "Personal details",
	2: "Employment",
	3: "Trading experience",
	4: "Verification",
}

var fieldLabels = map[string]string{
	wizard.FieldFirstName:    "First name",
	wizard.FieldLastName:     "Last name",
	wizard.FieldNationality:  "Nationality",
	wizard.FieldPhone:        "Phone number (optional)",
	wizard.FieldIDType:       "Identification type",
	wizard.FieldIDNumber:     "ID or passport number",
	wizard.FieldDOBYear:      "Birth year (YYYY)",
	wizard.FieldDOBMonth:     "Birth month (MM)",
	wizard.FieldDOBDay:       "Birth day (DD)",
	wizard.FieldResidence:    "Country of residence",
	wizard.FieldNotUSCitizen: "I confirm I am not a US citizen or resident",
	wizard.FieldTerms:        "I agree to the Terms & Conditions",
}

// selectQuestions maps dropdown fields to the questionnaire question that
// supplies their options.
var selectQuestions = map[string]int{
	wizard.FieldNationality: wizard.NationalityQuestion,
	wizard.FieldIDType:      wizard.IDTypeQuestion,
	wizard.FieldResidence:   wizard.ResidenceQuestion,
}

// listLimit is the largest option list printed without being asked.
const listLimit = 12

func (a *app) wizardCmd() *cobra.Command {
	var (
		target  string
		country string
		region  string
		poll    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "wizard",
		Short: "Continue the onboarding questionnaire",
		Long: "Resume the onboarding questionnaire where you left off. Answers are saved\n" +
			"locally after every screen and sent to the server in the background.\n" +
			"Type :back at any prompt to return to the previous screen.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			c, err := a.client(ctx)
			if err != nil {
				return err
			}
			kv, err := a.store()
			if err != nil {
				return err
			}
			nav := newTerminalNav(a.out)
			s, err := wizard.Open(ctx, wizard.Options{
				Store:          kv,
				Backend:        c,
				Widget:         terminalWidget{p: a.prompt},
				Navigator:      nav,
				Notifier:       terminalNotifier{out: a.out},
				Confirmer:      terminalConfirmer{p: a.prompt},
				Logger:         a.logger,
				PhoneRegion:    region,
				PollInterval:   poll,
				RedirectTarget: target,
			})
			if errors.Is(err, wizard.ErrNoProgress) {
				return nil
			}
			if err != nil {
				return err
			}
			defer s.Close()
			if country != "" {
				if err := s.SetCountryByIP(country); err != nil {
					return err
				}
			}
			err = a.runWizard(ctx, s, nav)
			s.Wait()
			return err
		},
	}
	cmd.Flags().StringVar(&target, "redirect", wizard.DefaultRedirectTarget, "Where approved users continue")
	cmd.Flags().StringVar(&country, "country", "", "Pre-fill country dropdowns with this country name")
	cmd.Flags().StringVar(&region, "phone-region", "", "Default region for phone numbers without a country code")
	cmd.Flags().DurationVar(&poll, "poll-interval", wizard.DefaultPollInterval, "Verification status poll interval")
	return cmd
}

func (a *app) runWizard(ctx context.Context, s *wizard.Session, nav *terminalNav) error {
	for {
		select {
		case <-nav.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		step := s.Step()
		a.prompt.println(renderStepper(s.State()))
		if step == wizard.StepVerification {
			return a.awaitVerification(ctx, s, nav)
		}

		err := a.fillStep(s, step)
		if errors.Is(err, errBack) {
			if err := s.Retreat(); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}

		err = s.Advance(ctx)
		var ve *wizard.ValidationError
		switch {
		case errors.As(err, &ve):
			for _, name := range slices.Sorted(maps.Keys(ve.Fields)) {
				a.prompt.println(errorMsg("%s: %s", labelFor(name), ve.Fields[name]))
			}
		case errors.Is(err, wizard.ErrCancelled):
			a.prompt.println(infoMsg("Staying on this step. You can change your answer."))
		case err != nil:
			return err
		}
	}
}

// awaitVerification waits until verification redirects the user or stops.
func (a *app) awaitVerification(ctx context.Context, s *wizard.Session, nav *terminalNav) error {
	t := time.NewTicker(250 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-nav.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if s.Verifying() {
				continue
			}
			select {
			case <-nav.Done():
				return nil
			default:
			}
			a.prompt.println(infoMsg("Verification is not finished. Run %s again to resume.", boldStyle.Render("onboardctl wizard")))
			return nil
		}
	}
}

func renderStepper(st wizard.State) string {
	cur := st.Step()
	var parts []string
	for n := 1; n <= wizard.MainSteps; n++ {
		label := fmt.Sprintf("%d %s", n, stepTitles[n])
		switch wizard.Stepper(n, cur, st.Highest) {
		case wizard.StepperCompleted:
			parts = append(parts, successStyle.Render("✓ "+label))
		case wizard.StepperActive:
			label = fmt.Sprintf("%s (%.0f%%)", label, wizard.StepProgress(n, cur))
			parts = append(parts, accentStyle.Bold(true).Render("● "+label))
		case wizard.StepperVisited:
			parts = append(parts, "○ "+label)
		default:
			parts = append(parts, mutedStyle.Render("○ "+label))
		}
	}
	return "\n" + strings.Join(parts, mutedStyle.Render("  ›  "))
}

func labelFor(name string) string {
	if l, ok := fieldLabels[name]; ok {
		return l
	}
	return name
}

// ask wraps prompter.Ask with the :back escape.
func (a *app) ask(label, def string) (string, error) {
	ans, err := a.prompt.Ask(label, def)
	if err != nil {
		return "", err
	}
	if ans == ":back" {
		return "", errBack
	}
	return ans, nil
}

func (a *app) fillStep(s *wizard.Session, step wizard.StepID) error {
	def := wizard.Definition(step)
	if c := def.Choice; c != nil {
		opt, err := a.choose(s.Options(c.QuestionIndex), "Your answer:", s.View().Get(c.FormKey))
		if err != nil {
			return err
		}
		s.SetSelect(c.FormKey, string(opt.ID), opt.Label())
		return nil
	}

	for _, f := range def.Fields {
		view := s.View()
		label := labelFor(f.Name) + ":"
		switch f.Kind {
		case wizard.KindCheckbox:
			ans, err := a.ask(labelFor(f.Name)+" [y/N]", "")
			if err != nil {
				return err
			}
			checked := strings.EqualFold(ans, "y") || strings.EqualFold(ans, "yes")
			s.SetCheckbox(f.Name, "Yes", checked)
		case wizard.KindSelect:
			if qi, ok := selectQuestions[f.Name]; ok {
				opt, err := a.choose(s.Options(qi), label, view.Get(f.Name))
				if err != nil {
					return err
				}
				s.SetSelect(f.Name, string(opt.ID), opt.Label())
				continue
			}
			v, err := a.ask(label, view.Get(f.Name))
			if err != nil {
				return err
			}
			s.SetSelect(f.Name, v, v)
		default:
			v, err := a.ask(label, view.Get(f.Name))
			if err != nil {
				return err
			}
			s.SetText(f.Name, v)
		}
	}
	return nil
}

// choose asks for one of opts by number or title. Short lists are printed
// up front; "?" prints any list.
func (a *app) choose(opts []q.Option, label, current string) (q.Option, error) {
	if len(opts) == 0 {
		return q.Option{}, errors.New("the questionnaire has no options for this question; try logging in again")
	}
	def := ""
	for _, o := range opts {
		if string(o.ID) == current {
			def = o.Label()
		}
	}
	if len(opts) <= listLimit {
		a.printOptions(opts)
	} else {
		label = strings.TrimSuffix(label, ":") + " (name, or ? to list):"
	}
	for {
		ans, err := a.ask(label, def)
		if err != nil {
			return q.Option{}, err
		}
		if ans == "?" {
			a.printOptions(opts)
			continue
		}
		if o, ok := pickOption(opts, ans); ok {
			return o, nil
		}
		a.prompt.println(errorMsg("%q is not one of the options.", ans))
	}
}

func (a *app) printOptions(opts []q.Option) {
	for i, o := range opts {
		a.prompt.printf("  %s %s\n", mutedStyle.Render(fmt.Sprintf("%2d.", i+1)), o.Label())
	}
}

// pickOption resolves an answer given as a 1-based number or as a title.
func pickOption(opts []q.Option, ans string) (q.Option, bool) {
	if n, err := strconv.Atoi(ans); err == nil {
		if n >= 1 && n <= len(opts) {
			return opts[n-1], true
		}
		return q.Option{}, false
	}
	for _, o := range opts {
		if q.TitleMatches(o.Label(), ans) || q.TitleMatches(o.Title, ans) {
			return o, true
		}
	}
	return q.Option{}, false
}
