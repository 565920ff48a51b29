package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/GoCodeAlone/onboarding/client"
	"github.com/GoCodeAlone/onboarding/wizard"
	"github.com/spf13/cobra"
)

func (a *app) registerCmd() *cobra.Command {
	var (
		s       client.Signup
		extra   []string
		target  string
		captcha string
	)
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and start onboarding",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			var err error
			if s.Email == "" {
				if s.Email, err = a.prompt.Ask("Email:", ""); err != nil {
					return err
				}
			}
			if s.Password == "" {
				if s.Password, err = a.prompt.Secret("Password:"); err != nil {
					return err
				}
			}
			if s.Country == "" {
				if s.Country, err = a.prompt.Ask("Country (ISO code, e.g. ZA):", ""); err != nil {
					return err
				}
			}
			s.RecaptchaToken = captcha
			s.Extra = map[string]string{}
			for _, kv := range extra {
				k, v, ok := strings.Cut(kv, "=")
				if !ok {
					return fmt.Errorf("--field %q: want key=value", kv)
				}
				s.Extra[k] = v
			}

			c, err := a.client(ctx)
			if err != nil {
				return err
			}
			res, err := c.Register(ctx, s)
			if err != nil {
				return err
			}
			return a.afterLogin(ctx, c, res, target)
		},
	}
	cmd.Flags().StringVar(&s.Email, "email", "", "Account email")
	cmd.Flags().StringVar(&s.Password, "password", "", "Account password (prompted when omitted)")
	cmd.Flags().StringVar(&s.Country, "country", "", "ISO 3166 alpha-2 country code")
	cmd.Flags().StringVar(&s.Currency, "currency", "", "Account currency (server default ZAR)")
	cmd.Flags().StringArrayVar(&extra, "field", nil, "Extra profile field as key=value (repeatable)")
	cmd.Flags().StringVar(&target, "redirect", wizard.DefaultRedirectTarget, "Where approved users continue")
	cmd.Flags().StringVar(&captcha, "recaptcha-token", "", "reCAPTCHA token, when the server requires one")
	return cmd
}

func (a *app) loginCmd() *cobra.Command {
	var (
		cr       client.Credentials
		provider string
		code     string
		country  string
		target   string
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in with email and password or a social provider code",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			c, err := a.client(ctx)
			if err != nil {
				return err
			}

			var res *client.AuthResult
			if provider != "" {
				if code == "" {
					return fmt.Errorf("--code is required with --provider")
				}
				res, err = c.SocialLogin(ctx, provider, code, country)
			} else {
				if cr.Email == "" {
					if cr.Email, err = a.prompt.Ask("Email:", ""); err != nil {
						return err
					}
				}
				if cr.Password == "" {
					if cr.Password, err = a.prompt.Secret("Password:"); err != nil {
						return err
					}
				}
				res, err = c.Login(ctx, cr)
			}
			if err != nil {
				return err
			}
			return a.afterLogin(ctx, c, res, target)
		},
	}
	cmd.Flags().StringVar(&cr.Email, "email", "", "Account email")
	cmd.Flags().StringVar(&cr.Password, "password", "", "Account password (prompted when omitted)")
	cmd.Flags().StringVar(&cr.RecaptchaToken, "recaptcha-token", "", "reCAPTCHA token, when the server requires one")
	cmd.Flags().StringVar(&provider, "provider", "", "Social provider, e.g. google")
	cmd.Flags().StringVar(&code, "code", "", "OAuth authorization code from the provider")
	cmd.Flags().StringVar(&country, "country", "", "Country for accounts created by social login")
	cmd.Flags().StringVar(&target, "redirect", wizard.DefaultRedirectTarget, "Where approved users continue")
	return cmd
}

// afterLogin saves the session and seeds the local wizard record, or
// prints the platform link for users who are already verified.
func (a *app) afterLogin(ctx context.Context, c *client.Client, res *client.AuthResult, target string) error {
	if err := a.saveSession(ctx, c); err != nil {
		return err
	}
	fmt.Fprintln(a.out, successMsg("%s", res.Message))

	kv, err := a.store()
	if err != nil {
		return err
	}
	nav := newTerminalNav(a.out)
	ok, err := wizard.Bootstrap(ctx, kv, c, nav, wizard.LoginResult{
		UserID:         res.Progress.UserID,
		UserAnswers:    res.Progress.UserAnswers,
		Questionnaires: res.Progress.Questionnaires,
	}, target)
	if err != nil {
		return err
	}
	if ok {
		fmt.Fprintln(a.out, infoMsg("Run %s to continue onboarding.", boldStyle.Render("onboardctl wizard")))
	}
	return nil
}

func (a *app) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			c, err := a.client(ctx)
			if err != nil {
				return err
			}
			if err := c.Logout(ctx); err != nil {
				a.logger.Debug("server logout failed", "error", err)
			}
			kv, err := a.store()
			if err != nil {
				return err
			}
			if err := kv.Delete(ctx, cookiesKey); err != nil {
				return err
			}
			fmt.Fprintln(a.out, successMsg("Logged out."))
			return nil
		},
	}
}

func (a *app) forgotPasswordCmd() *cobra.Command {
	var email, captcha string
	cmd := &cobra.Command{
		Use:   "forgot-password",
		Short: "Request a password reset email",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			var err error
			if email == "" {
				if email, err = a.prompt.Ask("Email:", ""); err != nil {
					return err
				}
			}
			c, err := a.client(ctx)
			if err != nil {
				return err
			}
			msg, err := c.ForgotPassword(ctx, email, captcha)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, successMsg("%s", msg))
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&captcha, "recaptcha-token", "", "reCAPTCHA token, when the server requires one")
	return cmd
}
