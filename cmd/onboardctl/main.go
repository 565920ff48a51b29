// Command onboardctl registers, logs in and completes the onboarding
// questionnaire against an onboarding server from the terminal.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/GoCodeAlone/onboarding/client"
	"github.com/GoCodeAlone/onboarding/store"
	"github.com/spf13/cobra"
)

var version = "dev"

const cookiesKey = "cookies"

// app holds what every command shares: flags, the local store, and the
// API client with the saved session.
type app struct {
	server string
	dbPath string
	debug  bool

	prompt *prompter
	out    io.Writer
	logger *slog.Logger

	db *store.SQLiteStore
	kv store.KV
}

func main() {
	a := newApp(os.Stdin, os.Stdout)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := a.rootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, errorMsg("%v", err))
		a.close()
		os.Exit(1)
	}
	a.close()
}

func newApp(in io.Reader, out io.Writer) *app {
	return &app{out: out, prompt: newPrompter(in, out), logger: slog.Default()}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "onboardctl",
		Short:         "Open a trading account from the terminal",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level := slog.LevelWarn
			if a.debug {
				level = slog.LevelDebug
			}
			a.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
			slog.SetDefault(a.logger)
			if a.dbPath == "" {
				a.dbPath = envOr("PROGRESS_DB", "onboarding.db")
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.server, "server", envOr("ONBOARDING_SERVER", "http://localhost:3001"), "Onboarding server URL")
	root.PersistentFlags().StringVar(&a.dbPath, "db", "", "Local progress database (default $PROGRESS_DB or onboarding.db)")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "Enable debug logging")

	root.AddCommand(a.registerCmd())
	root.AddCommand(a.loginCmd())
	root.AddCommand(a.logoutCmd())
	root.AddCommand(a.forgotPasswordCmd())
	root.AddCommand(a.statusCmd())
	root.AddCommand(a.progressCmd())
	root.AddCommand(a.tokenCmd())
	root.AddCommand(a.wizardCmd())
	return root
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// store returns the key-value namespace of the configured server, opening
// the database on first use.
func (a *app) store() (store.KV, error) {
	if a.kv != nil {
		return a.kv, nil
	}
	db, err := store.OpenSQLite(a.dbPath)
	if err != nil {
		return nil, err
	}
	a.db = db
	a.kv = db.Namespace(a.server)
	return a.kv, nil
}

func (a *app) close() {
	if a.db != nil {
		_ = a.db.Close()
	}
}

type savedCookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// client returns an API client carrying the saved session cookie.
func (a *app) client(ctx context.Context) (*client.Client, error) {
	c, err := client.New(a.server)
	if err != nil {
		return nil, err
	}
	kv, err := a.store()
	if err != nil {
		return nil, err
	}
	raw, err := kv.Get(ctx, cookiesKey)
	if errors.Is(err, store.ErrNotFound) {
		return c, nil
	}
	if err != nil {
		return nil, err
	}
	var saved []savedCookie
	if err := json.Unmarshal(raw, &saved); err != nil {
		a.logger.Warn("discarding unreadable saved session", "error", err)
		return c, nil
	}
	cookies := make([]*http.Cookie, 0, len(saved))
	for _, s := range saved {
		cookies = append(cookies, &http.Cookie{Name: s.Name, Value: s.Value})
	}
	c.SetCookies(cookies)
	return c, nil
}

// saveSession persists the client's cookies so later commands reuse the
// login.
func (a *app) saveSession(ctx context.Context, c *client.Client) error {
	kv, err := a.store()
	if err != nil {
		return err
	}
	var saved []savedCookie
	for _, ck := range c.Cookies() {
		saved = append(saved, savedCookie{Name: ck.Name, Value: ck.Value})
	}
	if len(saved) == 0 {
		return kv.Delete(ctx, cookiesKey)
	}
	raw, err := json.Marshal(saved)
	if err != nil {
		return err
	}
	return kv.Put(ctx, cookiesKey, raw)
}
