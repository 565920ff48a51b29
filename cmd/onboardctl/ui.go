package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"charm.land/lipgloss/v2"
	"golang.org/x/term"
)

var (
	purple = lipgloss.Color("99")
	green  = lipgloss.Color("76")
	red    = lipgloss.Color("204")
	yellow = lipgloss.Color("214")
	dim    = lipgloss.Color("243")
)

var (
	accentStyle  = lipgloss.NewStyle().Foreground(purple)
	successStyle = lipgloss.NewStyle().Foreground(green)
	errorStyle   = lipgloss.NewStyle().Foreground(red)
	warnStyle    = lipgloss.NewStyle().Foreground(yellow)
	mutedStyle   = lipgloss.NewStyle().Foreground(dim)
	boldStyle    = lipgloss.NewStyle().Bold(true)
)

func successMsg(format string, a ...any) string {
	return successStyle.Render("✓") + " " + fmt.Sprintf(format, a...)
}

func warnMsg(format string, a ...any) string {
	return warnStyle.Render("!") + " " + fmt.Sprintf(format, a...)
}

func errorMsg(format string, a ...any) string {
	return errorStyle.Render("✗") + " " + fmt.Sprintf(format, a...)
}

func infoMsg(format string, a ...any) string {
	return accentStyle.Render("●") + " " + fmt.Sprintf(format, a...)
}

// keyValues renders aligned "key:  value" lines.
func keyValues(pairs [][2]string) string {
	width := 0
	for _, p := range pairs {
		width = max(width, len(p[0]))
	}
	var sb strings.Builder
	for _, p := range pairs {
		label := fmt.Sprintf("%-*s", width+1, p[0]+":")
		sb.WriteString("  " + mutedStyle.Render(label) + " " + p[1] + "\n")
	}
	return sb.String()
}

// errQuit is returned by a prompt when input ends.
var errQuit = errors.New("input closed")

// prompter reads answers line by line. It is shared by the wizard loop and
// the verification widget, which never prompt at the same time.
type prompter struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
	// fd is the terminal for hidden password input; -1 when input is not
	// a terminal.
	fd int
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	p := &prompter{in: bufio.NewReader(in), out: out, fd: -1}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.fd = int(f.Fd())
	}
	return p
}

func (p *prompter) printf(format string, a ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, a...)
}

func (p *prompter) println(s string) { p.printf("%s\n", s) }

// Ask shows label and returns the trimmed answer. An empty answer returns
// def.
func (p *prompter) Ask(label, def string) (string, error) {
	if def != "" {
		p.printf("%s %s ", boldStyle.Render(label), mutedStyle.Render("["+def+"]"))
	} else {
		p.printf("%s ", boldStyle.Render(label))
	}
	line, err := p.in.ReadString('\n')
	if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
		return "", errQuit
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return def, nil
	}
	return line, nil
}

// Secret reads a password without echo when input is a terminal.
func (p *prompter) Secret(label string) (string, error) {
	if p.fd < 0 {
		return p.Ask(label, "")
	}
	p.printf("%s ", boldStyle.Render(label))
	b, err := term.ReadPassword(p.fd)
	p.printf("\n")
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(b), nil
}

// Confirm asks a yes/no question; anything but y/yes is no.
func (p *prompter) Confirm(question string) (bool, error) {
	ans, err := p.Ask(question+" [y/N]", "")
	if err != nil {
		return false, err
	}
	switch strings.ToLower(ans) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}
