// Package prompt asks the operator for MFA codes on a terminal.
package prompt

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/avocado-safe/avocado-core/mfa"
)

// Code returns a prompter which writes the request to out and reads the code as one line from
// in. On a terminal the code is not echoed. An empty line or the end of the input cancels the
// prompt.
func Code(in io.Reader, out io.Writer) mfa.CodePrompter {
	p := &codePrompter{out: out}
	if f, ok := in.(interface{ Fd() uintptr }); ok && term.IsTerminal(int(f.Fd())) {
		fd := int(f.Fd())
		p.read = func() (string, error) {
			b, err := term.ReadPassword(fd)
			fmt.Fprintln(out)

			return string(b), err
		}

		return p
	}

	r := bufio.NewReader(in)
	p.read = func() (string, error) { return r.ReadString('\n') }

	return p
}

type codePrompter struct {
	mu   sync.Mutex
	read func() (string, error)
	out  io.Writer

	// pending is the read left running by a cancelled prompt.
	pending chan line
}

type line struct {
	s   string
	err error
}

func (p *codePrompter) PromptCode(ctx context.Context, pr mfa.Prompt) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pr.URI != "" {
		fmt.Fprintf(p.out, "Add this account to your authenticator app: %s\n", pr.URI)
		fmt.Fprintf(p.out, "Secret: %s\n", pr.Secret)
	}
	fmt.Fprintf(p.out, "Enter the %s code (%s): ", pr.Type, pr.Purpose)

	// A read cannot be interrupted. A cancelled prompt leaves it pending for the next prompt.
	if p.pending == nil {
		p.pending = make(chan line, 1)
		go func(ch chan<- line) {
			s, err := p.read()
			ch <- line{s: s, err: err}
		}(p.pending)
	}

	select {
	case <-ctx.Done():
		fmt.Fprintln(p.out)

		return "", ctx.Err()
	case l := <-p.pending:
		p.pending = nil
		code := strings.TrimSpace(l.s)
		if code == "" {
			return "", mfa.ErrUserCancelled
		}

		return code, nil
	}
}
