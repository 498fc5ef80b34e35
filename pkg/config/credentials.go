package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"
	"strings"

	"golang.org/x/term"
)

// PasswordPrompter asks the operator for the Kibana password.
type PasswordPrompter func() (string, error)

// TerminalPasswordPrompt reads a password from in without echo when it is a
// terminal, and a single line otherwise. The prompt goes to out.
func TerminalPasswordPrompt(in *os.File, out io.Writer) PasswordPrompter {
	return func() (string, error) {
		fmt.Fprint(out, "Password: ")

		fd := int(in.Fd())
		if term.IsTerminal(fd) {
			pw, err := term.ReadPassword(fd)
			fmt.Fprintln(out)
			if err != nil {
				return "", fmt.Errorf("failed to read password: %w", err)
			}
			return string(pw), nil
		}

		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
}

// ResolveCredentials defaults the Kibana username to the current OS user and
// asks prompt for the password when none was configured.
func (c *Config) ResolveCredentials(prompt PasswordPrompter) error {
	if c.Kibana.Username == "" {
		c.Kibana.Username = currentUsername()
	}

	if c.Kibana.Password == "" {
		if prompt == nil {
			return errors.New("kibana password is required: use -p or KIBANA_PASSWORD")
		}
		pw, err := prompt()
		if err != nil {
			return err
		}
		c.Kibana.Password = pw
	}

	return nil
}

func currentUsername() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return os.Getenv("USER")
}
