package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/passvault/passvault/pkg/crypto"
	"github.com/passvault/passvault/pkg/security"
)

var stdin = bufio.NewReader(os.Stdin)

// readPassword prompts on stderr and reads a line without echo. When stdin
// is not a terminal the line is read as-is, so passwords can be piped.
var readPassword = func(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		defer crypto.SecureWipe(b)
		return string(b), nil
	}
	return readStdinLine()
}

// readLine prompts on stderr and reads one line with echo.
var readLine = func(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	return readStdinLine()
}

func readStdinLine() (string, error) {
	line, err := stdin.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readNewPassword asks for a new master password twice and validates it.
// Strength warnings are printed to w but never block.
func readNewPassword(w io.Writer, prompt, confirmPrompt string) (string, error) {
	password, err := readPassword(prompt)
	if err != nil {
		return "", err
	}
	confirm, err := readPassword(confirmPrompt)
	if err != nil {
		return "", err
	}
	if password != confirm {
		return "", errors.New("passwords do not match")
	}

	result := security.ValidateMasterPassword(password)
	if !result.Valid {
		return "", fmt.Errorf("password validation failed: %s", result.Warnings[0])
	}
	fmt.Fprintf(w, "Password strength: %s\n", result.Strength)
	for _, warning := range result.Warnings {
		fmt.Fprintf(w, "Warning: %s\n", warning)
	}
	return password, nil
}

// confirm asks a yes/no question; anything but y or yes is no.
func confirm(prompt string) (bool, error) {
	answer, err := readLine(prompt + " [y/N]: ")
	if err != nil {
		return false, err
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes", nil
}
