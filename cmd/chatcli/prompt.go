package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/vovakirdan/linechat-server/internal/proto"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

// promptLine prints a prompt to w and reads a single trimmed line.
func promptLine(reader *bufio.Reader, prompt string, w io.Writer) (string, error) {
	if _, err := fmt.Fprint(w, prompt+": "); err != nil {
		return "", err
	}
	line, err := reader.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return strings.TrimSpace(line), nil
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// promptPassword reads a password from the terminal without echo.
func promptPassword(w io.Writer) (string, error) {
	if _, err := fmt.Fprint(w, "Password: "); err != nil {
		return "", err
	}
	pw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return "", err
	}
	return string(pw), nil
}

// render makes history replies readable in a terminal.
func render(line string) string {
	for _, prefix := range []string{proto.PrefixHistory, proto.PrefixPrivateHistory} {
		if blob, ok := strings.CutPrefix(line, prefix); ok {
			entries := proto.DecodeBlob(blob)
			if len(entries) == 0 {
				return prefix + " (vacío)"
			}
			return prefix + "\n  " + strings.Join(entries, "\n  ")
		}
	}
	return line
}
