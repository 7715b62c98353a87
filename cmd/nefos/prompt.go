package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

var errEmptyInput = errors.New("prompt.empty_input")

// prompter reads answers from the command's input, one line per question.
type prompter struct {
	input  io.Reader
	reader *bufio.Reader
	output io.Writer
}

func newPrompter(input io.Reader, output io.Writer) *prompter {
	return &prompter{input: input, reader: bufio.NewReader(input), output: output}
}

func (prompter *prompter) line(label string) (string, error) {
	fmt.Fprintf(prompter.output, "%s: ", label)
	text, err := prompter.reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && text != "") {
		return "", fmt.Errorf("prompt.%s: %w", strings.ToLower(label), err)
	}
	text = strings.TrimRight(text, "\r\n")
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("prompt.%s: %w", strings.ToLower(label), errEmptyInput)
	}
	return text, nil
}

// secret reads without echo when the input is a terminal.
func (prompter *prompter) secret(label string) (string, error) {
	file, ok := prompter.input.(*os.File)
	if !ok || !term.IsTerminal(int(file.Fd())) {
		return prompter.line(label)
	}
	fmt.Fprintf(prompter.output, "%s: ", label)
	data, err := term.ReadPassword(int(file.Fd()))
	fmt.Fprintln(prompter.output)
	if err != nil {
		return "", fmt.Errorf("prompt.%s: %w", strings.ToLower(label), err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("prompt.%s: %w", strings.ToLower(label), errEmptyInput)
	}
	return string(data), nil
}
