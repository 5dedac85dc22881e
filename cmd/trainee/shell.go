package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

var errUnterminatedQuote = errors.New("shell.unterminated_quote")

const shellPrompt = "trainee> "

// newShellCommand runs session commands line by line against one shared
// session, so a login survives until the shell exits.
func newShellCommand(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive session; type help for the command list",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			if _, err := state.application(command.Context()); err != nil {
				return err
			}
			return runShell(command, state, command.InOrStdin())
		},
	}
}

func runShell(command *cobra.Command, state *cliState, input io.Reader) error {
	scanner := bufio.NewScanner(input)
	fmt.Fprint(state.out, shellPrompt)
	for scanner.Scan() {
		words, err := splitLine(scanner.Text())
		switch {
		case err != nil:
			fmt.Fprintln(state.errOut, "error:", err)
		case len(words) == 0:
		case words[0] == "exit" || words[0] == "quit":
			return nil
		default:
			line := newShellLine(state)
			line.SetArgs(words)
			if err := line.ExecuteContext(command.Context()); err != nil {
				fmt.Fprintln(state.errOut, "error:", describeError(err))
			}
		}
		fmt.Fprint(state.out, shellPrompt)
	}
	return scanner.Err()
}

// newShellLine builds a fresh command tree per line so flag values do not
// leak from one line into the next.
func newShellLine(state *cliState) *cobra.Command {
	line := &cobra.Command{
		Use:           "trainee>",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	line.SetOut(state.out)
	line.SetErr(state.errOut)
	line.AddCommand(newSessionCommands(state)...)
	line.CompletionOptions.DisableDefaultCmd = true
	return line
}

// splitLine splits a shell line into words. Single and double quotes group
// words; a backslash escapes the next character outside single quotes.
func splitLine(line string) ([]string, error) {
	var (
		words   []string
		current strings.Builder
		inWord  bool
		quote   rune
		escaped bool
	)
	for _, character := range line {
		switch {
		case escaped:
			current.WriteRune(character)
			escaped = false
		case character == '\\' && quote != '\'':
			escaped = true
			inWord = true
		case quote != 0:
			if character == quote {
				quote = 0
			} else {
				current.WriteRune(character)
			}
		case character == '"' || character == '\'':
			quote = character
			inWord = true
		case character == ' ' || character == '\t':
			if inWord {
				words = append(words, current.String())
				current.Reset()
				inWord = false
			}
		default:
			current.WriteRune(character)
			inWord = true
		}
	}
	if quote != 0 || escaped {
		return nil, errUnterminatedQuote
	}
	if inWord {
		words = append(words, current.String())
	}
	return words, nil
}
