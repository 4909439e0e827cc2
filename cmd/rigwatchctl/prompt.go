package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	prompt "github.com/c-bata/go-prompt"
)

var resolutionSuggests = []prompt.Suggest{
	{Text: "raw", Description: "fine samples"},
	{Text: "hourly", Description: "hour summaries"},
	{Text: "daily", Description: "day summaries"},
}

// runShell starts the interactive shell. It returns on "exit" or Ctrl-D.
func runShell(cli *CLI) {
	fmt.Printf("rigwatchctl %s connected to %s\n", Version, cli.client.Addr())
	fmt.Println(`Type "help" for commands, "exit" to quit.`)

	p := prompt.New(
		func(line string) { executeLine(cli, line) },
		completer,
		prompt.OptionPrefix("rigwatch> "),
		prompt.OptionTitle("rigwatchctl"),
		prompt.OptionSetExitCheckerOnInput(func(in string, breakline bool) bool {
			return breakline && isExit(in)
		}),
	)
	p.Run()
}

func executeLine(cli *CLI, line string) {
	args := strings.Fields(line)
	if len(args) == 0 || isExit(line) {
		return
	}
	if args[0] == "help" {
		for _, c := range commands {
			fmt.Printf("  %-48s %s\n", c.usage, c.help)
		}
		return
	}
	if err := cli.Exec(context.Background(), args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
}

func isExit(line string) bool {
	s := strings.TrimSpace(line)
	return s == "exit" || s == "quit"
}

func completer(d prompt.Document) []prompt.Suggest {
	args := strings.Fields(d.TextBeforeCursor())
	word := d.GetWordBeforeCursor()

	// Still typing the command name.
	if len(args) == 0 || (len(args) == 1 && word != "") {
		s := make([]prompt.Suggest, 0, len(commands)+2)
		for _, c := range commands {
			s = append(s, prompt.Suggest{Text: c.name, Description: c.help})
		}
		s = append(s,
			prompt.Suggest{Text: "help", Description: "list commands"},
			prompt.Suggest{Text: "exit", Description: "leave the shell"},
		)
		return prompt.FilterHasPrefix(s, word, true)
	}

	pos := len(args)
	if word != "" {
		pos--
	}

	switch args[0] {
	case "cleanup":
		if pos == 1 {
			return prompt.FilterHasPrefix(resolutionSuggests, word, true)
		}
	case "reaggregate":
		if pos == 4 {
			return prompt.FilterHasPrefix(resolutionSuggests[1:], word, true)
		}
	case "retention":
		if pos == 1 {
			return prompt.FilterHasPrefix([]prompt.Suggest{{Text: "set", Description: "change windows"}}, word, true)
		}
		return prompt.FilterHasPrefix([]prompt.Suggest{
			{Text: "raw="}, {Text: "hourly="}, {Text: "daily="},
		}, word, true)
	case "stats":
		if pos == 1 {
			return prompt.FilterHasPrefix([]prompt.Suggest{{Text: "machines", Description: "per machine"}}, word, true)
		}
	case "machines":
		if pos == 1 {
			return prompt.FilterHasPrefix([]prompt.Suggest{{Text: "active", Description: "active machines only"}}, word, true)
		}
	}
	return nil
}
