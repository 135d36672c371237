package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/styles"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
)

const (
	inputPrompt = "\nQuery: "
	wordWrap    = 100
)

// repl reads queries until exit, quit or the end of input
func (a *app) repl(ctx context.Context, in io.Reader, out io.Writer) error {
	render := a.renderer()

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, inputPrompt)
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}

		query := strings.TrimSpace(scanner.Text())
		done, err := a.handle(ctx, query, out, render)
		if err != nil {
			logger.ContextKV(ctx, xlog.DEBUG, "query", query, "err", err.Error())
			fmt.Fprintf(out, "\nError: %s\n", err.Error())
		}
		if done {
			return nil
		}
	}
}

// handle runs one line of input, done is true when the session ends
func (a *app) handle(ctx context.Context, query string, out io.Writer, render func(string) string) (done bool, err error) {
	switch strings.ToLower(query) {
	case "":
		return false, nil
	case "exit", "quit":
		return true, nil
	case "/help":
		return false, a.printCommands(ctx, out)
	case "/docs":
		return false, a.printDocuments(ctx, out)
	case "/tools":
		return false, printTools(ctx, a.registry, out)
	case "/clear":
		if a.engine == nil {
			return false, errNoModel
		}
		if err = a.engine.Reset(); err != nil {
			return false, err
		}
		fmt.Fprintln(out, "\nConversation cleared.")
		return false, nil
	}

	if a.engine == nil {
		return false, errNoModel
	}
	answer, err := a.engine.Run(ctx, query)
	if err != nil {
		return false, err
	}
	fmt.Fprintf(out, "\n%s\n", render(answer))
	return false, nil
}

func (a *app) printCommands(ctx context.Context, out io.Writer) error {
	list, err := a.prep.Commands(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "\nCommands:")
	for _, p := range list {
		fmt.Fprintf(out, "  /%s <doc_id>\t%s\n", p.Name, p.Description)
	}
	fmt.Fprintln(out, "  /docs\tlist the documents")
	fmt.Fprintln(out, "  /tools\tlist the tools")
	fmt.Fprintln(out, "  /clear\tstart a new conversation")
	fmt.Fprintln(out, "  exit\tquit")
	return nil
}

func (a *app) printDocuments(ctx context.Context, out io.Writer) error {
	ids, err := a.prep.DocumentIDs(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "\nDocuments:")
	for _, id := range ids {
		fmt.Fprintf(out, "  @%s\n", id)
	}
	return nil
}

// renderer returns the markdown renderer of answers
func (a *app) renderer() func(string) string {
	plain := func(s string) string { return s }
	if a.plain {
		return plain
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(styles.TokyoNightStyle),
		glamour.WithWordWrap(wordWrap),
	)
	if err != nil {
		logger.KV(xlog.DEBUG, "status", "plain_output", "err", err.Error())
		return plain
	}
	return func(s string) string {
		rendered, err := r.Render(s)
		if err != nil {
			return s
		}
		return strings.TrimRight(rendered, "\n")
	}
}

var errNoModel = errors.New("model is not configured")
