// Package console implements a line-oriented command interpreter that drives
// a [va.Controller] from a terminal, and an observer that prints every
// notification the controller emits.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/MrWong99/dmva/pkg/va"
)

// ErrQuit is returned by [Console.Exec] for the quit and exit commands.
var ErrQuit = errors.New("console: quit")

// Sayer answers the waiting prompt with a spoken utterance. The loopback
// engine implements it.
type Sayer interface {
	Say(utterance string) error
}

// Crasher simulates a fatal engine fault.
type Crasher interface {
	Crash(err error)
}

// Console reads commands and prints notifications. Output from the command
// loop and from the observer is serialised.
type Console struct {
	ctrl    *va.Controller
	sayer   Sayer
	crasher Crasher
	prompt  string

	mu     sync.Mutex
	out    io.Writer
	styles styles
}

// Option configures a [Console].
type Option func(*Console)

// WithSayer enables the say command.
func WithSayer(s Sayer) Option {
	return func(c *Console) { c.sayer = s }
}

// WithCrasher enables the crash command.
func WithCrasher(cr Crasher) Option {
	return func(c *Console) { c.crasher = cr }
}

// WithPrompt sets the input prompt. The default is "va> ". An empty prompt
// disables it.
func WithPrompt(p string) Option {
	return func(c *Console) { c.prompt = p }
}

// New returns a console driving ctrl and writing to out. Colours are used only
// when out is a terminal.
func New(ctrl *va.Controller, out io.Writer, opts ...Option) *Console {
	c := &Console{
		ctrl:   ctrl,
		out:    out,
		prompt: "va> ",
		styles: newStyles(lipgloss.NewRenderer(out)),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run reads commands from in until EOF, a quit command or ctx cancellation.
// Command errors are printed and do not stop the loop.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	c.showPrompt()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("console: read input: %w", err)
			}
			return nil
		case line := <-lines:
			err := c.Exec(line)
			if errors.Is(err, ErrQuit) {
				return nil
			}
			if err != nil {
				c.println(c.styles.err.Render("error: " + describe(err)))
			}
			c.showPrompt()
		}
	}
}

// Exec runs a single command line. Blank lines and lines starting with # are
// ignored.
func (c *Console) Exec(line string) error {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}
	args, err := fields(line)
	if err != nil {
		return err
	}
	name, args := strings.ToLower(args[0]), args[1:]
	cmd, ok := commands[name]
	if !ok {
		return fmt.Errorf("unknown command %q (try help)", name)
	}
	if len(args) < cmd.minArgs {
		return fmt.Errorf("usage: %s %s", name, cmd.usage)
	}
	return cmd.run(c, args)
}

type command struct {
	usage   string
	help    string
	minArgs int
	run     func(c *Console, args []string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"open": {usage: "<model> [key=value ...]", help: "open a session with a grammar model", minArgs: 1, run: (*Console).open},
		"close": {help: "close the session", run: func(c *Console, _ []string) error {
			return c.ctrl.Close()
		}},
		"stop": {help: "stop the active dialog", run: func(c *Console, _ []string) error {
			return c.ctrl.StopDialog()
		}},
		"text": {usage: "<text ...>", help: "send text to the dialog server", minArgs: 1, run: func(c *Console, args []string) error {
			return c.ctrl.SendText(strings.Join(args, " "))
		}},
		"confirm": {usage: "[prompt ...]", help: "prompt for a yes/no confirmation", run: func(c *Console, args []string) error {
			return c.ctrl.PromptForConfirmation(strings.Join(args, " "))
		}},
		"freetext": {usage: "[prompt ...]", help: "prompt for free text", run: func(c *Console, args []string) error {
			return c.ctrl.PromptForFreeText(strings.Join(args, " "))
		}},
		"choice":      {usage: "<lit=val,...|json> [prompt ...]", help: "prompt for one of the given items", minArgs: 1, run: (*Console).choice},
		"entities":    {usage: "[--new] <entity,...> [prompt ...]", help: "prompt for entity values", minArgs: 1, run: (*Console).entities},
		"upload":      {usage: "<name> <lit=val,...|json>", help: "upload durable values", minArgs: 2, run: (*Console).upload},
		"clear":       {usage: "<name>", help: "clear durable values", minArgs: 1, run: (*Console).clear},
		"clearall":    {help: "clear all durable values", run: (*Console).clearAll},
		"inline":      {usage: "<name> <lit=val,...>", help: "set inline values", minArgs: 2, run: (*Console).inline},
		"clearinline": {usage: "<name>", help: "clear inline values", minArgs: 1, run: func(c *Console, args []string) error {
			return c.ctrl.ClearInlineValues(args[0])
		}},
		"say":   {usage: "<utterance ...>", help: "answer the waiting prompt by voice", minArgs: 1, run: (*Console).say},
		"crash": {usage: "[message ...]", help: "simulate a lost connection", run: (*Console).crash},
		"state": {help: "show the session state", run: (*Console).state},
		"help":  {help: "list commands", run: (*Console).help},
		"quit":  {help: "leave the console", run: quit},
		"exit":  {help: "leave the console", run: quit},
	}
}

func quit(*Console, []string) error { return ErrQuit }

func (c *Console) open(args []string) error {
	opts, err := parseOptions(args[1:])
	if err != nil {
		return err
	}
	return c.ctrl.Open(args[0], opts)
}

func (c *Console) choice(args []string) error {
	prompt := strings.Join(args[1:], " ")
	if isJSON(args[0]) {
		return c.ctrl.PromptForChoiceJSON(args[0], prompt)
	}
	items, err := parsePairs(args[0])
	if err != nil {
		return err
	}
	return c.ctrl.PromptForChoice(items, prompt)
}

func (c *Console) entities(args []string) error {
	allowNew := false
	if args[0] == "--new" || args[0] == "-n" {
		allowNew = true
		args = args[1:]
		if len(args) == 0 {
			return fmt.Errorf("usage: entities %s", commands["entities"].usage)
		}
	}
	return c.ctrl.PromptForEntities(splitList(args[0]), strings.Join(args[1:], " "), allowNew)
}

func (c *Console) upload(args []string) error {
	name, items := args[0], strings.Join(args[1:], " ")
	done := c.completion("upload " + name)
	if isJSON(items) {
		return c.ctrl.UploadValuesJSON(name, items, done)
	}
	pairs, err := parsePairs(items)
	if err != nil {
		return err
	}
	return c.ctrl.UploadValues(name, pairs, done)
}

func (c *Console) clear(args []string) error {
	return c.ctrl.ClearValues(args[0], c.completion("clear "+args[0]))
}

func (c *Console) clearAll([]string) error {
	return c.ctrl.ClearAllValues(c.completion("clearall"))
}

func (c *Console) inline(args []string) error {
	pairs, err := parsePairs(strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	return c.ctrl.SetInlineValues(args[0], pairs)
}

func (c *Console) say(args []string) error {
	if c.sayer == nil {
		return errors.New("the engine does not accept spoken input")
	}
	return c.sayer.Say(strings.Join(args, " "))
}

func (c *Console) crash(args []string) error {
	if c.crasher == nil {
		return errors.New("the engine cannot simulate faults")
	}
	msg := strings.Join(args, " ")
	if msg == "" {
		msg = "simulated connection loss"
	}
	c.crasher.Crash(&va.Fault{Code: va.NetworkError, Message: msg})
	return nil
}

func (c *Console) state([]string) error {
	model := c.ctrl.ActiveModel()
	if model == "" {
		model = "-"
	}
	c.println(fmt.Sprintf("lifecycle=%s dialog=%s model=%s pending=%d",
		c.ctrl.State(), c.ctrl.DialogState(), model, c.ctrl.PendingOperations()))
	return nil
}

func (c *Console) help([]string) error {
	names := make([]string, 0, len(commands))
	for n := range commands {
		names = append(names, n)
	}
	slices.Sort(names)

	var b strings.Builder
	for _, n := range names {
		cmd := commands[n]
		fmt.Fprintf(&b, "  %-34s %s\n", strings.TrimSpace(n+" "+cmd.usage), c.styles.dim.Render(cmd.help))
	}
	c.print(b.String())
	return nil
}

// completion returns a handler printing the outcome of a vocabulary
// operation.
func (c *Console) completion(label string) func(error) {
	return func(err error) {
		if err != nil {
			c.println(c.styles.err.Render(label + ": " + describe(err)))
			return
		}
		c.println(c.styles.ok.Render(label + ": done"))
	}
}

func (c *Console) showPrompt() {
	if c.prompt != "" {
		c.print(c.styles.prompt.Render(c.prompt))
	}
}

func (c *Console) print(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = io.WriteString(c.out, s)
}

func (c *Console) println(s string) { c.print(s + "\n") }

// describe renders err with its result code.
func describe(err error) string {
	var f *va.Fault
	if errors.As(err, &f) {
		return fmt.Sprintf("[%s] %s", f.Code, f.Text())
	}
	return err.Error()
}
