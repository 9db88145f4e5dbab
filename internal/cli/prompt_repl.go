package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/google/uuid"
	"golang.org/x/term"
)

const defaultReplPrompt = "you> "

type promptChannel interface {
	Read(ctx context.Context) (string, error)
	Out() io.Writer
}

type readlinePromptChannel struct {
	rl  *readline.Instance
	out io.Writer
}

func newReadlinePromptChannel(in io.Reader, out io.Writer) (*readlinePromptChannel, error) {
	stdin, ok := in.(io.ReadCloser)
	if !ok {
		return nil, fmt.Errorf("stdin is not read-closer")
	}
	inFile, ok := in.(*os.File)
	if !ok || !term.IsTerminal(int(inFile.Fd())) {
		return nil, fmt.Errorf("stdin is not terminal")
	}
	outFile, ok := out.(*os.File)
	if !ok || !term.IsTerminal(int(outFile.Fd())) {
		return nil, fmt.Errorf("stdout is not terminal")
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          defaultReplPrompt,
		HistoryFile:     filepath.Join(os.TempDir(), ".turnrouter_history"),
		HistoryLimit:    200,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Stdin:           stdin,
		Stdout:          out,
		Stderr:          out,
	})
	if err != nil {
		return nil, err
	}
	return &readlinePromptChannel{rl: rl, out: out}, nil
}

func (c *readlinePromptChannel) Read(_ context.Context) (string, error) {
	line, err := c.rl.Readline()
	if err != nil {
		if err == readline.ErrInterrupt || err == io.EOF {
			return "", io.EOF
		}
		return "", err
	}
	return line, nil
}

func (c *readlinePromptChannel) Out() io.Writer { return c.out }

func (c *readlinePromptChannel) Close() error {
	return c.rl.Close()
}

type stdioPromptChannel struct {
	in     *bufio.Reader
	out    io.Writer
	prompt string
}

func newStdioPromptChannel(in *bufio.Reader, out io.Writer) *stdioPromptChannel {
	return &stdioPromptChannel{
		in:     in,
		out:    out,
		prompt: defaultReplPrompt,
	}
}

func (c *stdioPromptChannel) Read(_ context.Context) (string, error) {
	if _, err := fmt.Fprint(c.out, c.prompt); err != nil {
		return "", err
	}
	line, err := c.in.ReadString('\n')
	if err != nil {
		if len(line) > 0 {
			return line, nil
		}
		return "", err
	}
	return line, nil
}

func (c *stdioPromptChannel) Out() io.Writer { return c.out }

func runPromptREPL(ctx context.Context, session *chatSession, in io.Reader, fallbackReader *bufio.Reader, out io.Writer) error {
	var channel promptChannel
	readlineChannel, err := newReadlinePromptChannel(in, out)
	if err == nil {
		channel = readlineChannel
	}
	if channel == nil {
		channel = newStdioPromptChannel(fallbackReader, out)
	}
	if closer, ok := any(channel).(io.Closer); ok {
		defer closer.Close()
	}

	return runPromptLoop(ctx, session, channel)
}

func runPromptLoop(ctx context.Context, session *chatSession, channel promptChannel) error {
	out := channel.Out()
	fmt.Fprintln(out, "Interactive mode. Ctrl-C stops a response; /new starts a new chat, /model <id> switches model, /quit exits.")

	for {
		raw, err := channel.Read(ctx)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		input := strings.TrimSpace(raw)
		if input == "" {
			continue
		}
		switch fields := strings.Fields(input); strings.ToLower(fields[0]) {
		case "/quit", "quit", "/exit", "exit":
			return nil
		case "/new":
			session.chatID = uuid.NewString()
			fmt.Fprintf(out, "new chat %s\n", session.chatID)
			continue
		case "/model":
			if len(fields) < 2 {
				fmt.Fprintf(out, "model: %s\n", orDefault(session.modelID))
				continue
			}
			session.modelID = fields[1]
			fmt.Fprintf(out, "model set to %s\n", session.modelID)
			continue
		}

		fmt.Fprint(out, "assistant> ")
		turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
		_, err = session.Send(turnCtx, input, out)
		stop()
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
		fmt.Fprintln(out)
	}
}

func orDefault(modelID string) string {
	if modelID == "" {
		return "(default)"
	}
	return modelID
}
