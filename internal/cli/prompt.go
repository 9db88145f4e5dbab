package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/google/uuid"
	"github.com/neoclaw-ai/turnrouter/internal/agent"
	"github.com/neoclaw-ai/turnrouter/internal/notify"
	"github.com/spf13/cobra"
)

var errResponseFailed = errors.New("response failed")

// responder is the part of agent.Service the CLI drives.
type responder interface {
	Start(parent context.Context, p agent.Prompt) (string, <-chan agent.Result, error)
}

// chatSession holds the conversation state of one CLI chat.
type chatSession struct {
	svc      responder
	hub      *notify.Hub
	chatID   string
	modelID  string
	profile  string
	thinking *bool
}

func newPromptCmd() *cobra.Command {
	var (
		prompt   string
		chatID   string
		modelID  string
		profile  string
		thinking bool
	)

	cmd := &cobra.Command{
		Use:     "prompt",
		Aliases: []string{"chat"},
		Short:   "Send a prompt message (or start interactive chat without -p)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			session := &chatSession{
				svc:     app.Service(),
				hub:     app.Hub(),
				chatID:  chatID,
				modelID: modelID,
				profile: profile,
			}
			if session.chatID == "" {
				session.chatID = uuid.NewString()
			}
			if cmd.Flags().Changed("thinking") {
				session.thinking = &thinking
			}

			if strings.TrimSpace(prompt) != "" {
				if strings.HasPrefix(strings.TrimSpace(prompt), "/") {
					return fmt.Errorf("slash commands are not supported in one-shot -p mode")
				}
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
				defer stop()
				res, err := session.Send(ctx, prompt, cmd.OutOrStdout())
				if err != nil {
					return err
				}
				if res.State == agent.StateFailed {
					return errResponseFailed
				}
				return nil
			}

			return runPromptREPL(cmd.Context(), session, cmd.InOrStdin(), bufio.NewReader(cmd.InOrStdin()), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "Prompt message")
	cmd.Flags().StringVarP(&modelID, "model", "m", "", "Model id (defaults to defaults.model)")
	cmd.Flags().StringVar(&profile, "profile", "", "Agent profile name")
	cmd.Flags().StringVar(&chatID, "chat", "", "Chat id to continue")
	cmd.Flags().BoolVar(&thinking, "thinking", false, "Request thinking mode")

	return cmd
}

// Send starts one response, streams its text to out and waits for it to
// finish. Cancelling ctx stops the response.
func (s *chatSession) Send(ctx context.Context, text string, out io.Writer) (agent.Result, error) {
	sub := s.hub.Subscribe(notify.ForChat(s.chatID))
	defer sub.Close()

	id, done, err := s.svc.Start(ctx, agent.Prompt{
		ChatID:   s.chatID,
		Text:     text,
		ModelID:  s.modelID,
		Profile:  s.profile,
		Thinking: s.thinking,
	})
	if err != nil {
		return agent.Result{}, err
	}

	var printed strings.Builder
	write := func(ev notify.Event) {
		if ev.MessageID == id && ev.Kind == notify.ChunkReceived {
			printed.WriteString(ev.Delta)
			fmt.Fprint(out, ev.Delta)
		}
	}
	for {
		select {
		case ev := <-sub.Events():
			write(ev)
		case res := <-done:
			for drained := false; !drained; {
				select {
				case ev := <-sub.Events():
					write(ev)
				default:
					drained = true
				}
			}
			// Chunks dropped for a slow terminal are recovered from the final message.
			if rest, ok := strings.CutPrefix(res.Message.Content, printed.String()); ok {
				fmt.Fprint(out, rest)
			}
			fmt.Fprintln(out)
			if res.State == agent.StateInterrupted {
				fmt.Fprintln(out, "[stopped]")
			}
			return res, nil
		}
	}
}
