package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"smsform/pkg/config"
	"smsform/pkg/conversation"
	"smsform/pkg/dialogue"
	"smsform/pkg/dispatch"
	"smsform/pkg/logger"
	"smsform/pkg/provider"
	uichat "smsform/pkg/ui/chat"
)

const defaultChatPhone = "+10000000000"

var (
	promptText string
	chatPhone  string
	chatPlain  bool
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Fill out the form locally from the terminal",
	Long:  "Runs the form dialogue against the configured reply provider without sending SMS. Each line you type is handled like an inbound text message.",
	Run: func(cmd *cobra.Command, args []string) {
		prompt := resolvePrompt(args)

		cfg, err := config.LoadConfig()
		if err != nil {
			fmt.Printf("failed to load config: %v\n", err)
			return
		}

		appLogger, err := logger.New(cfg.Logging)
		if err != nil {
			fmt.Printf("failed to initialize logger: %v\n", err)
			return
		}

		client, err := provider.New(cfg)
		if err != nil {
			fmt.Printf("failed to initialize provider: %v\n", err)
			return
		}

		ctx := context.Background()
		if err := client.Health(ctx); err != nil {
			fmt.Printf("provider health check failed: %v\n", err)
			return
		}

		opts := dialogue.OptionsFromConfig(cfg)
		opts.Logger = appLogger
		engine, err := dialogue.New(client, opts)
		if err != nil {
			fmt.Printf("failed to initialize dialogue: %v\n", err)
			return
		}

		session := newChatSession(engine, chatPhone, appLogger)
		if prompt != "" {
			if err := session.send(ctx, prompt); err != nil {
				fmt.Printf("message failed: %v\n", err)
			}
			return
		}

		if chatPlain {
			session.runInteractive(ctx, os.Stdin)
			return
		}

		info := uichat.Info{Provider: cfg.Provider.Type, Model: cfg.Provider.Model, Phone: session.phone}
		if err := uichat.Run(ctx, session.turn, info); err != nil {
			fmt.Printf("chat session failed: %v\n", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVarP(&promptText, "message", "m", "", "single message to send")
	chatCmd.Flags().StringVar(&chatPhone, "phone", defaultChatPhone, "phone number the local conversation is keyed by")
	chatCmd.Flags().BoolVar(&chatPlain, "plain", false, "use a plain line-based prompt instead of the full-screen view")
}

func resolvePrompt(args []string) string {
	if value := strings.TrimSpace(promptText); value != "" {
		return value
	}

	if len(args) == 0 {
		return ""
	}

	value := strings.TrimSpace(strings.Join(args, " "))
	if value == "" {
		return ""
	}

	return value
}

type chatSession struct {
	engine dispatch.Stepper
	store  *conversation.Store
	phone  string
	log    *slog.Logger
	last   conversation.State
}

func newChatSession(engine dispatch.Stepper, phone string, log *slog.Logger) *chatSession {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		phone = defaultChatPhone
	}
	if log == nil {
		log = slog.Default()
	}

	return &chatSession{
		engine: engine,
		store:  conversation.NewStore(),
		phone:  phone,
		log:    log.With("component", "cmd.chat"),
	}
}

// turn applies one message to the local conversation.
func (c *chatSession) turn(ctx context.Context, text string) (uichat.Turn, error) {
	var outcome dialogue.Outcome
	st, err := c.store.Mutate(ctx, c.phone, func(st *conversation.State) error {
		outcome = c.engine.Step(ctx, st, text)
		if errors.Is(outcome.Err, dialogue.ErrEmptyMessage) {
			return outcome.Err
		}
		return nil
	})
	if err != nil {
		return uichat.Turn{}, err
	}

	if outcome.Fallback {
		c.log.Warn("Reply generation failed", "error", outcome.Err)
	}

	c.last = st
	return uichat.Turn{
		Reply:    outcome.Reply,
		Fallback: outcome.Fallback,
		Progress: progressOf(st),
	}, nil
}

// send applies one message and prints the reply.
func (c *chatSession) send(ctx context.Context, text string) error {
	turn, err := c.turn(ctx, text)
	if err != nil {
		return err
	}

	printAssistantMessage(turn.Reply)
	if turn.Progress.Complete {
		printCollected(c.last)
	}
	return nil
}

func progressOf(st conversation.State) uichat.Progress {
	return uichat.Progress{
		Collected: len(st.Collected),
		Total:     len(conversation.FieldOrder),
		Pending:   st.Pending.Label(),
		Complete:  st.Complete(),
	}
}

func (c *chatSession) runInteractive(ctx context.Context, in io.Reader) {
	scanner := bufio.NewScanner(in)

	for {
		fmt.Print("📱 ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				fmt.Printf("input error: %v\n", err)
			}
			return
		}

		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if isExitCommand(text) {
			return
		}

		if err := c.send(ctx, text); err != nil {
			fmt.Printf("message failed: %v\n", err)
		}
	}
}

func printAssistantMessage(message string) {
	lines := assistantLines(message)
	for _, line := range lines {
		fmt.Printf("💬 %s\n", line)
	}
	if len(lines) > 0 {
		fmt.Println()
	}
}

func printCollected(st conversation.State) {
	fmt.Println("Form complete:")
	for _, field := range conversation.FieldOrder {
		fmt.Printf("  %-14s %s\n", field.Label()+":", st.Collected[field])
	}
	fmt.Println()
}

func assistantLines(message string) []string {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return nil
	}

	return strings.Split(trimmed, "\n")
}

func isExitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "quit", ":q":
		return true
	default:
		return false
	}
}
