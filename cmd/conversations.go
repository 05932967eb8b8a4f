package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"smsform/pkg/config"
	"smsform/pkg/gateway"
)

var serverURL string

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "Inspect or delete conversations on a running server",
}

var conversationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List phone numbers with conversation state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		phones, err := adminClient().Conversations(cmd.Context())
		if err != nil {
			return err
		}
		printPhones(cmd.OutOrStdout(), phones)
		return nil
	},
}

var conversationsShowCmd = &cobra.Command{
	Use:   "show <phone>",
	Short: "Print one conversation as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		view, err := adminClient().Conversation(cmd.Context(), args[0])
		if err != nil {
			if errors.Is(err, gateway.ErrConversationNotFound) {
				return fmt.Errorf("no conversation for %s", args[0])
			}
			return err
		}
		return writeIndentedJSON(cmd.OutOrStdout(), view)
	},
}

var conversationsDeleteCmd = &cobra.Command{
	Use:   "delete <phone>",
	Short: "Delete one conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := adminClient().DeleteConversation(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if result.Deleted {
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", result.PhoneNumber)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "no conversation for %s\n", result.PhoneNumber)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(conversationsCmd)
	conversationsCmd.PersistentFlags().StringVar(&serverURL, "server", "", "server base URL (default from HOST and PORT)")
	conversationsCmd.AddCommand(conversationsListCmd, conversationsShowCmd, conversationsDeleteCmd)
}

func adminClient() *gateway.Client {
	return gateway.NewClient(resolveServerURL())
}

func resolveServerURL() string {
	if value := strings.TrimSpace(serverURL); value != "" {
		return value
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return defaultServerURL(config.ServerConfig{})
	}
	return defaultServerURL(cfg.Server)
}

func defaultServerURL(server config.ServerConfig) string {
	host := strings.TrimSpace(server.Host)
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	port := server.Port
	if port <= 0 {
		port = config.DefaultPort
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port))
}

func printPhones(w io.Writer, phones []string) {
	if len(phones) == 0 {
		fmt.Fprintln(w, "no conversations")
		return
	}
	for _, phone := range phones {
		fmt.Fprintln(w, phone)
	}
}

func writeIndentedJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
