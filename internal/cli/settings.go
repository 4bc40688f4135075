package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newKeyCmd(f *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage the API key",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set [api-key]",
		Short: "Save the API key (prompts when omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(f)
			if err != nil {
				return err
			}
			defer a.Close()

			var value string
			if len(args) == 1 {
				value = args[0]
			} else {
				value, err = promptSecret(cmd.InOrStdin(), cmd.ErrOrStderr(), "API key: ")
				if err != nil {
					return err
				}
			}
			if err := a.registry.SetCredential(value); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "API key saved.")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show whether an API key is configured",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(f)
			if err != nil {
				return err
			}
			defer a.Close()

			key, ok := a.registry.Credential()
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "API key: not configured")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "API key: configured (%s)\n", maskKey(key))
			return nil
		},
	})
	return cmd
}

// promptSecret reads one line without echo when in is a terminal.
func promptSecret(in io.Reader, prompt io.Writer, label string) (string, error) {
	fmt.Fprint(prompt, label)
	if file, ok := in.(*os.File); ok && term.IsTerminal(int(file.Fd())) {
		raw, err := term.ReadPassword(int(file.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("failed to read API key: %w", err)
		}
		return string(raw), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read API key: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func maskKey(key string) string {
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", 8) + key[len(key)-4:]
}

func newModelCmd(f *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "List models or set the preferred one",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List models in fallback order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(f)
			if err != nil {
				return err
			}
			defer a.Close()

			preferred := a.registry.PreferredModel()
			for i, id := range a.registry.Models() {
				mark := " "
				if id == preferred {
					mark = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %d. %s - %s\n", mark, i+1, id, a.registry.Describe(id))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <model-id>",
		Short: "Set the preferred model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(f)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.registry.SetPreferredModel(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Preferred model set to: %s\n", args[0])
			return nil
		},
	})
	return cmd
}

func newConversationsCmd(f *rootFlags) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "conversations",
		Short: "List stored conversations, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(f)
			if err != nil {
				return err
			}
			defer a.Close()

			infos, err := a.store.ListConversations(limit)
			if err != nil {
				return err
			}
			if len(infos) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No conversations yet.")
				return nil
			}
			for _, info := range infos {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %-5s  %d turns\n",
					info.ID, info.StartedAt.Local().Format("2006-01-02 15:04"), info.Mode, info.Turns)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of conversations")
	return cmd
}
