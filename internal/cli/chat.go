package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"TutorChat/internal/bridge"
	"TutorChat/internal/config"
)

func newChatCmd(f *rootFlags) *cobra.Command {
	var conversationID, mode string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive tutoring chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, f, conversationID, mode)
		},
	}
	cmd.Flags().StringVar(&conversationID, "conversation", "", "resume a stored conversation by ID")
	cmd.Flags().StringVar(&mode, "mode", "", "initial mode (hint|guide|solve)")
	return cmd
}

func runChat(cmd *cobra.Command, f *rootFlags, conversationID, mode string) error {
	var m config.Mode
	if mode != "" {
		parsed, err := config.ParseMode(mode)
		if err != nil {
			return err
		}
		m = parsed
	}

	a, err := openApp(f)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bot, err := a.newChatBot(ctx, conversationID)
	if err != nil {
		return err
	}
	if m != "" {
		if err := bot.SetMode(m); err != nil {
			return err
		}
	}
	return bot.Run(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
}

func newServeCmd(f *rootFlags) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the tutor over a websocket for a browser UI",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(f)
			if err != nil {
				return err
			}
			defer a.Close()

			if listen == "" {
				listen = a.cfg.Listen
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			bot, err := a.newChatBot(ctx, "")
			if err != nil {
				return err
			}
			srv, err := bridge.NewServer(bot, a.logger, bridge.Options{
				RatePerSecond: a.cfg.Bridge.RatePerSecond,
				Burst:         a.cfg.Bridge.Burst,
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Serving on ws://%s/ws (Ctrl+C to stop)\n", listen)
			return srv.ListenAndServe(ctx, listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default 127.0.0.1:8787)")
	return cmd
}
