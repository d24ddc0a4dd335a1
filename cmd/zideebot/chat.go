package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"zideebot/internal/console"
)

func chatCmd() *cobra.Command {
	var noSpinner bool
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Try commands in a local console without WhatsApp",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := newCore(ctx, cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			// No transport: group commands answer "groups only" and
			// nothing is sent.
			if err := rt.buildDispatcher(nil); err != nil {
				return err
			}
			loop := rt.newLoop(rt.newOutbox(nil))

			c := console.New(console.Config{
				Processor: loop,
				BotName:   cfg.General.BotName,
				Logger:    logger.With("component", "console"),
				Spinner:   !noSpinner,
			})
			return c.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&noSpinner, "no-spinner", false, "disable the progress indicator")
	return cmd
}
