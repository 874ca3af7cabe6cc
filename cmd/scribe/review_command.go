package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"scribe/internal/coord"
	"scribe/internal/review"
)

func newReviewCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Hero review utilities",
	}
	cmd.AddCommand(newReviewSubmitCommand(ctx))
	return cmd
}

func newReviewSubmitCommand(ctx *commandContext) *cobra.Command {
	var sub review.Submission
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Queue review notes to be merged into a hero's detailed review",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if sub.ChannelID == "" {
				sub.ChannelID = cfg.Discord.ChannelID
			}
			return withStore(ctx, cmd, func(store coord.Store) error {
				if err := review.Enqueue(cmd.Context(), store, sub); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued review notes for %s\n", sub.Hero)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&sub.Hero, "hero", "", "Hero display title")
	cmd.Flags().StringVarP(&sub.Message, "message", "m", "", "Review notes to merge")
	cmd.Flags().StringVar(&sub.ChannelID, "channel", "", "Channel the proposal is posted to (defaults to discord.channel_id)")
	return cmd
}
