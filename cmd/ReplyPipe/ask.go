package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/BTreeMap/ReplyPipe/internal/store"
	"github.com/spf13/cobra"
)

var askFlags struct {
	userID string
	phone  string
}

var askCmd = &cobra.Command{
	Use:   "ask [message]",
	Short: "Process one message locally and print the strategy response as JSON",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		gen, err := buildGenAI(cfg)
		if err != nil {
			return err
		}
		responses, leadScores, closers := buildCaches(cfg)
		defer closeAll(closers)

		// ask never touches the service database.
		st := store.NewInMemoryStore()
		manager, err := buildManager(cfg, gen, st, responses, leadScores)
		if err != nil {
			return err
		}

		resp := manager.Process(cmd.Context(), strings.Join(args, " "), askFlags.userID, askFlags.phone)
		out, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode response: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	askCmd.Flags().StringVar(&askFlags.userID, "user", "cli", "user id for the message")
	askCmd.Flags().StringVar(&askFlags.phone, "phone", "", "customer phone number")
	rootCmd.AddCommand(askCmd)
}
