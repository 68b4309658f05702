package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Kumneger49/AutoMailUsingLocalLLM/services/automail-service/internal/db"
	"github.com/Kumneger49/AutoMailUsingLocalLLM/services/automail-service/internal/store"
	"github.com/Kumneger49/AutoMailUsingLocalLLM/services/automail-service/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Manage the Gmail watch registration",
}

var watchRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register (or renew) the Gmail watch",
	Long:  "Calls users.watch for the configured topic. Re-registering replaces the active watch, so this also serves as manual renewal",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRegistrar(func(ctx context.Context, r *watcher.Registrar) error {
			w, err := r.Register(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("✓ Watch registered for %s\n", w.EmailAddress)
			fmt.Printf("  topic:      %s\n", w.Topic)
			fmt.Printf("  history id: %d\n", w.HistoryID)
			fmt.Printf("  expires:    %s\n", w.Expiration.Format(time.RFC3339))
			return nil
		})
	},
}

var watchStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the Gmail watch",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRegistrar(func(ctx context.Context, r *watcher.Registrar) error {
			if err := r.Stop(ctx); err != nil {
				return err
			}
			fmt.Println("✓ Watch stopped")
			return nil
		})
	},
}

var watchStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current watch registration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRegistrar(func(ctx context.Context, r *watcher.Registrar) error {
			w, err := r.Status(ctx)
			if errors.Is(err, store.ErrNotFound) {
				fmt.Println("No watch registered")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Printf("Watch for %s\n", w.EmailAddress)
			fmt.Printf("  topic:      %s\n", w.Topic)
			fmt.Printf("  history id: %d\n", w.HistoryID)
			fmt.Printf("  expires:    %s", w.Expiration.Format(time.RFC3339))
			if w.Expired(time.Now()) {
				fmt.Print(" (EXPIRED)")
			}
			fmt.Println()
			return nil
		})
	},
}

func withRegistrar(fn func(context.Context, *watcher.Registrar) error) error {
	ctx := context.Background()

	if err := db.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	gmail, err := newGmailClient(ctx)
	if err != nil {
		return err
	}

	registrar := watcher.NewRegistrar(gmail, store.New(db.Pool), viper.GetString("pubsub.topic"))
	return fn(ctx, registrar)
}

func init() {
	watchCmd.AddCommand(watchRegisterCmd, watchStopCmd, watchStatusCmd)
	rootCmd.AddCommand(watchCmd)
}
