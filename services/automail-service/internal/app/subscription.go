package app

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Kumneger49/AutoMailUsingLocalLLM/services/automail-service/internal/pubsubadmin"
)

var subscriptionCmd = &cobra.Command{
	Use:   "subscription",
	Short: "Manage the Pub/Sub push subscription",
}

var subscriptionSetupCmd = &cobra.Command{
	Use:   "setup <push-endpoint-url>",
	Short: "Point the push subscription at the webhook",
	Long:  "Updates the configured subscription to push to the given HTTPS endpoint, e.g. https://example.com/pubsub/gmail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		endpoint := args[0]

		projectID := viper.GetString("pubsub.project_id")
		subscription := viper.GetString("pubsub.subscription")
		if projectID == "" || subscription == "" {
			return fmt.Errorf("pubsub.project_id and pubsub.subscription must be configured")
		}

		admin := pubsubadmin.New(projectID, viper.GetString("pubsub.credentials"))
		if err := admin.ConfigurePushEndpoint(ctx, subscription, endpoint); err != nil {
			return fmt.Errorf("failed to configure push endpoint: %w", err)
		}
		fmt.Printf("✓ Subscription %s now pushes to %s\n", subscription, endpoint)

		active, err := admin.SubscriptionActive(ctx, subscription)
		if err != nil {
			return fmt.Errorf("failed to check subscription state: %w", err)
		}
		if !active {
			fmt.Println("Warning: subscription is not in the active state")
		}
		return nil
	},
}

func init() {
	subscriptionCmd.AddCommand(subscriptionSetupCmd)
	rootCmd.AddCommand(subscriptionCmd)
}
