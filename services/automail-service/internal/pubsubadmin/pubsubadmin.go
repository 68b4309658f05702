package pubsubadmin

import (
	"context"
	"fmt"
	"log"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// Admin mutates and inspects the Pub/Sub subscription that pushes
// Gmail notifications to the webhook. The subscription itself is a
// Google-managed resource; we only repoint its push endpoint and read
// its state.
type Admin struct {
	projectID string
	opts      []option.ClientOption
}

// New builds an Admin for the project. credentialsFile may be empty,
// in which case application default credentials are used.
func New(projectID, credentialsFile string) *Admin {
	a := &Admin{projectID: projectID}
	if credentialsFile != "" {
		a.opts = append(a.opts, option.WithCredentialsFile(credentialsFile))
	}
	return a
}

// ConfigurePushEndpoint points the subscription at the webhook URL.
// Pub/Sub starts POSTing push envelopes to the endpoint immediately;
// it must answer 200 or deliveries back off and retry.
func (a *Admin) ConfigurePushEndpoint(ctx context.Context, subscription, endpoint string) error {
	client, err := pubsub.NewClient(ctx, a.projectID, a.opts...)
	if err != nil {
		return fmt.Errorf("failed to create pubsub client: %w", err)
	}
	defer client.Close()

	sub := client.Subscription(subscription)
	_, err = sub.Update(ctx, pubsub.SubscriptionConfigToUpdate{
		PushConfig: &pubsub.PushConfig{Endpoint: endpoint},
	})
	if err != nil {
		return fmt.Errorf("failed to update push config for %s: %w", subscription, err)
	}

	log.Printf("Subscription %s now pushes to %s", subscription, endpoint)
	return nil
}

// SubscriptionActive reports whether the subscription exists and is in
// the active state. Used by the health and status paths to notice a
// dead delivery pipe.
func (a *Admin) SubscriptionActive(ctx context.Context, subscription string) (bool, error) {
	client, err := pubsub.NewClient(ctx, a.projectID, a.opts...)
	if err != nil {
		return false, fmt.Errorf("failed to create pubsub client: %w", err)
	}
	defer client.Close()

	cfg, err := client.Subscription(subscription).Config(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to get config for %s: %w", subscription, err)
	}
	return cfg.State == pubsub.SubscriptionStateActive, nil
}
