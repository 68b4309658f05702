package app

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Kumneger49/AutoMailUsingLocalLLM/services/automail-service/internal/db"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Setup database tables",
	Long:  "Creates the emails, watches and history_checkpoints tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		// Initialize database
		if err := db.Init(ctx); err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer db.Close()

		// Run migrations
		fmt.Println("Running migrations...")
		migrationSQL := `
			-- Processed emails with their LLM summaries and draft replies
			CREATE TABLE IF NOT EXISTS emails (
			    id UUID PRIMARY KEY,
			    message_id VARCHAR(64) NOT NULL UNIQUE,
			    thread_id VARCHAR(64) NOT NULL DEFAULT '',
			    from_address VARCHAR(512) NOT NULL DEFAULT '',
			    to_address VARCHAR(512) NOT NULL DEFAULT '',
			    subject TEXT NOT NULL DEFAULT '',
			    snippet TEXT NOT NULL DEFAULT '',
			    body TEXT NOT NULL DEFAULT '',
			    summary TEXT NOT NULL DEFAULT '',
			    draft_reply TEXT NOT NULL DEFAULT '',
			    history_id BIGINT NOT NULL DEFAULT 0,
			    received_at TIMESTAMP WITH TIME ZONE NOT NULL,
			    processed_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_emails_received_at ON emails(received_at);
			CREATE INDEX IF NOT EXISTS idx_emails_message_id ON emails(message_id);

			-- Gmail watch registrations; Gmail keeps one watch per mailbox
			CREATE TABLE IF NOT EXISTS watches (
			    email_address VARCHAR(320) PRIMARY KEY,
			    topic VARCHAR(512) NOT NULL,
			    history_id BIGINT NOT NULL,
			    expiration TIMESTAMP WITH TIME ZONE NOT NULL,
			    registered_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			-- How far each mailbox has been synced
			CREATE TABLE IF NOT EXISTS history_checkpoints (
			    email_address VARCHAR(320) PRIMARY KEY,
			    history_id BIGINT NOT NULL,
			    updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);
		`

		if _, err := db.Pool.Exec(ctx, migrationSQL); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}

		fmt.Println("✓ Database setup complete")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(setupCmd)
}
