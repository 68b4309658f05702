package gmailc

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// Scopes requested on first consent. Readonly covers history, message
// fetches and label checks; the pubsub scope lets users.watch bind the
// topic. Nothing here writes to the mailbox, so no modify scope.
var Scopes = []string{
	gmail.GmailReadonlyScope,
	"https://www.googleapis.com/auth/pubsub",
}

// NewService builds an authenticated Gmail service from the OAuth
// client secret in credentialsPath (Desktop app type) and the cached
// token in tokenPath. When no token is cached yet it runs the
// out-of-band consent flow: prints the auth URL and reads the code
// from stdin, then caches the exchanged token for subsequent runs.
func NewService(ctx context.Context, credentialsPath, tokenPath string) (*gmail.Service, error) {
	secret, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s (download it from the Cloud Console): %w", credentialsPath, err)
	}
	config, err := google.ConfigFromJSON(secret, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse client secret file: %w", err)
	}

	token, err := tokenFromFile(tokenPath)
	if err != nil {
		token, err = tokenFromConsent(ctx, config)
		if err != nil {
			return nil, err
		}
		if err := saveToken(tokenPath, token); err != nil {
			return nil, err
		}
	}

	client := config.Client(ctx, token)
	svc, err := gmail.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}
	return svc, nil
}

func tokenFromFile(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	token := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(token); err != nil {
		return nil, fmt.Errorf("failed to decode cached token %s: %w", path, err)
	}
	return token, nil
}

func tokenFromConsent(ctx context.Context, config *oauth2.Config) (*oauth2.Token, error) {
	authURL := config.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	fmt.Printf("Go to the following link in your browser, then paste the authorization code:\n%v\n> ", authURL)

	var code string
	if _, err := fmt.Scan(&code); err != nil {
		return nil, fmt.Errorf("failed to read authorization code: %w", err)
	}

	token, err := config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	return token, nil
}

func saveToken(path string, token *oauth2.Token) error {
	log.Printf("Caching oauth token to %s", path)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to cache oauth token: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}
