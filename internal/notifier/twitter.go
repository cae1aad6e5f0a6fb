package notifier

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dghubble/go-twitter/twitter" //nolint:staticcheck // Using stable v1.1 API
	"github.com/dghubble/oauth1"
	"github.com/pfrederiksen/eventfeeds/internal/event"
	"github.com/pfrederiksen/eventfeeds/internal/feed"
	"github.com/pfrederiksen/eventfeeds/internal/logger"
)

// postInterval spaces consecutive posts
const postInterval = 2 * time.Second

// Credentials are the OAuth1 keys of the posting account
type Credentials struct {
	APIKey            string
	APISecret         string
	AccessToken       string
	AccessTokenSecret string
}

type statusUpdater interface {
	Update(status string, params *twitter.StatusUpdateParams) (*twitter.Tweet, *http.Response, error)
}

// TwitterNotifier posts new events to Twitter
type TwitterNotifier struct {
	statuses statusUpdater
	interval time.Duration
}

// NewTwitterNotifier creates a notifier authenticated with creds
func NewTwitterNotifier(creds Credentials) (*TwitterNotifier, error) {
	if creds.APIKey == "" || creds.APISecret == "" || creds.AccessToken == "" || creds.AccessTokenSecret == "" {
		return nil, fmt.Errorf("missing required Twitter credentials")
	}

	config := oauth1.NewConfig(creds.APIKey, creds.APISecret)
	token := oauth1.NewToken(creds.AccessToken, creds.AccessTokenSecret)
	httpClient := config.Client(oauth1.NoContext, token)
	client := twitter.NewClient(httpClient)

	return &TwitterNotifier{statuses: client.Statuses, interval: postInterval}, nil
}

// Notify posts one status per inserted event, stopping at the first failure
func (n *TwitterNotifier) Notify(ctx context.Context, f *feed.Feed, inserted []*event.Canonical) error {
	for i, evt := range inserted {
		if _, _, err := n.statuses.Update(formatPost(f, evt), nil); err != nil {
			return fmt.Errorf("posting event %s: %w", evt.OriginID, err)
		}
		logger.Debug("Posted new event", logger.Fields{"feed": f.Name, "origin_id": evt.OriginID})

		if i < len(inserted)-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(n.interval):
			}
		}
	}
	return nil
}
