package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shurcooL/githubv4"
	"github.com/wesm/work-inbox/internal/logging"
	"golang.org/x/oauth2"
)

// GraphQLClient represents a client for the GitHub GraphQL API
type GraphQLClient struct {
	client *githubv4.Client
}

// NewGraphQLClient creates a new GraphQL client. baseURL is the REST base URL of a GitHub
// Enterprise or test server; empty means github.com.
func NewGraphQLClient(token, baseURL string) *GraphQLClient {
	var httpClient *http.Client
	if token != "" {
		src := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		)
		httpClient = oauth2.NewClient(context.Background(), src)
	}

	if baseURL == "" {
		return &GraphQLClient{client: githubv4.NewClient(httpClient)}
	}
	endpoint := strings.TrimSuffix(baseURL, "/")
	endpoint = strings.TrimSuffix(endpoint, "/v3")
	return &GraphQLClient{client: githubv4.NewEnterpriseClient(endpoint+"/graphql", httpClient)}
}

// Viewer is the authenticated GitHub user
type Viewer struct {
	Login          string
	Name           string
	RateRemaining  int
	RateLimit      int
	RateLimitReset time.Time
}

// Viewer looks up the login of the token owner along with the current rate limit
func (c *GraphQLClient) Viewer(ctx context.Context) (*Viewer, error) {
	var query struct {
		RateLimit struct {
			Limit     githubv4.Int
			Remaining githubv4.Int
			ResetAt   githubv4.DateTime
		}
		Viewer struct {
			Login githubv4.String
			Name  githubv4.String
		}
	}

	if err := c.client.Query(ctx, &query, nil); err != nil {
		return nil, fmt.Errorf("failed to query viewer: %w", err)
	}

	viewer := &Viewer{
		Login:          string(query.Viewer.Login),
		Name:           string(query.Viewer.Name),
		RateRemaining:  int(query.RateLimit.Remaining),
		RateLimit:      int(query.RateLimit.Limit),
		RateLimitReset: query.RateLimit.ResetAt.Time,
	}

	// Check rate limit and log
	if viewer.RateLimit > 0 && viewer.RateRemaining < viewer.RateLimit/10 {
		logging.Warn("GraphQL rate limit status for %s: %d/%d remaining, resets at %s",
			viewer.Login, viewer.RateRemaining, viewer.RateLimit, viewer.RateLimitReset.Format(time.RFC3339))
	}

	return viewer, nil
}
