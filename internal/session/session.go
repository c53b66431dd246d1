// Package session is the Saving-Session Client (spec §4.5/§6): a GraphQL
// collaborator that exchanges an API key for a short-lived JWT
// (obtainKrakenToken) and then queries ONGOING demand-response events.
// Grounded directly on original_source/src/Octopus_saving_sessions.py —
// the distilled spec names the GraphQL/JWT shape (§6) but the exact
// mutation/query text only survives in the Python original — rebuilt in
// the teacher's REST-client idiom (context-scoped http.Client, wrapped
// errors, safe-default on failure).
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/kilowattlabs/chargesched/internal/model"
)

const requestTimeout = 10 * time.Second

const tokenQuery = `mutation obtainKrakenToken($input: ObtainJSONWebTokenInput!) {
  obtainKrakenToken(input: $input) { token }
}`

const sessionsQuery = `query SavingSessions($accountNumber: String) {
  savingSessions(accountNumber: $accountNumber) {
    events { id code startAt endAt status }
  }
}`

// Client is the Saving-Session Client.
type Client struct {
	graphqlURL    string
	apiKey        string
	accountNumber string
	httpClient    *http.Client

	mu    sync.Mutex
	token string
}

// New returns a Client pointed at the saving-session GraphQL endpoint.
func New(graphqlURL, apiKey, accountNumber string) *Client {
	return &Client{
		graphqlURL:    graphqlURL,
		apiKey:        apiKey,
		accountNumber: accountNumber,
		httpClient:    &http.Client{Timeout: requestTimeout},
	}
}

type graphqlRequest struct {
	Query     string `json:"query"`
	Variables any    `json:"variables"`
}

func (c *Client) post(ctx context.Context, req graphqlRequest, authHeader string) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("session: encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("session: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if authHeader != "" {
		httpReq.Header.Set("Authorization", authHeader)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("session: transport error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("session: graphql endpoint returned status %d", resp.StatusCode)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, fmt.Errorf("session: read response: %w", err)
	}
	return buf.Bytes(), nil
}

type tokenResponse struct {
	Data struct {
		ObtainKrakenToken struct {
			Token string `json:"token"`
		} `json:"obtainKrakenToken"`
	} `json:"data"`
}

func (c *Client) obtainToken(ctx context.Context) (string, error) {
	raw, err := c.post(ctx, graphqlRequest{
		Query: tokenQuery,
		Variables: map[string]any{
			"input": map[string]any{"APIKey": c.apiKey},
		},
	}, "")
	if err != nil {
		return "", err
	}
	var parsed tokenResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("session: decode token response: %w", err)
	}
	if parsed.Data.ObtainKrakenToken.Token == "" {
		return "", fmt.Errorf("session: token response had no token")
	}
	return parsed.Data.ObtainKrakenToken.Token, nil
}

type sessionsResponse struct {
	Data struct {
		SavingSessions struct {
			Events []struct {
				StartAt time.Time `json:"startAt"`
				EndAt   time.Time `json:"endAt"`
				Status  string    `json:"status"`
			} `json:"events"`
		} `json:"savingSessions"`
	} `json:"data"`
}

// GetActiveSessions returns zero or more ONGOING saving-session windows.
// Any failure (token exchange or query) is logged and returns an empty
// slice, per spec §4.5/§7: a saving-session outage never terminalises a
// schedule.
func (c *Client) GetActiveSessions(ctx context.Context) []model.SavingSession {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()

	if token == "" {
		newToken, err := c.obtainToken(ctx)
		if err != nil {
			slog.WarnContext(ctx, "session: obtain_token failed", "error", err)
			return nil
		}
		token = newToken
		c.mu.Lock()
		c.token = token
		c.mu.Unlock()
	}

	raw, err := c.post(ctx, graphqlRequest{
		Query:     sessionsQuery,
		Variables: map[string]any{"accountNumber": c.accountNumber},
	}, "JWT "+token)
	if err != nil {
		// token may have expired; drop it so the next call re-authenticates
		c.mu.Lock()
		c.token = ""
		c.mu.Unlock()
		slog.WarnContext(ctx, "session: get_active_sessions failed", "error", err)
		return nil
	}

	var parsed sessionsResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		slog.WarnContext(ctx, "session: decode sessions response failed", "error", err)
		return nil
	}

	var active []model.SavingSession
	for _, e := range parsed.Data.SavingSessions.Events {
		if e.Status == "ONGOING" {
			active = append(active, model.SavingSession{StartUTC: e.StartAt.UTC(), EndUTC: e.EndAt.UTC()})
		}
	}
	return active
}

// Overlaps reports whether any session intersects [windowStart, windowEnd)
// (spec §4.5).
func Overlaps(windowStart, windowEnd time.Time, sessions []model.SavingSession) bool {
	return model.Overlaps(windowStart, windowEnd, sessions)
}
