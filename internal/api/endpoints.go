package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

// Login exchanges credentials for a bearer token (OAuth2 password grant)
// and installs it on the client.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	form := url.Values{
		"grant_type": {"password"},
		"username":   {username},
		"password":   {password},
	}

	var tok TokenResponse
	if err := c.do(ctx, http.MethodPost, "/auth/token", formPayload(form), &tok); err != nil {
		return "", fmt.Errorf("logging in as %s: %w", username, err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("logging in as %s: empty access token", username)
	}

	c.SetToken(tok.AccessToken)
	return tok.AccessToken, nil
}

// ListAccounts returns every configured mail account.
func (c *Client) ListAccounts(ctx context.Context) ([]Account, error) {
	var accounts []Account
	if err := c.get(ctx, "/accounts/", nil, &accounts); err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	return accounts, nil
}

// ListMessages returns one page of messages matching f, newest first.
func (c *Client) ListMessages(ctx context.Context, f MessageFilter) ([]Message, error) {
	var messages []Message
	if err := c.get(ctx, "/messages/", f.query(), &messages); err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	return messages, nil
}

func (f MessageFilter) query() url.Values {
	q := url.Values{}
	if f.AccountID > 0 {
		q.Set("account_id", strconv.Itoa(f.AccountID))
	}
	if f.Folder != "" {
		q.Set("folder", f.Folder)
	}
	if f.ClassificationLabel != "" {
		q.Set("classification_label", f.ClassificationLabel)
	}
	if f.Search != "" {
		q.Set("search", f.Search)
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(min(f.Limit, MaxPageSize)))
	}
	if f.Offset > 0 {
		q.Set("offset", strconv.Itoa(f.Offset))
	}
	return q
}

// ClassifyMessage asks the backend to classify one message. Messages that
// were already classified return their existing label.
func (c *Client) ClassifyMessage(ctx context.Context, messageID string) (*ClassifyResponse, error) {
	var resp ClassifyResponse
	path := "/classify/" + url.PathEscape(messageID)
	if err := c.post(ctx, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("classifying message %s: %w", messageID, err)
	}
	return &resp, nil
}

// StreamSync starts a sync and returns the open event stream. The caller
// must close it. Cancelling ctx aborts the stream.
func (c *Client) StreamSync(ctx context.Context, req SyncRequest) (io.ReadCloser, error) {
	p, err := jsonPayload(req)
	if err != nil {
		return nil, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, "/sync/stream", p)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("opening sync stream for account %d: %w", req.AccountID, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()
		return nil, fmt.Errorf("opening sync stream for account %d: %w",
			req.AccountID, checkStatus(resp.StatusCode, http.MethodPost, "/sync/stream", body))
	}

	return resp.Body, nil
}

// RecentSyncs returns the backend's latest sync audit entries.
func (c *Client) RecentSyncs(ctx context.Context) ([]SyncAudit, error) {
	var resp struct {
		RecentSyncs []SyncAudit `json:"recent_syncs"`
	}
	if err := c.get(ctx, "/sync/status", nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching sync status: %w", err)
	}
	return resp.RecentSyncs, nil
}
