package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Quota holds the sending limits for one sender. A zero limit means
// unlimited.
type Quota struct {
	PerHour int `json:"per_hour"`
	PerDay  int `json:"per_day"`
}

// QuotaService provides sending quotas for senders.
type QuotaService interface {
	GetQuota(ctx context.Context, sender string) (*Quota, error)
}

// QuotaClient fetches quotas from the quota HTTP API.
type QuotaClient struct {
	token   string
	baseURL string

	Client *http.Client
}

// NewQuotaClient creates a new QuotaClient for the given API endpoint.
func NewQuotaClient(token, baseURL string) *QuotaClient {
	return &QuotaClient{token: token, baseURL: baseURL, Client: &http.Client{}}
}

// GetQuota fetches the quota for the given sender.
func (q *QuotaClient) GetQuota(ctx context.Context, sender string) (*Quota, error) {
	url := fmt.Sprintf("%s/api/postfix/quota/%s", q.baseURL, sender)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", q.token))
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "postfix-policy-adapter")

	resp, err := q.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("error fetching quota: %s", resp.Status)
	}

	var quota Quota
	if err := json.NewDecoder(resp.Body).Decode(&quota); err != nil {
		return nil, err
	}

	return &quota, nil
}
