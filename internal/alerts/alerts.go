// Package alerts fetches the hydrological warning feed and filters it by
// province and alarm status.
package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/nickcecere/ragd/internal/config"
	"github.com/nickcecere/ragd/internal/errs"
)

// ErrNotConfigured is returned by Fetch when no feed URL is set.
var ErrNotConfigured = errors.New("alerts feed URL is not configured")

// Province is an administrative region an alert applies to.
type Province struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	City     string `json:"city"`
	SlugName string `json:"slug_name"`
}

// News is a single alert. Unknown fields in the feed are ignored.
type News struct {
	ID                           int                 `json:"id"`
	Title                        string              `json:"title"`
	Shortcut                     string              `json:"shortcut"`
	Content                      string              `json:"content"`
	RSOAlarm                     string              `json:"rso_alarm"`
	RSOIcon                      *string             `json:"rso_icon"`
	ValidFrom                    string              `json:"valid_from"`
	ValidTo                      string              `json:"valid_to"`
	Repetition                   *string             `json:"repetition"`
	Longitude                    *float64            `json:"longitude"`
	Latitude                     *float64            `json:"latitude"`
	WaterLevelValue              *float64            `json:"water_level_value"`
	WaterLevelWarningStatusValue *float64            `json:"water_level_warning_status_value"`
	WaterLevelAlarmStatusValue   *float64            `json:"water_level_alarm_status_value"`
	WaterLevelTrend              *string             `json:"water_level_trend"`
	RiverName                    string              `json:"river_name"`
	LocationName                 string              `json:"location_name"`
	CreatedAt                    string              `json:"created_at"`
	UpdatedAt                    string              `json:"updated_at"`
	Provinces                    map[string]Province `json:"provinces"`
}

// IsAlarm reports whether the alert carries the alarm flag.
func (n News) IsAlarm() bool {
	return n.RSOAlarm == "1"
}

// Pagination is the feed's paging summary.
type Pagination struct {
	TotalItems   int `json:"totalitems"`
	ItemsPerPage int `json:"itemsperpage"`
}

// Feed is the upstream payload.
type Feed struct {
	Pagination Pagination `json:"pagination"`
	Newses     []News     `json:"newses"`
}

// Request selects alerts. Zero values do not filter.
type Request struct {
	Province  string `json:"province,omitempty"`
	AlarmOnly bool   `json:"alarm_only,omitempty"`
}

// Response is a filtered view of the feed.
type Response struct {
	Total    int    `json:"total"`
	Filtered int    `json:"filtered"`
	Items    []News `json:"items"`
	Raw      *Feed  `json:"raw"`
}

// Filter applies req to feed. Province matches any of an alert's province
// names, ignoring case.
func Filter(feed *Feed, req Request) *Response {
	items := make([]News, 0, len(feed.Newses))
	for _, n := range feed.Newses {
		if req.Province != "" && !inProvince(n, req.Province) {
			continue
		}
		if req.AlarmOnly && !n.IsAlarm() {
			continue
		}
		items = append(items, n)
	}

	return &Response{
		Total:    len(feed.Newses),
		Filtered: len(items),
		Items:    items,
		Raw:      feed,
	}
}

func inProvince(n News, province string) bool {
	for _, p := range n.Provinces {
		if strings.EqualFold(p.Name, province) {
			return true
		}
	}
	return false
}

// Client reads the alerts feed over HTTP.
type Client struct {
	url    string
	client *http.Client
}

// NewClient creates a client for the feed at url.
func NewClient(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = config.DefaultAlertsTimeout
	}
	return &Client{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// NewClientFromConfig creates a client from the loaded configuration.
func NewClientFromConfig(cfg *config.Config) *Client {
	return NewClient(cfg.Alerts.URL, cfg.Alerts.Timeout)
}

// Fetch downloads and decodes the feed. Network failures, non-2xx statuses
// and undecodable bodies are returned as *errs.TransportError.
func (c *Client) Fetch(ctx context.Context) (*Feed, error) {
	if c.url == "" {
		return nil, ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errs.Transport("alerts", "fetch", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errs.Transport("alerts", "fetch",
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var feed Feed
	if err := json.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, errs.Transport("alerts", "decode", err)
	}

	log.Debug("Fetched alerts", "items", len(feed.Newses), "total", feed.Pagination.TotalItems)
	return &feed, nil
}

// List fetches the feed and filters it.
func (c *Client) List(ctx context.Context, req Request) (*Response, error) {
	feed, err := c.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return Filter(feed, req), nil
}
