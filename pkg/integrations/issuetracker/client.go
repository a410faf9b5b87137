package issuetracker

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"outage-tracker/pkg/types"
)

// Client talks to the GitLab-style issue tracker holding postmortem reports.
type Client struct {
	baseURL    string
	token      string
	project    string
	httpClient *http.Client
}

// NewClient creates an issue tracker client from the integration config.
// Returns nil when the integration is not configured; callers treat a nil
// client as "feature disabled".
func NewClient(cfg types.IssueTrackerConfig) *Client {
	if !cfg.Enabled() {
		return nil
	}
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		project: cfg.Project,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Issue is the subset of a tracker issue the reports consume.
type Issue struct {
	ID      int      `json:"id"`
	IID     int      `json:"iid"`
	Title   string   `json:"title"`
	WebURL  string   `json:"web_url"`
	State   string   `json:"state"`
	DueDate string   `json:"due_date"`
	Labels  []string `json:"labels"`
}

// ParsedDueDate returns the issue due date, if one is set.
func (i Issue) ParsedDueDate() (time.Time, bool) {
	if i.DueDate == "" {
		return time.Time{}, false
	}
	due, err := time.Parse("2006-01-02", i.DueDate)
	if err != nil {
		return time.Time{}, false
	}
	return due, true
}

// HasLabel reports whether the issue carries the named label.
func (i Issue) HasLabel(label string) bool {
	for _, l := range i.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// ListOpenIssues retrieves all open issues, following pagination.
func (c *Client) ListOpenIssues() ([]Issue, error) {
	var all []Issue
	for page := 1; ; page++ {
		query := url.Values{
			"scope":    {"all"},
			"state":    {"opened"},
			"per_page": {"100"},
			"page":     {fmt.Sprintf("%d", page)},
		}
		var issues []Issue
		if err := c.get(fmt.Sprintf("%s/api/v4/issues?%s", c.baseURL, query.Encode()), &issues); err != nil {
			return nil, fmt.Errorf("failed to list open issues: %w", err)
		}
		all = append(all, issues...)
		if len(issues) < 100 {
			return all, nil
		}
	}
}

// GetIssue retrieves a single issue of the configured project by its iid.
func (c *Client) GetIssue(iid int) (*Issue, error) {
	var issue Issue
	reqURL := fmt.Sprintf("%s/api/v4/projects/%s/issues/%d", c.baseURL, url.PathEscape(c.project), iid)
	if err := c.get(reqURL, &issue); err != nil {
		return nil, fmt.Errorf("failed to get issue %d: %w", iid, err)
	}
	return &issue, nil
}

// IssueIIDFromURL extracts the issue iid from a report URL of the form
// .../issues/<iid>. Reports hosted outside the tracker yield ok=false.
func IssueIIDFromURL(rawURL string) (int, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, false
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := len(parts) - 1; i > 0; i-- {
		if parts[i-1] != "issues" {
			continue
		}
		iid, err := strconv.Atoi(parts[i])
		if err != nil || iid <= 0 {
			return 0, false
		}
		return iid, true
	}
	return 0, false
}

// IssuesDueSoon filters open issues down to those whose due date is exactly
// one of the configured day offsets away from today.
func IssuesDueSoon(issues []Issue, days []int, today time.Time) []Issue {
	today = today.UTC().Truncate(24 * time.Hour)
	wanted := make(map[int]bool, len(days))
	for _, d := range days {
		wanted[d] = true
	}
	var result []Issue
	for _, issue := range issues {
		due, ok := issue.ParsedDueDate()
		if !ok {
			continue
		}
		remaining := int(due.Sub(today).Hours() / 24)
		if wanted[remaining] {
			result = append(result, issue)
		}
	}
	sortByDueDate(result)
	return result
}

// IssuesPastDueDate filters open issues down to those whose due date has
// already passed.
func IssuesPastDueDate(issues []Issue, today time.Time) []Issue {
	today = today.UTC().Truncate(24 * time.Hour)
	var result []Issue
	for _, issue := range issues {
		due, ok := issue.ParsedDueDate()
		if !ok {
			continue
		}
		if due.Before(today) {
			result = append(result, issue)
		}
	}
	sortByDueDate(result)
	return result
}

func sortByDueDate(issues []Issue) {
	sort.Slice(issues, func(i, j int) bool {
		return issues[i].DueDate < issues[j].DueDate
	})
}

func (c *Client) get(reqURL string, result interface{}) error {
	httpReq, err := http.NewRequest(http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("PRIVATE-TOKEN", c.token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("unexpected status code: %d, failed to read response body: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("unexpected status code: %d, response: %s", resp.StatusCode, string(bodyBytes))
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
