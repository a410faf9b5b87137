package statuspage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"outage-tracker/pkg/types"
)

// Client is a REST client for the public incident-communication page.
type Client struct {
	apiURL     string
	apiKey     string
	pageID     string
	httpClient *http.Client
}

// NewClient creates a status page client from the integration config.
// Returns nil when the integration is not configured; callers treat a nil
// client as "feature disabled".
func NewClient(cfg types.StatusPageConfig) *Client {
	if !cfg.Enabled() {
		return nil
	}
	return &Client{
		apiURL: cfg.APIURL,
		apiKey: cfg.APIKey,
		pageID: cfg.PageID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Incident is the status page's view of an ongoing outage.
type Incident struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

type incidentBody struct {
	Name         string            `json:"name,omitempty"`
	Status       string            `json:"status"`
	Body         string            `json:"body,omitempty"`
	ComponentIDs []string          `json:"component_ids,omitempty"`
	Components   map[string]string `json:"components,omitempty"`
}

type incidentRequest struct {
	Incident incidentBody `json:"incident"`
}

// CreateIncident opens an investigating incident covering the named
// components. The ETA, when known, is appended to the public body text.
func (c *Client) CreateIncident(systemName string, componentIDs []string, eta string) (*Incident, error) {
	body := "We are trying to resolve the problem."
	if eta != "" {
		body = fmt.Sprintf("%s ETA: %s", body, eta)
	}
	components := make(map[string]string, len(componentIDs))
	for _, id := range componentIDs {
		components[id] = "partial_outage"
	}
	req := incidentRequest{Incident: incidentBody{
		Name:         fmt.Sprintf("%s incident", systemName),
		Status:       "investigating",
		Body:         body,
		ComponentIDs: componentIDs,
		Components:   components,
	}}

	var incident Incident
	url := fmt.Sprintf("%s/pages/%s/incidents", c.apiURL, c.pageID)
	if err := c.do(http.MethodPost, url, req, &incident); err != nil {
		return nil, fmt.Errorf("failed to create status page incident: %w", err)
	}
	return &incident, nil
}

// ResolveIncident marks an incident resolved and flips its components back
// to operational.
func (c *Client) ResolveIncident(incidentID string, componentIDs []string) error {
	components := make(map[string]string, len(componentIDs))
	for _, id := range componentIDs {
		components[id] = "operational"
	}
	req := incidentRequest{Incident: incidentBody{
		Status:       "resolved",
		Body:         "Incident has been resolved.",
		ComponentIDs: componentIDs,
		Components:   components,
	}}

	url := fmt.Sprintf("%s/pages/%s/incidents/%s", c.apiURL, c.pageID, incidentID)
	if err := c.do(http.MethodPatch, url, req, nil); err != nil {
		return fmt.Errorf("failed to resolve status page incident: %w", err)
	}
	return nil
}

// UpdateIncidentURL returns the management link for editing an incident.
func (c *Client) UpdateIncidentURL(incidentID string) string {
	return fmt.Sprintf("%s/pages/%s/incidents/%s#update", c.apiURL, c.pageID, incidentID)
}

func (c *Client) do(method, url string, payload, result interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequest(method, url, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		bodyBytes, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("unexpected status code: %d, failed to read response body: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("unexpected status code: %d, response: %s", resp.StatusCode, string(bodyBytes))
	}
	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
