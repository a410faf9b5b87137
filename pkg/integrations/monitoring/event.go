package monitoring

import (
	"encoding/json"
	"fmt"
	"time"

	"outage-tracker/pkg/types"
)

// AlertEvent is the provider-neutral form of an incoming monitoring webhook.
// Recovery events carry Recovery=true and are acknowledged without recording
// an alert occurrence.
type AlertEvent struct {
	System     types.MonitoringSystem
	ExternalID string
	Fields     types.MonitorFields
	Ts         time.Time
	AlertType  types.AlertType
	Recovery   bool
}

// ParseEvent decodes the webhook payload of the named provider.
func ParseEvent(provider string, body []byte) (*AlertEvent, error) {
	switch types.MonitoringSystem(provider) {
	case types.MonitoringSystemPingdom:
		return parsePingdomEvent(body)
	case types.MonitoringSystemDatadog:
		return parseDatadogEvent(body)
	default:
		return nil, fmt.Errorf("unknown monitoring provider %q", provider)
	}
}

// pingdomEvent is the subset of the Pingdom webhook payload we consume.
type pingdomEvent struct {
	CheckID             json.Number `json:"check_id"`
	CheckName           string      `json:"check_name"`
	Description         string      `json:"description"`
	CurrentState        string      `json:"current_state"`
	ImportanceLevel     string      `json:"importance_level"`
	StateChangedUTCTime string      `json:"state_changed_utc_time"`
}

// pingdomTimeLayout matches the state_changed_utc_time format Pingdom sends.
const pingdomTimeLayout = "2006-01-02T15:04:05"

func parsePingdomEvent(body []byte) (*AlertEvent, error) {
	var payload pingdomEvent
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decoding pingdom payload: %w", err)
	}
	if payload.CheckID.String() == "" {
		return nil, fmt.Errorf("pingdom payload is missing check_id")
	}

	event := &AlertEvent{
		System:     types.MonitoringSystemPingdom,
		ExternalID: payload.CheckID.String(),
		Recovery:   payload.CurrentState == "SUCCESS" || payload.CurrentState == "UP",
	}
	event.Fields = types.MonitorFields{
		MonitoringSystem: types.MonitoringSystemPingdom,
		ExternalID:       event.ExternalID,
		Name:             payload.CheckName,
		Description:      payload.Description,
		Link:             fmt.Sprintf("https://my.pingdom.com/reports/uptime#check=%s", event.ExternalID),
	}
	switch payload.ImportanceLevel {
	case "LOW":
		event.AlertType = types.AlertTypeWarning
	case "HIGH":
		event.AlertType = types.AlertTypeCritical
	default:
		event.AlertType = types.AlertTypeUndefined
	}

	ts, err := time.Parse(pingdomTimeLayout, payload.StateChangedUTCTime)
	if err != nil {
		return nil, fmt.Errorf("parsing pingdom state change time: %w", err)
	}
	event.Ts = ts.UTC()
	return event, nil
}

// datadogEvent is the subset of a Datadog monitor-webhook payload we consume.
// The fields correspond to the $ALERT_ID, $EVENT_TITLE, $ALERT_TYPE, $LINK
// and $DATE template variables of the webhook integration.
type datadogEvent struct {
	AlertID    json.Number `json:"alert_id"`
	Title      string      `json:"title"`
	AlertType  string      `json:"alert_type"`
	Link       string      `json:"link"`
	DateMillis json.Number `json:"date"`
}

func parseDatadogEvent(body []byte) (*AlertEvent, error) {
	var payload datadogEvent
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decoding datadog payload: %w", err)
	}
	if payload.AlertID.String() == "" {
		return nil, fmt.Errorf("datadog payload is missing alert_id")
	}

	event := &AlertEvent{
		System:     types.MonitoringSystemDatadog,
		ExternalID: payload.AlertID.String(),
		Recovery:   payload.AlertType == "success" || payload.AlertType == "recovery",
	}
	event.Fields = types.MonitorFields{
		MonitoringSystem: types.MonitoringSystemDatadog,
		ExternalID:       event.ExternalID,
		Name:             payload.Title,
		Link:             payload.Link,
	}
	switch payload.AlertType {
	case "warning":
		event.AlertType = types.AlertTypeWarning
	case "error":
		event.AlertType = types.AlertTypeCritical
	default:
		event.AlertType = types.AlertTypeUndefined
	}

	millis, err := payload.DateMillis.Int64()
	if err != nil {
		return nil, fmt.Errorf("parsing datadog event date: %w", err)
	}
	event.Ts = time.UnixMilli(millis).UTC()
	return event, nil
}
