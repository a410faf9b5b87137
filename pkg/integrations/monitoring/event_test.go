package monitoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outage-tracker/pkg/types"
)

func TestParsePingdomEvent(t *testing.T) {
	body := []byte(`{
		"check_id": 12345,
		"check_name": "Booking frontend",
		"description": "HTTP check failed",
		"current_state": "DOWN",
		"importance_level": "HIGH",
		"state_changed_utc_time": "2024-05-14T11:48:00"
	}`)

	event, err := ParseEvent("pingdom", body)
	require.NoError(t, err)

	assert.Equal(t, types.MonitoringSystemPingdom, event.System)
	assert.Equal(t, "12345", event.ExternalID)
	assert.Equal(t, "Booking frontend", event.Fields.Name)
	assert.Equal(t, "HTTP check failed", event.Fields.Description)
	assert.Equal(t, "https://my.pingdom.com/reports/uptime#check=12345", event.Fields.Link)
	assert.Equal(t, types.AlertTypeCritical, event.AlertType)
	assert.Equal(t, time.Date(2024, 5, 14, 11, 48, 0, 0, time.UTC), event.Ts)
	assert.False(t, event.Recovery)
}

func TestParsePingdomRecovery(t *testing.T) {
	body := []byte(`{
		"check_id": "12345",
		"check_name": "Booking frontend",
		"current_state": "UP",
		"importance_level": "LOW",
		"state_changed_utc_time": "2024-05-14T12:03:00"
	}`)

	event, err := ParseEvent("pingdom", body)
	require.NoError(t, err)

	assert.True(t, event.Recovery)
	assert.Equal(t, types.AlertTypeWarning, event.AlertType)
}

func TestParsePingdomEventMissingCheckID(t *testing.T) {
	_, err := ParseEvent("pingdom", []byte(`{"check_name": "x"}`))
	assert.ErrorContains(t, err, "check_id")
}

func TestParseDatadogEvent(t *testing.T) {
	body := []byte(`{
		"alert_id": 987,
		"title": "[Triggered] High error rate on payments",
		"alert_type": "error",
		"link": "https://app.datadoghq.com/event/event?id=987",
		"date": 1715687280000
	}`)

	event, err := ParseEvent("datadog", body)
	require.NoError(t, err)

	assert.Equal(t, types.MonitoringSystemDatadog, event.System)
	assert.Equal(t, "987", event.ExternalID)
	assert.Equal(t, types.AlertTypeCritical, event.AlertType)
	assert.Equal(t, "https://app.datadoghq.com/event/event?id=987", event.Fields.Link)
	assert.Equal(t, time.UnixMilli(1715687280000).UTC(), event.Ts)
	assert.False(t, event.Recovery)
}

func TestParseDatadogRecovery(t *testing.T) {
	body := []byte(`{"alert_id": 987, "alert_type": "recovery", "date": 1715687280000}`)

	event, err := ParseEvent("datadog", body)
	require.NoError(t, err)
	assert.True(t, event.Recovery)
}

func TestParseEventUnknownProvider(t *testing.T) {
	_, err := ParseEvent("nagios", []byte(`{}`))
	assert.ErrorContains(t, err, "unknown monitoring provider")
}
