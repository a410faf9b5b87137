package main

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outage-tracker/pkg/chat"
	"outage-tracker/pkg/config"
	"outage-tracker/pkg/repositories"
	"outage-tracker/pkg/testhelper"
	"outage-tracker/pkg/tracker"
	"outage-tracker/pkg/types"
)

func TestSyncMonitorChannels(t *testing.T) {
	db := testhelper.NewTestDB(t)
	repos := repositories.NewGORMRepositories(db)

	server := chat.NewMockServer(t)
	t.Cleanup(server.Close)

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	configManager := config.CreateTestConfigManager(&types.TrackerConfig{})
	manager := tracker.NewManager(repos, configManager, nil, logger)

	bound := &types.Monitor{MonitorFields: types.MonitorFields{
		MonitoringSystem: types.MonitoringSystemPingdom,
		ExternalID:       "100",
		Name:             "Search latency",
		ChatChannelID:    "C-EXISTING",
		ChatChannelName:  "search-latency",
	}}
	unbound := &types.Monitor{MonitorFields: types.MonitorFields{
		MonitoringSystem: types.MonitoringSystemPingdom,
		ExternalID:       "200",
		Name:             "Payment API checks",
	}}
	require.NoError(t, repos.Monitors.SaveMonitor(bound))
	require.NoError(t, repos.Monitors.SaveMonitor(unbound))

	provisioned, err := syncMonitorChannels(repos, server.Client(), manager, logger)
	require.NoError(t, err)
	assert.Equal(t, 1, provisioned)

	created := server.CreatedChannels()
	require.Len(t, created, 1)
	assert.Equal(t, "payment-api-checks", created[0].Name)

	saved, err := repos.Monitors.GetMonitorByID(unbound.ID)
	require.NoError(t, err)
	assert.Equal(t, created[0].ID, saved.ChatChannelID)
	assert.Equal(t, "payment-api-checks", saved.ChatChannelName)

	// The binding lands in the monitor's history like any other edit.
	history, err := repos.Monitors.RecentHistory(unbound.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "trackerctl", history[0].ModifiedBy)

	// A second run finds nothing left to provision.
	provisioned, err = syncMonitorChannels(repos, server.Client(), manager, logger)
	require.NoError(t, err)
	assert.Equal(t, 0, provisioned)
	assert.Len(t, server.CreatedChannels(), 1)
}
