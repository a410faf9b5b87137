package repositories

import (
	"time"

	"gorm.io/gorm"

	"outage-tracker/pkg/types"
)

// MockOutageRepository is a mock implementation of OutageRepository for testing.
type MockOutageRepository struct {
	CreateOutageError       error
	SaveOutageError         error
	HistoryError            error
	TransactionError        error
	CreateAnnouncementError error
	CreateOutageFn          func(*types.Outage)
	SaveOutageFn            func(*types.Outage)
	// Captured data for assertions
	CreatedOutages       []*types.Outage
	SavedOutages         []*types.Outage
	CreatedAnnouncements []*types.Announcement
	CreatedHistory       []*types.OutageHistory
	CreatedChangeNotes   []*types.ChangeNote
	CommunicationMarks   map[uint]time.Time
	SaveCount            int
	// Mock data for queries
	OutageByID             *types.Outage
	OutageByIDError        error
	Unresolved             []types.Outage
	UnresolvedWithDeadline []types.Outage
	UnresolvedMissingETA   []types.Outage
	HistoryEntries         []types.OutageHistory
	HistoryCount           int64
	ChangeNotes            []types.ChangeNote
	OutagesForSystemOnDay  int64
	ListError              error
	nextID                 uint
}

func (m *MockOutageRepository) CreateOutage(outage *types.Outage) error {
	if m.CreateOutageError != nil {
		return m.CreateOutageError
	}
	if outage.ID == 0 {
		m.nextID++
		outage.ID = m.nextID
	}
	outageCopy := *outage
	m.CreatedOutages = append(m.CreatedOutages, &outageCopy)
	if m.CreateOutageFn != nil {
		m.CreateOutageFn(outage)
	}
	return nil
}

func (m *MockOutageRepository) SaveOutage(outage *types.Outage) error {
	m.SaveCount++
	outageCopy := *outage
	m.SavedOutages = append(m.SavedOutages, &outageCopy)
	if m.SaveOutageFn != nil {
		m.SaveOutageFn(outage)
	}
	return m.SaveOutageError
}

func (m *MockOutageRepository) CreateAnnouncement(ann *types.Announcement) error {
	if m.CreateAnnouncementError != nil {
		return m.CreateAnnouncementError
	}
	annCopy := *ann
	m.CreatedAnnouncements = append(m.CreatedAnnouncements, &annCopy)
	return nil
}

func (m *MockOutageRepository) GetOutageByID(outageID uint) (*types.Outage, error) {
	if m.OutageByIDError != nil {
		return nil, m.OutageByIDError
	}
	if m.OutageByID == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return m.OutageByID, nil
}

func (m *MockOutageRepository) ListUnresolved() ([]types.Outage, error) {
	return m.Unresolved, m.ListError
}

func (m *MockOutageRepository) ListUnresolvedWithDeadline() ([]types.Outage, error) {
	return m.UnresolvedWithDeadline, m.ListError
}

func (m *MockOutageRepository) ListUnresolvedMissingETA(olderThan time.Time) ([]types.Outage, error) {
	return m.UnresolvedMissingETA, m.ListError
}

func (m *MockOutageRepository) CountOutagesForSystemOnDay(systemID uint, dayStart, dayEnd time.Time, beforeID uint) (int64, error) {
	return m.OutagesForSystemOnDay, nil
}

func (m *MockOutageRepository) SetCommunicationNotified(outageID uint, at time.Time) error {
	if m.CommunicationMarks == nil {
		m.CommunicationMarks = map[uint]time.Time{}
	}
	m.CommunicationMarks[outageID] = at
	return nil
}

func (m *MockOutageRepository) CreateHistory(entry *types.OutageHistory) error {
	if m.HistoryError != nil {
		return m.HistoryError
	}
	entryCopy := *entry
	m.CreatedHistory = append(m.CreatedHistory, &entryCopy)
	return nil
}

func (m *MockOutageRepository) RecentHistory(outageID uint, limit int) ([]types.OutageHistory, error) {
	entries := m.HistoryEntries
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (m *MockOutageRepository) CountHistory(outageID uint) (int64, error) {
	if m.HistoryCount != 0 {
		return m.HistoryCount, nil
	}
	return int64(len(m.CreatedHistory)), nil
}

func (m *MockOutageRepository) CreateChangeNote(note *types.ChangeNote) error {
	noteCopy := *note
	m.CreatedChangeNotes = append(m.CreatedChangeNotes, &noteCopy)
	return nil
}

func (m *MockOutageRepository) GetChangeNotes(outageID uint) ([]types.ChangeNote, error) {
	return m.ChangeNotes, nil
}

func (m *MockOutageRepository) Transaction(fn func(OutageRepository) error) error {
	if m.TransactionError != nil {
		return m.TransactionError
	}
	return fn(m)
}

// MockSolutionRepository is a mock implementation of SolutionRepository for testing.
type MockSolutionRepository struct {
	CreateSolutionError error
	SaveSolutionError   error
	// Captured data for assertions
	CreatedSolutions   []*types.Solution
	SavedSolutions     []*types.Solution
	CreatedHistory     []*types.SolutionHistory
	SavedNotifications []*types.PostmortemNotifications
	// Mock data for queries
	SolutionForOutage    *types.Solution
	MissingPostmortem    []types.Solution
	PostmortemWithReport []types.Solution
	HistoryEntries       []types.SolutionHistory
	Notifications        *types.PostmortemNotifications
	nextID               uint
}

func (m *MockSolutionRepository) CreateSolution(solution *types.Solution) error {
	if m.CreateSolutionError != nil {
		return m.CreateSolutionError
	}
	if solution.ID == 0 {
		m.nextID++
		solution.ID = m.nextID
	}
	solutionCopy := *solution
	m.CreatedSolutions = append(m.CreatedSolutions, &solutionCopy)
	return nil
}

func (m *MockSolutionRepository) SaveSolution(solution *types.Solution) error {
	solutionCopy := *solution
	m.SavedSolutions = append(m.SavedSolutions, &solutionCopy)
	return m.SaveSolutionError
}

func (m *MockSolutionRepository) GetForOutage(outageID uint) (*types.Solution, error) {
	if m.SolutionForOutage == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return m.SolutionForOutage, nil
}

func (m *MockSolutionRepository) ListMissingPostmortem() ([]types.Solution, error) {
	return m.MissingPostmortem, nil
}

func (m *MockSolutionRepository) ListPostmortemWithReport() ([]types.Solution, error) {
	return m.PostmortemWithReport, nil
}

func (m *MockSolutionRepository) CreateHistory(entry *types.SolutionHistory) error {
	entryCopy := *entry
	m.CreatedHistory = append(m.CreatedHistory, &entryCopy)
	return nil
}

func (m *MockSolutionRepository) RecentHistory(solutionID uint, limit int) ([]types.SolutionHistory, error) {
	entries := m.HistoryEntries
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (m *MockSolutionRepository) EnsurePostmortemNotifications(solutionID uint) (*types.PostmortemNotifications, error) {
	if m.Notifications == nil {
		m.Notifications = &types.PostmortemNotifications{SolutionID: solutionID}
	}
	return m.Notifications, nil
}

func (m *MockSolutionRepository) SavePostmortemNotifications(n *types.PostmortemNotifications) error {
	nCopy := *n
	m.SavedNotifications = append(m.SavedNotifications, &nCopy)
	return nil
}

func (m *MockSolutionRepository) Transaction(fn func(SolutionRepository) error) error {
	return fn(m)
}

// MockMonitorRepository is a mock implementation of MonitorRepository for testing.
type MockMonitorRepository struct {
	Monitors         map[string]*types.Monitor // key format: "system/externalID"
	CreateAlertError error
	// Captured data for assertions
	SavedMonitors  []*types.Monitor
	CreatedHistory []*types.MonitorHistory
	CreatedAlerts  []*types.Alert
	nextID         uint
}

func monitorKey(system types.MonitoringSystem, externalID string) string {
	return string(system) + "/" + externalID
}

func (m *MockMonitorRepository) GetOrCreateMonitor(system types.MonitoringSystem, externalID string, defaults types.MonitorFields) (*types.Monitor, bool, error) {
	if m.Monitors == nil {
		m.Monitors = map[string]*types.Monitor{}
	}
	if existing, ok := m.Monitors[monitorKey(system, externalID)]; ok {
		return existing, false, nil
	}
	defaults.MonitoringSystem = system
	defaults.ExternalID = externalID
	m.nextID++
	monitor := &types.Monitor{MonitorFields: defaults}
	monitor.ID = m.nextID
	m.Monitors[monitorKey(system, externalID)] = monitor
	return monitor, true, nil
}

func (m *MockMonitorRepository) SaveMonitor(monitor *types.Monitor) error {
	monitorCopy := *monitor
	m.SavedMonitors = append(m.SavedMonitors, &monitorCopy)
	return nil
}

func (m *MockMonitorRepository) GetMonitorByID(monitorID uint) (*types.Monitor, error) {
	for _, monitor := range m.Monitors {
		if monitor.ID == monitorID {
			return monitor, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *MockMonitorRepository) ListMonitors() ([]types.Monitor, error) {
	var monitors []types.Monitor
	for _, monitor := range m.Monitors {
		monitors = append(monitors, *monitor)
	}
	return monitors, nil
}

func (m *MockMonitorRepository) CreateHistory(entry *types.MonitorHistory) error {
	entryCopy := *entry
	m.CreatedHistory = append(m.CreatedHistory, &entryCopy)
	return nil
}

func (m *MockMonitorRepository) RecentHistory(monitorID uint, limit int) ([]types.MonitorHistory, error) {
	var entries []types.MonitorHistory
	for i := len(m.CreatedHistory) - 1; i >= 0 && len(entries) < limit; i-- {
		if m.CreatedHistory[i].MonitorID == monitorID {
			entries = append(entries, *m.CreatedHistory[i])
		}
	}
	return entries, nil
}

func (m *MockMonitorRepository) CreateAlert(alert *types.Alert) error {
	if m.CreateAlertError != nil {
		return m.CreateAlertError
	}
	for _, existing := range m.CreatedAlerts {
		if existing.MonitorID == alert.MonitorID && existing.Ts.Equal(alert.Ts) {
			return ErrAlreadyExists
		}
	}
	alertCopy := *alert
	m.CreatedAlerts = append(m.CreatedAlerts, &alertCopy)
	return nil
}

func (m *MockMonitorRepository) CountAlerts(monitorID uint) (int64, error) {
	var count int64
	for _, alert := range m.CreatedAlerts {
		if alert.MonitorID == monitorID {
			count++
		}
	}
	return count, nil
}

func (m *MockMonitorRepository) ListAlerts(monitorID uint, limit int) ([]types.Alert, error) {
	var alerts []types.Alert
	for i := len(m.CreatedAlerts) - 1; i >= 0 && len(alerts) < limit; i-- {
		if m.CreatedAlerts[i].MonitorID == monitorID {
			alerts = append(alerts, *m.CreatedAlerts[i])
		}
	}
	return alerts, nil
}

func (m *MockMonitorRepository) Transaction(fn func(MonitorRepository) error) error {
	return fn(m)
}

// MockAnnouncementRepository is a mock implementation of AnnouncementRepository for testing.
type MockAnnouncementRepository struct {
	// Mock data for queries
	AnnouncementForOutage *types.Announcement
	DedicatedChannels     []string
}

func (m *MockAnnouncementRepository) GetForOutage(outageID uint) (*types.Announcement, error) {
	if m.AnnouncementForOutage == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return m.AnnouncementForOutage, nil
}

func (m *MockAnnouncementRepository) ListDedicatedChannels() ([]string, error) {
	return m.DedicatedChannels, nil
}

// MockReconcileStore is a mock implementation of ReconcileStore for testing.
// Set Locked to simulate another writer holding the rows.
type MockReconcileStore struct {
	Outage       *types.Outage
	Announcement *types.Announcement
	Locked       bool
	LockError    error
	// Captured data for assertions
	SavedAnnouncements []*types.Announcement
	LockAttempts       int
}

func (m *MockReconcileStore) WithOutageLock(outageID uint, fn func(outage *types.Outage, ann *types.Announcement, save func(*types.Announcement) error) error) error {
	m.LockAttempts++
	if m.Locked {
		return ErrRowLocked
	}
	if m.LockError != nil {
		return m.LockError
	}
	if m.Outage == nil || m.Announcement == nil {
		return gorm.ErrRecordNotFound
	}
	save := func(a *types.Announcement) error {
		aCopy := *a
		m.SavedAnnouncements = append(m.SavedAnnouncements, &aCopy)
		*m.Announcement = *a
		return nil
	}
	return fn(m.Outage, m.Announcement, save)
}

// MockUserRepository is a mock implementation of UserRepository for testing.
type MockUserRepository struct {
	UsersByEmail map[string]*types.User
	// Captured data for assertions
	UpsertedUsers []*types.User
}

func (m *MockUserRepository) GetByEmail(email string) (*types.User, error) {
	if user, ok := m.UsersByEmail[email]; ok {
		return user, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *MockUserRepository) GetByChatID(chatID string) (*types.User, error) {
	for _, user := range m.UsersByEmail {
		if user.ChatID == chatID {
			return user, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *MockUserRepository) UpsertUser(user *types.User) error {
	if m.UsersByEmail == nil {
		m.UsersByEmail = map[string]*types.User{}
	}
	userCopy := *user
	m.UsersByEmail[user.Email] = &userCopy
	m.UpsertedUsers = append(m.UpsertedUsers, &userCopy)
	return nil
}

func (m *MockUserRepository) ListUsers() ([]types.User, error) {
	var users []types.User
	for _, user := range m.UsersByEmail {
		users = append(users, *user)
	}
	return users, nil
}

// MockSystemRepository is a mock implementation of SystemRepository for testing.
type MockSystemRepository struct {
	Systems    []types.System
	RootCauses []types.RootCause
	nextID     uint
}

func (m *MockSystemRepository) GetSystemByID(id uint) (*types.System, error) {
	for i := range m.Systems {
		if m.Systems[i].ID == id {
			return &m.Systems[i], nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *MockSystemRepository) GetOrCreateSystem(name string) (*types.System, error) {
	for i := range m.Systems {
		if m.Systems[i].Name == name {
			return &m.Systems[i], nil
		}
	}
	m.nextID++
	system := types.System{Name: name}
	system.ID = m.nextID
	m.Systems = append(m.Systems, system)
	return &m.Systems[len(m.Systems)-1], nil
}

func (m *MockSystemRepository) ListSystems() ([]types.System, error) {
	return m.Systems, nil
}

func (m *MockSystemRepository) GetRootCauseByID(id uint) (*types.RootCause, error) {
	for i := range m.RootCauses {
		if m.RootCauses[i].ID == id {
			return &m.RootCauses[i], nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *MockSystemRepository) GetOrCreateRootCause(name string) (*types.RootCause, error) {
	for i := range m.RootCauses {
		if m.RootCauses[i].Name == name {
			return &m.RootCauses[i], nil
		}
	}
	m.nextID++
	cause := types.RootCause{Name: name}
	cause.ID = m.nextID
	m.RootCauses = append(m.RootCauses, cause)
	return &m.RootCauses[len(m.RootCauses)-1], nil
}

func (m *MockSystemRepository) ListRootCauses() ([]types.RootCause, error) {
	return m.RootCauses, nil
}
