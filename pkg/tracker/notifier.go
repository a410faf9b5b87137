package tracker

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"outage-tracker/pkg/chat"
	"outage-tracker/pkg/repositories"
)

// Notifier delivers one-to-one notifications arising from assignment changes.
type Notifier interface {
	NotifyAssigned(email, role, outageLink string)
	NotifyUnassigned(email, role, outageLink string)
}

// ChatNotifier delivers assignment notifications as chat direct messages.
// A recipient without a chat identity on file is logged and skipped.
type ChatNotifier struct {
	client *chat.Client
	users  repositories.UserRepository
	logger *logrus.Logger
}

// NewChatNotifier creates a new ChatNotifier instance.
func NewChatNotifier(client *chat.Client, users repositories.UserRepository, logger *logrus.Logger) *ChatNotifier {
	return &ChatNotifier{
		client: client,
		users:  users,
		logger: logger,
	}
}

// NotifyAssigned tells a user they now hold a role on an outage.
func (n *ChatNotifier) NotifyAssigned(email, role, outageLink string) {
	n.send(email, fmt.Sprintf("You became %s assignee on Outage %s", role, outageLink))
}

// NotifyUnassigned tells a user they no longer hold a role on an outage.
func (n *ChatNotifier) NotifyUnassigned(email, role, outageLink string) {
	n.send(email, fmt.Sprintf("You are no longer the %s assignee on Outage %s", role, outageLink))
}

func (n *ChatNotifier) send(email, text string) {
	user, err := n.users.GetByEmail(email)
	if err != nil || user.ChatID == "" {
		n.logger.WithField("email", email).
			Warn("Unable to send assignment notification because chat id is unknown")
		return
	}
	if err := n.client.SendDirectMessage(user.ChatID, chat.Message{Text: text}); err != nil {
		n.logger.WithFields(logrus.Fields{
			"email": email,
			"error": err,
		}).Error("Failed to send assignment notification")
	}
}

// RecordedNotification captures one delivery made through MockNotifier.
type RecordedNotification struct {
	Email string
	Role  string
	Link  string
}

// MockNotifier is a Notifier that records deliveries for assertions.
type MockNotifier struct {
	Assigned   []RecordedNotification
	Unassigned []RecordedNotification
}

func (m *MockNotifier) NotifyAssigned(email, role, outageLink string) {
	m.Assigned = append(m.Assigned, RecordedNotification{Email: email, Role: role, Link: outageLink})
}

func (m *MockNotifier) NotifyUnassigned(email, role, outageLink string) {
	m.Unassigned = append(m.Unassigned, RecordedNotification{Email: email, Role: role, Link: outageLink})
}
