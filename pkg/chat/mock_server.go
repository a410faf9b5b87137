package chat

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"
)

// PostedMessage records a message posted to the mock chat server.
type PostedMessage struct {
	Channel         string
	Text            string
	Attachments     []slack.Attachment
	ThreadTimestamp string
	ResponseTS      string
}

// UpdatedMessage records an in-place message update.
type UpdatedMessage struct {
	Channel     string
	Timestamp   string
	Text        string
	Attachments []slack.Attachment
}

// PinAction records a pin or unpin call.
type PinAction struct {
	Channel   string
	Timestamp string
}

// CreatedChannel records a channel created through the API.
type CreatedChannel struct {
	ID   string
	Name string
}

// MockServer is an httptest-backed chat API used by tests. Direct-message
// conversations opened for user U get the synthetic channel id "D-U".
type MockServer struct {
	server *httptest.Server
	client *Client

	mu              sync.Mutex
	postedMsgs      []PostedMessage
	updatedMsgs     []UpdatedMessage
	pins            []PinAction
	unpins          []PinAction
	invites         map[string][]string
	createdChannels []CreatedChannel
	failPosts       bool
	tsCounter       int64
	baseTS          int64
	channelCounter  int
}

// request parameters arrive form-encoded or as JSON depending on the
// endpoint; normalize both into one map.
func decodeParams(r *http.Request) map[string]interface{} {
	params := make(map[string]interface{})
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &params)
		return params
	}
	_ = r.ParseForm()
	for key := range r.Form {
		params[key] = r.FormValue(key)
	}
	for key := range r.URL.Query() {
		if _, ok := params[key]; !ok {
			params[key] = r.URL.Query().Get(key)
		}
	}
	return params
}

func stringParam(params map[string]interface{}, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}

// NewMockServer starts a mock chat API server and returns it together with a
// Client wired to it.
func NewMockServer(t *testing.T) *MockServer {
	m := &MockServer{
		baseTS:  1234567890,
		invites: make(map[string][]string),
	}

	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		params := decodeParams(r)

		m.mu.Lock()
		defer m.mu.Unlock()

		respond := func(payload map[string]interface{}) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(payload)
		}

		switch strings.TrimPrefix(r.URL.Path, "/api/") {
		case "chat.postMessage":
			if m.failPosts {
				respond(map[string]interface{}{"ok": false, "error": "channel_not_found"})
				return
			}
			m.tsCounter++
			responseTS := fmt.Sprintf("%d.%06d", m.baseTS, m.tsCounter)
			m.postedMsgs = append(m.postedMsgs, PostedMessage{
				Channel:         stringParam(params, "channel"),
				Text:            stringParam(params, "text"),
				Attachments:     parseAttachments(stringParam(params, "attachments")),
				ThreadTimestamp: stringParam(params, "thread_ts"),
				ResponseTS:      responseTS,
			})
			respond(map[string]interface{}{
				"ok":      true,
				"channel": stringParam(params, "channel"),
				"ts":      responseTS,
			})

		case "chat.update":
			if m.failPosts {
				respond(map[string]interface{}{"ok": false, "error": "message_not_found"})
				return
			}
			m.updatedMsgs = append(m.updatedMsgs, UpdatedMessage{
				Channel:     stringParam(params, "channel"),
				Timestamp:   stringParam(params, "ts"),
				Text:        stringParam(params, "text"),
				Attachments: parseAttachments(stringParam(params, "attachments")),
			})
			respond(map[string]interface{}{
				"ok":      true,
				"channel": stringParam(params, "channel"),
				"ts":      stringParam(params, "ts"),
			})

		case "chat.getPermalink":
			channel := stringParam(params, "channel")
			ts := stringParam(params, "message_ts")
			respond(map[string]interface{}{
				"ok":        true,
				"channel":   channel,
				"permalink": fmt.Sprintf("https://chat.example.com/archives/%s/p%s", channel, strings.ReplaceAll(ts, ".", "")),
			})

		case "pins.add":
			m.pins = append(m.pins, PinAction{
				Channel:   stringParam(params, "channel"),
				Timestamp: stringParam(params, "timestamp"),
			})
			respond(map[string]interface{}{"ok": true})

		case "pins.remove":
			m.unpins = append(m.unpins, PinAction{
				Channel:   stringParam(params, "channel"),
				Timestamp: stringParam(params, "timestamp"),
			})
			respond(map[string]interface{}{"ok": true})

		case "conversations.open":
			user := ""
			switch v := params["users"].(type) {
			case string:
				user = strings.Split(v, ",")[0]
			case []interface{}:
				if len(v) > 0 {
					user, _ = v[0].(string)
				}
			}
			respond(map[string]interface{}{
				"ok":      true,
				"channel": map[string]interface{}{"id": "D-" + user},
			})

		case "conversations.create":
			m.channelCounter++
			channel := CreatedChannel{
				ID:   fmt.Sprintf("C%04d", m.channelCounter),
				Name: stringParam(params, "name"),
			}
			m.createdChannels = append(m.createdChannels, channel)
			respond(map[string]interface{}{
				"ok": true,
				"channel": map[string]interface{}{
					"id":   channel.ID,
					"name": channel.Name,
				},
			})

		case "conversations.invite":
			channel := stringParam(params, "channel")
			users := stringParam(params, "users")
			m.invites[channel] = append(m.invites[channel], strings.Split(users, ",")...)
			respond(map[string]interface{}{
				"ok":      true,
				"channel": map[string]interface{}{"id": channel},
			})

		case "conversations.list":
			respond(map[string]interface{}{
				"ok":       true,
				"channels": []interface{}{},
				"response_metadata": map[string]interface{}{
					"next_cursor": "",
				},
			})

		case "users.list":
			respond(map[string]interface{}{
				"ok":      true,
				"members": []interface{}{},
			})

		case "auth.test":
			respond(map[string]interface{}{"ok": true, "user_id": "BOT"})

		default:
			t.Errorf("Unexpected API path: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	api := slack.New("test-token", slack.OptionAPIURL(m.server.URL+"/api/"))
	logger := logrus.New()
	m.client = NewClient(api, logger)
	return m
}

func parseAttachments(raw string) []slack.Attachment {
	if raw == "" {
		return nil
	}
	var attachments []slack.Attachment
	if err := json.Unmarshal([]byte(raw), &attachments); err != nil {
		return nil
	}
	return attachments
}

// Client returns a chat client wired to this mock server.
func (m *MockServer) Client() *Client {
	return m.client
}

// FailPosts makes subsequent post/update calls return an API error.
func (m *MockServer) FailPosts(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failPosts = fail
}

// PostedMessages returns all messages posted so far.
func (m *MockServer) PostedMessages() []PostedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]PostedMessage, len(m.postedMsgs))
	copy(result, m.postedMsgs)
	return result
}

// UpdatedMessages returns all in-place updates so far.
func (m *MockServer) UpdatedMessages() []UpdatedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]UpdatedMessage, len(m.updatedMsgs))
	copy(result, m.updatedMsgs)
	return result
}

// Pins returns all pin calls so far.
func (m *MockServer) Pins() []PinAction {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]PinAction, len(m.pins))
	copy(result, m.pins)
	return result
}

// Unpins returns all unpin calls so far.
func (m *MockServer) Unpins() []PinAction {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]PinAction, len(m.unpins))
	copy(result, m.unpins)
	return result
}

// CreatedChannels returns all channels created so far.
func (m *MockServer) CreatedChannels() []CreatedChannel {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]CreatedChannel, len(m.createdChannels))
	copy(result, m.createdChannels)
	return result
}

// Invites returns the users invited per channel.
func (m *MockServer) Invites(channelID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]string, len(m.invites[channelID]))
	copy(result, m.invites[channelID])
	return result
}

// DirectMessages returns the messages delivered to a user's DM channel.
func (m *MockServer) DirectMessages(userID string) []PostedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []PostedMessage
	for _, msg := range m.postedMsgs {
		if msg.Channel == "D-"+userID {
			result = append(result, msg)
		}
	}
	return result
}

// Close shuts down the mock server.
func (m *MockServer) Close() {
	m.server.Close()
}
