// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pigtrack/pigtrack/pkg/outbox"
)

// tgServer fakes the Bot API: it records calls and serves canned updates.
type tgServer struct {
	mu      sync.Mutex
	calls   map[string][]map[string]interface{}
	updates []update
	nextMsg int64
}

func newTGServer() *tgServer {
	return &tgServer{calls: map[string][]map[string]interface{}{}, nextMsg: 100}
}

func (s *tgServer) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(r.URL.Path, "/")
		method := parts[len(parts)-1]
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)

		s.mu.Lock()
		s.calls[method] = append(s.calls[method], body)
		var result interface{}
		switch method {
		case "sendMessage":
			s.nextMsg++
			result = map[string]interface{}{"message_id": s.nextMsg}
		case "getUpdates":
			result = s.updates
			s.updates = nil
		default:
			result = true
		}
		s.mu.Unlock()

		_ = json.NewEncoder(w).Encode(map[string]interface{}{"ok": true, "result": result})
	})
}

func (s *tgServer) callBodies(method string) []map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]interface{}(nil), s.calls[method]...)
}

type decideCall struct {
	id       int64
	token    string
	decision string
	actor    string
}

type fakeOutbox struct {
	pending   []outbox.PendingItem
	posted    map[int64]int64
	decided   []decideCall
	decideOK  bool
	decideErr error
}

func (f *fakeOutbox) ListWaitingForApproval(_ context.Context, limit int) ([]outbox.PendingItem, error) {
	if len(f.pending) > limit {
		return f.pending[:limit], nil
	}
	return f.pending, nil
}

func (f *fakeOutbox) SetChannelMessageID(_ context.Context, id, messageID int64) error {
	if f.posted == nil {
		f.posted = map[int64]int64{}
	}
	f.posted[id] = messageID
	return nil
}

func (f *fakeOutbox) DecideApproval(_ context.Context, id int64, token, decision, actor string) (bool, error) {
	f.decided = append(f.decided, decideCall{id: id, token: token, decision: decision, actor: actor})
	return f.decideOK, f.decideErr
}

func testWorker(t *testing.T, ob *fakeOutbox, srv *tgServer) *Worker {
	t.Helper()
	ts := httptest.NewServer(srv.handler())
	t.Cleanup(ts.Close)

	settings := DefaultSettings()
	settings.Token = "TEST_TOKEN"
	settings.ChatID = "-100"
	settings.APIBase = ts.URL
	settings.OffsetFile = filepath.Join(t.TempDir(), "offset")
	return New(settings, ob, clock.NewMock())
}

func TestPumpPendingPostsButtonsAndRecordsMessageID(t *testing.T) {
	payload, err := json.Marshal(map[string]string{
		"Pig ID":            "PIG_001",
		"Tool Type":         "Cleaning Tool",
		"Notification Type": "POI Passage",
		"Pig Event":         "Moving",
		"Speed":             "0.67",
		"Legacy Route":      "R",
		"Next Valve Tag":    "V2",
		"Timestamp":         "12-05-24 080000",
	})
	require.NoError(t, err)

	ob := &fakeOutbox{pending: []outbox.PendingItem{
		{ID: 7, Payload: payload, ApprovalToken: "tok-7"},
	}}
	srv := newTGServer()
	w := testWorker(t, ob, srv)

	w.pumpPending(context.Background())

	posts := srv.callBodies("sendMessage")
	require.Len(t, posts, 1)
	assert.Equal(t, "-100", posts[0]["chat_id"])
	text := posts[0]["text"].(string)
	assert.Contains(t, text, "PIG_001")
	assert.Contains(t, text, "POI Passage")

	markup := posts[0]["reply_markup"].(map[string]interface{})
	rows := markup["inline_keyboard"].([]interface{})
	require.Len(t, rows, 1)
	buttons := rows[0].([]interface{})
	require.Len(t, buttons, 2)
	assert.Equal(t, "A:7:tok-7", buttons[0].(map[string]interface{})["callback_data"])
	assert.Equal(t, "R:7:tok-7", buttons[1].(map[string]interface{})["callback_data"])

	assert.Equal(t, int64(101), ob.posted[7])
}

func callbackUpdate(updateID int64, data string) update {
	raw := fmt.Sprintf(`{
		"update_id": %d,
		"callback_query": {
			"id": "cb-1",
			"from": {"username": "operator"},
			"message": {"message_id": 101, "chat": {"id": -100}, "text": "Notification #7"},
			"data": %q
		}
	}`, updateID, data)
	var u update
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		panic(err)
	}
	return u
}

func TestDrainDecisionsApproves(t *testing.T) {
	ob := &fakeOutbox{decideOK: true}
	srv := newTGServer()
	srv.updates = []update{callbackUpdate(555, "A:7:tok-7")}
	w := testWorker(t, ob, srv)

	w.drainDecisions(context.Background())

	require.Len(t, ob.decided, 1)
	assert.Equal(t, decideCall{id: 7, token: "tok-7", decision: outbox.ApprovalApproved, actor: "operator"}, ob.decided[0])

	answers := srv.callBodies("answerCallbackQuery")
	require.Len(t, answers, 1)
	assert.Equal(t, "recorded", answers[0]["text"])

	edits := srv.callBodies("editMessageText")
	require.Len(t, edits, 1)
	assert.Contains(t, edits[0]["text"], "DECISION: APPROVED by operator")

	// Offset advanced past the consumed update and persisted.
	assert.Equal(t, int64(556), w.offset)
	raw, err := os.ReadFile(w.settings.OffsetFile)
	require.NoError(t, err)
	assert.Equal(t, "556", string(raw))
}

func TestDrainDecisionsAlreadyDecided(t *testing.T) {
	ob := &fakeOutbox{decideOK: false}
	srv := newTGServer()
	srv.updates = []update{callbackUpdate(1, "R:7:stale-token")}
	w := testWorker(t, ob, srv)

	w.drainDecisions(context.Background())

	require.Len(t, ob.decided, 1)
	assert.Equal(t, outbox.ApprovalRejected, ob.decided[0].decision)

	answers := srv.callBodies("answerCallbackQuery")
	require.Len(t, answers, 1)
	assert.Equal(t, "already decided", answers[0]["text"])
	assert.Empty(t, srv.callBodies("editMessageText"))
}

func TestDrainDecisionsIgnoresMalformedCallback(t *testing.T) {
	ob := &fakeOutbox{decideOK: true}
	srv := newTGServer()
	srv.updates = []update{callbackUpdate(2, "garbage")}
	w := testWorker(t, ob, srv)

	w.drainDecisions(context.Background())

	assert.Empty(t, ob.decided)
	answers := srv.callBodies("answerCallbackQuery")
	require.Len(t, answers, 1)
	assert.Equal(t, "unrecognized button", answers[0]["text"])
}

func TestParseCallbackData(t *testing.T) {
	tests := []struct {
		name     string
		data     string
		id       int64
		token    string
		decision string
		wantErr  bool
	}{
		{name: "approve", data: "A:12:tok", id: 12, token: "tok", decision: outbox.ApprovalApproved},
		{name: "reject", data: "R:3:t", id: 3, token: "t", decision: outbox.ApprovalRejected},
		{name: "token with colon", data: "A:1:a:b", id: 1, token: "a:b", decision: outbox.ApprovalApproved},
		{name: "unknown verb", data: "X:1:t", wantErr: true},
		{name: "bad id", data: "A:x:t", wantErr: true},
		{name: "too short", data: "A:1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, token, decision, err := parseCallbackData(tt.data)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.id, id)
			assert.Equal(t, tt.token, token)
			assert.Equal(t, tt.decision, decision)
		})
	}
}

func TestLoadOffsetMissingFile(t *testing.T) {
	w := testWorker(t, &fakeOutbox{}, newTGServer())
	assert.Equal(t, int64(0), w.loadOffset())
}
