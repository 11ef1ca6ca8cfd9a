// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package approval is the human gate between the outbox and the sender: a
// Telegram worker posts each pending notification with Approve/Reject
// buttons and records the pressed decision on the row. Senders only ever see
// rows this worker (or any other approval channel) has approved.
package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/pigtrack/pigtrack/pkg/config"
	"github.com/pigtrack/pigtrack/pkg/outbox"
	"github.com/pigtrack/pigtrack/pkg/pig"
	"github.com/pigtrack/pigtrack/pkg/util/log"
)

// Callback verbs encoded in the button callback_data.
const (
	verbApprove = "A"
	verbReject  = "R"
)

// Settings configures the approval worker.
type Settings struct {
	Token      string
	ChatID     string
	Poll       time.Duration
	PageSize   int
	OffsetFile string

	// APIBase overrides the Telegram endpoint; tests point it at a local
	// server.
	APIBase string
}

// DefaultSettings returns the stock approval tuning (token and chat unset).
func DefaultSettings() Settings {
	return Settings{
		Poll:       2 * time.Second,
		PageSize:   3,
		OffsetFile: ".tg_update_offset",
	}
}

// FromConfig builds Settings from the global configuration.
func FromConfig(cfg config.Config) Settings {
	return Settings{
		Token:      cfg.GetString("telegram_token"),
		ChatID:     cfg.GetString("telegram_chat_id"),
		Poll:       time.Duration(cfg.GetInt("telegram_poll_sec")) * time.Second,
		PageSize:   cfg.GetInt("approval_page_size"),
		OffsetFile: cfg.GetString("telegram_offset_file"),
	}
}

// Outbox is the slice of the outbox repository the approval worker needs.
type Outbox interface {
	ListWaitingForApproval(ctx context.Context, limit int) ([]outbox.PendingItem, error)
	SetChannelMessageID(ctx context.Context, id, messageID int64) error
	DecideApproval(ctx context.Context, id int64, token, decision, actor string) (bool, error)
}

// Worker pumps pending outbox rows to Telegram and folds button presses back
// into approval decisions.
type Worker struct {
	settings Settings
	outbox   Outbox
	tg       *tgClient
	clock    clock.Clock
	offset   int64
}

// New builds an approval worker.
func New(settings Settings, ob Outbox, clk clock.Clock) *Worker {
	return &Worker{
		settings: settings,
		outbox:   ob,
		tg:       newTGClient(settings.APIBase, settings.Token),
		clock:    clk,
	}
}

// Run loops until the context is canceled: post new pending rows, then drain
// button presses. Telegram failures are logged and retried next round.
func (w *Worker) Run(ctx context.Context) {
	log.Infof("approval: starting (chat=%s poll=%s)", w.settings.ChatID, w.settings.Poll)
	w.offset = w.loadOffset()
	for {
		w.pumpPending(ctx)
		w.drainDecisions(ctx)
		select {
		case <-ctx.Done():
			log.Info("approval: stopping")
			return
		case <-w.clock.After(w.settings.Poll):
		}
	}
}

// pumpPending posts each undecided, not-yet-posted row with its buttons.
func (w *Worker) pumpPending(ctx context.Context) {
	items, err := w.outbox.ListWaitingForApproval(ctx, w.settings.PageSize)
	if err != nil {
		log.Errorf("approval: list pending: %v", err)
		return
	}
	for _, item := range items {
		keyboard := &inlineKeyboard{InlineKeyboard: [][]inlineButton{{
			{Text: "Approve", CallbackData: fmt.Sprintf("%s:%d:%s", verbApprove, item.ID, item.ApprovalToken)},
			{Text: "Reject", CallbackData: fmt.Sprintf("%s:%d:%s", verbReject, item.ID, item.ApprovalToken)},
		}}}
		messageID, err := w.tg.sendMessage(ctx, w.settings.ChatID, summarize(item), keyboard)
		if err != nil {
			log.Errorf("approval: post row %d: %v", item.ID, err)
			continue
		}
		if err := w.outbox.SetChannelMessageID(ctx, item.ID, messageID); err != nil {
			// Next pump re-posts the row; the stored token still gates
			// both copies to one decision.
			log.Errorf("approval: record message for row %d: %v", item.ID, err)
		}
	}
}

// drainDecisions long-polls for button presses and applies them.
func (w *Worker) drainDecisions(ctx context.Context) {
	updates, err := w.tg.getUpdates(ctx, w.offset, 0)
	if err != nil {
		log.Errorf("approval: get updates: %v", err)
		return
	}
	for _, u := range updates {
		if u.UpdateID >= w.offset {
			w.offset = u.UpdateID + 1
		}
		if u.CallbackQuery != nil {
			w.handleCallback(ctx, u.CallbackQuery)
		}
	}
	if len(updates) > 0 {
		w.saveOffset()
	}
}

func (w *Worker) handleCallback(ctx context.Context, q *callbackQuery) {
	id, token, decision, err := parseCallbackData(q.Data)
	if err != nil {
		log.Warnf("approval: ignoring callback %q: %v", q.Data, err)
		w.answer(ctx, q.ID, "unrecognized button")
		return
	}
	actor := q.actor()
	updated, err := w.outbox.DecideApproval(ctx, id, token, decision, actor)
	if err != nil {
		log.Errorf("approval: decide row %d: %v", id, err)
		w.answer(ctx, q.ID, "error, try again")
		return
	}
	if !updated {
		w.answer(ctx, q.ID, "already decided")
		return
	}
	log.Infof("approval: row %d %s by %s", id, decision, actor)
	w.answer(ctx, q.ID, "recorded")
	if q.Message != nil {
		text := fmt.Sprintf("%s\n\nDECISION: %s by %s", q.Message.Text, decision, actor)
		if err := w.tg.editMessageText(ctx, q.Message.Chat.ID, q.Message.MessageID, text); err != nil {
			log.Warnf("approval: edit message for row %d: %v", id, err)
		}
	}
}

func (w *Worker) answer(ctx context.Context, callbackID, text string) {
	if err := w.tg.answerCallback(ctx, callbackID, text); err != nil {
		log.Warnf("approval: answer callback: %v", err)
	}
}

// parseCallbackData splits "A:<id>:<token>" / "R:<id>:<token>" into an
// outbox row id, its approval token and the decision string.
func parseCallbackData(data string) (int64, string, string, error) {
	parts := strings.SplitN(data, ":", 3)
	if len(parts) != 3 {
		return 0, "", "", fmt.Errorf("want verb:id:token, got %d parts", len(parts))
	}
	var decision string
	switch parts[0] {
	case verbApprove:
		decision = outbox.ApprovalApproved
	case verbReject:
		decision = outbox.ApprovalRejected
	default:
		return 0, "", "", fmt.Errorf("unknown verb %q", parts[0])
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, "", "", fmt.Errorf("bad row id %q", parts[1])
	}
	return id, parts[2], decision, nil
}

// summarize renders one pending payload as the approval message body.
func summarize(item outbox.PendingItem) string {
	var p pig.Payload
	if err := json.Unmarshal(item.Payload, &p); err != nil {
		return fmt.Sprintf("Notification #%d (payload unreadable)", item.ID)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Notification #%d\n", item.ID)
	fmt.Fprintf(&b, "Pig: %s (%s)\n", p.PigID, p.ToolType)
	fmt.Fprintf(&b, "Type: %s\n", p.NotifType)
	fmt.Fprintf(&b, "Event: %s, speed %s m/s\n", p.PigEvent, p.Speed)
	fmt.Fprintf(&b, "Route: %s", p.LegacyRoute)
	if p.NextValveTag != "" {
		fmt.Fprintf(&b, "\nNext valve: %s", p.NextValveTag)
		if p.ETANext != "" {
			fmt.Fprintf(&b, " (ETA %s)", p.ETANext)
		}
	}
	if p.CurrentKP != "" {
		fmt.Fprintf(&b, "\nKP: %s", p.CurrentKP)
	}
	fmt.Fprintf(&b, "\nAt: %s", p.Timestamp)
	return b.String()
}

// loadOffset reads the persisted getUpdates offset; zero when absent so the
// first poll drains whatever Telegram retained.
func (w *Worker) loadOffset() int64 {
	raw, err := os.ReadFile(w.settings.OffsetFile)
	if err != nil {
		return 0
	}
	offset, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		log.Warnf("approval: bad offset file %s: %v", w.settings.OffsetFile, err)
		return 0
	}
	return offset
}

func (w *Worker) saveOffset() {
	data := strconv.FormatInt(w.offset, 10)
	if err := os.WriteFile(w.settings.OffsetFile, []byte(data), 0o644); err != nil {
		log.Warnf("approval: persist offset: %v", err)
	}
}
