// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package approval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
)

// defaultAPIBase is the Telegram Bot API root; tests point it at httptest.
const defaultAPIBase = "https://api.telegram.org"

const (
	apiAttempts = 3
	apiDelay    = 2 * time.Second
	apiTimeout  = 15 * time.Second
)

// inlineButton is one button of an inline keyboard row.
type inlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

// inlineKeyboard is the reply_markup payload for sendMessage.
type inlineKeyboard struct {
	InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
}

// update is one getUpdates entry; only callback queries are of interest.
type update struct {
	UpdateID      int64          `json:"update_id"`
	CallbackQuery *callbackQuery `json:"callback_query"`
}

type callbackQuery struct {
	ID   string `json:"id"`
	From *struct {
		Username  string `json:"username"`
		FirstName string `json:"first_name"`
	} `json:"from"`
	Message *struct {
		MessageID int64 `json:"message_id"`
		Chat      struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		Text string `json:"text"`
	} `json:"message"`
	Data string `json:"data"`
}

// actor names who pressed the button, preferring the username.
func (q *callbackQuery) actor() string {
	if q.From == nil {
		return "unknown"
	}
	if q.From.Username != "" {
		return q.From.Username
	}
	if q.From.FirstName != "" {
		return q.From.FirstName
	}
	return "unknown"
}

// tgClient is a minimal Telegram Bot API client covering what the approval
// worker needs: post a message with buttons, long-poll updates, answer and
// resolve callbacks.
type tgClient struct {
	base   string
	token  string
	client *http.Client
}

func newTGClient(base, token string) *tgClient {
	if base == "" {
		base = defaultAPIBase
	}
	return &tgClient{
		base:   base,
		token:  token,
		client: &http.Client{Timeout: apiTimeout},
	}
}

// call POSTs one Bot API method, retrying transient failures, and decodes
// the result into out when non-nil.
func (c *tgClient) call(ctx context.Context, method string, body interface{}, out interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}
	url := fmt.Sprintf("%s/bot%s/%s", c.base, c.token, method)

	return retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
			if err != nil {
				return retry.Unrecoverable(err)
			}
			req.Header.Set("Content-Type", "application/json")
			resp, err := c.client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close() //nolint:errcheck
			data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			if err != nil {
				return err
			}
			var envelope struct {
				OK          bool            `json:"ok"`
				Result      json.RawMessage `json:"result"`
				Description string          `json:"description"`
			}
			if err := json.Unmarshal(data, &envelope); err != nil {
				return fmt.Errorf("%s: decode response: %w", method, err)
			}
			if !envelope.OK {
				err := fmt.Errorf("%s: api error: %s", method, envelope.Description)
				// 4xx is a caller bug or a stale callback, not transient.
				if resp.StatusCode >= 400 && resp.StatusCode < 500 {
					return retry.Unrecoverable(err)
				}
				return err
			}
			if out != nil {
				return json.Unmarshal(envelope.Result, out)
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(apiAttempts),
		retry.Delay(apiDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
}

// sendMessage posts text with an inline keyboard and returns the message id.
func (c *tgClient) sendMessage(ctx context.Context, chatID, text string, keyboard *inlineKeyboard) (int64, error) {
	body := map[string]interface{}{
		"chat_id": chatID,
		"text":    text,
	}
	if keyboard != nil {
		body["reply_markup"] = keyboard
	}
	var result struct {
		MessageID int64 `json:"message_id"`
	}
	if err := c.call(ctx, "sendMessage", body, &result); err != nil {
		return 0, err
	}
	return result.MessageID, nil
}

// getUpdates long-polls for updates past offset.
func (c *tgClient) getUpdates(ctx context.Context, offset int64, timeoutSec int) ([]update, error) {
	body := map[string]interface{}{
		"offset":          offset,
		"timeout":         timeoutSec,
		"allowed_updates": []string{"callback_query"},
	}
	var updates []update
	if err := c.call(ctx, "getUpdates", body, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// answerCallback acknowledges a button press with a short toast.
func (c *tgClient) answerCallback(ctx context.Context, callbackID, text string) error {
	return c.call(ctx, "answerCallbackQuery", map[string]interface{}{
		"callback_query_id": callbackID,
		"text":              text,
	}, nil)
}

// editMessageText rewrites a posted message, dropping its keyboard.
func (c *tgClient) editMessageText(ctx context.Context, chatID int64, messageID int64, text string) error {
	return c.call(ctx, "editMessageText", map[string]interface{}{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       text,
	}, nil)
}
