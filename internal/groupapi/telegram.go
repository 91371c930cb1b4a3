package groupapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const telegramAPIBase = "https://api.telegram.org"

// TelegramClient implements Client and Notifier over the Telegram Bot API.
type TelegramClient struct {
	token   string
	baseURL string
	http    *http.Client
}

func NewTelegramClient(token string, timeout time.Duration) *TelegramClient {
	return &TelegramClient{
		token:   token,
		baseURL: telegramAPIBase,
		http:    &http.Client{Timeout: timeout},
	}
}

type telegramResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
	Result      json.RawMessage `json:"result"`
}

func (c *TelegramClient) AddMember(ctx context.Context, groupChatID, userID int64) (string, error) {
	// A previously kicked user stays banned; lift the ban first so the
	// invite link works. only_if_banned keeps this a no-op otherwise.
	_, err := c.call(ctx, "unbanChatMember", map[string]interface{}{
		"chat_id":        groupChatID,
		"user_id":        userID,
		"only_if_banned": true,
	})
	if err != nil {
		return "", err
	}

	result, err := c.call(ctx, "createChatInviteLink", map[string]interface{}{
		"chat_id":      groupChatID,
		"member_limit": 1,
	})
	if err != nil {
		return "", err
	}

	var link struct {
		InviteLink string `json:"invite_link"`
	}
	if err := json.Unmarshal(result, &link); err != nil || link.InviteLink == "" {
		return "", fmt.Errorf("group API returned no invite link")
	}
	return link.InviteLink, nil
}

func (c *TelegramClient) RemoveMember(ctx context.Context, groupChatID, userID int64) error {
	_, err := c.call(ctx, "banChatMember", map[string]interface{}{
		"chat_id": groupChatID,
		"user_id": userID,
	})
	return err
}

func (c *TelegramClient) NotifyExpiring(ctx context.Context, userID int64, daysLeft int, renewHint string) error {
	plural := ""
	if daysLeft != 1 {
		plural = "s"
	}
	text := fmt.Sprintf("Your subscription expires in %d day%s. %s", daysLeft, plural, renewHint)
	_, err := c.call(ctx, "sendMessage", map[string]interface{}{
		"chat_id": userID,
		"text":    text,
	})
	return err
}

func (c *TelegramClient) call(ctx context.Context, method string, payload map[string]interface{}) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTransient, method, err)
	}
	defer resp.Body.Close()

	var tr telegramResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("%w: %s: bad response body: %v", ErrTransient, method, err)
	}

	if !tr.OK {
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, fmt.Errorf("%w: %s: %d %s", ErrTransient, method, tr.ErrorCode, tr.Description)
		}
		return nil, fmt.Errorf("group API %s failed: %d %s", method, tr.ErrorCode, tr.Description)
	}
	return tr.Result, nil
}
