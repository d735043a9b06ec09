// Package telegram is a small Bot API client covering what the consumer
// needs: replies, chat actions, voice downloads and the bot's own identity.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"
)

const (
	defaultBaseURL = "https://api.telegram.org"

	// ActionTyping is the chat action shown while a reply is being prepared.
	ActionTyping = "typing"

	maxMessageRunes     = 4096
	defaultMaxFileBytes = 20 << 20
)

// TokenProvider supplies the bot token. *paramstore.TokenSource satisfies it.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// APIError is a failed Bot API call, either a non-2xx status or ok=false.
type APIError struct {
	Method      string
	StatusCode  int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram: %s failed with status %d: %s", e.Method, e.StatusCode, e.Description)
}

func (e *APIError) HTTPStatusCode() int {
	return e.StatusCode
}

// User is the subset of a Bot API user the consumer reads.
type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
}

type envelope struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
}

type replyParameters struct {
	MessageID                int64 `json:"message_id"`
	AllowSendingWithoutReply bool  `json:"allow_sending_without_reply"`
}

type sendMessageRequest struct {
	ChatID          int64            `json:"chat_id"`
	Text            string           `json:"text"`
	ReplyParameters *replyParameters `json:"reply_parameters,omitempty"`
}

type sendChatActionRequest struct {
	ChatID int64  `json:"chat_id"`
	Action string `json:"action"`
}

type getFileRequest struct {
	FileID string `json:"file_id"`
}

type file struct {
	FileID   string `json:"file_id"`
	FileSize int64  `json:"file_size"`
	FilePath string `json:"file_path"`
}

// Client talks to the Telegram Bot API.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	tokens       TokenProvider
	maxFileBytes int64

	botMu sync.Mutex
	bot   *User
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithMaxFileBytes caps the size of downloaded files.
func WithMaxFileBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxFileBytes = n
		}
	}
}

// NewClient creates a Client that reads its bot token from tokens on first use.
func NewClient(tokens TokenProvider, opts ...Option) (*Client, error) {
	if tokens == nil {
		return nil, errors.New("telegram: token provider must not be nil")
	}
	c := &Client{
		baseURL:      defaultBaseURL,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		tokens:       tokens,
		maxFileBytes: defaultMaxFileBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SendMessage delivers text to chatID, quoting replyTo when it is non-zero.
// Texts longer than one Bot API message are split; only the first part quotes.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, replyTo int64) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("telegram: message text must not be empty")
	}
	for i, part := range splitRunes(text, maxMessageRunes) {
		req := sendMessageRequest{ChatID: chatID, Text: part}
		if i == 0 && replyTo != 0 {
			req.ReplyParameters = &replyParameters{MessageID: replyTo, AllowSendingWithoutReply: true}
		}
		if err := c.call(ctx, "sendMessage", req, nil); err != nil {
			return err
		}
	}
	return nil
}

// SendChatAction shows a transient status such as ActionTyping in chatID.
func (c *Client) SendChatAction(ctx context.Context, chatID int64, action string) error {
	action = strings.TrimSpace(action)
	if action == "" {
		action = ActionTyping
	}
	return c.call(ctx, "sendChatAction", sendChatActionRequest{ChatID: chatID, Action: action}, nil)
}

// DownloadFile resolves fileID and returns the file's base name and bytes.
func (c *Client) DownloadFile(ctx context.Context, fileID string) (string, []byte, error) {
	fileID = strings.TrimSpace(fileID)
	if fileID == "" {
		return "", nil, errors.New("telegram: file id must not be empty")
	}

	var f file
	if err := c.call(ctx, "getFile", getFileRequest{FileID: fileID}, &f); err != nil {
		return "", nil, err
	}
	if strings.TrimSpace(f.FilePath) == "" {
		return "", nil, errors.New("telegram: getFile returned no file_path")
	}
	if f.FileSize > c.maxFileBytes {
		return "", nil, fmt.Errorf("telegram: file too large (%d > %d bytes)", f.FileSize, c.maxFileBytes)
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("telegram: resolve token: %w", err)
	}
	fileURL := fmt.Sprintf("%s/file/bot%s/%s", c.baseURL, token, strings.TrimLeft(f.FilePath, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return "", nil, fmt.Errorf("telegram: create download request: %w", err)
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("telegram: download file: %w", redact(err))
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return "", nil, &APIError{Method: "download", StatusCode: res.StatusCode, Description: strings.TrimSpace(string(buf))}
	}
	data, err := io.ReadAll(io.LimitReader(res.Body, c.maxFileBytes+1))
	if err != nil {
		return "", nil, fmt.Errorf("telegram: read file: %w", err)
	}
	if int64(len(data)) > c.maxFileBytes {
		return "", nil, fmt.Errorf("telegram: file too large (> %d bytes)", c.maxFileBytes)
	}
	return path.Base(f.FilePath), data, nil
}

// BotInfo returns the bot's own user, fetched once per process. A failed
// lookup is not remembered, so the next caller tries again.
func (c *Client) BotInfo(ctx context.Context) (User, error) {
	c.botMu.Lock()
	defer c.botMu.Unlock()
	if c.bot != nil {
		return *c.bot, nil
	}

	var u User
	if err := c.call(ctx, "getMe", struct{}{}, &u); err != nil {
		return User{}, err
	}
	c.bot = &u
	return u, nil
}

func (c *Client) call(ctx context.Context, method string, in, out any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("telegram: resolve token: %w", err)
	}
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("telegram: marshal %s: %w", method, err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/%s", c.baseURL, token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: %s: %w", method, redact(err))
	}
	defer func() { _ = res.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("telegram: read %s response: %w", method, err)
	}

	var env envelope
	if decErr := json.Unmarshal(raw, &env); decErr != nil {
		if res.StatusCode < 200 || res.StatusCode >= 300 {
			return &APIError{Method: method, StatusCode: res.StatusCode, Description: strings.TrimSpace(string(raw))}
		}
		return fmt.Errorf("telegram: decode %s response: %w", method, decErr)
	}
	if !env.OK || res.StatusCode < 200 || res.StatusCode >= 300 {
		status := res.StatusCode
		if env.ErrorCode != 0 {
			status = env.ErrorCode
		}
		return &APIError{Method: method, StatusCode: status, Description: env.Description}
	}
	if out != nil {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("telegram: decode %s result: %w", method, err)
		}
	}
	return nil
}

// redact drops the request URL, which embeds the bot token, from transport errors.
func redact(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return uerr.Err
	}
	return err
}

// StripBotMention removes the first @username mention of the bot from text.
func StripBotMention(text, username string) string {
	text = strings.TrimSpace(text)
	if text == "" || username == "" {
		return text
	}
	mention := "@" + username
	for i := 0; i+len(mention) <= len(text); i++ {
		if strings.EqualFold(text[i:i+len(mention)], mention) && !isUsernameByte(text, i+len(mention)) {
			before := strings.TrimSpace(text[:i])
			after := strings.TrimSpace(text[i+len(mention):])
			return strings.TrimSpace(before + " " + after)
		}
	}
	return text
}

// isUsernameByte reports whether text[i] continues a username, so that
// "@lingo_bot" does not match inside "@lingo_botfan".
func isUsernameByte(text string, i int) bool {
	if i >= len(text) {
		return false
	}
	b := text[i]
	return b == '_' || b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}

func splitRunes(s string, n int) []string {
	r := []rune(s)
	if len(r) <= n {
		return []string{s}
	}
	var out []string
	for len(r) > 0 {
		end := min(n, len(r))
		out = append(out, string(r[:end]))
		r = r[end:]
	}
	return out
}
