package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"medsync/models"

	"github.com/google/uuid"
)

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api: unexpected status %d: %s", e.Code, e.Body)
}

// Upload is an optional binary attachment for SendMessage.
type Upload struct {
	Filename    string
	ContentType string
	Reader      io.Reader
}

// Client talks to the request/response side of the server: message
// history, conversation management, read marking and presence. The
// realtime socket is deliberately not its concern.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Messages fetches the ordered (ascending by creation time) message
// history for a conversation.
func (c *Client) Messages(ctx context.Context, conversationID string) ([]models.ChatMessage, error) {
	var msgs []models.ChatMessage
	err := c.do(ctx, http.MethodGet, "/api/conversations/"+conversationID+"/messages", nil, "", &msgs)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []models.ChatMessage{}
	}
	return msgs, nil
}

// CreateConversation opens (or returns) the conversation with the given
// participant.
func (c *Client) CreateConversation(ctx context.Context, participantID string) (*models.Conversation, error) {
	body, _ := json.Marshal(map[string]string{"participant_id": participantID})
	var conv models.Conversation
	err := c.do(ctx, http.MethodPost, "/api/conversations", bytes.NewReader(body), "application/json", &conv)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// SendMessage posts a message, multipart when an attachment is present,
// and returns the created record.
func (c *Client) SendMessage(ctx context.Context, conversationID, content string, attachment *Upload) (*models.ChatMessage, error) {
	path := "/api/conversations/" + conversationID + "/messages"
	var msg models.ChatMessage

	if attachment == nil {
		body, _ := json.Marshal(models.SendMessageRequest{ConversationID: conversationID, Content: content})
		if err := c.do(ctx, http.MethodPost, path, bytes.NewReader(body), "application/json", &msg); err != nil {
			return nil, err
		}
		return &msg, nil
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("content", content); err != nil {
		return nil, err
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, attachment.Filename))
	if attachment.ContentType != "" {
		h.Set("Content-Type", attachment.ContentType)
	}
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, attachment.Reader); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	if err := c.do(ctx, http.MethodPost, path, &buf, w.FormDataContentType(), &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// MarkRead marks every message in the conversation as read.
func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodPost, "/api/conversations/"+conversationID+"/read", nil, "", nil)
}

// OnlineStatus reports whether the given user currently has a live session.
func (c *Client) OnlineStatus(ctx context.Context, userID string) (bool, error) {
	var out struct {
		Online bool `json:"online"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/users/"+userID+"/status", nil, "", &out); err != nil {
		return false, err
	}
	return out.Online, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-Request-ID", uuid.NewString())
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: decode response: %w", err)
	}
	return nil
}
