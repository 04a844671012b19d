package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/campusbridge/alumni-connect/internal/models"
	apperrors "github.com/campusbridge/alumni-connect/pkg/errors"
)

// HistoryAPI loads persisted messages of a conversation.
type HistoryAPI interface {
	ListMessages(ctx context.Context, conversationID string) ([]models.Message, error)
}

// RESTClient talks to the /api/chat endpoints with a bearer token.
type RESTClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewRESTClient takes the API root, e.g. https://host/api.
func NewRESTClient(baseURL, token string) *RESTClient {
	return &RESTClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *RESTClient) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, "/chat/messages/"+url.PathEscape(conversationID), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (c *RESTClient) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	var resp struct {
		Conversations []models.Conversation `json:"conversations"`
	}
	if err := c.do(ctx, http.MethodGet, "/chat/conversations", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

// StartConversation finds or creates the conversation with participantID.
func (c *RESTClient) StartConversation(ctx context.Context, participantID string) (*models.Conversation, error) {
	var resp struct {
		Conversation models.Conversation `json:"conversation"`
	}
	body := map[string]string{"participantId": participantID}
	if err := c.do(ctx, http.MethodPost, "/chat/conversations", body, &resp); err != nil {
		return nil, err
	}
	return &resp.Conversation, nil
}

func (c *RESTClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.Transport("Chat API unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr struct {
			Error string         `json:"error"`
			Code  apperrors.Kind `json:"code"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = resp.Status
		}
		appErr := apperrors.FromKind(apiErr.Code, apiErr.Error)
		appErr.Code = resp.StatusCode
		return appErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
