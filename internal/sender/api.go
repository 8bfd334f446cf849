package sender

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultAPITimeout = 30 * time.Second

type apiRequest struct {
	To       string `json:"to"`
	From     string `json:"from"`
	FromName string `json:"from_name,omitempty"`
	Subject  string `json:"subject"`
	HTML     string `json:"html,omitempty"`
	Text     string `json:"text,omitempty"`
}

type apiResponse struct {
	MessageID string `json:"message_id"`
}

// APISender delivers email through a JSON-over-HTTP relay endpoint.
type APISender struct {
	client   *resty.Client
	endpoint string
	apiKey   string
}

func NewAPISender(endpoint, apiKey string) (*APISender, error) {
	client := resty.New()
	client.SetTimeout(defaultAPITimeout)
	client.SetRetryCount(0)

	return NewAPISenderWithClient(endpoint, apiKey, client)
}

func NewAPISenderWithClient(endpoint, apiKey string, client *resty.Client) (*APISender, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("api endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid api endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultAPITimeout)
	}
	client.SetRetryCount(0)

	return &APISender{
		client:   client,
		endpoint: trimmedEndpoint,
		apiKey:   strings.TrimSpace(apiKey),
	}, nil
}

func (s *APISender) Send(ctx context.Context, msg Message) (*Response, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("sender is not initialized")
	}
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}

	reqBody := apiRequest{
		To:       msg.To,
		From:     msg.From,
		FromName: msg.FromName,
		Subject:  msg.Subject,
		HTML:     msg.HTMLBody,
		Text:     msg.TextBody,
	}

	var parsed apiResponse
	req := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		SetResult(&parsed)
	if s.apiKey != "" {
		req.SetHeader("Authorization", "Bearer "+s.apiKey)
	}

	response, err := req.Post(s.endpoint)
	if err != nil {
		return nil, &SendError{
			Message:   "relay request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &SendError{
			Message:   "relay returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &Response{
			StatusCode: statusCode,
			Body:       responseBody,
			MessageID:  relayMessageID(response, parsed),
		}, nil
	}

	return nil, &SendError{
		StatusCode: statusCode,
		Message:    relayErrorMessage(statusCode, responseBody),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func relayErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("relay returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}

func relayMessageID(response *resty.Response, parsed apiResponse) string {
	if id := strings.TrimSpace(parsed.MessageID); id != "" {
		return id
	}
	if response == nil {
		return ""
	}

	for _, key := range []string{"X-Message-ID", "X-Message-Id", "X-Request-ID", "X-Request-Id"} {
		if value := strings.TrimSpace(response.Header().Get(key)); value != "" {
			return value
		}
	}

	return ""
}
