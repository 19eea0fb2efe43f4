// Package identity asks the application API who the current token belongs to, and decodes the
// API's machine-readable error reasons into invalidation signals.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// OperationName is the GraphQL operation used for the identity check.
const OperationName = "authorizationQuery"

const authorizationQuery = `query authorizationQuery { myAuth { id email } }`

// maxResponseBytes bounds how much of an API response is read.
const maxResponseBytes = 1 << 20

var (
	// ErrInvalidated is matched by every InvalidationError.
	ErrInvalidated = errors.New("session invalidated by the API")

	// ErrQuery is matched by every QueryError.
	ErrQuery = errors.New("identity query failed")
)

// InvalidationSignal is a reason that always ends the session.
type InvalidationSignal int

const (
	SignalUserDeleted InvalidationSignal = iota + 1
	SignalTokenValidation
)

func (s InvalidationSignal) String() string {
	switch s {
	case SignalUserDeleted:
		return "user_deleted"
	case SignalTokenValidation:
		return "token_validation"
	default:
		return "unknown"
	}
}

// ParseSignal maps an API error reason to a signal.
func ParseSignal(reason string) (InvalidationSignal, bool) {
	switch reason {
	case "user_deleted":
		return SignalUserDeleted, true
	case "token_validation":
		return SignalTokenValidation, true
	default:
		return 0, false
	}
}

// InvalidationError carries an invalidation signal returned by the API.
type InvalidationError struct {
	Signal  InvalidationSignal
	Message string
}

func (e *InvalidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrInvalidated.Error(), e.Signal, e.Message)
}

func (e *InvalidationError) Unwrap() error {
	return ErrInvalidated
}

// QueryError is any other API failure. It does not end the session.
type QueryError struct {
	StatusCode int
	Reason     string
	Message    string
}

func (e *QueryError) Error() string {
	switch {
	case e.Reason != "":
		return fmt.Sprintf("%s: %s: %s", ErrQuery.Error(), e.Reason, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d: %s", ErrQuery.Error(), e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("%s: %s", ErrQuery.Error(), e.Message)
	}
}

func (e *QueryError) Unwrap() error {
	return ErrQuery
}

// Principal is the account behind the current access token.
type Principal struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type graphQLError struct {
	Message    string `json:"message"`
	Extensions struct {
		Reason string `json:"reason"`
	} `json:"extensions"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

// DecodeResponse decodes a GraphQL response body into data. An invalidation reason in any
// error wins over every other error; other errors are reported as a QueryError.
func DecodeResponse(body []byte, data any) error {
	var resp graphQLResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return &QueryError{Message: fmt.Sprintf("decode response: %v", err)}
	}

	for _, e := range resp.Errors {
		if signal, ok := ParseSignal(e.Extensions.Reason); ok {
			return &InvalidationError{Signal: signal, Message: e.Message}
		}
	}
	if len(resp.Errors) > 0 {
		first := resp.Errors[0]
		return &QueryError{Reason: first.Extensions.Reason, Message: first.Message}
	}

	if data == nil || len(resp.Data) == 0 || bytes.Equal(resp.Data, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(resp.Data, data); err != nil {
		return &QueryError{Message: fmt.Sprintf("decode data: %v", err)}
	}
	return nil
}

// Client runs the identity check against a GraphQL endpoint. The http.Client is expected to
// attach the bearer token, normally through the authorization gate.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     zerolog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the client logger.
func WithLogger(l zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a client for the GraphQL endpoint.
func NewClient(endpoint string, httpClient *http.Client, opts ...ClientOption) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{endpoint: endpoint, httpClient: httpClient, logger: log.Logger}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check confirms the account behind the current token still exists and is active.
func (c *Client) Check(ctx context.Context) (*Principal, error) {
	payload, err := json.Marshal(map[string]any{
		"operationName": OperationName,
		"query":         authorizationQuery,
		"variables":     map[string]any{},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}

	var data struct {
		MyAuth *Principal `json:"myAuth"`
	}
	if err := DecodeResponse(body, &data); err != nil {
		var queryErr *QueryError
		if errors.As(err, &queryErr) && resp.StatusCode >= http.StatusBadRequest {
			queryErr.StatusCode = resp.StatusCode
		}
		c.logger.Debug().Err(err).Int("status", resp.StatusCode).Msg("Identity check failed")
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &QueryError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	if data.MyAuth == nil {
		return nil, &QueryError{Message: "no principal in response"}
	}
	return data.MyAuth, nil
}
