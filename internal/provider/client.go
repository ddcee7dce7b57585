package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/cockroachdb/errors"

	"github.com/socialpulse/walletcore/pkg/logger"
)

// API is the surface the rest of the service consumes. The broker is the only
// component allowed to call Complete.
type API interface {
	GetIdentity(ctx context.Context, accessToken string) (*Identity, error)
	Approve(ctx context.Context, paymentID string) error
	Complete(ctx context.Context, paymentID, txid string) error
	Cancel(ctx context.Context, paymentID string) error
	GetPayment(ctx context.Context, paymentID string) (*PaymentDTO, error)
	ListIncompletePayments(ctx context.Context) ([]*PaymentDTO, error)
}

// Client is the authenticated HTTP client for the payment provider's REST API.
// It is constructed explicitly with the API key of the selected network; one
// instance per process, no hidden singleton. App-level calls authenticate with
// "Authorization: Key <apiKey>", identity calls with the user's bearer token.
//
// The client performs no retries and imposes no timeout of its own; callers
// decide retry policy and cancel through ctx.
type Client struct {
	logger  *logger.Logger
	baseURL string
	apiKey  string
	network string
	client  *http.Client
}

// NewClient creates a provider client for one network credential set.
// httpClient may be nil, in which case http.DefaultClient is used.
func NewClient(baseURL, apiKey, network string, httpClient *http.Client, logger *logger.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		logger:  logger,
		baseURL: baseURL,
		apiKey:  apiKey,
		network: network,
		client:  httpClient,
	}
}

func (c *Client) Network() string {
	return c.network
}

func (c *Client) GetIdentity(ctx context.Context, accessToken string) (*Identity, error) {
	status, body, err := c.do(ctx, http.MethodGet, "/me", "Bearer "+accessToken, nil)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &AuthenticationError{StatusCode: status}
	}

	var identity Identity
	if err := json.Unmarshal(body, &identity); err != nil {
		return nil, errors.Wrap(err, "failed to decode identity response")
	}
	return &identity, nil
}

func (c *Client) Approve(ctx context.Context, paymentID string) error {
	status, _, err := c.do(ctx, http.MethodPost, "/payments/"+paymentID+"/approve", c.keyAuth(), nil)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return &ApprovalError{PaymentID: paymentID, StatusCode: status}
	}
	return nil
}

func (c *Client) Complete(ctx context.Context, paymentID, txid string) error {
	payload := map[string]string{"txid": txid}
	status, _, err := c.do(ctx, http.MethodPost, "/payments/"+paymentID+"/complete", c.keyAuth(), payload)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return &CompletionError{PaymentID: paymentID, StatusCode: status}
	}
	return nil
}

func (c *Client) Cancel(ctx context.Context, paymentID string) error {
	status, _, err := c.do(ctx, http.MethodPost, "/payments/"+paymentID+"/cancel", c.keyAuth(), nil)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return &CancellationError{PaymentID: paymentID, StatusCode: status}
	}
	return nil
}

func (c *Client) GetPayment(ctx context.Context, paymentID string) (*PaymentDTO, error) {
	status, body, err := c.do(ctx, http.MethodGet, "/payments/"+paymentID, c.keyAuth(), nil)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, errors.Newf("provider returned status %d for payment %s", status, paymentID)
	}

	var payment PaymentDTO
	if err := json.Unmarshal(body, &payment); err != nil {
		return nil, errors.Wrap(err, "failed to decode payment response")
	}
	return &payment, nil
}

// ListIncompletePayments enumerates payments left unresolved by this app.
// Orphaned holds on the provider side block creation of any new payment for
// that user until they are cancelled or completed.
func (c *Client) ListIncompletePayments(ctx context.Context) ([]*PaymentDTO, error) {
	status, body, err := c.do(ctx, http.MethodGet, "/payments/incomplete_server_payments", c.keyAuth(), nil)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, errors.Newf("provider returned status %d listing incomplete payments", status)
	}

	var response struct {
		IncompleteServerPayments []*PaymentDTO `json:"incomplete_server_payments"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, errors.Wrap(err, "failed to decode incomplete payments response")
	}
	return response.IncompleteServerPayments, nil
}

func (c *Client) keyAuth() string {
	return "Key " + c.apiKey
}

func (c *Client) do(ctx context.Context, method, path, authorization string, payload any) (int, []byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, errors.Wrap(err, "failed to encode request body")
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return 0, nil, errors.Wrapf(err, "failed to build %s %s request", method, path)
	}
	req.Header.Set("Authorization", authorization)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, errors.Wrapf(err, "provider request %s %s failed", method, path)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, errors.Wrap(err, "failed to read provider response")
	}

	c.logger.Debug("Provider call ", method, " ", path, " status ", resp.StatusCode)
	return resp.StatusCode, body, nil
}
