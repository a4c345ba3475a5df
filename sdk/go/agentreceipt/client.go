// Package agentreceipt is a Go client for the receiptd REST API.
package agentreceipt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"AgentReceipt/internal/attestation"
	"AgentReceipt/internal/jobs"
	"AgentReceipt/internal/ledger"
	"AgentReceipt/internal/receipt"
	"AgentReceipt/internal/verify"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with receiptd.
type Client struct {
	baseURL      *url.URL
	httpClient   *http.Client
	attestations *attestation.Service
}

// GenerateRequest asks the server to build a receipt from an on-chain transfer.
type GenerateRequest struct {
	Network  string                  `json:"network"`
	TxHash   string                  `json:"txHash"`
	Currency string                  `json:"currency,omitempty"`
	Commerce receipt.CommerceContext `json:"commerce"`
}

// AnchorResult is the anchored receipt and the ledger acknowledgement.
type AnchorResult struct {
	Receipt receipt.AgentReceipt
	Hash    string
	Anchor  ledger.Receipt
}

// APIError is an RFC 7807 problem returned by the server.
type APIError struct {
	StatusCode int               `json:"status"`
	Code       string            `json:"code"`
	Message    string            `json:"detail"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("receiptd api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("receiptd api error (%d): %s", e.StatusCode, e.Message)
}

type receiptResponse struct {
	Receipt json.RawMessage `json:"receipt"`
	Hash    string          `json:"hash"`
	Anchor  *ledger.Receipt `json:"anchor,omitempty"`
}

// NewClient instantiates a client for the receiptd API. When httpClient is
// nil a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient, attestations: attestation.NewService()}, nil
}

// Generate builds a receipt for an existing transaction.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (receipt.AgentReceipt, error) {
	r, _, err := c.receiptCall(ctx, "/api/v1/receipts", req)
	return r, err
}

// Attest signs r locally with signer and submits the attestation. The
// private key never leaves the caller.
func (c *Client) Attest(ctx context.Context, r receipt.AgentReceipt, signer attestation.Signer, role receipt.Role, agentID string) (receipt.AgentReceipt, error) {
	att, err := c.attestations.Sign(ctx, r, signer, role, agentID)
	if err != nil {
		return receipt.AgentReceipt{}, err
	}
	return c.SubmitAttestation(ctx, r, att)
}

// SubmitAttestation sends an already signed attestation.
func (c *Client) SubmitAttestation(ctx context.Context, r receipt.AgentReceipt, att receipt.Attestation) (receipt.AgentReceipt, error) {
	doc, err := receipt.MarshalDocument(r)
	if err != nil {
		return receipt.AgentReceipt{}, err
	}
	out, _, err := c.receiptCall(ctx, "/api/v1/receipts/attestations", map[string]any{
		"receipt":     json.RawMessage(doc),
		"attestation": att,
	})
	return out, err
}

// Pin stores the receipt document on the server's content store.
func (c *Client) Pin(ctx context.Context, r receipt.AgentReceipt) (receipt.AgentReceipt, error) {
	doc, err := receipt.MarshalDocument(r)
	if err != nil {
		return receipt.AgentReceipt{}, err
	}
	out, _, err := c.receiptCall(ctx, "/api/v1/receipts/pin", map[string]any{"receipt": json.RawMessage(doc)})
	return out, err
}

// Anchor writes the receipt to the anchor ledger, pinning it first when pin
// is set and the receipt has no locator yet.
func (c *Client) Anchor(ctx context.Context, r receipt.AgentReceipt, pin bool) (AnchorResult, error) {
	doc, err := receipt.MarshalDocument(r)
	if err != nil {
		return AnchorResult{}, err
	}
	out, resp, err := c.receiptCall(ctx, "/api/v1/receipts/anchor", map[string]any{
		"receipt": json.RawMessage(doc),
		"pin":     pin,
	})
	if err != nil {
		return AnchorResult{}, err
	}
	result := AnchorResult{Receipt: out, Hash: resp.Hash}
	if resp.Anchor != nil {
		result.Anchor = *resp.Anchor
	}
	return result, nil
}

// Verify runs the full verification of r.
func (c *Client) Verify(ctx context.Context, r receipt.AgentReceipt, checkOnChain bool) (verify.Result, error) {
	doc, err := receipt.MarshalDocument(r)
	if err != nil {
		return verify.Result{}, err
	}
	var result verify.Result
	err = c.post(ctx, "/api/v1/receipts/verify", map[string]any{
		"receipt":      json.RawMessage(doc),
		"checkOnChain": checkOnChain,
	}, &result)
	return result, err
}

// QuickVerify only checks the underlying transaction.
func (c *Client) QuickVerify(ctx context.Context, r receipt.AgentReceipt) (verify.QuickResult, error) {
	doc, err := receipt.MarshalDocument(r)
	if err != nil {
		return verify.QuickResult{}, err
	}
	var result verify.QuickResult
	err = c.post(ctx, "/api/v1/receipts/quick-verify", map[string]any{"receipt": json.RawMessage(doc)}, &result)
	return result, err
}

// GetAnchor returns the anchor record of receiptID.
func (c *Client) GetAnchor(ctx context.Context, receiptID string) (ledger.Record, error) {
	var record ledger.Record
	err := c.get(ctx, "/api/v1/anchors/"+receiptID, nil, &record)
	return record, err
}

// ListByWriter returns the ids anchored by writer in anchor order.
func (c *Client) ListByWriter(ctx context.Context, writer common.Address) ([]string, error) {
	var resp struct {
		ReceiptIDs []string `json:"receiptIds"`
	}
	err := c.get(ctx, "/api/v1/anchors", url.Values{"writer": {writer.Hex()}}, &resp)
	return resp.ReceiptIDs, err
}

// SubmitJob queues r for asynchronous verification. A repeated id returns
// the existing job.
func (c *Client) SubmitJob(ctx context.Context, id string, r receipt.AgentReceipt, checkOnChain bool) (*jobs.Job, error) {
	doc, err := receipt.MarshalDocument(r)
	if err != nil {
		return nil, err
	}
	var job jobs.Job
	err = c.post(ctx, "/api/v1/jobs", map[string]any{
		"id":           id,
		"receipt":      json.RawMessage(doc),
		"checkOnChain": checkOnChain,
	}, &job)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJob fetches a verification job.
func (c *Client) GetJob(ctx context.Context, id string) (*jobs.Job, error) {
	var job jobs.Job
	if err := c.get(ctx, "/api/v1/jobs/"+id, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *Client) receiptCall(ctx context.Context, endpoint string, payload any) (receipt.AgentReceipt, receiptResponse, error) {
	var resp receiptResponse
	if err := c.post(ctx, endpoint, payload, &resp); err != nil {
		return receipt.AgentReceipt{}, resp, err
	}
	r, err := receipt.ParseDocument(resp.Receipt)
	if err != nil {
		return receipt.AgentReceipt{}, resp, err
	}
	return r, resp, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint), RawQuery: query.Encode()}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		_ = json.Unmarshal(data, apiErr)
		apiErr.StatusCode = resp.StatusCode
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
