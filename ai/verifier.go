// Package ai is the client for the proof-verification oracle. The core
// never inspects screenshots itself; it forwards the image with the
// expected order facts and trusts the returned match report.
package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/chetanchaudhari789/MOBO-sub004/fault"
	"github.com/chetanchaudhari789/MOBO-sub004/models"
)

// Request carries one proof image with the facts it should match.
type Request struct {
	ProofType       models.ProofType
	Image           []byte
	MimeType        string
	ExpectedOrderID string
	ExpectedAmount  int64
}

// Verifier produces a match report for a proof image.
type Verifier interface {
	VerifyProof(ctx context.Context, req Request) (*models.AIReport, error)
}

// HTTPVerifier talks to the oracle over HTTP.
type HTTPVerifier struct {
	baseURL string
	client  *http.Client
	now     func() time.Time
}

// Option configures the HTTPVerifier.
type Option func(*HTTPVerifier)

// WithHTTPClient swaps the transport, mainly for tests.
func WithHTTPClient(client *http.Client) Option {
	return func(v *HTTPVerifier) { v.client = client }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(v *HTTPVerifier) { v.now = now }
}

// NewHTTPVerifier constructs the oracle client. An empty baseURL yields
// a client whose calls fail AI_NOT_CONFIGURED.
func NewHTTPVerifier(baseURL string, timeout time.Duration, opts ...Option) *HTTPVerifier {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	v := &HTTPVerifier{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

type wireRequest struct {
	ProofType       string `json:"proofType"`
	ImageBase64     string `json:"imageBase64"`
	MimeType        string `json:"mimeType,omitempty"`
	ExpectedOrderID string `json:"expectedOrderId,omitempty"`
	ExpectedAmount  int64  `json:"expectedAmount,omitempty"`
}

type wireResponse struct {
	OrderIDMatch    bool    `json:"orderIdMatch"`
	AmountMatch     bool    `json:"amountMatch"`
	DetectedOrderID string  `json:"detectedOrderId"`
	DetectedAmount  int64   `json:"detectedAmount"`
	ConfidenceScore float64 `json:"confidenceScore"`
	DiscrepancyNote string  `json:"discrepancyNote"`
}

// VerifyProof sends the image to the oracle and returns its report.
func (v *HTTPVerifier) VerifyProof(ctx context.Context, req Request) (*models.AIReport, error) {
	if v.baseURL == "" {
		return nil, fault.AINotConfigured()
	}
	if len(req.Image) == 0 {
		return nil, fault.InvalidProofImage("empty proof image")
	}

	body, err := json.Marshal(wireRequest{
		ProofType:       string(req.ProofType),
		ImageBase64:     base64.StdEncoding.EncodeToString(req.Image),
		MimeType:        req.MimeType,
		ExpectedOrderID: req.ExpectedOrderID,
		ExpectedAmount:  req.ExpectedAmount,
	})
	if err != nil {
		return nil, fmt.Errorf("ai: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/verify", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ai: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fault.Timeout()
		}
		return nil, fault.AINotConfigured()
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fault.AINotConfigured()
	}
	var out wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("ai: decode response: %w", err)
	}
	if out.ConfidenceScore < 0 || out.ConfidenceScore > 100 {
		return nil, fault.InvalidOrderProof("oracle confidence out of range")
	}
	return &models.AIReport{
		ProofType:       req.ProofType,
		OrderIDMatch:    out.OrderIDMatch,
		AmountMatch:     out.AmountMatch,
		DetectedOrderID: out.DetectedOrderID,
		DetectedAmount:  out.DetectedAmount,
		ConfidenceScore: out.ConfidenceScore,
		DiscrepancyNote: out.DiscrepancyNote,
		At:              v.now().UTC(),
	}, nil
}
