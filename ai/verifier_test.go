package ai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chetanchaudhari789/MOBO-sub004/fault"
	"github.com/chetanchaudhari789/MOBO-sub004/models"
)

func TestVerifyProofRoundTrip(t *testing.T) {
	var got wireRequest
	oracle := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/verify" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(wireResponse{
			OrderIDMatch:    true,
			AmountMatch:     true,
			DetectedOrderID: "AMZ-171-555",
			DetectedAmount:  149900,
			ConfidenceScore: 93.5,
		})
	}))
	defer oracle.Close()

	fixed := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	v := NewHTTPVerifier(oracle.URL, time.Second, WithClock(func() time.Time { return fixed }))
	report, err := v.VerifyProof(context.Background(), Request{
		ProofType:       models.ProofOrder,
		Image:           []byte("screenshot-bytes"),
		MimeType:        "image/png",
		ExpectedOrderID: "AMZ-171-555",
		ExpectedAmount:  149900,
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got.ProofType != string(models.ProofOrder) || got.ExpectedOrderID != "AMZ-171-555" {
		t.Fatalf("oracle saw wrong facts: %+v", got)
	}
	if got.ImageBase64 != base64.StdEncoding.EncodeToString([]byte("screenshot-bytes")) {
		t.Fatal("image was not base64-encoded on the wire")
	}
	if !report.OrderIDMatch || !report.AmountMatch || report.ConfidenceScore != 93.5 {
		t.Fatalf("report mismatch: %+v", report)
	}
	if report.ProofType != models.ProofOrder || !report.At.Equal(fixed) {
		t.Fatalf("report metadata mismatch: %+v", report)
	}
}

func TestVerifyProofWithoutBaseURL(t *testing.T) {
	v := NewHTTPVerifier("", time.Second)
	_, err := v.VerifyProof(context.Background(), Request{
		ProofType: models.ProofOrder,
		Image:     []byte("x"),
	})
	if !fault.Is(err, "AI_NOT_CONFIGURED") {
		t.Fatalf("expected AI_NOT_CONFIGURED, got %v", err)
	}
}

func TestVerifyProofRejectsEmptyImage(t *testing.T) {
	v := NewHTTPVerifier("http://oracle.invalid", time.Second)
	_, err := v.VerifyProof(context.Background(), Request{ProofType: models.ProofOrder})
	if !fault.Is(err, "INVALID_PROOF_IMAGE") {
		t.Fatalf("expected INVALID_PROOF_IMAGE, got %v", err)
	}
}

func TestVerifyProofOracleErrorsAndTimeouts(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer failing.Close()

	v := NewHTTPVerifier(failing.URL, time.Second)
	req := Request{ProofType: models.ProofOrder, Image: []byte("x")}
	if _, err := v.VerifyProof(context.Background(), req); !fault.Is(err, "AI_NOT_CONFIGURED") {
		t.Fatalf("expected AI_NOT_CONFIGURED on 502, got %v", err)
	}

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer slow.Close()

	v = NewHTTPVerifier(slow.URL, time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := v.VerifyProof(ctx, req); !fault.Is(err, "TIMEOUT") {
		t.Fatalf("expected TIMEOUT, got %v", err)
	}
}

func TestVerifyProofRejectsOutOfRangeConfidence(t *testing.T) {
	oracle := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(wireResponse{ConfidenceScore: 180})
	}))
	defer oracle.Close()

	v := NewHTTPVerifier(oracle.URL, time.Second)
	_, err := v.VerifyProof(context.Background(), Request{
		ProofType: models.ProofOrder,
		Image:     []byte("x"),
	})
	if !fault.Is(err, "INVALID_ORDER_PROOF") {
		t.Fatalf("expected INVALID_ORDER_PROOF, got %v", err)
	}
}
