// Package fault defines the business error values surfaced by the core.
// A Fault carries the public error code verbatim, the HTTP status the
// transport should use, and a human-readable message. Business conflicts
// are returned as values rather than raised; unexpected conditions keep
// using plain errors.
package fault

import (
	"errors"
	"fmt"
	"net/http"
)

// Fault is the result value for a failed business operation.
type Fault struct {
	Code       string
	HTTPStatus int
	Message    string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

// New constructs a Fault with an explicit status and message.
func New(code string, status int, message string) *Fault {
	return &Fault{Code: code, HTTPStatus: status, Message: message}
}

// As extracts a *Fault from an error chain, if present.
func As(err error) (*Fault, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// Is reports whether err carries the given fault code.
func Is(err error, code string) bool {
	f, ok := As(err)
	return ok && f.Code == code
}

// Validation faults.
func InvalidAmount(msg string) *Fault {
	return New("INVALID_AMOUNT", http.StatusBadRequest, msg)
}

func InvalidOrderID(msg string) *Fault {
	return New("INVALID_ORDER_ID", http.StatusBadRequest, msg)
}

func InvalidProofType(msg string) *Fault {
	return New("INVALID_PROOF_TYPE", http.StatusBadRequest, msg)
}

func InvalidProofImage(msg string) *Fault {
	return New("INVALID_PROOF_IMAGE", http.StatusBadRequest, msg)
}

func ProofTooLarge(msg string) *Fault {
	return New("PROOF_TOO_LARGE", http.StatusBadRequest, msg)
}

// Authentication and authorization faults.
func Unauthenticated(msg string) *Fault {
	return New("UNAUTHENTICATED", http.StatusUnauthorized, msg)
}

func Forbidden(msg string) *Fault {
	return New("FORBIDDEN", http.StatusForbidden, msg)
}

func UsernameRequired() *Fault {
	return New("USERNAME_REQUIRED", http.StatusBadRequest, "admin and ops accounts must sign in with a username")
}

func UserNotActive() *Fault {
	return New("USER_NOT_ACTIVE", http.StatusForbidden, "account is not active")
}

func AccountLocked() *Fault {
	return New("ACCOUNT_LOCKED", http.StatusTooManyRequests, "account temporarily locked after repeated failures")
}

func InvalidCredentials() *Fault {
	return New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid credentials")
}

// Business conflict faults.
func SoldOut() *Fault {
	return New("SOLD_OUT", http.StatusConflict, "campaign has no remaining slots")
}

func SoldOutForPartner() *Fault {
	return New("SOLD_OUT_FOR_PARTNER", http.StatusConflict, "partner allocation exhausted for this campaign")
}

func DuplicateExternalOrderID() *Fault {
	return New("DUPLICATE_EXTERNAL_ORDER_ID", http.StatusConflict, "external order id already recorded")
}

func DuplicateDealOrder() *Fault {
	return New("DUPLICATE_DEAL_ORDER", http.StatusConflict, "an open order for this deal already exists")
}

func OrderFrozen() *Fault {
	return New("ORDER_FROZEN", http.StatusConflict, "order is frozen pending dispute review")
}

func OrderFraudFlagged() *Fault {
	return New("ORDER_FRAUD_FLAGGED", http.StatusConflict, "order is flagged for fraud")
}

func OrderFinalized() *Fault {
	return New("ORDER_FINALIZED", http.StatusConflict, "order has reached a terminal affiliate status")
}

func InvalidWorkflowState(observed, expected string) *Fault {
	return New("INVALID_WORKFLOW_STATE", http.StatusConflict,
		fmt.Sprintf("order is %s, expected %s", observed, expected))
}

func PurchaseNotVerified() *Fault {
	return New("PURCHASE_NOT_VERIFIED", http.StatusConflict, "order proof must be verified first")
}

func RatingNotVerified() *Fault {
	return New("RATING_NOT_VERIFIED", http.StatusConflict, "rating proof must be verified first")
}

func ReviewNotVerified() *Fault {
	return New("REVIEW_NOT_VERIFIED", http.StatusConflict, "review proof must be verified first")
}

func NotRequired(msg string) *Fault {
	return New("NOT_REQUIRED", http.StatusConflict, msg)
}

func VelocityLimit() *Fault {
	return New("VELOCITY_LIMIT", http.StatusTooManyRequests, "order creation velocity limit reached")
}

func InsufficientFunds() *Fault {
	return New("INSUFFICIENT_FUNDS", http.StatusConflict, "wallet balance is insufficient")
}

func BalanceLimitExceeded() *Fault {
	return New("BALANCE_LIMIT_EXCEEDED", http.StatusConflict, "credit would exceed the wallet ceiling")
}

func WalletNotFound() *Fault {
	return New("WALLET_NOT_FOUND", http.StatusNotFound, "wallet does not exist")
}

func WalletDeleted() *Fault {
	return New("WALLET_DELETED", http.StatusConflict, "wallet has been deleted")
}

func AlreadyRequested() *Fault {
	return New("ALREADY_REQUESTED", http.StatusConflict, "a pending request already exists")
}

// Invite and lineage faults.
func InvalidInvite() *Fault {
	return New("INVALID_INVITE", http.StatusBadRequest, "invite code is not valid")
}

func InviteRoleMismatch() *Fault {
	return New("INVITE_ROLE_MISMATCH", http.StatusBadRequest, "invite was issued for a different role")
}

func InviteExpired() *Fault {
	return New("INVITE_EXPIRED", http.StatusBadRequest, "invite code has expired")
}

func InviteNotActive() *Fault {
	return New("INVITE_NOT_ACTIVE", http.StatusConflict, "invite is not active")
}

func InviteParentNotActive() *Fault {
	return New("INVITE_PARENT_NOT_ACTIVE", http.StatusConflict, "the issuing partner is not active")
}

func InviteUpstreamNotActive() *Fault {
	return New("INVITE_UPSTREAM_NOT_ACTIVE", http.StatusConflict, "an upstream partner in the chain is not active")
}

// AI and external collaborator faults.
func AINotConfigured() *Fault {
	return New("AI_NOT_CONFIGURED", http.StatusServiceUnavailable, "proof verification oracle is unavailable")
}

func InvalidOrderProof(msg string) *Fault {
	return New("INVALID_ORDER_PROOF", http.StatusUnprocessableEntity, msg)
}

func RatingVerificationFailed(msg string) *Fault {
	return New("RATING_VERIFICATION_FAILED", http.StatusUnprocessableEntity, msg)
}

// Infrastructure faults.
func Timeout() *Fault {
	return New("TIMEOUT", http.StatusGatewayTimeout, "operation exceeded its deadline")
}

func CodeGenerationFailed() *Fault {
	return New("CODE_GENERATION_FAILED", http.StatusInternalServerError, "could not generate a unique code")
}

func UnsupportedProofFormat() *Fault {
	return New("UNSUPPORTED_PROOF_FORMAT", http.StatusBadRequest, "proof image format is not supported")
}

func NotFound(msg string) *Fault {
	return New("NOT_FOUND", http.StatusNotFound, msg)
}
