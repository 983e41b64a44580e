package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/chetanchaudhari789/MOBO-sub004/fault"
	"github.com/chetanchaudhari789/MOBO-sub004/invite"
	"github.com/chetanchaudhari789/MOBO-sub004/models"
)

// WalletBalance returns the caller's wallet, creating it lazily.
func (s *Server) WalletBalance(w http.ResponseWriter, r *http.Request) {
	requester, err := s.requester(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	wal, err := s.ledger.EnsureWallet(requester.UserID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"wallet": wal})
}

// WalletTransactions lists the caller's ledger entries, newest first.
func (s *Server) WalletTransactions(w http.ResponseWriter, r *http.Request) {
	requester, err := s.requester(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var entries []models.Transaction
	if err := s.db.Where("owner_user_id = ?", requester.UserID).
		Order("created_at DESC").Limit(200).Find(&entries).Error; err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"transactions": entries})
}

type createInviteRequest struct {
	Role      string `json:"role"`
	MaxUses   int    `json:"maxUses"`
	ExpiresIn int64  `json:"expiresInSeconds"`
}

// CreateInvite issues an invite for the caller's downstream role.
// Mediators invite buyers; agencies invite mediators.
func (s *Server) CreateInvite(w http.ResponseWriter, r *http.Request) {
	requester, err := s.requester(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var req createInviteRequest
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	role := models.Role(req.Role)
	switch {
	case role == models.RoleBuyer && requester.HasRole(models.RoleMediator):
	case role == models.RoleMediator && requester.HasRole(models.RoleAgency):
	case requester.IsPrivileged():
	default:
		s.respondError(w, r, fault.Forbidden("cannot issue invites for this role"))
		return
	}

	in := invite.CreateInput{
		Role:       role,
		ParentCode: requester.User.MediatorCode,
		CreatedBy:  requester.UserID,
		MaxUses:    req.MaxUses,
	}
	parentID := requester.UserID
	in.ParentUserID = &parentID
	if req.ExpiresIn > 0 {
		expires := time.Now().UTC().Add(time.Duration(req.ExpiresIn) * time.Second)
		in.ExpiresAt = &expires
	}
	inv, err := s.invites.Create(in)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusCreated, map[string]any{"invite": inv})
}

// RevokeInvite disables an active invite code.
func (s *Server) RevokeInvite(w http.ResponseWriter, r *http.Request) {
	requester, err := s.requester(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	code := strings.TrimSpace(chi.URLParam(r, "code"))
	if code == "" {
		s.respondError(w, r, fault.InvalidInvite())
		return
	}
	var inv models.Invite
	if err := s.db.Where("code = ?", code).First(&inv).Error; err != nil {
		s.respondError(w, r, fault.InvalidInvite())
		return
	}
	if inv.CreatedBy != requester.UserID && !requester.IsPrivileged() {
		s.respondError(w, r, fault.Forbidden("cannot revoke another issuer's invite"))
		return
	}
	if err := s.invites.Revoke(code, requester.UserID); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"revoked": true})
}
