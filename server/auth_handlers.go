package server

import (
	"net/http"
	"strings"

	"github.com/chetanchaudhari789/MOBO-sub004/auth"
	"github.com/chetanchaudhari789/MOBO-sub004/fault"
	"github.com/chetanchaudhari789/MOBO-sub004/models"
)

type loginRequest struct {
	Mobile   string `json:"mobile"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type sessionResponse struct {
	User   *models.User    `json:"user"`
	Tokens *auth.TokenPair `json:"tokens"`
}

// Login authenticates by mobile or username.
func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	user, pair, err := s.auth.Login(auth.LoginInput{
		Mobile:   strings.TrimSpace(req.Mobile),
		Username: strings.TrimSpace(req.Username),
		Password: req.Password,
		IP:       r.RemoteAddr,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, sessionResponse{User: user, Tokens: pair})
}

type registerRequest struct {
	Name       string `json:"name"`
	Mobile     string `json:"mobile"`
	Password   string `json:"password"`
	Role       string `json:"role"`
	InviteCode string `json:"inviteCode"`
}

// Register signs up a buyer or mediator against an invite.
func (s *Server) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	role := models.Role(req.Role)
	if role == "" {
		role = models.RoleBuyer
	}
	user, pair, err := s.registrar.Register(auth.RegisterInput{
		Name:       req.Name,
		Mobile:     strings.TrimSpace(req.Mobile),
		Password:   req.Password,
		Role:       role,
		InviteCode: strings.TrimSpace(req.InviteCode),
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusCreated, sessionResponse{User: user, Tokens: pair})
}

type registerOpsRequest struct {
	Name     string `json:"name"`
	Mobile   string `json:"mobile"`
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// RegisterOps creates ops or agency accounts (admin only).
func (s *Server) RegisterOps(w http.ResponseWriter, r *http.Request) {
	requester, err := s.requester(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var req registerOpsRequest
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	role := models.Role(req.Role)
	if role == "" {
		role = models.RoleOps
	}
	user, err := s.registrar.RegisterOps(auth.RegisterOpsInput{
		Name:     req.Name,
		Mobile:   strings.TrimSpace(req.Mobile),
		Username: req.Username,
		Password: req.Password,
		Role:     role,
		Actor:    requester.UserID,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusCreated, map[string]any{"user": user})
}

type registerBrandRequest struct {
	Name      string `json:"name"`
	Mobile    string `json:"mobile"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	BrandName string `json:"brandName"`
}

// RegisterBrand creates a brand account (admin only).
func (s *Server) RegisterBrand(w http.ResponseWriter, r *http.Request) {
	requester, err := s.requester(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var req registerBrandRequest
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	if strings.TrimSpace(req.BrandName) == "" {
		req.BrandName = req.Name
	}
	user, err := s.registrar.RegisterBrand(auth.RegisterBrandInput{
		Name:      req.Name,
		Mobile:    strings.TrimSpace(req.Mobile),
		Username:  req.Username,
		Password:  req.Password,
		BrandName: req.BrandName,
		Actor:     requester.UserID,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusCreated, map[string]any{"user": user})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// RefreshToken exchanges a refresh token for a fresh pair.
func (s *Server) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	user, pair, err := s.auth.Refresh(strings.TrimSpace(req.RefreshToken))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, sessionResponse{User: user, Tokens: pair})
}

// Me returns the caller's own user record.
func (s *Server) Me(w http.ResponseWriter, r *http.Request) {
	requester, err := s.requester(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"user": requester.User})
}

type profileRequest struct {
	Name        string `json:"name"`
	UPIID       string `json:"upiId"`
	BankAccount string `json:"bankAccount"`
	BankIFSC    string `json:"bankIfsc"`
}

// UpdateProfile lets a user change their own mutable fields.
func (s *Server) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	requester, err := s.requester(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var req profileRequest
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	updates := map[string]any{}
	if name := strings.TrimSpace(req.Name); name != "" {
		updates["name"] = name
	}
	if req.UPIID != "" {
		updates["upi_id"] = req.UPIID
	}
	if req.BankAccount != "" {
		updates["bank_account"] = req.BankAccount
	}
	if req.BankIFSC != "" {
		updates["bank_ifsc"] = req.BankIFSC
	}
	if len(updates) == 0 {
		s.respondError(w, r, fault.New("INVALID_PAYLOAD", http.StatusBadRequest, "no updatable fields supplied"))
		return
	}
	if err := s.db.Model(&models.User{}).Where("id = ?", requester.UserID).
		Updates(updates).Error; err != nil {
		s.respondError(w, r, err)
		return
	}
	var user models.User
	if err := s.db.Where("id = ?", requester.UserID).First(&user).Error; err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"user": &user})
}
