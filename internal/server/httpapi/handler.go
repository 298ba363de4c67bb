// Package httpapi exposes the credential protocols over HTTP+JSON. Binary
// fields (keys, tokens, signatures) travel base64-encoded inside JSON
// bodies; issued certificates are returned as base64 DER.
package httpapi

import (
	"github.com/gofiber/fiber/v2"

	"github.com/dmitrijs2005/accountsrv/internal/credstore"
	"github.com/dmitrijs2005/accountsrv/internal/logging"
	"github.com/dmitrijs2005/accountsrv/internal/server/otp"
	"github.com/dmitrijs2005/accountsrv/internal/server/services"
)

// Handler binds the protocol services to HTTP routes.
type Handler struct {
	auth   *services.AuthService
	login  *services.LoginService
	reset  *services.ResetService
	tokens *services.AccountTokenService
	certs  *services.CertIssuer
	logger logging.Logger
}

// NewHandler constructs a Handler.
func NewHandler(auth *services.AuthService, login *services.LoginService, reset *services.ResetService, tokens *services.AccountTokenService, certs *services.CertIssuer, logger logging.Logger) *Handler {
	return &Handler{
		auth:   auth,
		login:  login,
		reset:  reset,
		tokens: tokens,
		certs:  certs,
		logger: logger.With("module", "httpapi"),
	}
}

// Register attaches all routes to the router.
func (h *Handler) Register(r fiber.Router) {
	r.Post("/otp", h.handleOtp)
	r.Post("/auth", h.handleAuth)
	r.Post("/register", h.handleRegister)
	r.Get("/complete-register", h.handleCompleteRegister)
	r.Post("/complete-register", h.handleCompleteRegister)
	r.Post("/session", h.handleLoginPassword)
	r.Post("/login-token-email", h.handleLoginTokenEmail)
	r.Post("/login", h.handleLoginToken)
	r.Post("/logout", h.handleLogout)
	r.Post("/register-token", h.handleIssueRegisterToken)
	r.Post("/register-token/consume", h.handleConsumeRegisterToken)
	r.Post("/password-forgot", h.handlePasswordForgot)
	r.Post("/password-reset", h.handlePasswordReset)
	r.Post("/account-token", h.handleAccountTokenEmail)
	r.Post("/delete-account", h.handleDeleteAccount)
	r.Post("/delete-sessions", h.handleDeleteSessions)
	r.Post("/sign", h.handleSign)
	r.Get("/certs", h.handleCerts)
}

type emailRequest struct {
	Email string `json:"email"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type otpRequest struct {
	Count int `json:"count"`
}

type otpResponse struct {
	Otps [][]byte `json:"otps"`
}

func (h *Handler) handleOtp(c *fiber.Ctx) error {
	var req otpRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}
	otps, err := h.auth.GenerateOtps(req.Count)
	if err != nil {
		return respondError(c, err)
	}
	resp := otpResponse{Otps: make([][]byte, 0, len(otps))}
	for _, o := range otps {
		resp.Otps = append(resp.Otps, o[:])
	}
	return c.JSON(resp)
}

func (h *Handler) handleAuth(c *fiber.Ctx) error {
	var req services.AuthRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}
	resp, err := h.auth.Auth(c.UserContext(), req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(resp)
}

func (h *Handler) handleRegister(c *fiber.Ctx) error {
	var req services.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}
	resp, err := h.login.Register(c.UserContext(), req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(resp)
}

func (h *Handler) handleCompleteRegister(c *fiber.Ctx) error {
	// the emailed link carries the token as a query parameter; API
	// clients may also POST it in the body
	token := c.Query("token")
	if token == "" {
		var req tokenRequest
		if err := c.BodyParser(&req); err == nil {
			token = req.Token
		}
	}
	if err := h.login.CompleteRegister(c.UserContext(), token); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"ok": true})
}

func (h *Handler) handleLoginPassword(c *fiber.Ctx) error {
	var req services.SessionRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}
	resp, err := h.login.LoginPassword(c.UserContext(), req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(resp)
}

func (h *Handler) handleLoginTokenEmail(c *fiber.Ctx) error {
	var req emailRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}
	if err := h.login.LoginTokenEmail(c.UserContext(), req.Email); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"ok": true})
}

func (h *Handler) handleLoginToken(c *fiber.Ctx) error {
	var req services.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}
	resp, err := h.login.Login(c.UserContext(), req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(resp)
}

type logoutRequest struct {
	PubKey []byte `json:"pub_key"`
	HwID   []byte `json:"hw_id"`
}

func (h *Handler) handleLogout(c *fiber.Ctx) error {
	var req logoutRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}
	if err := h.login.Logout(c.UserContext(), req.PubKey, req.HwID); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"ok": true})
}

func (h *Handler) handleIssueRegisterToken(c *fiber.Ctx) error {
	var req services.AuthRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}
	token, err := h.auth.IssueRegisterToken(c.UserContext(), req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"register_token": token[:]})
}

type consumeRegisterTokenRequest struct {
	RegisterToken []byte `json:"register_token"`
}

func (h *Handler) handleConsumeRegisterToken(c *fiber.Ctx) error {
	var req consumeRegisterTokenRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}
	if len(req.RegisterToken) != credstore.KeySize {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad register token"})
	}
	var token otp.RegisterToken
	copy(token[:], req.RegisterToken)

	accountID, ok := h.auth.ResolveRegisterToken(token)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "token invalid or expired"})
	}
	return c.JSON(fiber.Map{"account_id": accountID})
}

func (h *Handler) handlePasswordForgot(c *fiber.Ctx) error {
	var req emailRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}
	if err := h.reset.PasswordForgot(c.UserContext(), req.Email); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"ok": true})
}

func (h *Handler) handlePasswordReset(c *fiber.Ctx) error {
	var req services.PasswordResetRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}
	resp, err := h.reset.PasswordReset(c.UserContext(), req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(resp)
}

func (h *Handler) handleAccountTokenEmail(c *fiber.Ctx) error {
	var req emailRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}
	if err := h.tokens.AccountTokenEmail(c.UserContext(), req.Email); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"ok": true})
}

func (h *Handler) handleDeleteAccount(c *fiber.Ctx) error {
	var req tokenRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}
	if err := h.tokens.DeleteAccount(c.UserContext(), req.Token); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"ok": true})
}

func (h *Handler) handleDeleteSessions(c *fiber.Ctx) error {
	var req tokenRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}
	if err := h.tokens.DeleteSessions(c.UserContext(), req.Token); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"ok": true})
}

func (h *Handler) handleSign(c *fiber.Ctx) error {
	var req services.SignRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}
	der, err := h.certs.Sign(c.UserContext(), req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"certificate": der})
}

func (h *Handler) handleCerts(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, "application/x-pem-file")
	return c.Send(h.certs.CACertificatePEM())
}

func badBody(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed request body"})
}
