package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Handler serves the sign-in, sign-out and registration endpoints.
type Handler struct {
	authn       *Authenticator
	tokens      *TokenIssuer
	revocations Revocations
	logger      zerolog.Logger
}

func NewHandler(authn *Authenticator, tokens *TokenIssuer, revocations Revocations, logger zerolog.Logger) *Handler {
	return &Handler{
		authn:       authn,
		tokens:      tokens,
		revocations: revocations,
		logger:      logger.With().Str("component", "auth").Logger(),
	}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/auth/login", h.Login)
	api.POST("/auth/register", h.Register)
	api.POST("/auth/logout", h.Logout)
	api.GET("/auth/me", h.Me)
	api.GET("/auth/registrations", h.ListRegistrations, RequireRole(RoleAdmin))
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      User      `json:"user"`
}

func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	u, err := h.authn.Login(req.Email, req.Password)
	if err != nil {
		h.logger.Info().Str("email", req.Email).Msg("login failed")
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid email or password")
	}

	token, claims, err := h.tokens.Issue(*u)
	if err != nil {
		h.logger.Error().Err(err).Str("email", u.Email).Msg("issue token")
		return echo.NewHTTPError(http.StatusInternalServerError, "could not sign in")
	}
	h.logger.Info().Str("email", u.Email).Str("role", u.Role).Msg("login")

	return c.JSON(http.StatusOK, loginResponse{
		Token:     token,
		ExpiresAt: claims.ExpiresAt.Time,
		User:      *u,
	})
}

// Logout revokes the presented token. The client drops it and returns to the
// login page.
func (h *Handler) Logout(c echo.Context) error {
	ctx := c.Request().Context()
	jti := TokenIDFromContext(ctx)
	if jti == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "not signed in")
	}
	if err := h.revocations.Revoke(ctx, jti, time.Now().Add(h.tokens.ttl)); err != nil {
		h.logger.Error().Err(err).Msg("revoke token")
		return echo.NewHTTPError(http.StatusInternalServerError, "logout failed")
	}
	h.logger.Info().Str("email", UserIDFromContext(ctx)).Msg("logout")
	return c.JSON(http.StatusOK, map[string]string{"redirect": LoginPath})
}

func (h *Handler) Me(c echo.Context) error {
	ctx := c.Request().Context()
	return c.JSON(http.StatusOK, User{
		Email: UserIDFromContext(ctx),
		Name:  NameFromContext(ctx),
		Role:  RoleFromContext(ctx),
	})
}

func (h *Handler) Register(c echo.Context) error {
	var req RegistrationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	acct, err := h.authn.Register(req)
	switch {
	case errors.Is(err, ErrPasswordMismatch):
		return echo.NewHTTPError(http.StatusBadRequest, "Passwords do not match")
	case errors.Is(err, ErrMissingFields):
		return echo.NewHTTPError(http.StatusBadRequest, "Please fill in all required fields")
	case errors.Is(err, ErrUnknownRole), errors.Is(err, ErrEmailTaken):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}

	h.logger.Info().Str("email", acct.Email).Str("role", acct.Role).Msg("registration received")
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"message": "Account created successfully! Welcome " + acct.FirstName + ".",
		"account": acct,
	})
}

func (h *Handler) ListRegistrations(c echo.Context) error {
	return c.JSON(http.StatusOK, h.authn.Pending())
}
