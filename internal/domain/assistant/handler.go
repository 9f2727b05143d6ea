package assistant

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mediscan/mediscan/internal/platform/auth"
)

type Handler struct {
	assistant *Assistant
}

func NewHandler(a *Assistant) *Handler {
	return &Handler{assistant: a}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/assistant/messages", h.ListMessages)
	api.POST("/assistant/messages", h.SendMessage)
	api.DELETE("/assistant/messages", h.ResetConversation)
}

type conversationResponse struct {
	Messages     []Message     `json:"messages"`
	QuickActions []QuickAction `json:"quick_actions"`
}

// ListMessages handles GET /assistant/messages.
func (h *Handler) ListMessages(c echo.Context) error {
	user := auth.UserIDFromContext(c.Request().Context())
	return c.JSON(http.StatusOK, conversationResponse{
		Messages:     h.assistant.History(user),
		QuickActions: h.assistant.QuickActions(),
	})
}

type sendRequest struct {
	Message string `json:"message"`
}

type sendResponse struct {
	Message Message `json:"message"`
	Reply   Message `json:"reply"`
}

// SendMessage handles POST /assistant/messages. The response is written
// once the reply is ready.
func (h *Handler) SendMessage(c echo.Context) error {
	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx := c.Request().Context()
	sent, reply, err := h.assistant.Send(ctx, auth.UserIDFromContext(ctx), req.Message)
	switch {
	case errors.Is(err, ErrEmptyMessage):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "reply cancelled")
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
	return c.JSON(http.StatusCreated, sendResponse{Message: sent, Reply: reply})
}

// ResetConversation handles DELETE /assistant/messages.
func (h *Handler) ResetConversation(c echo.Context) error {
	h.assistant.Reset(auth.UserIDFromContext(c.Request().Context()))
	return c.NoContent(http.StatusNoContent)
}
