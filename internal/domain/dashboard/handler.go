package dashboard

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/mediscan/mediscan/internal/platform/auth"
	"github.com/mediscan/mediscan/internal/platform/notification"
)

type Handler struct {
	tracker       *Tracker
	notifications *notification.Manager
}

func NewHandler(tracker *Tracker, notifications *notification.Manager) *Handler {
	return &Handler{tracker: tracker, notifications: notifications}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/dashboard", h.GetDashboard)
}

// QuickAction is a shortcut into the intake workflow.
type QuickAction struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Path        string `json:"path"`
}

var quickActions = []QuickAction{
	{"Scan Patient ID", "Use camera to scan patient identification", "/scan"},
	{"Upload ID Image", "Upload an existing patient ID image", "/upload"},
	{"Search Patients", "Find patients using natural language", "/search"},
	{"AI Assistant", "Chat with medical record assistant", "/assistant"},
}

type activityView struct {
	Activity
	Time string `json:"time"`
}

type dashboardResponse struct {
	Welcome             string         `json:"welcome"`
	Role                string         `json:"role"`
	Stats               []Stat         `json:"stats"`
	QuickActions        []QuickAction  `json:"quick_actions"`
	RecentActivity      []activityView `json:"recent_activity"`
	UnreadNotifications int            `json:"unread_notifications"`
}

// GetDashboard handles GET /dashboard.
func (h *Handler) GetDashboard(c echo.Context) error {
	ctx := c.Request().Context()
	now := h.tracker.now()

	recent := h.tracker.Recent()
	activity := make([]activityView, 0, len(recent))
	for _, a := range recent {
		activity = append(activity, activityView{Activity: a, Time: Ago(a.Timestamp, now)})
	}

	return c.JSON(http.StatusOK, dashboardResponse{
		Welcome:             welcome(auth.NameFromContext(ctx)),
		Role:                auth.DisplayRole(auth.RoleFromContext(ctx)),
		Stats:               h.tracker.Stats(),
		QuickActions:        quickActions,
		RecentActivity:      activity,
		UnreadNotifications: h.notifications.Unread(),
	})
}

// welcome greets the user by the first word of their display name that is
// not a title.
func welcome(name string) string {
	for _, w := range strings.Fields(name) {
		switch strings.TrimSuffix(w, ".") {
		case "Dr", "Nurse", "Admin":
			continue
		}
		return "Welcome back, " + w + "!"
	}
	return "Welcome back!"
}
