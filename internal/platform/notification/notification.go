// Package notification keeps the in-app notifications shown to operators:
// template rendering, an in-memory store with read tracking, and Echo HTTP
// handlers.
package notification

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

var ErrNotFound = errors.New("notification not found")

// ---------------------------------------------------------------------------
// Notification Levels
// ---------------------------------------------------------------------------

// Level is how a notification is presented.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
)

// ---------------------------------------------------------------------------
// Notification
// ---------------------------------------------------------------------------

// Notification is a single in-app message.
type Notification struct {
	ID         string            `json:"id"`
	Level      Level             `json:"type"`
	Title      string            `json:"title"`
	Message    string            `json:"message"`
	TemplateID string            `json:"template_id,omitempty"`
	Data       map[string]string `json:"data,omitempty"`
	SessionID  string            `json:"session_id,omitempty"`
	PatientID  string            `json:"patient_id,omitempty"`
	Read       bool              `json:"read"`
	CreatedAt  time.Time         `json:"created_at"`
	ReadAt     *time.Time        `json:"read_at,omitempty"`
}

// ---------------------------------------------------------------------------
// Template Engine
// ---------------------------------------------------------------------------

// Built-in template ids.
const (
	TemplateRegistrationPending = "registration-pending"
	TemplateOCRCompleted        = "ocr-completed"
	TemplatePatientRegistered   = "patient-registered"
	TemplateMedicalInfoSaved    = "medical-info-saved"
	TemplateMaintenance         = "maintenance"
)

// Template defines a reusable notification.
type Template struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Message string `json:"message"`
	Level   Level  `json:"type"`
}

// TemplateEngine manages notification templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:      TemplateRegistrationPending,
			Title:   "New patient registration pending",
			Message: "{{patient_name}} requires verification",
			Level:   LevelWarning,
		},
		{
			ID:      TemplateOCRCompleted,
			Title:   "OCR processing completed",
			Message: "{{patient_name}} ID verification successful",
			Level:   LevelSuccess,
		},
		{
			ID:      TemplatePatientRegistered,
			Title:   "New patient registered",
			Message: "{{patient_name}} has been registered as {{patient_id}}",
			Level:   LevelSuccess,
		},
		{
			ID:      TemplateMedicalInfoSaved,
			Title:   "Medical information saved",
			Message: "{{patient_name}} medical information has been updated",
			Level:   LevelSuccess,
		},
		{
			ID:      TemplateMaintenance,
			Title:   "System maintenance scheduled",
			Message: "Maintenance window: {{window}}",
			Level:   LevelInfo,
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render looks up a template by ID and performs {{key}} replacement using the
// supplied data map. Keys present in the template but absent from data are left
// as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (title, message string, level Level, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", "", fmt.Errorf("template %q not found", templateID)
	}

	title = t.Title
	message = t.Message
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		title = strings.ReplaceAll(title, placeholder, v)
		message = strings.ReplaceAll(message, placeholder, v)
	}
	return title, message, t.Level, nil
}

// ---------------------------------------------------------------------------
// Notification Manager
// ---------------------------------------------------------------------------

// DefaultCapacity is how many notifications a Manager keeps.
const DefaultCapacity = 100

// Manager stores notifications, newest first, and tracks which have been
// read. Once capacity is reached the oldest notification is dropped.
type Manager struct {
	templates     *TemplateEngine
	capacity      int
	now           func() time.Time
	mu            sync.RWMutex
	notifications []*Notification
}

// NewManager constructs a Manager. A capacity <= 0 uses DefaultCapacity.
func NewManager(tpl *TemplateEngine, capacity int) *Manager {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Manager{
		templates: tpl,
		capacity:  capacity,
		now:       time.Now,
	}
}

// Templates returns the engine used by AddFromTemplate.
func (m *Manager) Templates() *TemplateEngine {
	return m.templates
}

// Add assigns an ID and timestamp and stores the notification.
func (m *Manager) Add(_ context.Context, n *Notification) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.Level == "" {
		n.Level = LevelInfo
	}
	n.CreatedAt = m.now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append([]*Notification{n}, m.notifications...)
	if len(m.notifications) > m.capacity {
		m.notifications = m.notifications[:m.capacity]
	}
}

// AddFromTemplate renders a template and stores the resulting notification.
func (m *Manager) AddFromTemplate(ctx context.Context, templateID string, data map[string]string) (*Notification, error) {
	title, message, level, err := m.templates.Render(templateID, data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	n := &Notification{
		Level:      level,
		Title:      title,
		Message:    message,
		TemplateID: templateID,
		Data:       data,
	}
	m.Add(ctx, n)
	return n, nil
}

// Get retrieves a notification by ID.
func (m *Manager) Get(_ context.Context, id string) (*Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, n := range m.notifications {
		if n.ID == id {
			out := *n
			return &out, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// List returns up to limit notifications, newest first. With unreadOnly only
// unread notifications are returned.
func (m *Manager) List(_ context.Context, unreadOnly bool, limit int) []Notification {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Notification, 0, len(m.notifications))
	for _, n := range m.notifications {
		if unreadOnly && n.Read {
			continue
		}
		result = append(result, *n)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result
}

// MarkRead marks a notification as read. Marking it again is a no-op.
func (m *Manager) MarkRead(_ context.Context, id string) (*Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.notifications {
		if n.ID != id {
			continue
		}
		if !n.Read {
			at := m.now().UTC()
			n.Read = true
			n.ReadAt = &at
		}
		out := *n
		return &out, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// MarkAllRead marks every notification as read and returns how many changed.
func (m *Manager) MarkAllRead(_ context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	at := m.now().UTC()
	changed := 0
	for _, n := range m.notifications {
		if !n.Read {
			n.Read = true
			n.ReadAt = &at
			changed++
		}
	}
	return changed
}

// Unread counts unread notifications.
func (m *Manager) Unread() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, n := range m.notifications {
		if !n.Read {
			count++
		}
	}
	return count
}

// Stats returns counts of notifications grouped by level, plus "unread".
func (m *Manager) Stats(_ context.Context) map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make(map[string]int)
	for _, n := range m.notifications {
		stats[string(n.Level)]++
		if !n.Read {
			stats["unread"]++
		}
	}
	return stats
}

// ---------------------------------------------------------------------------
// HTTP Handler
// ---------------------------------------------------------------------------

// Handler exposes notifications over HTTP via Echo.
type Handler struct {
	manager *Manager
}

// NewHandler creates a new Handler.
func NewHandler(mgr *Manager) *Handler {
	return &Handler{manager: mgr}
}

// RegisterRoutes registers all notification routes on the given Echo group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/notifications", h.HandleList)
	g.GET("/notifications/stats", h.HandleStats)
	g.POST("/notifications/read-all", h.HandleMarkAllRead)
	g.GET("/notifications/:id", h.HandleGet)
	g.POST("/notifications/:id/read", h.HandleMarkRead)
}

type listResponse struct {
	Data   []Notification `json:"data"`
	Unread int            `json:"unread"`
}

// HandleList handles GET /notifications?unread=true&limit=N.
func (h *Handler) HandleList(c echo.Context) error {
	unreadOnly, _ := strconv.ParseBool(c.QueryParam("unread"))
	limit := DefaultCapacity
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}
	list := h.manager.List(c.Request().Context(), unreadOnly, limit)
	return c.JSON(http.StatusOK, listResponse{Data: list, Unread: h.manager.Unread()})
}

// HandleGet handles GET /notifications/:id.
func (h *Handler) HandleGet(c echo.Context) error {
	n, err := h.manager.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, n)
}

// HandleMarkRead handles POST /notifications/:id/read.
func (h *Handler) HandleMarkRead(c echo.Context) error {
	n, err := h.manager.MarkRead(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, n)
}

// HandleMarkAllRead handles POST /notifications/read-all.
func (h *Handler) HandleMarkAllRead(c echo.Context) error {
	changed := h.manager.MarkAllRead(c.Request().Context())
	return c.JSON(http.StatusOK, map[string]int{"marked": changed})
}

type statEntry struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// HandleStats handles GET /notifications/stats.
func (h *Handler) HandleStats(c echo.Context) error {
	stats := h.manager.Stats(c.Request().Context())
	out := make([]statEntry, 0, len(stats))
	for k, v := range stats {
		out = append(out, statEntry{Key: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return c.JSON(http.StatusOK, out)
}
