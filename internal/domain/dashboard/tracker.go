// Package dashboard keeps the operator dashboard: today's intake counters,
// the recent activity feed and the notifications raised by workflow events.
package dashboard

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/mediscan/mediscan/internal/platform/events"
	"github.com/mediscan/mediscan/internal/platform/notification"
)

// MaxActivities is the length of the recent activity feed.
const MaxActivities = 10

// Counter names, in display order.
const (
	CounterScanned       = "scanned"
	CounterVerified      = "verified"
	CounterRegistrations = "registrations"
	CounterPending       = "pending_reviews"
)

var counterTitles = map[string]string{
	CounterScanned:       "Patients Scanned Today",
	CounterVerified:      "Records Verified",
	CounterRegistrations: "New Registrations",
	CounterPending:       "Pending Reviews",
}

var counterOrder = []string{CounterScanned, CounterVerified, CounterRegistrations, CounterPending}

// Activity statuses.
const (
	StatusSuccess = "success"
	StatusPending = "pending"
	StatusError   = "error"
)

// Activity is one entry of the recent activity feed.
type Activity struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id,omitempty"`
	PatientID string    `json:"patient_id,omitempty"`
	Patient   string    `json:"patient"`
	Action    string    `json:"action"`
	Status    string    `json:"status"`
	Actor     string    `json:"actor,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Stat is one dashboard counter with its change since yesterday.
type Stat struct {
	Key   string `json:"key"`
	Title string `json:"title"`
	Value int    `json:"value"`
	Trend string `json:"trend"`
}

// Tracker consumes workflow events. It is safe for concurrent use.
type Tracker struct {
	notifications *notification.Manager
	now           func() time.Time
	logger        zerolog.Logger

	mu        sync.Mutex
	day       string
	today     map[string]int
	yesterday map[string]int
	pending   map[string]struct{}
	recent    []Activity
}

func NewTracker(notifications *notification.Manager, logger zerolog.Logger) *Tracker {
	return &Tracker{
		notifications: notifications,
		now:           time.Now,
		logger:        logger.With().Str("component", "dashboard").Logger(),
		today:         make(map[string]int),
		yesterday:     make(map[string]int),
		pending:       make(map[string]struct{}),
	}
}

// Subscribe attaches the tracker to bus.
func (t *Tracker) Subscribe(bus *events.Bus) {
	bus.Subscribe(t.Handle)
}

// Handle records one event. Progress ticks are ignored.
func (t *Tracker) Handle(ctx context.Context, e events.Event) {
	if e.Type == events.TypeExtractionProgress {
		return
	}

	t.mu.Lock()
	t.rollover()
	act, ok := t.applyLocked(e)
	if ok {
		t.recent = append([]Activity{act}, t.recent...)
		if len(t.recent) > MaxActivities {
			t.recent = t.recent[:MaxActivities]
		}
	}
	t.mu.Unlock()

	t.notify(ctx, e)
}

// applyLocked updates the counters for e and returns its feed entry.
func (t *Tracker) applyLocked(e events.Event) (Activity, bool) {
	act := Activity{
		ID:        e.ID,
		SessionID: e.SessionID,
		PatientID: e.PatientID,
		Patient:   displayName(e.PatientName),
		Actor:     e.Actor,
		Timestamp: e.Timestamp,
	}

	switch e.Type {
	case events.TypeExtractionCompleted:
		t.today[CounterScanned]++
		t.pending[e.SessionID] = struct{}{}
		act.Action, act.Status = "OCR Processing", StatusSuccess
	case events.TypeExtractionFailed:
		act.Action, act.Status = "OCR Processing", StatusError
	case events.TypeDraftConfirmed, events.TypeSessionDiscarded:
		delete(t.pending, e.SessionID)
		t.today[CounterPending] = len(t.pending)
		return act, false
	case events.TypePatientMatched:
		t.today[CounterVerified]++
		act.Action, act.Status = "ID Verified", StatusSuccess
	case events.TypePatientUnmatched:
		act.Action, act.Status = "Registration Pending", StatusPending
	case events.TypePatientRegistered:
		t.today[CounterRegistrations]++
		act.Action, act.Status = "New Registration", StatusSuccess
	case events.TypeMedicalInfoSaved:
		act.Action, act.Status = "Record Updated", StatusSuccess
	default:
		return act, false
	}
	t.today[CounterPending] = len(t.pending)
	return act, true
}

func (t *Tracker) notify(ctx context.Context, e events.Event) {
	var templateID string
	switch e.Type {
	case events.TypePatientUnmatched:
		templateID = notification.TemplateRegistrationPending
	case events.TypeExtractionCompleted:
		templateID = notification.TemplateOCRCompleted
	case events.TypePatientRegistered:
		templateID = notification.TemplatePatientRegistered
	case events.TypeMedicalInfoSaved:
		templateID = notification.TemplateMedicalInfoSaved
	default:
		return
	}

	data := map[string]string{
		"patient_name": displayName(e.PatientName),
		"patient_id":   e.PatientID,
	}
	title, message, level, err := t.notifications.Templates().Render(templateID, data)
	if err != nil {
		t.logger.Error().Err(err).Str("event_type", e.Type).Msg("notification failed")
		return
	}
	t.notifications.Add(ctx, &notification.Notification{
		Level:      level,
		Title:      title,
		Message:    message,
		TemplateID: templateID,
		Data:       data,
		SessionID:  e.SessionID,
		PatientID:  e.PatientID,
	})
}

// displayName turns an ID-card name such as "MARIA SANTOS DELA CRUZ" into
// "Maria Santos Dela Cruz".
func displayName(name string) string {
	if name == "" {
		return "Unknown patient"
	}
	words := strings.Fields(strings.ToLower(name))
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}

// rollover starts a new day of counters when the date changes. Pending
// reviews carry over.
func (t *Tracker) rollover() {
	day := t.now().Format("2006-01-02")
	if day == t.day {
		return
	}
	if t.day != "" && t.now().AddDate(0, 0, -1).Format("2006-01-02") == t.day {
		t.yesterday = t.today
	} else {
		t.yesterday = make(map[string]int)
	}
	t.today = map[string]int{CounterPending: len(t.pending)}
	t.day = day
}

// Stats returns today's counters in display order.
func (t *Tracker) Stats() []Stat {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollover()

	stats := make([]Stat, 0, len(counterOrder))
	for _, key := range counterOrder {
		stats = append(stats, Stat{
			Key:   key,
			Title: counterTitles[key],
			Value: t.today[key],
			Trend: trend(t.today[key], t.yesterday[key]),
		})
	}
	return stats
}

// trend formats the change from yesterday, e.g. "+12%".
func trend(today, yesterday int) string {
	if yesterday == 0 {
		if today == 0 {
			return "+0%"
		}
		return "+100%"
	}
	pct := (today - yesterday) * 100 / yesterday
	if pct >= 0 {
		return fmt.Sprintf("+%d%%", pct)
	}
	return fmt.Sprintf("%d%%", pct)
}

// Recent returns the activity feed, newest first.
func (t *Tracker) Recent() []Activity {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Activity(nil), t.recent...)
}

// Ago renders how long before now at was, e.g. "5 min ago".
func Ago(at, now time.Time) string {
	d := now.Sub(at)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%d min ago", int(d/time.Minute))
	case d < 2*time.Hour:
		return "1 hour ago"
	case d < 24*time.Hour:
		return fmt.Sprintf("%d hours ago", int(d/time.Hour))
	case d < 48*time.Hour:
		return "1 day ago"
	default:
		return fmt.Sprintf("%d days ago", int(d/(24*time.Hour)))
	}
}
