package notify

import (
	"context"
	"time"

	"github.com/wonny/talos/pkg/logger"
)

// Level is the severity of an event
type Level string

const (
	LevelInfo    Level = "INFO"
	LevelSuccess Level = "SUCCESS"
	LevelWarning Level = "WARNING"
	LevelError   Level = "ERROR"
)

// EventType identifies what happened
type EventType string

const (
	EventTradeExecuted     EventType = "trade_executed"
	EventTradeBlocked      EventType = "trade_blocked"
	EventPositionClosed    EventType = "position_closed"
	EventHedgeCreated      EventType = "hedge_created"
	EventPyramidStepPlaced EventType = "pyramid_step_placed"
	EventReentryExecuted   EventType = "reentry_executed"
	EventError             EventType = "error"
)

// Event is a discrete notification emitted by the strategy engine.
// 포맷팅과 전달(텔레그램 등)은 외부 채널의 책임이다.
type Event struct {
	Type    EventType              `json:"type"`
	Level   Level                  `json:"level"`
	Symbol  string                 `json:"symbol,omitempty"`
	Title   string                 `json:"title"`
	Message string                 `json:"message"`
	Fields  map[string]interface{} `json:"fields,omitempty"`
	At      time.Time              `json:"at"`
}

// Notifier receives engine events
type Notifier interface {
	Publish(ctx context.Context, event Event)
}

// LogNotifier writes events to the structured log. 기본 전달 채널.
type LogNotifier struct {
	logger *logger.Logger
}

// NewLogNotifier creates a log-backed notifier
func NewLogNotifier(log *logger.Logger) *LogNotifier {
	return &LogNotifier{logger: log}
}

// Publish logs the event at a level matching its severity
func (n *LogNotifier) Publish(ctx context.Context, event Event) {
	fields := map[string]interface{}{
		"event":  event.Type,
		"symbol": event.Symbol,
		"title":  event.Title,
	}
	for k, v := range event.Fields {
		fields[k] = v
	}

	l := n.logger.WithFields(fields)
	switch event.Level {
	case LevelError:
		l.Error(event.Message)
	case LevelWarning:
		l.Warn(event.Message)
	default:
		l.Info(event.Message)
	}
}

// Fanout publishes to multiple notifiers
type Fanout []Notifier

// Publish delivers the event to every notifier
func (f Fanout) Publish(ctx context.Context, event Event) {
	for _, n := range f {
		n.Publish(ctx, event)
	}
}

// New builds an event with the timestamp set
func New(eventType EventType, level Level, symbol, title, message string) Event {
	return Event{
		Type:    eventType,
		Level:   level,
		Symbol:  symbol,
		Title:   title,
		Message: message,
		At:      time.Now(),
	}
}

// WithFields attaches numeric context to an event
func (e Event) WithFields(fields map[string]interface{}) Event {
	e.Fields = fields
	return e
}
