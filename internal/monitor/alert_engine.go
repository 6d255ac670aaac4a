package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/farandaway89/scada-ai-system/internal/expr"
	"github.com/farandaway89/scada-ai-system/internal/metrics"
	"github.com/farandaway89/scada-ai-system/internal/model"
)

// DefaultEvaluationInterval is how often rules are checked against live data.
const DefaultEvaluationInterval = time.Second

// DefaultHistoryLimit bounds the in-memory alert history.
const DefaultHistoryLimit = 1000

// DataSource supplies the most recent sample for a point. The scanner
// scheduler satisfies this.
type DataSource interface {
	Latest(pointID string) (model.Sample, bool)
}

// AlertSink receives every alert the engine generates. Sinks must not
// block; slow consumers should hand off to their own queue.
type AlertSink func(alert model.Alert)

// compiledRule pairs a rule with its parsed condition.
type compiledRule struct {
	rule    model.AlertRule
	program *expr.Program
}

// Engine evaluates alert rules against live point data and tracks the
// lifecycle of the alerts they raise.
type Engine struct {
	logger   *zap.Logger
	source   DataSource
	metrics  *metrics.Metrics
	interval time.Duration

	mu        sync.RWMutex
	rules     map[string]*compiledRule
	active    map[string]*model.Alert
	lastFired map[string]time.Time
	history   []model.Alert
	sinks     []AlertSink

	alertsGenerated atomic.Uint64
}

// NewEngine creates an alert engine reading live values from source.
// A non-positive interval falls back to DefaultEvaluationInterval.
func NewEngine(source DataSource, m *metrics.Metrics, interval time.Duration, logger *zap.Logger) *Engine {
	if interval <= 0 {
		interval = DefaultEvaluationInterval
	}
	return &Engine{
		logger:    logger.Named("alert-engine"),
		source:    source,
		metrics:   m,
		interval:  interval,
		rules:     make(map[string]*compiledRule),
		active:    make(map[string]*model.Alert),
		lastFired: make(map[string]time.Time),
	}
}

// AddSink registers a consumer for generated alerts. Sinks added after
// Start still receive all subsequent alerts.
func (e *Engine) AddSink(sink AlertSink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sinks = append(e.sinks, sink)
}

// AddRule compiles and registers a rule. The rule ID must be unique.
func (e *Engine) AddRule(rule model.AlertRule) error {
	if rule.ID == "" {
		return errors.New("rule id is required")
	}
	if !rule.Priority.Valid() {
		return fmt.Errorf("rule %s: invalid priority %d", rule.ID, rule.Priority)
	}
	if rule.CooldownMinutes < 0 {
		return fmt.Errorf("rule %s: cooldown must not be negative", rule.ID)
	}

	program, err := expr.Compile(rule.Condition)
	if err != nil {
		return fmt.Errorf("rule %s: compile condition: %w", rule.ID, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.rules[rule.ID]; exists {
		return fmt.Errorf("rule already registered: %s", rule.ID)
	}
	e.rules[rule.ID] = &compiledRule{rule: rule, program: program}

	e.logger.Info("Alert rule added",
		zap.String("rule_id", rule.ID),
		zap.String("condition", rule.Condition),
		zap.String("priority", rule.Priority.String()))
	return nil
}

// RemoveRule unregisters a rule. Alerts it already raised stay active.
func (e *Engine) RemoveRule(ruleID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.rules[ruleID]; !exists {
		return fmt.Errorf("rule not found: %s", ruleID)
	}
	delete(e.rules, ruleID)
	delete(e.lastFired, ruleID)

	e.logger.Info("Alert rule removed", zap.String("rule_id", ruleID))
	return nil
}

// Rules returns all registered rules sorted by ID.
func (e *Engine) Rules() []model.AlertRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]model.AlertRule, 0, len(e.rules))
	for _, cr := range e.rules {
		rules = append(rules, cr.rule)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules
}

// RuleCount returns the number of registered rules.
func (e *Engine) RuleCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// Start launches the evaluation loop. It returns immediately; the loop
// stops when ctx is cancelled.
func (e *Engine) Start(ctx context.Context) {
	e.logger.Info("Starting alert engine", zap.Duration("interval", e.interval))
	go e.evaluationLoop(ctx)
}

func (e *Engine) evaluationLoop(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Alert engine stopped")
			return
		case now := <-ticker.C:
			e.evaluateAt(now)
		}
	}
}

// evaluateAt runs every enabled rule once against the current data. A
// rule that fails to evaluate is logged and skipped; it never blocks
// the other rules.
func (e *Engine) evaluateAt(now time.Time) {
	e.mu.RLock()
	rules := make([]*compiledRule, 0, len(e.rules))
	for _, cr := range e.rules {
		rules = append(rules, cr)
	}
	e.mu.RUnlock()
	sort.Slice(rules, func(i, j int) bool { return rules[i].rule.ID < rules[j].rule.ID })

	env := sampleEnv{source: e.source}
	for _, cr := range rules {
		if !cr.rule.Enabled {
			continue
		}
		if e.inCooldown(cr.rule.ID, cr.rule.Cooldown(), now) {
			continue
		}

		fired, err := cr.program.Eval(env)
		if err != nil {
			e.logger.Error("Rule evaluation failed",
				zap.String("rule_id", cr.rule.ID),
				zap.Error(err))
			continue
		}
		if !fired {
			continue
		}
		e.trigger(cr, now)
	}
}

func (e *Engine) inCooldown(ruleID string, cooldown time.Duration, now time.Time) bool {
	if cooldown <= 0 {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	last, ok := e.lastFired[ruleID]
	return ok && now.Sub(last) < cooldown
}

// trigger raises an alert for a rule whose condition held.
func (e *Engine) trigger(cr *compiledRule, now time.Time) {
	sourcePoint := cr.program.SourcePoint()
	var currentValue float64
	if sample, ok := e.source.Latest(sourcePoint); ok {
		currentValue = sample.Value
	}

	alert := model.Alert{
		ID:                      uuid.New().String(),
		RuleID:                  cr.rule.ID,
		Timestamp:               now,
		Type:                    cr.rule.Type,
		Priority:                cr.rule.Priority,
		Message:                 renderMessage(cr.rule, sourcePoint, currentValue, now),
		SourcePoint:             sourcePoint,
		CurrentValue:            currentValue,
		AcknowledgementRequired: cr.rule.AcknowledgementRequired,
	}

	e.mu.Lock()
	// Re-check under the write lock so concurrent evaluations of the
	// same rule cannot double-fire inside one cooldown window.
	if last, ok := e.lastFired[cr.rule.ID]; ok && cr.rule.Cooldown() > 0 && now.Sub(last) < cr.rule.Cooldown() {
		e.mu.Unlock()
		return
	}
	e.lastFired[cr.rule.ID] = now
	e.active[alert.ID] = &alert
	e.appendHistory(alert)
	sinks := make([]AlertSink, len(e.sinks))
	copy(sinks, e.sinks)
	e.mu.Unlock()

	e.alertsGenerated.Add(1)
	e.metrics.RecordAlert(alert.Priority.String())
	e.logger.Warn("Alert generated",
		zap.String("alert_id", alert.ID),
		zap.String("rule_id", alert.RuleID),
		zap.String("priority", alert.Priority.String()),
		zap.String("source_point", alert.SourcePoint),
		zap.Float64("current_value", alert.CurrentValue))

	for _, sink := range sinks {
		sink(alert)
	}
}

// appendHistory records an alert snapshot, dropping the oldest entry
// once the history is full. Caller holds e.mu.
func (e *Engine) appendHistory(alert model.Alert) {
	if len(e.history) >= DefaultHistoryLimit {
		e.history = e.history[1:]
	}
	e.history = append(e.history, alert)
}

// updateHistory rewrites the stored snapshot of an alert so lifecycle
// transitions show up in history queries. Caller holds e.mu.
func (e *Engine) updateHistory(alert model.Alert) {
	for i := len(e.history) - 1; i >= 0; i-- {
		if e.history[i].ID == alert.ID {
			e.history[i] = alert
			return
		}
	}
}

// Acknowledge marks an active alert as seen by an operator.
func (e *Engine) Acknowledge(alertID, user string) (model.Alert, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	alert, ok := e.active[alertID]
	if !ok {
		return model.Alert{}, fmt.Errorf("alert not found: %s", alertID)
	}
	if alert.Acknowledged {
		return model.Alert{}, fmt.Errorf("alert already acknowledged: %s", alertID)
	}

	now := time.Now()
	alert.Acknowledged = true
	alert.AcknowledgedBy = user
	alert.AcknowledgedTime = &now
	e.updateHistory(*alert)

	e.logger.Info("Alert acknowledged",
		zap.String("alert_id", alertID),
		zap.String("acknowledged_by", user))
	return *alert, nil
}

// Resolve closes an active alert. Alerts that require acknowledgement
// must be acknowledged first.
func (e *Engine) Resolve(alertID string) (model.Alert, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	alert, ok := e.active[alertID]
	if !ok {
		return model.Alert{}, fmt.Errorf("alert not found: %s", alertID)
	}
	if alert.AcknowledgementRequired && !alert.Acknowledged {
		return model.Alert{}, fmt.Errorf("alert requires acknowledgement before resolution: %s", alertID)
	}

	now := time.Now()
	alert.Resolved = true
	alert.ResolvedTime = &now
	delete(e.active, alertID)
	e.updateHistory(*alert)

	e.logger.Info("Alert resolved", zap.String("alert_id", alertID))
	return *alert, nil
}

// ActiveAlerts returns unresolved alerts, highest priority first and
// newest first within a priority. A non-nil filter restricts the
// result to that exact priority.
func (e *Engine) ActiveAlerts(filter *model.AlertPriority) []model.Alert {
	e.mu.RLock()
	defer e.mu.RUnlock()

	alerts := make([]model.Alert, 0, len(e.active))
	for _, alert := range e.active {
		if filter != nil && alert.Priority != *filter {
			continue
		}
		alerts = append(alerts, *alert)
	}
	sort.Slice(alerts, func(i, j int) bool {
		if alerts[i].Priority != alerts[j].Priority {
			return alerts[i].Priority > alerts[j].Priority
		}
		return alerts[i].Timestamp.After(alerts[j].Timestamp)
	})
	return alerts
}

// ActiveCount returns the number of unresolved alerts.
func (e *Engine) ActiveCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.active)
}

// History returns up to limit most recent alerts in chronological
// order. limit <= 0 returns the full retained history.
func (e *Engine) History(limit int) []model.Alert {
	e.mu.RLock()
	defer e.mu.RUnlock()

	n := len(e.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]model.Alert, n)
	copy(out, e.history[len(e.history)-n:])
	return out
}

// AlertsGenerated returns the total alerts raised since startup.
func (e *Engine) AlertsGenerated() uint64 {
	return e.alertsGenerated.Load()
}

// renderMessage expands {value}, {point} and {time} in the rule's
// message template. An empty template falls back to the rule name.
func renderMessage(rule model.AlertRule, point string, value float64, now time.Time) string {
	if rule.MessageTemplate == "" {
		return rule.Name
	}
	r := strings.NewReplacer(
		"{value}", strconv.FormatFloat(value, 'g', -1, 64),
		"{point}", point,
		"{time}", now.Format("2006-01-02 15:04:05"),
	)
	return r.Replace(rule.MessageTemplate)
}

// sampleEnv adapts a DataSource to the expression evaluation
// environment.
type sampleEnv struct {
	source DataSource
}

func (e sampleEnv) Value(pointID string) (float64, bool) {
	sample, ok := e.source.Latest(pointID)
	if !ok {
		return 0, false
	}
	return sample.Value, true
}

func (e sampleEnv) Quality(pointID string) (string, bool) {
	sample, ok := e.source.Latest(pointID)
	if !ok {
		return "", false
	}
	return string(sample.Quality), true
}
