package alert

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"ti-systemv1/internal/model"
	"ti-systemv1/internal/ti"
)

// Rule is one threshold condition on a computed indicator value, parsed from
// the form "TYPE:PARAM:OP:THRESHOLD" with an optional ":SYMBOL" suffix,
// e.g. "RSI:14:gt:70" or "LR_SLOPE:10:lt:-0.5:WAVE_A".
type Rule struct {
	Indicator string  // canonical label, e.g. "RSI"
	Param     int     // packed integer parameter
	Op        string  // "gt", "lt", "ge", "le"
	Threshold float64
	Symbol    string // empty or "*" matches every symbol
}

// Name returns the result stream name the rule watches, e.g. "RSI_14".
func (r Rule) Name() string {
	return r.Indicator + "_" + strconv.Itoa(r.Param)
}

func (r Rule) String() string {
	s := fmt.Sprintf("%s:%d:%s:%g", r.Indicator, r.Param, r.Op, r.Threshold)
	if r.Symbol != "" && r.Symbol != "*" {
		s += ":" + r.Symbol
	}
	return s
}

func validOp(op string) bool {
	switch op {
	case "gt", "lt", "ge", "le":
		return true
	}
	return false
}

// ParseRule parses a single rule string.
func ParseRule(s string) (Rule, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 4 && len(parts) != 5 {
		return Rule{}, fmt.Errorf("alert rule %q: want TYPE:PARAM:OP:THRESHOLD[:SYMBOL]", s)
	}

	label := strings.ToUpper(parts[0])
	id, ok := ti.ParseID(label)
	if !ok || id == ti.None {
		return Rule{}, fmt.Errorf("alert rule %q: unknown indicator %q", s, parts[0])
	}

	param, err := strconv.Atoi(parts[1])
	if err != nil || param < 1 {
		return Rule{}, fmt.Errorf("alert rule %q: bad param %q", s, parts[1])
	}

	op := strings.ToLower(parts[2])
	if !validOp(op) {
		return Rule{}, fmt.Errorf("alert rule %q: bad op %q", s, parts[2])
	}

	threshold, err := strconv.ParseFloat(parts[3], 64)
	if err != nil {
		return Rule{}, fmt.Errorf("alert rule %q: bad threshold %q", s, parts[3])
	}

	rule := Rule{Indicator: label, Param: param, Op: op, Threshold: threshold}
	if len(parts) == 5 {
		rule.Symbol = parts[4]
	}
	return rule, nil
}

// ParseRules parses a comma-separated rule list. Empty segments are skipped.
func ParseRules(s string) ([]Rule, error) {
	var rules []Rule
	for _, seg := range strings.Split(s, ",") {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		rule, err := ParseRule(seg)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func compare(op string, v, threshold float64) bool {
	switch op {
	case "gt":
		return v > threshold
	case "lt":
		return v < threshold
	case "ge":
		return v >= threshold
	case "le":
		return v <= threshold
	}
	return false
}

// Evaluator matches computed results against rules and dispatches alerts.
// A per-(rule, symbol) cooldown suppresses repeat alerts while a value stays
// past its threshold.
type Evaluator struct {
	rules     []Rule
	notifiers []Notifier
	cooldown  time.Duration

	mu        sync.Mutex
	lastFired map[string]time.Time

	// clock for tests
	now func() time.Time
}

// NewEvaluator creates an Evaluator. cooldown <= 0 defaults to 5 minutes.
func NewEvaluator(rules []Rule, notifiers []Notifier, cooldown time.Duration) *Evaluator {
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	return &Evaluator{
		rules:     rules,
		notifiers: notifiers,
		cooldown:  cooldown,
		lastFired: make(map[string]time.Time),
		now:       time.Now,
	}
}

// RuleCount returns the number of configured rules.
func (e *Evaluator) RuleCount() int {
	return len(e.rules)
}

// Evaluate checks one computed result against all rules. Matching rules fire
// asynchronously so the compute loop never blocks on notifier I/O.
// Warm-up defaults are never evaluated.
func (e *Evaluator) Evaluate(res model.IndicatorResult) {
	if !res.Warm || len(e.rules) == 0 {
		return
	}

	for _, rule := range e.rules {
		if rule.Indicator != res.Indicator || rule.Param != res.Param {
			continue
		}
		if rule.Symbol != "" && rule.Symbol != "*" && rule.Symbol != res.Symbol {
			continue
		}
		if !compare(rule.Op, float64(res.Value), rule.Threshold) {
			continue
		}
		if !e.shouldFire(rule, res.Symbol) {
			continue
		}
		e.fire(rule, res)
	}
}

// shouldFire applies the cooldown gate and records the fire time.
func (e *Evaluator) shouldFire(rule Rule, symbol string) bool {
	key := rule.Name() + ":" + rule.Op + ":" + symbol
	now := e.now()

	e.mu.Lock()
	defer e.mu.Unlock()
	if last, ok := e.lastFired[key]; ok && now.Sub(last) < e.cooldown {
		return false
	}
	e.lastFired[key] = now
	return true
}

func (e *Evaluator) fire(rule Rule, res model.IndicatorResult) {
	a := Alert{
		Level: LevelWarning,
		Title: fmt.Sprintf("%s %s %s %g", rule.Name(), res.Symbol, rule.Op, rule.Threshold),
		Message: fmt.Sprintf("%s on %s is %.4f (%s %g) at seq %d",
			rule.Name(), res.Symbol, res.Value, rule.Op, rule.Threshold, res.Seq),
		Indicator: rule.Name(),
		Symbol:    res.Symbol,
		Value:     float64(res.Value),
		Seq:       res.Seq,
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for _, n := range e.notifiers {
			if err := n.Send(ctx, a); err != nil {
				log.Printf("[alert] notifier send failed: %v", err)
			}
		}
	}()
}
