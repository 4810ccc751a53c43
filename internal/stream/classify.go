package stream

import (
	"strings"

	"go.uber.org/zap"

	"stemwatch/internal/progress"
)

// Rule maps payloads matching Match onto Kind. Rules are evaluated in order
// and the first match wins.
type Rule struct {
	Name  string
	Match func(c *Classifier, p progress.Payload) bool
	Kind  func(c *Classifier, p progress.Payload) progress.Kind
}

func fixed(k progress.Kind) func(*Classifier, progress.Payload) progress.Kind {
	return func(*Classifier, progress.Payload) progress.Kind { return k }
}

func declaredKind(_ *Classifier, p progress.Payload) progress.Kind {
	k, _ := progress.ParseKind(p.Type)
	return k
}

// DefaultRules is the classification order. Terminal type hints are never
// overridden; non-terminal hints yield to completion evidence.
var DefaultRules = []Rule{
	{
		Name: "terminal-type",
		Match: func(_ *Classifier, p progress.Payload) bool {
			k, ok := progress.ParseKind(p.Type)
			return ok && (k.Terminal() || k == progress.KindEnd)
		},
		Kind: declaredKind,
	},
	{
		Name: "progress-complete",
		Match: func(c *Classifier, p progress.Payload) bool {
			return p.HasProgress() && (c.isCompleted(p.Status) || p.Percent() >= 100)
		},
		Kind: fixed(progress.KindCompleted),
	},
	{
		Name:  "status-complete",
		Match: func(c *Classifier, p progress.Payload) bool { return c.isCompleted(p.Status) },
		Kind:  fixed(progress.KindCompleted),
	},
	{
		Name: "declared-type",
		Match: func(_ *Classifier, p progress.Payload) bool {
			_, ok := progress.ParseKind(p.Type)
			return ok
		},
		Kind: declaredKind,
	},
	{
		Name:  "progress-error",
		Match: func(c *Classifier, p progress.Payload) bool { return p.HasProgress() && c.isError(p.Status) },
		Kind:  fixed(progress.KindError),
	},
	{
		Name:  "progress",
		Match: func(_ *Classifier, p progress.Payload) bool { return p.HasProgress() },
		Kind:  fixed(progress.KindProgress),
	},
	{
		Name:  "status-error",
		Match: func(c *Classifier, p progress.Payload) bool { return c.isError(p.Status) },
		Kind:  fixed(progress.KindError),
	},
	{
		Name: "close-sentinel",
		Match: func(c *Classifier, p progress.Payload) bool {
			return c.sentinel != "" && strings.EqualFold(strings.TrimSpace(p.Message), c.sentinel)
		},
		Kind: fixed(progress.KindEnd),
	},
}

// Classifier turns decoded payloads into message kinds.
type Classifier struct {
	rules     []Rule
	completed map[string]struct{}
	failed    map[string]struct{}
	sentinel  string
	logger    *zap.SugaredLogger
}

// NewClassifier builds a classifier from the status lists and sentinel in cfg.
func NewClassifier(cfg Config, logger *zap.SugaredLogger) *Classifier {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	c := &Classifier{
		rules:     DefaultRules,
		completed: statusSet(cfg.CompletedStatuses, "completed"),
		failed:    statusSet(cfg.ErrorStatuses, "error"),
		sentinel:  strings.TrimSpace(cfg.CloseSentinel),
		logger:    logger,
	}
	return c
}

func statusSet(values []string, fallback string) map[string]struct{} {
	set := map[string]struct{}{fallback: {}}
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}

func (c *Classifier) isCompleted(status string) bool {
	_, ok := c.completed[strings.ToLower(strings.TrimSpace(status))]
	return ok
}

func (c *Classifier) isError(status string) bool {
	_, ok := c.failed[strings.ToLower(strings.TrimSpace(status))]
	return ok
}

// Classify returns exactly one kind for p together with the payload that
// should be delivered. Progress outside [0,100] is clamped with a warning.
func (c *Classifier) Classify(p progress.Payload) (progress.Kind, progress.Payload) {
	if clamped, changed := p.Clamped(); changed {
		c.logger.Warnw("Progress out of range, clamping",
			"progress", p.Percent(),
			"clamped", clamped.Percent(),
			"job_id", p.JobID(),
		)
		p = clamped
	}
	for _, r := range c.rules {
		if r.Match(c, p) {
			return r.Kind(c, p), p
		}
	}
	return progress.KindInfo, p
}

// Rule returns the name of the first rule matching p, or "default".
func (c *Classifier) Rule(p progress.Payload) string {
	p, _ = p.Clamped()
	for _, r := range c.rules {
		if r.Match(c, p) {
			return r.Name
		}
	}
	return "default"
}
