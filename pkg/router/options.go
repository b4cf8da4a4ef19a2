package router

import "time"

// Option customizes Evaluate.
type Option func(*evalOptions)

type evalOptions struct {
	pii   TextRiskDetector
	toxic TextRiskDetector
	now   func() time.Time
}

func defaultEvalOptions() evalOptions {
	return evalOptions{
		pii:   NoopDetector{},
		toxic: NoopDetector{},
		now:   time.Now,
	}
}

// WithPIIDetector installs a personal-data detector.
func WithPIIDetector(d TextRiskDetector) Option {
	return func(o *evalOptions) {
		if d != nil {
			o.pii = d
		}
	}
}

// WithToxicityDetector installs a toxicity detector.
func WithToxicityDetector(d TextRiskDetector) Option {
	return func(o *evalOptions) {
		if d != nil {
			o.toxic = d
		}
	}
}

// WithClock overrides the wall clock used for idle time.
func WithClock(now func() time.Time) Option {
	return func(o *evalOptions) {
		if now != nil {
			o.now = now
		}
	}
}
