package router

// TextRiskDetector flags text that must not be sent to a model.
type TextRiskDetector interface {
	Assess(text string) bool
}

// DetectorFunc adapts a plain function to TextRiskDetector.
type DetectorFunc func(text string) bool

// Assess calls f(text).
func (f DetectorFunc) Assess(text string) bool { return f(text) }

// NoopDetector never flags anything.
type NoopDetector struct{}

// Assess always returns false.
func (NoopDetector) Assess(string) bool { return false }
