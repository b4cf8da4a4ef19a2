package router

import (
	"fmt"
)

type routeID uint8

const (
	routeNoAction routeID = iota
	routeTemplate
	routeSLM
	routeFallback
)

// Route is the navigator's per-turn verdict. The zero value is NoAction;
// no other values exist outside this package.
type Route struct {
	id routeID
}

// The four routes, in increasing cost order.
var (
	NoAction = Route{routeNoAction}
	Template = Route{routeTemplate}
	SLM      = Route{routeSLM}
	Fallback = Route{routeFallback}
)

var routeNames = map[routeID]string{
	routeNoAction: "NO_ACTION",
	routeTemplate: "TEMPLATE",
	routeSLM:      "SLM",
	routeFallback: "FALLBACK",
}

// Routes lists every route in declaration order.
func Routes() []Route {
	return []Route{NoAction, Template, SLM, Fallback}
}

func (r Route) String() string {
	if name, ok := routeNames[r.id]; ok {
		return name
	}
	return fmt.Sprintf("Route(%d)", r.id)
}

// Valid reports whether r is one of the four routes.
func (r Route) Valid() bool {
	_, ok := routeNames[r.id]
	return ok
}

// MarshalText implements encoding.TextMarshaler.
func (r Route) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid route %d", r.id)
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Unknown names are rejected.
func (r *Route) UnmarshalText(text []byte) error {
	route, err := ParseRoute(string(text))
	if err != nil {
		return err
	}
	*r = route
	return nil
}

// ParseRoute converts a wire name such as "SLM" into a Route.
func ParseRoute(s string) (Route, error) {
	for id, name := range routeNames {
		if name == s {
			return Route{id}, nil
		}
	}
	return Route{}, fmt.Errorf("unknown route %q", s)
}

// Stage describes where the conversation is.
type Stage uint8

const (
	StageStart Stage = iota
	StageActive
	StageStuck
)

func (s Stage) String() string {
	switch s {
	case StageStart:
		return "start"
	case StageActive:
		return "active"
	case StageStuck:
		return "stuck"
	default:
		return fmt.Sprintf("Stage(%d)", uint8(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Stage) MarshalText() ([]byte, error) {
	if s > StageStuck {
		return nil, fmt.Errorf("invalid stage %d", uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Stage) UnmarshalText(text []byte) error {
	switch string(text) {
	case "start":
		*s = StageStart
	case "active":
		*s = StageActive
	case "stuck":
		*s = StageStuck
	default:
		return fmt.Errorf("unknown stage %q", text)
	}
	return nil
}

// Flags carries the boolean signals behind a decision.
type Flags struct {
	RiskPII    bool  `json:"risk_pii"`
	RiskToxic  bool  `json:"risk_toxic"`
	Stage      Stage `json:"stage"`
	CooldownOK bool  `json:"cooldown_ok"`
}

// Metrics are the numeric features extracted from a turn.
type Metrics struct {
	CharLen       float64 `json:"char_len"`
	TokenEst      float64 `json:"token_est"`
	IdleSec       float64 `json:"idle_sec"`
	QuestionCount float64 `json:"question_count"`
	RepeatScore   float64 `json:"repeat_score"`
}

// Constraints bound what the hint model may answer.
type Constraints struct {
	Language string `json:"language"`
	Tone     string `json:"tone"`
	MaxWords int    `json:"max_words"`
	Format   string `json:"format"`
}

// LLMPayload is the compact context handed to the hint model.
type LLMPayload struct {
	Message       string      `json:"message"`
	Tags          []string    `json:"tags"`
	Stage         Stage       `json:"stage"`
	Metrics       Metrics     `json:"metrics"`
	RecentSummary string      `json:"recent_summary"`
	Constraints   Constraints `json:"constraints"`
}

// RuleDecision is the deterministic output of the rule engine.
// Payload is non-nil only when Route is SLM.
type RuleDecision struct {
	Route      Route       `json:"route"`
	Tags       []string    `json:"tags"`
	Flags      Flags       `json:"flags"`
	Metrics    Metrics     `json:"metrics"`
	Complexity float64     `json:"complexity"`
	Payload    *LLMPayload `json:"llm_payload,omitempty"`
}

// HasTag reports whether tag fired for this turn.
func (d RuleDecision) HasTag(tag string) bool {
	for _, t := range d.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
