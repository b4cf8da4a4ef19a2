package agent

import (
	"github.com/zen-systems/nanobot/pkg/router"
)

// Templates holds canned replies for the TEMPLATE route, keyed by the most
// specific signal available.
type Templates struct {
	Greeting string
	Risk     string
	Issue    string
	Default  string
}

// DefaultTemplates returns the built-in Russian replies.
func DefaultTemplates() Templates {
	return Templates{
		Greeting: "Привет! Чем могу помочь?",
		Risk:     "Я не могу обработать это сообщение. Пожалуйста, не отправляйте личные данные и переформулируйте запрос.",
		Issue:    "Похоже, что-то пошло не так. Опишите, что именно вы делали и какую ошибку видите.",
		Default:  "Понял. Расскажите чуть подробнее, что нужно сделать.",
	}
}

// Pick chooses the reply for a templated turn.
func (t Templates) Pick(flags router.Flags, tags []string) string {
	if flags.RiskPII || flags.RiskToxic {
		return t.Risk
	}
	for _, tag := range tags {
		if tag == router.TagIssue {
			return t.Issue
		}
	}
	if flags.Stage == router.StageStart {
		return t.Greeting
	}
	return t.Default
}
