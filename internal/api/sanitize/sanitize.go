package sanitize

import (
	"html"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strictPolicyOnce sync.Once
	strictPolicy     *bluemonday.Policy
)

// Text strips every HTML element from user input and trims it. Entities the
// policy produced are decoded again so apostrophes in names survive.
func Text(input string) string {
	value := strings.TrimSpace(input)
	if value == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(getStrictPolicy().Sanitize(value)))
}

func TextPtr(input *string) *string {
	if input == nil {
		return nil
	}
	value := Text(*input)
	return &value
}

func getStrictPolicy() *bluemonday.Policy {
	strictPolicyOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})

	return strictPolicy
}
