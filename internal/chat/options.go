package chat

import (
	"fmt"
	"strings"
)

// Option ids offered by the widget panels. The mapping to user-facing text is
// a public contract.
const (
	OptionAbout    = "about"
	OptionAge      = "age"
	OptionSkills   = "skills"
	OptionLocation = "location"
	OptionCV       = "cv"
	OptionClear    = "clear"
)

// clearOptionText is shown as the visitor's message when the clear option is used.
const clearOptionText = "Clear chat"

var optionTexts = map[string]string{
	OptionAbout:    "Tell me about Alish",
	OptionAge:      "How old is Alish?",
	OptionSkills:   "What are his skills?",
	OptionLocation: "Where is he from?",
	OptionCV:       "I want to download his CV",
}

// OptionText returns the canned message for an option id. The clear option
// has no dispatched text and reports false.
func OptionText(id string) (string, bool) {
	t, ok := optionTexts[id]
	return t, ok
}

// IsOption reports whether id is a known option, including clear.
func IsOption(id string) bool {
	_, ok := optionTexts[id]
	return ok || id == OptionClear
}

var socialPlatforms = map[string]bool{
	"facebook":  true,
	"linkedin":  true,
	"github":    true,
	"discord":   true,
	"instagram": true,
}

// SocialPlatform normalizes a platform name and reports whether it is offered.
func SocialPlatform(name string) (string, bool) {
	p := strings.ToLower(strings.TrimSpace(name))
	return p, socialPlatforms[p]
}

func socialText(platform string) string {
	return fmt.Sprintf("Show me %s profile", platform)
}
