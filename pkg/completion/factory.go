package completion

import (
	"fmt"

	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	openaioption "github.com/openai/openai-go/option"
)

// Profile selects and configures a client
type Profile struct {
	Provider  string
	APIKey    string
	Model     string
	BaseURL   string
	MaxTokens int
}

// NewFromProfile builds the client for profile.Provider.
func NewFromProfile(profile Profile) (Client, error) {
	switch profile.Provider {
	case "anthropic":
		if profile.BaseURL != "" {
			return NewAnthropic(profile.APIKey, profile.Model, anthropicoption.WithBaseURL(profile.BaseURL)), nil
		}
		return NewAnthropic(profile.APIKey, profile.Model), nil
	case "openai":
		if profile.BaseURL != "" {
			return NewOpenAI(profile.APIKey, profile.Model, openaioption.WithBaseURL(profile.BaseURL)), nil
		}
		return NewOpenAI(profile.APIKey, profile.Model), nil
	case "scripted":
		return NewScripted(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, profile.Provider)
	}
}
