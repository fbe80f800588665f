package config

import (
	"os"
	"strings"

	"github.com/cockroachdb/errors"
)

// providerKeys lists, per provider, the environment variables of which at
// least one group must be fully set
var providerKeys = map[string][][]string{
	"azure":  {{"AZURE_OPENAI_API_KEY", "AZURE_OPENAI_ENDPOINT"}},
	"openai": {{"OPENAI_API_KEY"}},
	"claude": {{"ANTHROPIC_API_KEY"}},
	"gemini": {{"GEMINI_API_KEY"}, {"GOOGLE_API_KEY"}},
}

var providerLabels = map[string]string{
	"azure":  "Azure OpenAI",
	"openai": "OpenAI",
	"claude": "Claude (Anthropic)",
	"gemini": "Gemini (Google)",
}

var supportedProviders = []string{"azure", "openai", "claude", "gemini"}

// ValidateAPIKeys validates that required API keys are set for the given model configuration.
// Returns an error with helpful messaging if validation fails.
func ValidateAPIKeys(mc ModelConfig) error {
	groups, ok := providerKeys[mc.Provider]
	if !ok {
		return errors.Newf("unsupported LLM provider: %s", mc.Provider)
	}
	if !anyGroupSet(groups) {
		return errors.Newf("%s environment variable is required for %s provider",
			describeGroups(groups), providerLabels[mc.Provider])
	}
	if mc.Provider == "azure" && mc.Model == "" && os.Getenv("AZURE_OPENAI_DEPLOYMENT_NAME") == "" {
		return errors.New("AZURE_OPENAI_DEPLOYMENT_NAME environment variable (or a model name) is required for Azure OpenAI provider")
	}
	return nil
}

// ValidateAPIKeysWithUserMessage validates API keys and returns a user-friendly error message.
// This is suitable for CLI output where we want to show detailed setup instructions.
func ValidateAPIKeysWithUserMessage(mc ModelConfig) error {
	var b strings.Builder
	b.WriteString("You need to connect mcpbridge to an LLM.\n\n")

	if _, ok := providerKeys[mc.Provider]; !ok {
		b.WriteString(supportedList())
		b.WriteString("\nConfigured provider '" + mc.Provider + "' is not supported.")
		return errors.New(b.String())
	}

	if err := ValidateAPIKeys(mc); err != nil {
		b.WriteString(providerLabels[mc.Provider] + " is configured but " + err.Error() + ".\n\n")
		b.WriteString(supportedList())
		b.WriteString("\nSet the variables in your shell or in a .env file next to the config, for example:\n")
		for _, group := range providerKeys[mc.Provider][:1] {
			for _, key := range group {
				b.WriteString("  export " + key + "=...\n")
			}
		}
		return errors.New(strings.TrimRight(b.String(), "\n"))
	}

	return nil
}

func supportedList() string {
	var b strings.Builder
	b.WriteString("Currently supported LLMs:\n")
	for _, p := range supportedProviders {
		b.WriteString("  - " + providerLabels[p] + " - requires " + describeGroups(providerKeys[p]) + "\n")
	}
	return b.String()
}

func anyGroupSet(groups [][]string) bool {
	for _, group := range groups {
		set := true
		for _, key := range group {
			if os.Getenv(key) == "" {
				set = false
				break
			}
		}
		if set {
			return true
		}
	}
	return false
}

func describeGroups(groups [][]string) string {
	parts := make([]string, 0, len(groups))
	for _, group := range groups {
		parts = append(parts, strings.Join(group, " and "))
	}
	return strings.Join(parts, " or ")
}
