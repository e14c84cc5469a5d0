package llm

import (
	"fmt"
	"os"
	"strings"
)

// Environment variables holding provider credentials.
const (
	EnvOpenAIKey     = "OPENAI_API_KEY"
	EnvOpenRouterKey = "OPENROUTER_API_KEY"
)

// Credentials holds the API keys found in the environment. An empty key
// means the backend is not configured.
type Credentials struct {
	OpenAI     string
	OpenRouter string
}

// CredentialsFromEnv reads the provider keys.
func CredentialsFromEnv() Credentials {
	return Credentials{
		OpenAI:     strings.TrimSpace(os.Getenv(EnvOpenAIKey)),
		OpenRouter: strings.TrimSpace(os.Getenv(EnvOpenRouterKey)),
	}
}

var keyPrefixes = map[string]string{
	NameOpenAI:     "sk-",
	NameOpenRouter: "sk-or-",
}

// Warnings returns advisory messages for keys that do not look like the
// provider's format. They never disable a backend.
func (c Credentials) Warnings() []string {
	var out []string
	check := func(backend, key string) {
		if key == "" {
			return
		}
		prefix := keyPrefixes[backend]
		if !strings.HasPrefix(key, prefix) {
			out = append(out, fmt.Sprintf("%s API key does not start with %q", backend, prefix))
		}
	}
	check(NameOpenAI, c.OpenAI)
	check(NameOpenRouter, c.OpenRouter)
	return out
}
