package providerspec

var builtinSpecs = map[string]Spec{
	"openai": {
		Key:                "openai",
		DefaultBaseURL:     "https://api.openai.com",
		DefaultPath:        "/v1/chat/completions",
		DefaultAPIKeyEnv:   "OPENAI_API_KEY",
		ProviderOptionsKey: "openai",
	},
	"google": {
		Key:                "google",
		Aliases:            []string{"gemini", "google_ai_studio"},
		DefaultBaseURL:     "https://generativelanguage.googleapis.com",
		DefaultPath:        "/v1beta/openai/chat/completions",
		DefaultAPIKeyEnv:   "GEMINI_API_KEY",
		ProviderOptionsKey: "google",
	},
	"openrouter": {
		Key:                "openrouter",
		DefaultBaseURL:     "https://openrouter.ai/api",
		DefaultPath:        "/v1/chat/completions",
		DefaultAPIKeyEnv:   "OPENROUTER_API_KEY",
		ProviderOptionsKey: "openrouter",
	},
	"zai": {
		Key:                "zai",
		Aliases:            []string{"z-ai", "z.ai"},
		DefaultBaseURL:     "https://api.z.ai",
		DefaultPath:        "/api/coding/paas/v4/chat/completions",
		DefaultAPIKeyEnv:   "ZAI_API_KEY",
		ProviderOptionsKey: "zai",
	},
	"ollama": {
		Key:                "ollama",
		DefaultBaseURL:     "http://localhost:11434",
		DefaultPath:        "/v1/chat/completions",
		ProviderOptionsKey: "ollama",
		KeyOptional:        true,
	},
	StandIn: {
		Key:     StandIn,
		Aliases: []string{"mock", "stand-in"},
		Local:   true,
	},
}
