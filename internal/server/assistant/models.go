package assistant

// Model is one entry of the chat model catalogue.
type Model struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Provider string `json:"provider"`
}

var catalogue = []Model{
	{ID: "moonshotai/kimi-k2-instruct-0905", Name: "Kimi K2", Provider: "groq"},
	{ID: "openai/gpt-oss-120b", Name: "GPT-OSS 120B", Provider: "groq"},
	{ID: "openai/gpt-oss-20b", Name: "GPT-OSS 20B", Provider: "groq"},
	{ID: "qwen/qwen3-32b", Name: "Qwen3 32B", Provider: "groq"},
	{ID: "llama-3.1-8b-instant", Name: "Llama 3.1 8B", Provider: "groq"},
	{ID: "llama-3.3-70b-versatile", Name: "Llama 3.3 70B", Provider: "groq"},
}

// Models returns a copy of the catalogue.
func Models() []Model {
	out := make([]Model, len(catalogue))
	copy(out, catalogue)
	return out
}

func IsKnownModel(id string) bool {
	for _, m := range catalogue {
		if m.ID == id {
			return true
		}
	}
	return false
}
