package conversation

import (
	"strings"

	"geminichat/internal/generation"
	"geminichat/internal/models"
)

// DefaultContextWindow is how many prior messages accompany a prompt.
const DefaultContextWindow = 10

// BuildContents assembles the request for prompt. history holds the messages
// that precede the new user turn; only the last window of them are sent, and
// none in stateless mode. Messages without content are skipped.
func BuildContents(history []models.Message, st models.Settings, prompt string, window int) generation.Request {
	if window < 0 {
		window = 0
	}
	var prior []models.Message
	if !st.StatelessMode {
		for _, m := range history {
			if m.Content != "" {
				prior = append(prior, m)
			}
		}
		if len(prior) > window {
			prior = prior[len(prior)-window:]
		}
	}

	contents := make([]generation.Content, 0, len(prior)+1)
	for _, m := range prior {
		role := generation.RoleUser
		if m.Role == models.RoleAssistant {
			role = generation.RoleModel
		}
		contents = append(contents, generation.Content{Role: role, Text: m.Content})
	}
	contents = append(contents, generation.Content{Role: generation.RoleUser, Text: prompt})

	req := generation.Request{
		Model:    string(st.Model),
		Contents: contents,
		Config: generation.Config{
			Temperature:     st.Temperature,
			MaxOutputTokens: st.MaxTokens,
			TopK:            st.TopK,
			TopP:            st.TopP,
		},
	}
	if st.CustomInstructions != nil && strings.TrimSpace(*st.CustomInstructions) != "" {
		req.SystemInstruction = *st.CustomInstructions
	}
	return req
}
