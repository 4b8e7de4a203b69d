package conversation

const titleLimit = 30

// DeriveTitle returns the title a chat takes from its first message. It only
// applies while the chat has no messages yet.
func DeriveTitle(existingMessages int, content string) (string, bool) {
	if existingMessages != 0 {
		return "", false
	}
	runes := []rune(content)
	if len(runes) > titleLimit {
		return string(runes[:titleLimit]) + "...", true
	}
	return content, true
}
