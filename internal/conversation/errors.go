package conversation

import "errors"

var (
	ErrMissingCredential = errors.New("api key required")
	ErrNotFound          = errors.New("not found")
	ErrSendInProgress    = errors.New("a reply is already being generated for this chat")
	ErrEmptyPrompt       = errors.New("message is empty")
	ErrInvalidRole       = errors.New("invalid message role")
	ErrEmptyTitle        = errors.New("title is empty")
)

// User-facing texts raised on send failures.
const (
	ApologyText = "I'm sorry, I encountered an error while processing your request."

	missingKeyTitle       = "API Key Required"
	missingKeyDescription = "Please enter your Gemini API key in settings"
	failureTitle          = "Error"
	failureDescription    = "Failed to get a response from Gemini. Please try again."
)
