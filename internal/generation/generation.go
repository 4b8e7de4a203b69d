// Package generation talks to the remote text-generation endpoint.
package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Roles used in outbound contents. The remote side calls the assistant "model".
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// DefaultBaseURL is the public Gemini API host.
const DefaultBaseURL = "https://generativelanguage.googleapis.com"

// ErrEmptyResponse is returned when the endpoint answered but produced no text.
var ErrEmptyResponse = errors.New("empty response from model")

// RemoteError carries a non-success answer from the endpoint.
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote error (HTTP %d)", e.Status)
	}
	return fmt.Sprintf("remote error (HTTP %d): %s", e.Status, e.Message)
}

// Content is one conversation turn.
type Content struct {
	Role string
	Text string
}

// Config holds the sampling parameters, passed through verbatim.
type Config struct {
	Temperature     float64
	MaxOutputTokens int
	TopK            int
	TopP            float64
}

// Request is a fully assembled generation call.
type Request struct {
	Model             string
	Contents          []Content
	SystemInstruction string
	Config            Config
}

// Generator produces the complete reply for a request.
type Generator interface {
	Generate(ctx context.Context, apiKey string, req Request) (string, error)
}

// StreamGenerator is implemented by backends that can deliver partial text.
// onChunk receives the text accumulated so far; returning an error aborts.
type StreamGenerator interface {
	Generator
	Stream(ctx context.Context, apiKey string, req Request, onChunk func(accumulated string) error) (string, error)
}

// Options selects and configures a backend.
type Options struct {
	Backend    string
	Provider   string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

// New builds the backend named by opts.Backend.
func New(opts Options) (Generator, error) {
	switch strings.ToLower(opts.Backend) {
	case "", "rest":
		return NewREST(opts.BaseURL, opts.HTTPClient), nil
	case "genai":
		return NewGenAI(opts.BaseURL), nil
	case "eino":
		return NewEino(opts.Provider, opts.BaseURL, opts.Model)
	default:
		return nil, fmt.Errorf("unsupported backend: %s", opts.Backend)
	}
}
