package models

// Prompt is a single generative model request.
type Prompt struct {
	System    string
	User      string
	MaxTokens int
}
