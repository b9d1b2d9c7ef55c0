// Package proxy translates between the analyzer's message schema and the
// Gemini generateContent schema.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/TobiSchelling/finanalyzer/internal/llm"
)

// Block types accepted in message content.
const (
	BlockText     = "text"
	BlockDocument = "document"
)

const defaultDocumentMediaType = "application/pdf"

// Source is the payload of a document block.
type Source struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// Block is one typed content block.
type Block struct {
	Type   string  `json:"type"`
	Text   string  `json:"text,omitempty"`
	Source *Source `json:"source,omitempty"`
}

// Content is either plain text or a list of blocks. On the wire it is a JSON
// string or a JSON array.
type Content struct {
	Text   string
	Blocks []Block
}

// TextContent returns plain-text content.
func TextContent(s string) Content { return Content{Text: s} }

// BlockContent returns block-list content.
func BlockContent(blocks ...Block) Content { return Content{Blocks: blocks} }

func (c Content) MarshalJSON() ([]byte, error) {
	if c.Blocks != nil {
		return json.Marshal(c.Blocks)
	}
	return json.Marshal(c.Text)
}

func (c *Content) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var blocks []Block
		if err := json.Unmarshal(data, &blocks); err != nil {
			return fmt.Errorf("decoding content blocks: %w", err)
		}
		*c = Content{Blocks: blocks}
		return nil
	}
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return fmt.Errorf("content must be a string or an array of blocks: %w", err)
	}
	*c = Content{Text: text}
	return nil
}

// Message is one conversation turn.
type Message struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// Request is the body accepted by the analyze endpoint. Model and MaxTokens
// are accepted for client compatibility and ignored.
type Request struct {
	Messages  []Message `json:"messages"`
	System    string    `json:"system,omitempty"`
	Model     string    `json:"model,omitempty"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}

// TextBlock is a text block of a Response.
type TextBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Response is the uniform success body of the analyze endpoint.
type Response struct {
	Content []TextBlock `json:"content"`
}

// Text joins the text blocks of a response with newlines.
func (r *Response) Text() string {
	var buf bytes.Buffer
	first := true
	for _, b := range r.Content {
		if b.Type != BlockText {
			continue
		}
		if !first {
			buf.WriteByte('\n')
		}
		buf.WriteString(b.Text)
		first = false
	}
	return buf.String()
}

// ErrorResponse is the failure body of the analyze endpoint.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// ErrNoMessages is returned for a request with an empty message list.
var ErrNoMessages = errors.New("request has no messages")

// Translate converts a Request into a Gemini request with the given output cap.
func Translate(req *Request, maxOutputTokens int) (*llm.GenerateRequest, error) {
	if len(req.Messages) == 0 {
		return nil, ErrNoMessages
	}

	out := &llm.GenerateRequest{
		Contents:         make([]llm.Content, 0, len(req.Messages)),
		GenerationConfig: llm.GenerationConfig{MaxOutputTokens: maxOutputTokens},
	}
	if req.System != "" {
		out.SystemInstruction = &llm.Content{Parts: []llm.Part{{Text: req.System}}}
	}

	for i, m := range req.Messages {
		parts, err := translateContent(m.Content)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		out.Contents = append(out.Contents, llm.Content{
			Role:  translateRole(m.Role),
			Parts: parts,
		})
	}
	return out, nil
}

// translateRole maps the assistant role onto Gemini's "model".
func translateRole(role string) string {
	if role == "assistant" {
		return "model"
	}
	return role
}

func translateContent(c Content) ([]llm.Part, error) {
	if c.Blocks == nil {
		return []llm.Part{{Text: c.Text}}, nil
	}

	parts := make([]llm.Part, 0, len(c.Blocks))
	for j, b := range c.Blocks {
		switch b.Type {
		case BlockText:
			parts = append(parts, llm.Part{Text: b.Text})
		case BlockDocument:
			if b.Source == nil {
				return nil, fmt.Errorf("block %d: document without source", j)
			}
			if b.Source.Type != "base64" {
				return nil, fmt.Errorf("block %d: unsupported source type %q", j, b.Source.Type)
			}
			mediaType := b.Source.MediaType
			if mediaType == "" {
				mediaType = defaultDocumentMediaType
			}
			parts = append(parts, llm.Part{InlineData: &llm.Blob{
				MimeType: mediaType,
				Data:     b.Source.Data,
			}})
		default:
			return nil, fmt.Errorf("block %d: unsupported block type %q", j, b.Type)
		}
	}
	return parts, nil
}

// Completer answers analyze requests, in-process or over HTTP.
type Completer interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// Service forwards translated requests to the model provider.
type Service struct {
	provider        llm.Provider
	maxOutputTokens int
}

// NewService creates a proxy service with a fixed output token cap.
func NewService(provider llm.Provider, maxOutputTokens int) *Service {
	return &Service{provider: provider, maxOutputTokens: maxOutputTokens}
}

// Complete translates the request, calls the provider and repackages the
// first candidate's text.
func (s *Service) Complete(ctx context.Context, req *Request) (*Response, error) {
	gr, err := Translate(req, s.maxOutputTokens)
	if err != nil {
		return nil, fmt.Errorf("translating request: %w", err)
	}

	resp, err := s.provider.GenerateContent(ctx, gr)
	if err != nil {
		return nil, err
	}

	text, err := resp.FirstText()
	if err != nil {
		return nil, err
	}

	return &Response{Content: []TextBlock{{Type: BlockText, Text: text}}}, nil
}

// IsConfigured reports whether the provider has credentials.
func (s *Service) IsConfigured() bool {
	return s.provider.IsConfigured()
}

// ListModels passes through to the provider.
func (s *Service) ListModels(ctx context.Context) ([]llm.Model, error) {
	return s.provider.ListModels(ctx)
}
