// Package mcptools exposes text correction and file transcription as Model
// Context Protocol tools, so an assistant can call scribe directly.
//
// Two tools are registered:
//
//   - correct_text: runs the correction pipeline over a raw transcript.
//   - transcribe_file: transcribes and corrects a WAVE file on local disk.
//
// Domain failures (missing file, backend outage) are returned as tool errors
// with IsError set, not as protocol errors.
package mcptools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/scribe/internal/observe"
	"github.com/MrWong99/scribe/internal/session"
)

// Tool names.
const (
	ToolCorrectText    = "correct_text"
	ToolTranscribeFile = "transcribe_file"
)

// Processor is the slice of [session.Controller] the tools need.
type Processor interface {
	CorrectText(ctx context.Context, raw string) session.Result
	ProcessFile(ctx context.Context, path string) (session.Result, error)
}

var _ Processor = (*session.Controller)(nil)

// CorrectInput is the argument of correct_text.
type CorrectInput struct {
	Text string `json:"text" jsonschema:"raw speech-to-text output to normalise"`
}

// CorrectOutput is the structured result of correct_text.
type CorrectOutput struct {
	Corrected string   `json:"corrected"`
	Rules     []string `json:"rules"`
}

// TranscribeInput is the argument of transcribe_file.
type TranscribeInput struct {
	Path string `json:"path" jsonschema:"absolute path of a 16-bit PCM WAVE file"`
}

// TranscribeOutput is the structured result of transcribe_file.
type TranscribeOutput struct {
	Raw        string `json:"raw"`
	Corrected  string `json:"corrected"`
	Provider   string `json:"provider,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// NewServer returns an MCP server with both tools registered against proc.
func NewServer(proc Processor, version string) *mcp.Server {
	if version == "" {
		version = "dev"
	}
	srv := mcp.NewServer(&mcp.Implementation{Name: "scribe", Version: version}, nil)

	t := &tools{proc: proc}
	mcp.AddTool(srv, &mcp.Tool{
		Name:        ToolCorrectText,
		Description: "Restore capitalisation, punctuation spacing, contractions and the sentence terminator in a raw transcript.",
	}, t.correctText)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        ToolTranscribeFile,
		Description: "Transcribe a local WAVE file with the configured speech-to-text backend and return the corrected text.",
	}, t.transcribeFile)
	return srv
}

// Serve runs the tools over stdio until ctx is cancelled or the client
// disconnects.
func Serve(ctx context.Context, proc Processor, version string) error {
	if err := NewServer(proc, version).Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcptools: serve: %w", err)
	}
	return nil
}

type tools struct {
	proc Processor
}

func (t *tools) correctText(ctx context.Context, _ *mcp.CallToolRequest, in CorrectInput) (*mcp.CallToolResult, CorrectOutput, error) {
	res := t.proc.CorrectText(ctx, in.Text)
	rules := make([]string, len(res.Corrections))
	for i, c := range res.Corrections {
		rules[i] = c.Rule
	}
	return textResult(res.Corrected), CorrectOutput{Corrected: res.Corrected, Rules: rules}, nil
}

func (t *tools) transcribeFile(ctx context.Context, _ *mcp.CallToolRequest, in TranscribeInput) (*mcp.CallToolResult, TranscribeOutput, error) {
	if strings.TrimSpace(in.Path) == "" {
		return errorResult("path is required"), TranscribeOutput{}, nil
	}
	res, err := t.proc.ProcessFile(ctx, in.Path)
	if err != nil {
		observe.Logger(ctx).Warn("mcp transcribe_file failed", "path", in.Path, "error", err)
		return errorResult(err.Error()), TranscribeOutput{}, nil
	}
	return textResult(res.Corrected), TranscribeOutput{
		Raw:        res.Raw,
		Corrected:  res.Corrected,
		Provider:   res.Provider,
		DurationMS: res.Duration.Milliseconds(),
	}, nil
}

func textResult(s string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: s}}}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{IsError: true, Content: []mcp.Content{&mcp.TextContent{Text: msg}}}
}
