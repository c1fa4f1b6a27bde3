// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes draglass tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/draglass/internal/apperr"
	"github.com/starford/draglass/internal/buffer"
	"github.com/starford/draglass/internal/index"
	"github.com/starford/draglass/internal/livepreview"
	"github.com/starford/draglass/internal/parser"
	"github.com/starford/draglass/internal/storage"
	"github.com/starford/draglass/internal/textrange"
)

const syntaxURI = "draglass://syntax"

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithPreview sets the live-preview toggles used by preview_decorations.
func WithPreview(o livepreview.Options) Option {
	return func(s *Server) { s.preview = o }
}

// WithLoopbackImports lets import_image fetch from loopback hosts.
func WithLoopbackImports() Option {
	return func(s *Server) { s.allowLoopback = true }
}

// Server wraps the MCP server with draglass tools.
type Server struct {
	mcp     *server.MCPServer
	store   storage.Provider
	db      index.NoteIndex
	logger  *slog.Logger
	preview livepreview.Options

	allowLoopback bool
}

// New creates a new MCP server with all draglass tools registered.
func New(store storage.Provider, db index.NoteIndex, opts ...Option) *Server {
	s := &Server{
		store:   store,
		db:      db,
		preview: livepreview.Options{LivePreview: true, RenderImages: true, RenderDiagrams: true},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	s.mcp = server.NewMCPServer(
		"Draglass",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search_notes",
		mcp.WithDescription("Search note names and content."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20)")),
	), s.searchNotes)

	s.mcp.AddTool(mcp.NewTool("list_notes",
		mcp.WithDescription("List all notes or notes in a specific folder, sorted by display name."),
		mcp.WithString("folder", mcp.Description("Optional folder to list (empty for all)")),
	), s.listNotes)

	s.mcp.AddTool(mcp.NewTool("read_note",
		mcp.WithDescription("Read the full content of a Markdown note."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the note (e.g. folder/note.md)")),
	), s.readNote)

	s.mcp.AddTool(mcp.NewTool("create_note",
		mcp.WithDescription("Create a new Markdown note at the specified path. "+
			"Read the syntax guide first via get_syntax_guide or the "+syntaxURI+" resource."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path for the new note (must end with .md)")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Markdown content")),
	), s.createNote)

	s.mcp.AddTool(mcp.NewTool("get_backlinks",
		mcp.WithDescription("Find all notes whose wikilinks point at the specified note."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path or title of the note")),
	), s.getBacklinks)

	s.mcp.AddTool(mcp.NewTool("extract_wikilinks",
		mcp.WithDescription("List the wikilinks of a note or a text with their offsets and normalized targets."),
		mcp.WithString("path", mcp.Description("Note to scan")),
		mcp.WithString("text", mcp.Description("Text to scan when no path is given")),
	), s.extractWikilinks)

	s.mcp.AddTool(mcp.NewTool("extract_images",
		mcp.WithDescription("List the image references of a note with the vault path each resolves to."),
		mcp.WithString("path", mcp.Description("Note to scan; relative image paths resolve against its folder")),
		mcp.WithString("text", mcp.Description("Text to scan instead of the note content")),
	), s.extractImages)

	s.mcp.AddTool(mcp.NewTool("preview_decorations",
		mcp.WithDescription("Compute the live-preview decorations of a note for a cursor position."),
		mcp.WithString("path", mcp.Description("Note to decorate")),
		mcp.WithString("text", mcp.Description("Text to decorate instead of the note content")),
		mcp.WithNumber("cursor", mcp.Description("Cursor byte offset (default: end of text)")),
	), s.previewDecorations)

	s.mcp.AddTool(mcp.NewTool("import_image",
		mcp.WithDescription("Copy an http(s) or base64 data-URI image into the vault and return the embed markup."),
		mcp.WithString("url", mcp.Required(), mcp.Description("Image URL or data URI")),
		mcp.WithString("folder", mcp.Description("Vault folder to store the image in (default attachments)")),
		mcp.WithString("filename", mcp.Description("File name to use, extension optional")),
	), s.importImage)

	s.mcp.AddTool(mcp.NewTool("get_syntax_guide",
		mcp.WithDescription("Returns the Markdown constructs the live preview renders."),
	), s.getSyntaxGuide)

	s.mcp.AddResource(
		mcp.NewResource(syntaxURI, "Live Preview Syntax",
			mcp.WithResourceDescription("Markdown constructs rendered by the draglass live preview."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readSyntaxResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

// noteText returns the text argument if given, otherwise the content of the
// note at path.
func (s *Server) noteText(req mcp.CallToolRequest) (string, string, error) {
	notePath := req.GetString("path", "")
	if text := req.GetString("text", ""); text != "" {
		return notePath, text, nil
	}
	if notePath == "" {
		return "", "", errors.New("either path or text is required")
	}
	data, err := s.store.Read(notePath)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return "", "", fmt.Errorf("not found: %s", notePath)
		}
		return "", "", err
	}
	return notePath, string(data), nil
}

func (s *Server) searchNotes(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.db.Search(query, req.GetInt("limit", 20))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(results)
}

func (s *Server) readNote(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := s.store.Read(path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) createNote(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if parser.IsIgnoredPath(path) {
		return mcp.NewToolResultError(fmt.Sprintf("cannot create note in ignored path %s", path)), nil
	}

	data := []byte(content)
	if err := s.store.Create(path, data); err != nil {
		if errors.Is(err, apperr.ErrAlreadyExists) {
			return mcp.NewToolResultError(fmt.Sprintf("note already exists: %s", path)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := index.IndexNote(s.db, path, data); err != nil {
		s.logger.Warn("mcp: index new note failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
	}
	return mcp.NewToolResultText(fmt.Sprintf("created: %s", path)), nil
}

func (s *Server) listNotes(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entries, err := s.store.List(req.GetString("folder", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		paths = append(paths, e.Path)
	}
	return mcp.NewToolResultText(strings.Join(paths, "\n")), nil
}

func (s *Server) getBacklinks(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	bl, err := s.db.Backlinks(parser.FileStem(path))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(bl) == 0 {
		return mcp.NewToolResultText("no backlinks found"), nil
	}
	return mcp.NewToolResultText(strings.Join(bl, "\n")), nil
}

type wikilinkOut struct {
	parser.WikilinkMatch
	Normalized string `json:"normalized"`
	Exists     bool   `json:"exists"`
}

func (s *Server) extractWikilinks(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	_, text, err := s.noteText(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	entries, err := s.store.List("")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	titles := make(map[string]bool, len(entries))
	for _, e := range entries {
		titles[parser.NormalizeWikiTarget(e.DisplayName)] = true
	}

	out := []wikilinkOut{}
	for _, m := range parser.FindWikilinks(text) {
		norm := parser.NormalizeWikiTarget(m.Target)
		out = append(out, wikilinkOut{WikilinkMatch: m, Normalized: norm, Exists: titles[norm]})
	}
	return jsonResult(out)
}

type imageOut struct {
	parser.ImageRef
	Resolved string `json:"resolved,omitempty"`
	Remote   bool   `json:"remote,omitempty"`
	Exists   bool   `json:"exists"`
}

func (s *Server) extractImages(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	notePath, text, err := s.noteText(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out := []imageOut{}
	for _, ref := range parser.ExtractImageMarkups(text) {
		img := imageOut{ImageRef: ref}
		switch {
		case parser.IsRemoteImageTarget(ref.Target):
			img.Remote = true
		case notePath != "":
			if rel, ok := parser.ResolveImageTarget(notePath, ref.Target); ok {
				img.Resolved = rel
				_, statErr := s.store.ReadAsset(rel)
				img.Exists = statErr == nil
			}
		}
		out = append(out, img)
	}
	return jsonResult(out)
}

func (s *Server) previewDecorations(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	notePath, text, err := s.noteText(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	doc := buffer.New(text)
	cursor := min(max(req.GetInt("cursor", doc.Len()), 0), doc.Len())

	opts := s.preview
	opts.NoteRelPath = notePath
	decos := livepreview.Build(doc, buffer.Cursor(cursor), []textrange.Span{{From: 0, To: doc.Len()}}, opts)
	if decos == nil {
		decos = []livepreview.Decoration{}
	}
	return jsonResult(decos)
}

func (s *Server) getSyntaxGuide(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(SyntaxGuide), nil
}

func (s *Server) readSyntaxResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      syntaxURI,
			MIMEType: "text/markdown",
			Text:     SyntaxGuide,
		},
	}, nil
}
