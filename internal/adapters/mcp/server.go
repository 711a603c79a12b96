package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/docuseek/qa-engine/internal/core/domain"
	"github.com/docuseek/qa-engine/internal/core/ports"
)

// Server exposes the engine to MCP clients over stdio. Tools return
// JSON payloads so agent frameworks can post-process hits and
// diagnostics instead of parsing prose.
type Server struct {
	search  ports.SearchService
	answer  ports.AnswerService
	storage ports.IndexStorage
	logger  *slog.Logger
}

func NewServer(
	search ports.SearchService,
	answer ports.AnswerService,
	storage ports.IndexStorage,
	logger *slog.Logger,
) *Server {
	return &Server{
		search:  search,
		answer:  answer,
		storage: storage,
		logger:  logger,
	}
}

func (s *Server) MCPServer(version string) *server.MCPServer {
	srv := server.NewMCPServer(
		"docuseek-qa-engine",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	srv.AddTool(mcp.NewTool(
		"document_search",
		mcp.WithDescription("Search the indexed document corpus. Returns scored chunk hits with provenance, without answer synthesis."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("The search query. Supports @filename mentions to scope the search to specific files."),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of hits to return."),
		),
	), s.handleSearch)

	srv.AddTool(mcp.NewTool(
		"document_answer",
		mcp.WithDescription("Answer a question from the indexed documents with per-chunk verification and citations."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("The question to answer."),
		),
		mcp.WithString("mode",
			mcp.Description("Pipeline mode: auto (route by intent), chat (skip retrieval), or document (force retrieval)."),
			mcp.Enum("auto", "chat", "document"),
		),
	), s.handleAnswer)

	srv.AddTool(mcp.NewTool(
		"list_files",
		mcp.WithDescription("List indexed files that have embeddings and are searchable."),
	), s.handleListFiles)

	return srv
}

// ServeStdio blocks until the client disconnects or ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context, version string) error {
	return server.ServeStdio(s.MCPServer(version), server.WithStdioContextFunc(
		func(context.Context) context.Context { return ctx },
	))
}

func (s *Server) handleSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	resp, err := s.search.Search(ctx, domain.SearchRequest{
		Query: query,
		Limit: request.GetInt("limit", 0),
	})
	if err != nil {
		s.logger.Warn("mcp_search_failed", "error", err)
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonToolResult(resp)
}

func (s *Server) handleAnswer(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := s.answer.Answer(ctx, domain.AnswerRequest{
		Query: query,
		Mode:  request.GetString("mode", ""),
	})
	if err != nil {
		s.logger.Warn("mcp_answer_failed", "error", err)
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonToolResult(result)
}

func (s *Server) handleListFiles(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	files, err := s.storage.FilesWithEmbeddings(ctx)
	if err != nil {
		s.logger.Warn("mcp_list_files_failed", "error", err)
		return mcp.NewToolResultError(err.Error()), nil
	}
	if files == nil {
		files = []domain.FileRecord{}
	}
	return jsonToolResult(map[string]any{"files": files})
}

func jsonToolResult(payload any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal tool result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
