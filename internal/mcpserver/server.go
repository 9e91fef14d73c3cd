// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes sync tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/tubestack/internal/apperr"
	"github.com/starford/tubestack/internal/ledger"
	"github.com/starford/tubestack/internal/runner"
)

const pageFormatURI = "tubestack://page-format"

// SyncRunner starts sync runs.
type SyncRunner interface {
	Run(ctx context.Context, req runner.Request) (*runner.Result, error)
}

// History reads the run ledger.
type History interface {
	ListRuns(ctx context.Context, limit int) ([]ledger.Run, error)
	LastRun(ctx context.Context) (*ledger.Run, error)
	GetPage(ctx context.Context, videoID string) (*ledger.PageRecord, error)
}

// Server wraps the MCP server with tubestack tools.
type Server struct {
	mcp     *server.MCPServer
	runner  SyncRunner
	history History
}

// New creates a new MCP server with all tools registered.
func New(r SyncRunner, h History, version string) *Server {
	s := &Server{runner: r, history: h}

	s.mcp = server.NewMCPServer(
		"tubestack",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("run_sync",
		mcp.WithDescription("Mirror the YouTube channel into the BookStack book and return the run summary. "+
			"Fails if another sync is in progress."),
		mcp.WithBoolean("force_resync", mcp.Description("Delete every page and chapter of the book before syncing")),
		mcp.WithBoolean("dry_run", mcp.Description("Report what would change without writing to the wiki")),
	), s.runSync)

	s.mcp.AddTool(mcp.NewTool("list_runs",
		mcp.WithDescription("List recent sync runs, newest first."),
		mcp.WithNumber("limit", mcp.Description("Maximum number of runs (default 20)")),
	), s.listRuns)

	s.mcp.AddTool(mcp.NewTool("last_run",
		mcp.WithDescription("Return the most recent sync run."),
	), s.lastRun)

	s.mcp.AddTool(mcp.NewTool("get_synced_page",
		mcp.WithDescription("Look up the wiki page created for a video."),
		mcp.WithString("video_id", mcp.Required(), mcp.Description("11-character YouTube video ID")),
	), s.getSyncedPage)

	s.mcp.AddTool(mcp.NewTool("get_page_format",
		mcp.WithDescription("Describe how synced videos are laid out as wiki chapters and pages."),
	), s.getPageFormat)

	s.mcp.AddResource(
		mcp.NewResource(pageFormatURI, "Page Format",
			mcp.WithResourceDescription("How videos are rendered into BookStack pages."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readPageFormatResource,
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

func (s *Server) runSync(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := s.runner.Run(ctx, runner.Request{
		ForceResync: req.GetBool("force_resync", false),
		DryRun:      req.GetBool("dry_run", false),
	})
	if errors.Is(err, apperr.ErrSyncInProgress) {
		return mcp.NewToolResultError("a sync is already in progress"), nil
	}
	if res == nil {
		return mcp.NewToolResultError(fmt.Sprintf("sync failed: %v", err)), nil
	}
	// Run-level errors are reported inside the result.
	return jsonResult(res)
}

func (s *Server) listRuns(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 20)
	if limit <= 0 {
		return mcp.NewToolResultError("limit must be positive"), nil
	}
	runs, err := s.history.ListRuns(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if runs == nil {
		runs = []ledger.Run{}
	}
	return jsonResult(runs)
}

func (s *Server) lastRun(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	run, err := s.history.LastRun(ctx)
	if errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultText("no runs yet"), nil
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(run)
}

func (s *Server) getSyncedPage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("video_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rec, err := s.history.GetPage(ctx, id)
	if errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("no page recorded for video %s", id)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(rec)
}

func (s *Server) getPageFormat(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(PageFormatContract), nil
}

func (s *Server) readPageFormatResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      pageFormatURI,
			MIMEType: "text/markdown",
			Text:     PageFormatContract,
		},
	}, nil
}
