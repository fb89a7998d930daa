// Package mcp exposes bug tools to MCP clients over the go-sdk server.
package mcp

import (
	"context"
	"fmt"
	"log/slog"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/A-ryanVAT-S/Provify/internal/logging"
	"github.com/A-ryanVAT-S/Provify/internal/service"
	"github.com/A-ryanVAT-S/Provify/internal/types"
)

// Server wraps the MCP SDK server with the bug tools registered.
type Server struct {
	MCPServer *sdkmcp.Server

	svc *service.Service
	log *slog.Logger
}

// NewServer creates the server and registers every tool.
func NewServer(svc *service.Service) *Server {
	s := &Server{
		MCPServer: sdkmcp.NewServer(&sdkmcp.Implementation{Name: "provify", Version: svc.Version}, nil),
		svc:       svc,
		log:       logging.New("mcp"),
	}
	s.registerTools()
	return s
}

// Run serves over stdio until ctx is done or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.log.Info("starting provify MCP server over stdio")
	return s.MCPServer.Run(ctx, &sdkmcp.StdioTransport{})
}

// Tools returning bugs declare no output schema; bug timestamps are RFC 3339
// strings that a reflected schema would describe as objects.
func (s *Server) registerTools() {
	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "list_bugs",
		Description: "List tracked bugs, newest first. Optionally filter by status (pending, verified, not_reproducible, fixed) and app package.",
	}, s.handleListBugs)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "get_bug",
		Description: "Get one bug by id, including its latest verification summary.",
	}, s.handleGetBug)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "create_bug",
		Description: "Report a bug. Near-duplicates of an existing bug for the same package return the existing bug.",
	}, s.handleCreateBug)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "verify_bug",
		Description: "Try to reproduce a bug on every connected device and record the majority verdict. Can take minutes.",
	}, s.handleVerifyBug)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "bug_stats",
		Description: "Count bugs per status.",
	}, s.handleStats)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "list_devices",
		Description: "List devices available for verification. Set refresh to rescan first.",
	}, s.handleListDevices)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "mark_fixed",
		Description: "Mark a verified bug as fixed by the developer.",
	}, s.handleMarkFixed)
}

// --- Tool input/output types ---

type listBugsInput struct {
	Status     string `json:"status,omitempty" jsonschema:"filter by status"`
	AppPackage string `json:"app_package,omitempty" jsonschema:"filter by Android package id"`
}

type listBugsOutput struct {
	Bugs  []*types.Bug `json:"bugs"`
	Count int          `json:"count"`
}

type bugIDInput struct {
	ID string `json:"id" jsonschema:"bug id"`
}

type bugOutput struct {
	Bug *types.Bug `json:"bug"`
}

type createBugInput struct {
	AppName    string `json:"app_name" jsonschema:"app display name"`
	AppPackage string `json:"app_package,omitempty" jsonschema:"Android package id; resolved from the name when omitted"`
	Bug        string `json:"bug" jsonschema:"description of the defect"`
}

type verifyOutput struct {
	Summary *types.VerificationSummary `json:"summary"`
}

type statsInput struct{}

type listDevicesInput struct {
	Refresh bool `json:"refresh,omitempty" jsonschema:"rescan connected devices first"`
}

type listDevicesOutput struct {
	Devices []types.Target `json:"devices"`
	Count   int            `json:"count"`
}

// --- Tool handlers ---

func (s *Server) handleListBugs(ctx context.Context, _ *sdkmcp.CallToolRequest, input listBugsInput) (*sdkmcp.CallToolResult, any, error) {
	filter := types.BugFilter{AppPackage: input.AppPackage}
	if input.Status != "" {
		status, err := types.ParseStatus(input.Status)
		if err != nil {
			return nil, nil, err
		}
		filter.Status = &status
	}
	bugs, err := s.svc.Store.List(ctx, filter)
	if err != nil {
		return nil, nil, err
	}
	if bugs == nil {
		bugs = []*types.Bug{}
	}
	return nil, listBugsOutput{Bugs: bugs, Count: len(bugs)}, nil
}

func (s *Server) handleGetBug(ctx context.Context, _ *sdkmcp.CallToolRequest, input bugIDInput) (*sdkmcp.CallToolResult, any, error) {
	bug, err := s.svc.Store.Get(ctx, input.ID)
	if err != nil {
		return nil, nil, err
	}
	return nil, bugOutput{Bug: bug}, nil
}

func (s *Server) handleCreateBug(ctx context.Context, _ *sdkmcp.CallToolRequest, input createBugInput) (*sdkmcp.CallToolResult, any, error) {
	bug, err := s.svc.Store.Intake(ctx, input.AppName, input.AppPackage, input.Bug)
	if err != nil {
		return nil, nil, err
	}
	return nil, bugOutput{Bug: bug}, nil
}

func (s *Server) handleVerifyBug(ctx context.Context, _ *sdkmcp.CallToolRequest, input bugIDInput) (*sdkmcp.CallToolResult, any, error) {
	summary, err := s.svc.VerifyBug(ctx, input.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("verify %s: %w", input.ID, err)
	}
	return nil, verifyOutput{Summary: summary}, nil
}

func (s *Server) handleStats(ctx context.Context, _ *sdkmcp.CallToolRequest, _ statsInput) (*sdkmcp.CallToolResult, types.Statistics, error) {
	stats, err := s.svc.Store.Stats(ctx)
	if err != nil {
		return nil, types.Statistics{}, err
	}
	return nil, *stats, nil
}

func (s *Server) handleListDevices(ctx context.Context, _ *sdkmcp.CallToolRequest, input listDevicesInput) (*sdkmcp.CallToolResult, listDevicesOutput, error) {
	if input.Refresh {
		s.svc.Devices.Refresh(ctx)
	}
	targets := s.svc.Devices.Targets()
	return nil, listDevicesOutput{Devices: targets, Count: len(targets)}, nil
}

func (s *Server) handleMarkFixed(ctx context.Context, _ *sdkmcp.CallToolRequest, input bugIDInput) (*sdkmcp.CallToolResult, any, error) {
	bug, err := s.svc.MarkFixed(ctx, input.ID)
	if err != nil {
		return nil, nil, err
	}
	return nil, bugOutput{Bug: bug}, nil
}
