package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	normerrors "github.com/sweetpotato0/normrag/errors"
	"github.com/sweetpotato0/normrag/rag/pipeline"
)

// NewMCPServer exposes the pipeline as MCP tools.
func NewMCPServer(asker Asker, version string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "normrag",
		Version: version,
		Title:   "Pix and Open Finance regulation assistant",
	}, nil)

	addAskTool(server, asker)
	addDomainLister(server, asker)
	return server
}

// MCPHandler serves server over streamable HTTP.
func MCPHandler(server *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server
	}, nil)
}

// ServeStdio runs server on stdin/stdout until ctx is done or the client leaves.
func ServeStdio(ctx context.Context, server *mcp.Server) error {
	return server.Run(ctx, &mcp.StdioTransport{})
}

type askArgs struct {
	Question string   `json:"question" jsonschema:"Question about Pix or Open Finance regulation, up to 1000 characters"`
	Domain   string   `json:"domain" jsonschema:"Regulatory domain: pix or open_finance"`
	TopK     int      `json:"top_k,omitempty" jsonschema:"Number of passages to retrieve, 1 to 10"`
	MinScore *float64 `json:"min_score,omitempty" jsonschema:"Minimum similarity between 0 and 1"`
}

func addAskTool(server *mcp.Server, asker Asker) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "ask_regulation",
		Description: "Answer a question from Bacen norms, citing the articles used",
	}, func(ctx context.Context, req *mcp.CallToolRequest, a askArgs) (*mcp.CallToolResult, any, error) {
		resp, err := asker.Ask(ctx, pipeline.Query{
			Question: a.Question,
			Domain:   domainOf(a.Domain),
			TopK:     a.TopK,
			MinScore: a.MinScore,
		})
		if err != nil {
			if errors.Is(err, normerrors.ErrInvalidInput) {
				return errorResult(err), nil, nil
			}
			return nil, nil, err
		}
		return jsonResult(resp)
	})
}

func addDomainLister(server *mcp.Server, asker Asker) {
	type args struct{}

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_domains",
		Description: "List the regulatory domains ask_regulation accepts",
	}, func(ctx context.Context, req *mcp.CallToolRequest, _ args) (*mcp.CallToolResult, any, error) {
		return jsonResult(asker.Domains())
	})
}

func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, nil, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}

func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
	}
}
