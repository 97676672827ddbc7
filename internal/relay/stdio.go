package relay

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

// stdioSessionID gives the stdio transport a stable routing session so
// sticky backend selection works across calls.
const stdioSessionID = "stdio"

// BuildStdioServer registers every catalog tool on an MCP stdio server
// whose handlers delegate to the same router and broker paths as the
// HTTP transport.
func (s *Server) BuildStdioServer() *server.MCPServer {
	srv := server.NewMCPServer(
		"webrelay",
		Version,
		server.WithToolCapabilities(false),
	)

	for _, desc := range s.catalog.All() {
		tool := mcplib.NewToolWithRawSchema(desc.Name, desc.Description, desc.InputSchema)
		name := desc.Name
		bridged := desc.Category.IsBridged()
		srv.AddTool(tool, func(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
			args := request.GetArguments()
			if args == nil {
				args = map[string]interface{}{}
			}

			if bridged {
				resp, err := s.dispatcher.Dispatch(ctx, stdioSessionID, name, args)
				if err != nil {
					return mcplib.NewToolResultError(err.Error()), nil
				}
				return textResult(map[string]interface{}{
					"content":   resp.Content,
					"backend":   string(resp.Backend),
					"elapsedMs": resp.Elapsed.Milliseconds(),
				})
			}

			if rpcErr := checkRequired(nil, desc, args); rpcErr != nil {
				return mcplib.NewToolResultError(rpcErr.Error.Message), nil
			}
			msg := s.callBrokerTool(nil, name, args)
			if msg.Error != nil {
				detail := msg.Error.Message
				if msg.Error.Data != nil {
					if data, err := json.Marshal(msg.Error.Data); err == nil {
						detail = fmt.Sprintf("%s (%s)", detail, data)
					}
				}
				return mcplib.NewToolResultError(detail), nil
			}
			return textResult(msg.Result)
		})
	}

	s.logger.Info("stdio transport ready", zap.Int("tools", s.catalog.Len()))
	return srv
}

// ServeStdio blocks, serving the MCP protocol over stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.BuildStdioServer())
}

func textResult(v interface{}) (*mcplib.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcplib.NewToolResultError(err.Error()), nil
	}
	return mcplib.NewToolResultText(string(data)), nil
}
