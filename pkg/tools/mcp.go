package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"goa.design/clue/log"

	"github.com/wilhg/agentsim/pkg/errmodel"
)

// Implementation identifies this process to MCP peers.
var Implementation = &mcp.Implementation{Name: "agentsim", Version: "v0.1.0"}

// ConnectMCP opens a client session over transport. Callers close the session.
func ConnectMCP(ctx context.Context, transport mcp.Transport) (*mcp.ClientSession, error) {
	client := mcp.NewClient(Implementation, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, errmodel.Tool("mcp_connect_failed", "mcp connect failed", nil, err)
	}
	return session, nil
}

// RegisterMCPTools lists the tools of a remote MCP server and registers a
// proxy for each under prefix+name. It returns the registered names.
func RegisterMCPTools(ctx context.Context, reg *Registry, session *mcp.ClientSession, prefix string) ([]string, error) {
	res, err := session.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		return nil, errmodel.Tool("mcp_list_failed", "mcp list tools failed", nil, err)
	}
	var names []string
	for _, t := range res.Tools {
		p := &mcpTool{session: session, remote: t.Name, desc: Descriptor{
			Name:        prefix + t.Name,
			Description: t.Description,
			InputSchema: rawSchema(t.InputSchema),
		}}
		if err := reg.Register(p); err != nil {
			log.Warn(ctx, log.KV{K: "msg", V: "skip mcp tool"}, log.KV{K: "tool", V: t.Name}, log.KV{K: "err", V: err.Error()})
			continue
		}
		names = append(names, p.desc.Name)
	}
	return names, nil
}

func rawSchema(s any) []byte {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(s)
	if err != nil || string(b) == "null" {
		return nil
	}
	return b
}

type mcpTool struct {
	session *mcp.ClientSession
	remote  string
	desc    Descriptor
}

func (t *mcpTool) Describe() Descriptor { return t.desc }

func (t *mcpTool) Invoke(ctx context.Context, args map[string]any) (map[string]any, error) {
	res, err := t.session.CallTool(ctx, &mcp.CallToolParams{Name: t.remote, Arguments: args})
	if err != nil {
		return nil, errmodel.Tool("mcp_call_failed", "mcp tool call failed", map[string]any{"tool": t.remote}, err)
	}
	text := contentText(res.Content)
	if res.IsError {
		return nil, errmodel.Tool("mcp_tool_error", text, map[string]any{"tool": t.remote}, nil)
	}
	if m, ok := res.StructuredContent.(map[string]any); ok {
		return m, nil
	}
	var m map[string]any
	if json.Unmarshal([]byte(text), &m) == nil && m != nil {
		return m, nil
	}
	return map[string]any{"text": text}, nil
}

func contentText(cs []mcp.Content) string {
	var parts []string
	for _, c := range cs {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// NewMCPServer exports every tool in reg over MCP. Calls go through
// SafeInvoke with the given permissions.
func NewMCPServer(reg *Registry, allowed map[string]bool) *mcp.Server {
	srv := mcp.NewServer(Implementation, nil)
	for _, d := range reg.Descriptors() {
		t, _ := reg.Resolve(d.Name)
		in := d.InputSchema
		if len(in) == 0 {
			in = []byte(`{"type":"object"}`)
		}
		srv.AddTool(&mcp.Tool{Name: d.Name, Description: d.Description, InputSchema: json.RawMessage(in)},
			func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				var args map[string]any
				if len(req.Params.Arguments) > 0 {
					if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
						return errorResult(fmt.Errorf("decode arguments: %w", err)), nil
					}
				}
				out, err := SafeInvoke(ctx, t, args, allowed, JSONSchemaValidator)
				if err != nil {
					return errorResult(err), nil
				}
				b, _ := json.Marshal(out)
				return &mcp.CallToolResult{
					Content:           []mcp.Content{&mcp.TextContent{Text: string(b)}},
					StructuredContent: out,
				}, nil
			})
	}
	return srv
}

func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{IsError: true, Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}}}
}
