// Package builtin provides tools that ship with the server.
package builtin

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/wilhg/agentsim/pkg/errmodel"
	"github.com/wilhg/agentsim/pkg/tools"
)

// maxBody caps how much of a response is handed to the model.
const maxBody = 64 << 10

// HTTPGet fetches a URL. It needs the network:outbound permission.
type HTTPGet struct {
	Client *http.Client
}

func (HTTPGet) Describe() tools.Descriptor {
	maxMS := 60000.0
	minMS := 1.0
	in := &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"url":        {Type: "string", Format: "uri"},
			"timeout_ms": {Type: "integer", Minimum: &minMS, Maximum: &maxMS},
		},
		Required:             []string{"url"},
		AdditionalProperties: &jsonschema.Schema{Not: &jsonschema.Schema{}},
	}
	out := tools.Object(map[string]*jsonschema.Schema{
		"status": {Type: "integer"},
		"body":   {Type: "string"},
	}, "status", "body")
	return tools.Descriptor{
		Name:         "http.get",
		Description:  "Performs an HTTP GET request and returns status and body",
		InputSchema:  tools.SchemaBytes(in),
		OutputSchema: tools.SchemaBytes(out),
		Permissions:  []tools.Permission{{Name: "network:outbound"}},
	}
}

func (h HTTPGet) Invoke(ctx context.Context, args map[string]any) (map[string]any, error) {
	url, _ := args["url"].(string)
	to := 10000
	if v, ok := args["timeout_ms"].(float64); ok && v > 0 {
		to = int(v)
	}
	client := h.Client
	if client == nil {
		client = &http.Client{}
	}
	ctx, cancel := context.WithTimeout(ctx, time.Duration(to)*time.Millisecond)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errmodel.Validation("bad_url", "invalid url", map[string]any{"url": url})
	}
	res, err := client.Do(req)
	if err != nil {
		return nil, errmodel.New(errmodel.CategoryNetwork, "http_failed", "http get failed", map[string]any{"url": url}, err)
	}
	defer func() { _ = res.Body.Close() }()
	b, _ := io.ReadAll(io.LimitReader(res.Body, maxBody))
	return map[string]any{"status": res.StatusCode, "body": string(b)}, nil
}
