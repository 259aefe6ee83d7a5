package mcp

import (
	"html/template"
	"net/http"
)

var landingTemplate = template.Must(template.New("landing").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Document RAG MCP Server</title>
<style>
  body { font-family: system-ui, sans-serif; background: #f8fafc; color: #0f172a; max-width: 640px; margin: 3rem auto; padding: 0 1rem; line-height: 1.5; }
  h1 { font-size: 1.5rem; margin-bottom: 0.25rem; }
  .subtitle { color: #475569; margin-top: 0; }
  h2 { font-size: 0.8rem; text-transform: uppercase; letter-spacing: 0.08em; color: #64748b; margin-top: 2rem; }
  code { font-family: ui-monospace, Menlo, monospace; background: #e2e8f0; padding: 0.1rem 0.3rem; border-radius: 4px; }
  li { margin-bottom: 0.4rem; }
</style>
</head>
<body>
  <h1>Document RAG MCP Server</h1>
  <p class="subtitle">Ask questions about your uploaded PDF, DOCX, Markdown and text documents over the Model Context Protocol.</p>

  <h2>Endpoints</h2>
  <ul>
    <li><a href="{{.MCPPath}}"><code>{{.MCPPath}}</code></a> MCP Streamable HTTP</li>
    <li><a href="{{.HealthPath}}"><code>{{.HealthPath}}</code></a> index health check</li>
  </ul>

  <h2>Tools</h2>
  <ul>
  {{- range .Tools}}
    <li><code>{{.}}</code></li>
  {{- end}}
  </ul>
</body>
</html>`))

type landingPage struct {
	MCPPath    string
	HealthPath string
	Tools      []string
}

// ToolNames lists the tools registered by NewServer.
var ToolNames = []string{"search_documents", "ask_question", "ingest_files", "get_index_status"}

// NewLandingHandler returns an HTTP handler that serves the landing page at /.
func NewLandingHandler() http.HandlerFunc {
	page := landingPage{MCPPath: "/mcp", HealthPath: "/health", Tools: ToolNames}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		landingTemplate.Execute(w, page)
	}
}
