// Package openapi describes the server's HTTP API as an OpenAPI 3.0 document
// built from the routes registered on Echo.
package openapi

import (
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// Operation documents one method and path.
type Operation struct {
	Summary     string
	Tag         string
	Query       []Param
	RequestBody string // component schema name
	Response    string // component schema name
	Status      int
}

// Param is a query parameter.
type Param struct {
	Name        string
	Type        string
	Description string
}

// Generator builds the document. Routes without a registered Operation are
// listed with a generic response.
type Generator struct {
	title   string
	version string
	routes  func() []*echo.Route
	ops     map[string]Operation
	schemas map[string]reflect.Type
}

// NewGenerator creates a generator over the routes of e.
func NewGenerator(e *echo.Echo, title, version string) *Generator {
	return &Generator{
		title:   title,
		version: version,
		routes:  e.Routes,
		ops:     make(map[string]Operation),
		schemas: make(map[string]reflect.Type),
	}
}

// Describe documents the route method path. path uses Echo syntax (:id).
func (g *Generator) Describe(method, path string, op Operation) *Generator {
	g.ops[method+" "+path] = op
	return g
}

// Schema registers a component schema derived from the JSON shape of v.
func (g *Generator) Schema(name string, v any) *Generator {
	g.schemas[name] = reflect.TypeOf(v)
	return g
}

// GenerateSpec produces the OpenAPI document.
func (g *Generator) GenerateSpec() map[string]interface{} {
	paths := make(map[string]map[string]interface{})
	for _, r := range g.routes() {
		if r.Method == echo.RouteNotFound || strings.HasSuffix(r.Path, "/*") || r.Path == "" {
			continue
		}
		path := openAPIPath(r.Path)
		if paths[path] == nil {
			paths[path] = make(map[string]interface{})
		}
		paths[path][strings.ToLower(r.Method)] = g.operation(r.Method, r.Path)
	}

	schemas := make(map[string]interface{}, len(g.schemas))
	for name, t := range g.schemas {
		schemas[name] = schemaFor(t)
	}

	return map[string]interface{}{
		"openapi": "3.0.3",
		"info": map[string]interface{}{
			"title":   g.title,
			"version": g.version,
		},
		"paths": paths,
		"components": map[string]interface{}{
			"schemas": schemas,
		},
	}
}

func (g *Generator) operation(method, path string) map[string]interface{} {
	op, ok := g.ops[method+" "+path]
	if !ok {
		op = Operation{Summary: method + " " + path}
	}
	status := op.Status
	if status == 0 {
		status = http.StatusOK
	}

	var params []map[string]interface{}
	for _, seg := range strings.Split(path, "/") {
		if strings.HasPrefix(seg, ":") {
			params = append(params, map[string]interface{}{
				"name": seg[1:], "in": "path", "required": true,
				"schema": map[string]string{"type": "string"},
			})
		}
	}
	for _, q := range op.Query {
		params = append(params, map[string]interface{}{
			"name": q.Name, "in": "query", "description": q.Description,
			"schema": map[string]string{"type": q.Type},
		})
	}

	out := map[string]interface{}{
		"summary": op.Summary,
		"responses": map[string]interface{}{
			strconv.Itoa(status): response(http.StatusText(status), op.Response),
			"400":                response("Bad Request", ""),
		},
	}
	if op.Tag != "" {
		out["tags"] = []string{op.Tag}
	}
	if len(params) > 0 {
		out["parameters"] = params
	}
	if op.RequestBody != "" {
		out["requestBody"] = map[string]interface{}{
			"content": map[string]interface{}{
				"application/json": map[string]interface{}{"schema": ref(op.RequestBody)},
			},
		}
	}
	return out
}

func response(description, schema string) map[string]interface{} {
	r := map[string]interface{}{"description": description}
	if schema != "" {
		r["content"] = map[string]interface{}{
			"application/json": map[string]interface{}{"schema": ref(schema)},
		}
	}
	return r
}

func ref(name string) map[string]string {
	return map[string]string{"$ref": "#/components/schemas/" + name}
}

// openAPIPath converts /a/:id to /a/{id}.
func openAPIPath(path string) string {
	segs := strings.Split(path, "/")
	for i, s := range segs {
		if strings.HasPrefix(s, ":") {
			segs[i] = "{" + s[1:] + "}"
		}
	}
	return strings.Join(segs, "/")
}

// schemaFor maps a Go type to a JSON schema using its json tags.
func schemaFor(t reflect.Type) map[string]interface{} {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Bool:
		return map[string]interface{}{"type": "boolean"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return map[string]interface{}{"type": "integer"}
	case reflect.Float32, reflect.Float64:
		return map[string]interface{}{"type": "number"}
	case reflect.String:
		return map[string]interface{}{"type": "string"}
	case reflect.Slice, reflect.Array:
		return map[string]interface{}{"type": "array", "items": schemaFor(t.Elem())}
	case reflect.Map:
		return map[string]interface{}{"type": "object", "additionalProperties": schemaFor(t.Elem())}
	case reflect.Struct:
		props := make(map[string]interface{})
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				continue
			}
			if name == "" {
				name = f.Name
			}
			props[name] = schemaFor(f.Type)
		}
		return map[string]interface{}{"type": "object", "properties": props}
	}
	return map[string]interface{}{}
}

// RegisterRoutes registers the document and a Swagger UI page on g. The UI
// loads specURL.
func (g *Generator) RegisterRoutes(group *echo.Group, specURL string) {
	group.GET("/openapi.json", func(c echo.Context) error {
		return c.JSON(http.StatusOK, g.GenerateSpec())
	})
	group.GET("/docs", func(c echo.Context) error {
		return c.HTML(http.StatusOK, strings.Replace(swaggerUIHTML, "{{SPEC_URL}}", specURL, 1))
	})
}

const swaggerUIHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>Clinic Simulator API - Swagger UI</title>
  <link rel="stylesheet" type="text/css" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" >
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({
      url: "{{SPEC_URL}}",
      dom_id: '#swagger-ui',
      deepLinking: true,
      presets: [SwaggerUIBundle.presets.apis],
      layout: "BaseLayout"
    })
  </script>
</body>
</html>`
