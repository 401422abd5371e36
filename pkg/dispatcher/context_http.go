package dispatcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/xeipuuv/gojsonschema"

	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/di"
	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/edgeerr"
)

// HTTPRequest is the request view HTTP-derived contexts expose
type HTTPRequest struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// JSON decodes the request body into target. An empty body decodes as an
// empty JSON object so handlers with optional bodies need no special case.
func (r *HTTPRequest) JSON(target interface{}) error {
	body := r.Body
	if len(body) == 0 {
		body = []byte("{}")
	}
	if err := json.Unmarshal(body, target); err != nil {
		return &edgeerr.SchemaValidationError{Problems: []string{err.Error()}}
	}
	return nil
}

// RESTfulResponse accumulates the JSON response a RESTful handler produces
type RESTfulResponse struct {
	Status  int
	Header  http.Header
	Body    interface{}
	bodySet bool
}

// SetBody sets the response body explicitly, overriding the handler's
// return value translation
func (r *RESTfulResponse) SetBody(v interface{}) {
	r.Body = v
	r.bodySet = true
}

// BodySet reports whether the body has been set explicitly
func (r *RESTfulResponse) BodySet() bool { return r.bodySet }

// WebResponse accumulates the HTML response a Web handler produces
type WebResponse struct {
	Status  int
	Header  http.Header
	Body    string
	bodySet bool
}

// SetBody sets the response body explicitly
func (r *WebResponse) SetBody(body string) {
	r.Body = body
	r.bodySet = true
}

// BodySet reports whether the body has been set explicitly
func (r *WebResponse) BodySet() bool { return r.bodySet }

// RESTfulContext is the envelope for JSON API requests
type RESTfulContext struct {
	BaseContext
	Request  *HTTPRequest
	Response *RESTfulResponse
}

// NewRESTfulContext builds a RESTful context for one request
func NewRESTfulContext(sessionID string, req *HTTPRequest, services *di.Provider, cancelCtx context.Context) *RESTfulContext {
	return &RESTfulContext{
		BaseContext: NewBaseContext(ContextRESTful, sessionID, req.Path, services, cancelCtx),
		Request:     req,
		Response:    &RESTfulResponse{Status: http.StatusOK, Header: make(http.Header)},
	}
}

// Value looks up URL segments first, then query parameters
func (c *RESTfulContext) Value(name string) (string, bool) {
	if v, ok := c.BaseContext.Value(name); ok {
		return v, true
	}
	if c.Request.Query.Has(name) {
		return c.Request.Query.Get(name), true
	}
	return "", false
}

// CheckSchema validates the request body against a JSON schema document.
// A failure is a SchemaValidationError listing every violation.
func (c *RESTfulContext) CheckSchema(schema string) error {
	body := c.Request.Body
	if len(body) == 0 {
		body = []byte("{}")
	}
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewBytesLoader(body),
	)
	if err != nil {
		return &edgeerr.SchemaValidationError{Problems: []string{err.Error()}}
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return &edgeerr.SchemaValidationError{Problems: problems}
	}
	return nil
}

// WebContext is the envelope for HTML page requests
type WebContext struct {
	BaseContext
	Request  *HTTPRequest
	Response *WebResponse
}

// NewWebContext builds a Web context for one request
func NewWebContext(sessionID string, req *HTTPRequest, services *di.Provider, cancelCtx context.Context) *WebContext {
	return &WebContext{
		BaseContext: NewBaseContext(ContextWeb, sessionID, req.Path, services, cancelCtx),
		Request:     req,
		Response:    &WebResponse{Status: http.StatusOK, Header: make(http.Header)},
	}
}

// Value looks up URL segments first, then query parameters
func (c *WebContext) Value(name string) (string, bool) {
	if v, ok := c.BaseContext.Value(name); ok {
		return v, true
	}
	if c.Request.Query.Has(name) {
		return c.Request.Query.Get(name), true
	}
	return "", false
}
