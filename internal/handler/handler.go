package handler

import (
	"encoding/json"
	"net/http"

	"github.com/noxd/nox/internal/plugin"
)

// Response is the handler's answer to a request.
type Response struct {
	Status  int
	Headers map[string]string
	Body    []byte
}

// Result is the outcome of a handler invocation.
type Result struct {
	Response *Response
	NotFound bool // handler declined; fall through to 404
}

// Handler produces a response for a matched route.
type Handler interface {
	Name() string
	Handle(r *http.Request, ctx *plugin.Context) (Result, error)
}

// Respond wraps a Response in a Result.
func Respond(resp *Response) Result { return Result{Response: resp} }

// NotFound signals the handler declined the request.
func NotFound() Result { return Result{NotFound: true} }

// Func adapts a function to the Handler interface.
type Func struct {
	HandlerName string
	Fn          func(r *http.Request, ctx *plugin.Context) (Result, error)
}

func (f Func) Name() string { return f.HandlerName }

func (f Func) Handle(r *http.Request, ctx *plugin.Context) (Result, error) {
	return f.Fn(r, ctx)
}

// JSON responds with a fixed JSON-encodable value.
type JSON struct {
	Status int
	Value  any
}

func (JSON) Name() string { return "json" }

func (j JSON) Handle(r *http.Request, ctx *plugin.Context) (Result, error) {
	body, err := json.Marshal(j.Value)
	if err != nil {
		return Result{}, err
	}
	status := j.Status
	if status == 0 {
		status = http.StatusOK
	}
	return Respond(&Response{
		Status:  status,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    body,
	}), nil
}

// Text responds with a fixed plain-text body.
type Text struct {
	Status int
	Body   string
}

func (Text) Name() string { return "text" }

func (t Text) Handle(r *http.Request, ctx *plugin.Context) (Result, error) {
	status := t.Status
	if status == 0 {
		status = http.StatusOK
	}
	return Respond(&Response{
		Status:  status,
		Headers: map[string]string{"Content-Type": "text/plain; charset=utf-8"},
		Body:    []byte(t.Body),
	}), nil
}

// HTML responds with a fixed HTML body.
type HTML struct {
	Status int
	Body   string
}

func (HTML) Name() string { return "html" }

func (h HTML) Handle(r *http.Request, ctx *plugin.Context) (Result, error) {
	status := h.Status
	if status == 0 {
		status = http.StatusOK
	}
	return Respond(&Response{
		Status:  status,
		Headers: map[string]string{"Content-Type": "text/html; charset=utf-8"},
		Body:    []byte(h.Body),
	}), nil
}

// Redirect responds with a Location header.
type Redirect struct {
	Location  string
	Permanent bool
}

func (Redirect) Name() string { return "redirect" }

func (rd Redirect) Handle(r *http.Request, ctx *plugin.Context) (Result, error) {
	status := http.StatusFound
	if rd.Permanent {
		status = http.StatusMovedPermanently
	}
	return Respond(&Response{
		Status:  status,
		Headers: map[string]string{"Location": rd.Location},
	}), nil
}
