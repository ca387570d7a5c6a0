// Package handler provides the built-in node handler catalog.
//
// Handlers here cover the common structural needs of a workflow: passing
// data through, setting values, branching, merging, delaying, calling HTTP
// services, and injecting failures in tests. Applications register their own
// domain handlers alongside these.
package handler

import (
	"github.com/fluxline/fluxline/flow"
)

// Built-in node type names.
const (
	TypeTrigger     = "trigger"
	TypePassthrough = "passthrough"
	TypeSet         = "set"
	TypeCondition   = "condition"
	TypeMerge       = "merge"
	TypeDelay       = "delay"
	TypeHTTPRequest = "httpRequest"
	TypeFail        = "fail"
)

// RegisterBuiltins registers the full built-in catalog on a registry. The
// http handler is registered without a credential provider; use
// RegisterHTTP to attach one.
func RegisterBuiltins(r *flow.Registry) {
	r.Register(TypeTrigger, Trigger())
	r.Register(TypePassthrough, Passthrough())
	r.Register(TypeSet, Set())
	r.Register(TypeCondition, Condition())
	r.Register(TypeMerge, Merge())
	r.Register(TypeDelay, Delay())
	r.Register(TypeFail, Fail())
	RegisterHTTP(r, nil)
}

// RegisterHTTP registers the http request handler with an optional
// credential provider for auth header resolution.
func RegisterHTTP(r *flow.Registry, creds CredentialProvider) {
	r.Register(TypeHTTPRequest, NewHTTPRequest(creds))
}
