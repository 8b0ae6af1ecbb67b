// Package stack is the desired-state model of a provisioned host: it turns
// a manifest into packages, the proxy certificate, rendered files, the
// application image and the compose services, wired together with require
// and notify edges.
package stack
