// Package policy gates plans with OPA rego rules.
//
// Modules live below the provisio package. A module may define a deny set,
// which blocks the plan, and a warn set, which is only logged. Elements are
// either strings or objects with "msg" and an optional "resource":
//
//	package provisio.site
//
//	deny contains {"msg": "no grafana here", "resource": op.id} if {
//		some op in input.operations
//		op.id == "service.grafana"
//	}
//
// The input document has the fields project, root, exposed_ports and
// operations. Each operation carries id, kind, name, action, signal and the
// resource attributes.
package policy
