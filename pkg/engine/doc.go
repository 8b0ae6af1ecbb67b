// Package engine implements the provisio convergence engine.
//
// # Overview
//
// The engine drives a host toward a declared desired state in three steps:
//
//  1. Read - the StateReader probes every desired resource and returns an
//     immutable Snapshot. A probe that cannot run aborts with a probe error.
//  2. Plan - the DefaultPlanner compares desired and observed signals and
//     produces a Plan of create, update and restart operations ordered
//     topologically. A converged host yields an empty plan.
//  3. Apply - the ParallelExecutor runs the plan with a fixed worker pool,
//     retrying transient failures and skipping the dependents of failed
//     operations. Summarize turns the results into a Report.
//
// # Resources and dependencies
//
// A Resource is identified by "<kind>.<name>". Dependencies are either
// require edges (ordering, skip on failure) or notify edges, which also
// restart a converged service when its target changes:
//
//	service := engine.Resource{
//	    Kind: engine.KindService,
//	    Name: "proxy",
//	    Dependencies: []engine.Dependency{
//	        engine.Require("service.app"),
//	        engine.Notify("cert.proxy"),
//	    },
//	}
//
// Operations that have no ordering relation run in the stable order
// package, cert, file, image, service, then by identifier.
//
// # Errors
//
// Every error returned by the engine carries an ErrorClass: probe and
// validation errors abort before planning, transient errors are retried per
// the operation's RetryPolicy, deterministic errors fail immediately, and
// cancelled marks work that never started.
package engine
