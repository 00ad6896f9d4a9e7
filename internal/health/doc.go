// Package health provides composable probes and the liveness/readiness
// handlers served on the admin listener.
//
// Probes combine with [All] (AND), [Any] (OR) and [Fixed] (static);
// [CheckFunc] adapts a plain function and [WithTimeout] bounds a slow one.
//
// [ShutdownGate] fails readiness as soon as draining starts, so load
// balancers stop routing to the edge before its listeners close.
package health
