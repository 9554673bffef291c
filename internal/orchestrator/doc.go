// Package orchestrator ties routing, execution and the edit ledger into
// user-facing flows.
//
// # Overview
//
// A Session is bound to one project root. It owns the usage accumulator,
// the continuation store and the ledger for that root, and exposes three
// flows:
//
//	Smart:  route the request, then run the chosen specialists with fresh sessions
//	Direct: run a named specialist, resuming its own continuation
//	Chat:   run the default specialist on the shared main continuation
//
// Each flow returns an engine.Run whose Updates channel carries live text and
// edit events. Close finalizes the ledger with the session's usage totals.
//
// # Example
//
//	sess, err := orchestrator.NewSession(ctx, deps, orchestrator.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	defer sess.Close(ctx)
//
//	_, run, err := sess.Smart(ctx, "fix the bug in @src/app.py")
//	for u := range run.Updates() {
//		// render u
//	}
//	result := run.Wait()
package orchestrator
