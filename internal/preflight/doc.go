// Package preflight implements the doctor checks: local resources for the
// data directory and reachability of every configured backend.
//
//	checker := preflight.New(preflight.WithOutput(os.Stdout))
//	results := checker.RunAll(ctx, cfg.DataDir, probes...)
//	checker.PrintResults(results)
//	if checker.HasCriticalFailures(results) {
//	    os.Exit(1)
//	}
package preflight
