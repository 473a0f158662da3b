/*
Package health checks worker liveness.

A Checker performs one check. Probe repeats it within a Config:

	attempt 1 ──fail──► wait Interval ──► attempt 2 ──fail──► ... ──► last Result
	    │ ok                                  │ ok
	    └──────────────► Result{Healthy} ◄────┘

Checkers:

  - ProcessChecker: the worker process is alive
  - ControlChecker: the edge management port answers "r help"
  - HTTPChecker: a HEAD request to the file server returns 2xx/3xx

EdgeConfig is the edge liveness policy, three attempts 600ms apart.
*/
package health
