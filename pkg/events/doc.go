/*
Package events is an in-process publish/subscribe broker for supervisor
lifecycle events.

	Supervisor ──Publish──► eventCh (100) ──run loop──► Subscriber (50 each)

Event types:

	worker.started     a worker process was launched
	worker.stopped     a worker was stopped on request
	worker.exited      a worker process ended without a stop request
	edge.unresponsive  the edge process is alive but its management port is not
	nat.detected       a NAT classification completed
	nat.failed         a NAT classification returned an error

Delivery is best effort. A subscriber whose buffer is full misses the event;
the publisher never blocks on a slow subscriber.
*/
package events
