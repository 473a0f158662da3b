/*
Package registry tracks the worker processes the supervisor owns, keyed by
worker name.

	Registry ──mu (table only)──► slot ──RWMutex──► Entry
	                                                 ├─ Generic (process)
	                                                 └─ Edge    (process + management client)

Entries are a closed set. Generic wraps a bare process; Edge also carries the
management client, reachable only through WithEdge while the slot is held
exclusively.

Errors:

	ErrNotFound           no entry under the name
	ErrAlreadyRegistered  a live entry already holds the name
	ErrWrongVariant       protocol access on a worker that is not an edge
	ErrLockPoisoned       a previous holder of the slot panicked

A panic inside an exclusive section poisons the slot. Later exclusive access
returns ErrLockPoisoned. Dropping a poisoned entry still releases its process
and reports the poisoning. The table mutex is never held across a protocol
call.
*/
package registry
