/*
Package control implements the client side of the edge management protocol.

The edge worker exposes a plaintext UDP management port on loopback. Every
request is a single datagram and every response is one or more JSON
datagrams correlated to the request by a small integer tag.

# Wire Format

Request (one datagram):

	<msgtype> <tag>[:1:<key>] <cmdline>

	r 17 info
	r 18:1:s3cret edges
	w 19 stop

msgtype is "r" for reads and "w" for writes. The tag counts up from 0 and
wraps at 1000. When a key is configured it is appended to the options list.

Responses (one JSON object per datagram):

	{"_tag":"17","_type":"begin","cmd":"info"}
	{"_tag":"17","_type":"row","ip4addr":"10.0.0.5","version":"3.1.1"}
	{"_tag":"17","_type":"end","cmd":"info"}

# Receive Loop

	          ┌─────────────── Call ───────────────┐
	          │ send request, deadline = now + 3s   │
	          └──────────────────┬──────────────────┘
	                             ▼
	              ┌──── ReadFromUDP ────┐◄──────────────┐
	              │ timeout → ErrTimeout│               │
	              └──────────┬──────────┘               │
	                         ▼                          │
	             tag matches request? ── no ──(discard)─┤
	                         │ yes                      │
	     ┌──────────┬────────┴──────┬───────────────┐   │
	     ▼          ▼               ▼               ▼   │
	   error       end         row / event    begin / (un)subscribed
	RemoteError  return rows   append ────────────┴─────┘
	                                        other → ProtocolError

Datagrams with a foreign tag are stale replies to earlier requests and are
dropped without extending the deadline. A timeout discards whatever rows were
collected. Calls on one Client are serialized by a mutex so there is never
more than one tag in flight.

# Usage

	c, err := control.New(5644, control.WithKey(cfg.Edge.AuthKey))
	if err != nil {
		return err
	}
	defer c.Close()

	addr, err := c.VirtualAddress(ctx) // "0.0.0.0" until the edge joins
	edges, err := c.Edges(ctx)
	_ = c.Shutdown(ctx) // "w stop", best effort
*/
package control
