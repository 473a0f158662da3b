/*
Package directory reads group membership from the member server and merges
it with what the local edge reports.

	Client.Members ──GET <base>/members/<group>──► []Record
	Reconcile(records, self, edges)              ──► []types.Member

The member server replies with:

	{"status": true, "members": [{"ip4addr": "10.0.0.2/24", "desc": "laptop"}]}

A member without desc is named "Default". Addresses lose their /prefix
before comparison.

Reconcile drops the local address and gives every member the mode "None"
unless an edge with the same address reports one. Identical members are
collapsed into the first occurrence.

Errors:

	ErrUnavailable  transport failure or non-2xx reply
	ErrRejected     status false
	ErrMalformed    the reply does not have the expected shape
*/
package directory
