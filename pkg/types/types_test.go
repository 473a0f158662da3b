package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMemberEqual(t *testing.T) {
	base := Member{Address: "10.0.0.2", Name: "Bob", Mode: "p2p"}

	tests := []struct {
		name     string
		other    Member
		expected bool
	}{
		{"identical", Member{Address: "10.0.0.2", Name: "Bob", Mode: "p2p"}, true},
		{"different address", Member{Address: "10.0.0.3", Name: "Bob", Mode: "p2p"}, false},
		{"different name", Member{Address: "10.0.0.2", Name: "Alice", Mode: "p2p"}, false},
		{"different mode", Member{Address: "10.0.0.2", Name: "Bob", Mode: "pSp"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, base.Equal(tt.other))
			assert.Equal(t, tt.expected, tt.other.Equal(base))
		})
	}
}

func TestDedupMembers(t *testing.T) {
	members := []Member{
		{Address: "10.0.0.2", Name: "Bob", Mode: "p2p"},
		{Address: "10.0.0.3", Name: "Carol", Mode: "None"},
		{Address: "10.0.0.2", Name: "Bob", Mode: "p2p"},
		{Address: "10.0.0.2", Name: "Bob", Mode: "pSp"},
	}

	out := DedupMembers(members)
	assert.Len(t, out, 3)
	assert.Equal(t, members[0], out[0])
	assert.Equal(t, members[1], out[1])
	assert.Equal(t, members[3], out[2])
}

func TestWorkerNameValid(t *testing.T) {
	assert.True(t, WorkerEdge.Valid())
	assert.True(t, WorkerFileServer.Valid())
	assert.False(t, WorkerName("supernode").Valid())
	assert.False(t, WorkerName("").Valid())
}
