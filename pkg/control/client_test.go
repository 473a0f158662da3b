package control

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/cuemby/lanlink/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// request is a management request as seen by the fake edge
type request struct {
	MsgType string
	Tag     string
	Options []string
	Command string
	Raw     string
}

// fakeEdge answers management requests with scripted datagrams
type fakeEdge struct {
	conn     *net.UDPConn
	requests chan request
}

func newFakeEdge(t *testing.T, handle func(req request) [][]byte) *fakeEdge {
	t.Helper()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)

	fe := &fakeEdge{conn: conn, requests: make(chan request, 32)}
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 2048)
		for {
			n, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			req := parseRequest(string(buf[:n]))
			select {
			case fe.requests <- req:
			default:
			}
			for _, datagram := range handle(req) {
				_, _ = conn.WriteToUDP(datagram, from)
			}
		}
	}()

	return fe
}

func (fe *fakeEdge) port() int {
	return fe.conn.LocalAddr().(*net.UDPAddr).Port
}

func (fe *fakeEdge) next(t *testing.T) request {
	t.Helper()
	select {
	case req := <-fe.requests:
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("fake edge received no request")
		return request{}
	}
}

func parseRequest(line string) request {
	parts := strings.SplitN(line, " ", 3)
	req := request{Raw: line}
	if len(parts) > 0 {
		req.MsgType = parts[0]
	}
	if len(parts) > 1 {
		req.Options = strings.Split(parts[1], ":")
		req.Tag = req.Options[0]
	}
	if len(parts) > 2 {
		req.Command = parts[2]
	}
	return req
}

func msg(tag, typ string, payload map[string]any) []byte {
	obj := map[string]any{"_tag": tag, "_type": typ}
	for k, v := range payload {
		obj[k] = v
	}
	data, _ := json.Marshal(obj)
	return data
}

func newClient(t *testing.T, fe *fakeEdge, opts ...Option) *Client {
	t.Helper()
	c, err := New(fe.port(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestVirtualAddressRoundTrip(t *testing.T) {
	fe := newFakeEdge(t, func(req request) [][]byte {
		return [][]byte{
			msg(req.Tag, "begin", map[string]any{"cmd": req.Command}),
			msg(req.Tag, "row", map[string]any{"ip4addr": "10.0.0.5"}),
			msg(req.Tag, "end", nil),
		}
	})
	c := newClient(t, fe)

	addr, err := c.VirtualAddress(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", addr)

	req := fe.next(t)
	assert.Equal(t, "r", req.MsgType)
	assert.Equal(t, "0", req.Tag)
	assert.Equal(t, "info", req.Command)
}

func TestVirtualAddressDefaultsWhenMissing(t *testing.T) {
	fe := newFakeEdge(t, func(req request) [][]byte {
		return [][]byte{
			msg(req.Tag, "row", map[string]any{"version": "3.1"}),
			msg(req.Tag, "end", nil),
		}
	})
	c := newClient(t, fe)

	addr, err := c.VirtualAddress(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.UnsetAddress, addr)
}

func TestStaleTagIsIgnored(t *testing.T) {
	fe := newFakeEdge(t, func(req request) [][]byte {
		return [][]byte{
			msg("stale-"+req.Tag, "error", map[string]any{"error": "not for you"}),
			msg(req.Tag, "end", nil),
		}
	})
	c := newClient(t, fe)

	rows, err := c.Call(context.Background(), Read, "help")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRemoteErrorPropagates(t *testing.T) {
	fe := newFakeEdge(t, func(req request) [][]byte {
		return [][]byte{msg(req.Tag, "error", map[string]any{"error": "boom"})}
	})
	c := newClient(t, fe)

	_, err := c.Call(context.Background(), Read, "info")
	require.Error(t, err)
	assert.Equal(t, "boom", err.Error())

	var remote *RemoteError
	assert.True(t, errors.As(err, &remote))
}

func TestUnknownTypeIsProtocolError(t *testing.T) {
	fe := newFakeEdge(t, func(req request) [][]byte {
		return [][]byte{msg(req.Tag, "replay", nil)}
	})
	c := newClient(t, fe)

	_, err := c.Call(context.Background(), Read, "info")
	var protoErr *ProtocolError
	require.True(t, errors.As(err, &protoErr))
	assert.Equal(t, "replay", protoErr.Type)
}

func TestMalformedResponse(t *testing.T) {
	fe := newFakeEdge(t, func(req request) [][]byte {
		return [][]byte{[]byte("not json at all")}
	})
	c := newClient(t, fe)

	_, err := c.Call(context.Background(), Read, "info")
	assert.True(t, errors.Is(err, ErrMalformedResponse))
}

func TestTimeoutReturnsNoPartialResult(t *testing.T) {
	fe := newFakeEdge(t, func(req request) [][]byte {
		// rows but never an end
		return [][]byte{
			msg(req.Tag, "row", map[string]any{"ip4addr": "10.0.0.5"}),
		}
	})
	c := newClient(t, fe, WithTimeout(150*time.Millisecond))

	start := time.Now()
	rows, err := c.Call(context.Background(), Read, "info")
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.Nil(t, rows)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestContextDeadlineShortensTimeout(t *testing.T) {
	fe := newFakeEdge(t, func(req request) [][]byte { return nil })
	c := newClient(t, fe)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Call(ctx, Read, "help")
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.Less(t, time.Since(start), time.Second)
}

func TestRowsAndEventsAccumulate(t *testing.T) {
	fe := newFakeEdge(t, func(req request) [][]byte {
		return [][]byte{
			msg(req.Tag, "subscribed", nil),
			msg(req.Tag, "row", map[string]any{"n": 1}),
			msg(req.Tag, "event", map[string]any{"n": 2}),
			msg(req.Tag, "unsubscribed", nil),
			msg(req.Tag, "end", nil),
		}
	})
	c := newClient(t, fe)

	rows, err := c.Call(context.Background(), Read, "packetstats")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "1", rows[0]["n"].(json.Number).String())
	assert.Equal(t, "2", rows[1]["n"].(json.Number).String())
	assert.NotContains(t, rows[0], "_tag")
	assert.NotContains(t, rows[0], "_type")
}

func TestKeyIsSentInOptions(t *testing.T) {
	fe := newFakeEdge(t, func(req request) [][]byte {
		return [][]byte{msg(req.Tag, "end", nil)}
	})
	c := newClient(t, fe, WithKey("s3cret"))

	require.True(t, c.Test(context.Background()))

	req := fe.next(t)
	assert.Equal(t, "r 0:1:s3cret help", req.Raw)
	assert.Equal(t, []string{"0", "1", "s3cret"}, req.Options)
}

func TestTagsIncrementAndWrap(t *testing.T) {
	fe := newFakeEdge(t, func(req request) [][]byte {
		return [][]byte{msg(req.Tag, "end", nil)}
	})
	c := newClient(t, fe)
	c.tag = 998

	for _, want := range []string{"998", "999", "0", "1"} {
		_, err := c.Call(context.Background(), Read, "help")
		require.NoError(t, err)
		assert.Equal(t, want, fe.next(t).Tag)
	}
}

func TestShutdownIsWriteStop(t *testing.T) {
	fe := newFakeEdge(t, func(req request) [][]byte {
		return [][]byte{msg(req.Tag, "end", nil)}
	})
	c := newClient(t, fe)

	require.NoError(t, c.Shutdown(context.Background()))

	req := fe.next(t)
	assert.Equal(t, "w", req.MsgType)
	assert.Equal(t, "stop", req.Command)
}

func TestTestFailsWithoutResponder(t *testing.T) {
	fe := newFakeEdge(t, func(req request) [][]byte { return nil })
	c := newClient(t, fe, WithTimeout(100*time.Millisecond))

	assert.False(t, c.Test(context.Background()))
}

func TestEdgesDefaults(t *testing.T) {
	fe := newFakeEdge(t, func(req request) [][]byte {
		return [][]byte{
			msg(req.Tag, "begin", nil),
			msg(req.Tag, "row", map[string]any{"ip4addr": "10.0.0.2", "desc": "Bob", "mode": "p2p"}),
			msg(req.Tag, "row", map[string]any{"ip4addr": "", "desc": "Carol"}),
			msg(req.Tag, "row", map[string]any{"mode": ""}),
			msg(req.Tag, "end", nil),
		}
	})
	c := newClient(t, fe)

	edges, err := c.Edges(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []types.Member{
		{Address: "10.0.0.2", Name: "Bob", Mode: "p2p"},
		{Address: "None", Name: "Carol", Mode: "Unknown"},
		{Address: "None", Name: "None", Mode: "Unknown"},
	}, edges)
}

func TestCurrentGroup(t *testing.T) {
	tests := []struct {
		name     string
		rows     []map[string]any
		expected string
	}{
		{"joined", []map[string]any{{"community": "lers10"}}, "lers10"},
		{"first wins", []map[string]any{{"community": "a"}, {"community": "b"}}, "a"},
		{"no rows", nil, "None"},
		{"missing field", []map[string]any{{"other": "x"}}, "None"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fe := newFakeEdge(t, func(req request) [][]byte {
				out := [][]byte{}
				for _, row := range tt.rows {
					out = append(out, msg(req.Tag, "row", row))
				}
				return append(out, msg(req.Tag, "end", nil))
			})
			c := newClient(t, fe)

			group, err := c.CurrentGroup(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.expected, group)
		})
	}
}

func TestClosedClient(t *testing.T) {
	fe := newFakeEdge(t, func(req request) [][]byte { return nil })
	c := newClient(t, fe)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err := c.Call(context.Background(), Read, "help")
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestNumericTagAccepted(t *testing.T) {
	fe := newFakeEdge(t, func(req request) [][]byte {
		return [][]byte{[]byte(`{"_tag":` + req.Tag + `,"_type":"end"}`)}
	})
	c := newClient(t, fe)

	_, err := c.Call(context.Background(), Read, "help")
	assert.NoError(t, err)
}
