package nat

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	serverA = &net.UDPAddr{IP: net.IPv4(1, 1, 1, 1).To4(), Port: 3478}
	serverB = &net.UDPAddr{IP: net.IPv4(2, 2, 2, 2).To4(), Port: 3478}
	localIP = net.IPv4(192, 168, 1, 10).To4()
)

type probeCall struct {
	socket *net.UDPConn
	server *net.UDPAddr
}

// scriptedProber answers probes from a function of the call index
type scriptedProber struct {
	mu     sync.Mutex
	calls  []probeCall
	answer func(n int, server *net.UDPAddr) (*net.UDPAddr, error)
}

func (p *scriptedProber) Probe(ctx context.Context, conn *net.UDPConn, server *net.UDPAddr) (*net.UDPAddr, error) {
	p.mu.Lock()
	n := len(p.calls)
	p.calls = append(p.calls, probeCall{socket: conn, server: server})
	p.mu.Unlock()
	return p.answer(n, server)
}

func (p *scriptedProber) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func addr(s string) *net.UDPAddr {
	a, err := net.ResolveUDPAddr("udp4", s)
	if err != nil {
		panic(err)
	}
	return a
}

// sequence answers the i-th call with answers[i]; a nil entry is a miss
func sequence(answers ...*net.UDPAddr) func(int, *net.UDPAddr) (*net.UDPAddr, error) {
	return func(n int, _ *net.UDPAddr) (*net.UDPAddr, error) {
		if n < len(answers) && answers[n] != nil {
			return answers[n], nil
		}
		return nil, errors.New("i/o timeout")
	}
}

func fakeResolver(_ context.Context, server string) (*net.UDPAddr, error) {
	switch server {
	case "a.example:3478":
		return serverA, nil
	case "b.example:3478":
		return serverB, nil
	default:
		return nil, fmt.Errorf("no such host %s", server)
	}
}

func newTestClassifier(prober Prober, opts ...Option) *Classifier {
	base := []Option{
		WithProber(prober),
		WithResolver(fakeResolver),
		WithLocalIP(func(*net.UDPAddr) (net.IP, error) { return localIP, nil }),
	}
	return NewClassifier("a.example:3478", "b.example:3478", append(base, opts...)...)
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name     string
		answers  []*net.UDPAddr
		expected Type
		probes   int
	}{
		{
			name:     "open internet stops after probe 1",
			answers:  []*net.UDPAddr{addr("192.168.1.10:40000")},
			expected: OpenInternet,
			probes:   1,
		},
		{
			name:     "different IPs is symmetric without probe 3",
			answers:  []*net.UDPAddr{addr("1.2.3.4:5000"), addr("5.6.7.8:5000")},
			expected: Symmetric,
			probes:   2,
		},
		{
			name:     "same address from a new socket is full cone",
			answers:  []*net.UDPAddr{addr("1.2.3.4:5000"), addr("1.2.3.4:5001"), addr("1.2.3.4:5000")},
			expected: FullCone,
			probes:   3,
		},
		{
			name:     "new port from a new socket is port restricted",
			answers:  []*net.UDPAddr{addr("1.2.3.4:5000"), addr("1.2.3.4:5000"), addr("1.2.3.4:6000")},
			expected: PortRestrictedCone,
			probes:   3,
		},
		{
			name:     "same port on another IP is restricted cone",
			answers:  []*net.UDPAddr{addr("1.2.3.4:5000"), addr("1.2.3.4:5000"), addr("9.9.9.9:5000")},
			expected: RestrictedCone,
			probes:   3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prober := &scriptedProber{answer: sequence(tt.answers...)}
			c := newTestClassifier(prober)

			result, err := c.Detect(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result.Type)
			assert.Equal(t, tt.probes, prober.count())
		})
	}
}

func TestDetectProbeTargets(t *testing.T) {
	prober := &scriptedProber{answer: sequence(addr("1.2.3.4:5000"), addr("1.2.3.4:5000"), addr("1.2.3.4:6000"))}
	c := newTestClassifier(prober)

	result, err := c.Detect(context.Background())
	require.NoError(t, err)

	require.Len(t, prober.calls, 3)
	assert.Equal(t, serverA, prober.calls[0].server)
	assert.Equal(t, serverB, prober.calls[1].server)
	assert.Equal(t, serverA, prober.calls[2].server)

	// probes 1 and 2 share a socket, probe 3 uses a fresh one
	assert.Same(t, prober.calls[0].socket, prober.calls[1].socket)
	assert.NotSame(t, prober.calls[0].socket, prober.calls[2].socket)

	assert.Equal(t, "1.2.3.4:5000", result.Primary.String())
	assert.Equal(t, "1.2.3.4:5000", result.Secondary.String())
	assert.Equal(t, "1.2.3.4:6000", result.Rebound.String())
}

func TestDetectFailures(t *testing.T) {
	mapped := addr("1.2.3.4:5000")

	tests := []struct {
		name     string
		answers  []*net.UDPAddr
		expected error
		probes   int
	}{
		{
			name:     "no answer to probe 1",
			answers:  nil,
			expected: ErrUDPBlocked,
			probes:   3,
		},
		{
			name:     "no answer to probe 2",
			answers:  []*net.UDPAddr{mapped},
			expected: ErrSymmetricFirewall,
			probes:   4,
		},
		{
			name:     "no answer to probe 3",
			answers:  []*net.UDPAddr{mapped, mapped},
			expected: ErrUnknown,
			probes:   5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prober := &scriptedProber{answer: sequence(tt.answers...)}
			c := newTestClassifier(prober)

			result, err := c.Detect(context.Background())
			assert.Nil(t, result)
			assert.True(t, errors.Is(err, tt.expected), "got %v", err)
			assert.Equal(t, tt.probes, prober.count())
		})
	}
}

func TestDetectRetriesUntilAnswer(t *testing.T) {
	prober := &scriptedProber{answer: sequence(nil, nil, addr("192.168.1.10:40000"))}
	c := newTestClassifier(prober)

	result, err := c.Detect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OpenInternet, result.Type)
	assert.Equal(t, 3, prober.count())
}

func TestDetectResolution(t *testing.T) {
	t.Run("primary", func(t *testing.T) {
		prober := &scriptedProber{answer: sequence()}
		c := NewClassifier("missing.example:3478", "b.example:3478",
			WithProber(prober), WithResolver(fakeResolver))

		_, err := c.Detect(context.Background())
		assert.True(t, errors.Is(err, ErrServerResolution))
		assert.Equal(t, 0, prober.count())
	})

	t.Run("secondary after probe 1", func(t *testing.T) {
		prober := &scriptedProber{answer: sequence(addr("1.2.3.4:5000"))}
		c := NewClassifier("a.example:3478", "missing.example:3478",
			WithProber(prober),
			WithResolver(fakeResolver),
			WithLocalIP(func(*net.UDPAddr) (net.IP, error) { return localIP, nil }))

		_, err := c.Detect(context.Background())
		assert.True(t, errors.Is(err, ErrServerResolution))
		assert.Equal(t, 1, prober.count())
	})
}

func TestDetectBindFailure(t *testing.T) {
	prober := &scriptedProber{answer: sequence()}
	c := newTestClassifier(prober, WithListener(func() (*net.UDPConn, error) {
		return nil, errors.New("address in use")
	}))

	_, err := c.Detect(context.Background())
	assert.True(t, errors.Is(err, ErrLocalBind))
}

func TestDetectContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	prober := &scriptedProber{answer: func(int, *net.UDPAddr) (*net.UDPAddr, error) {
		cancel()
		return nil, context.Canceled
	}}
	c := newTestClassifier(prober)

	_, err := c.Detect(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, prober.count())
}

func TestTypeString(t *testing.T) {
	assert.Equal(t, "OpenInternet", OpenInternet.String())
	assert.Equal(t, "PortRestrictedCone", PortRestrictedCone.String())
	assert.Equal(t, "Unknown", Type(0).String())

	text, err := Symmetric.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "Symmetric", string(text))
}
