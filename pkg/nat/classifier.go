package nat

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/cuemby/lanlink/pkg/log"
	"github.com/cuemby/lanlink/pkg/metrics"
	"github.com/rs/zerolog"
)

const (
	// DefaultTimeout bounds each probe attempt
	DefaultTimeout = 2 * time.Second

	// DefaultRetries is the number of attempts per probe
	DefaultRetries = 3
)

var (
	ErrServerResolution  = errors.New("nat: failed to resolve STUN server address")
	ErrLocalBind         = errors.New("nat: failed to bind to local address")
	ErrUDPBlocked        = errors.New("nat: UDP socket is blocked")
	ErrSymmetricFirewall = errors.New("nat: symmetric UDP firewall detected")
	ErrUnknown           = errors.New("nat: unknown error occurred")
)

// Type is the translation behaviour observed for this host
type Type int

const (
	OpenInternet Type = iota + 1
	FullCone
	RestrictedCone
	PortRestrictedCone
	Symmetric
)

func (t Type) String() string {
	switch t {
	case OpenInternet:
		return "OpenInternet"
	case FullCone:
		return "FullCone"
	case RestrictedCone:
		return "RestrictedCone"
	case PortRestrictedCone:
		return "PortRestrictedCone"
	case Symmetric:
		return "Symmetric"
	default:
		return "Unknown"
	}
}

// MarshalText encodes the type by name
func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Prober performs one binding request from conn to server and returns the
// mapped address the server observed
type Prober interface {
	Probe(ctx context.Context, conn *net.UDPConn, server *net.UDPAddr) (*net.UDPAddr, error)
}

// ProberFunc adapts a function to the Prober interface
type ProberFunc func(ctx context.Context, conn *net.UDPConn, server *net.UDPAddr) (*net.UDPAddr, error)

func (f ProberFunc) Probe(ctx context.Context, conn *net.UDPConn, server *net.UDPAddr) (*net.UDPAddr, error) {
	return f(ctx, conn, server)
}

// Result is a completed classification with the mapped addresses it was
// derived from. Probes that were not needed are nil.
type Result struct {
	Type      Type
	Primary   *net.UDPAddr
	Secondary *net.UDPAddr
	Rebound   *net.UDPAddr
}

// Option configures a Classifier
type Option func(*Classifier)

// WithProber replaces the STUN prober
func WithProber(p Prober) Option {
	return func(c *Classifier) {
		c.prober = p
	}
}

// WithResolver replaces server name resolution
func WithResolver(fn func(ctx context.Context, server string) (*net.UDPAddr, error)) Option {
	return func(c *Classifier) {
		c.resolve = fn
	}
}

// WithListener replaces the socket factory used for probe sockets
func WithListener(fn func() (*net.UDPConn, error)) Option {
	return func(c *Classifier) {
		c.listen = fn
	}
}

// WithLocalIP replaces the lookup of the host address used towards a server
func WithLocalIP(fn func(server *net.UDPAddr) (net.IP, error)) Option {
	return func(c *Classifier) {
		c.localIP = fn
	}
}

// WithTimeout sets the per-attempt timeout
func WithTimeout(timeout time.Duration) Option {
	return func(c *Classifier) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithRetries sets the number of attempts per probe
func WithRetries(retries int) Option {
	return func(c *Classifier) {
		if retries > 0 {
			c.retries = retries
		}
	}
}

// Classifier determines the NAT type using two STUN servers
type Classifier struct {
	primary   string
	secondary string
	timeout   time.Duration
	retries   int

	prober  Prober
	resolve func(ctx context.Context, server string) (*net.UDPAddr, error)
	listen  func() (*net.UDPConn, error)
	localIP func(server *net.UDPAddr) (net.IP, error)
	logger  zerolog.Logger
}

// NewClassifier creates a classifier for the given host:port STUN servers
func NewClassifier(primary, secondary string, opts ...Option) *Classifier {
	c := &Classifier{
		primary:   primary,
		secondary: secondary,
		timeout:   DefaultTimeout,
		retries:   DefaultRetries,
		prober:    &STUNProber{},
		resolve:   resolveIPv4,
		listen:    listenWildcard,
		localIP:   routeLocalIP,
		logger:    log.WithComponent("nat"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Detect runs the classification. Every failure is one of the package's
// sentinel errors, or the context error when ctx ends first.
func (c *Classifier) Detect(ctx context.Context) (*Result, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.NATDetectionDuration)

	result, err := c.detect(ctx)
	if err != nil {
		metrics.NATDetectionsTotal.WithLabelValues("error").Inc()
		c.logger.Warn().Err(err).Msg("NAT detection failed")
		return nil, err
	}

	metrics.NATDetectionsTotal.WithLabelValues(result.Type.String()).Inc()
	c.logger.Info().
		Str("type", result.Type.String()).
		Str("mapped", result.Primary.String()).
		Msg("NAT type detected")
	return result, nil
}

func (c *Classifier) detect(ctx context.Context) (*Result, error) {
	serverA, err := c.resolve(ctx, c.primary)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrServerResolution, c.primary, err)
	}

	conn, err := c.listen()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLocalBind, err)
	}
	defer conn.Close()

	// Probe 1: primary server from the first socket
	mapped1, err := c.probe(ctx, conn, serverA)
	if err != nil {
		return nil, c.probeFailure(ctx, err, ErrUDPBlocked)
	}
	result := &Result{Primary: mapped1}

	if local, err := c.localIP(serverA); err != nil {
		c.logger.Debug().Err(err).Msg("Could not determine local address")
	} else if mapped1.IP.Equal(local) {
		result.Type = OpenInternet
		return result, nil
	}

	// Probe 2: secondary server from the same socket
	serverB, err := c.resolve(ctx, c.secondary)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrServerResolution, c.secondary, err)
	}
	mapped2, err := c.probe(ctx, conn, serverB)
	if err != nil {
		return nil, c.probeFailure(ctx, err, ErrSymmetricFirewall)
	}
	result.Secondary = mapped2

	if !mapped1.IP.Equal(mapped2.IP) {
		result.Type = Symmetric
		return result, nil
	}

	// Probe 3: primary server from a fresh socket
	rebound, err := c.listen()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLocalBind, err)
	}
	defer rebound.Close()

	mapped3, err := c.probe(ctx, rebound, serverA)
	if err != nil {
		return nil, c.probeFailure(ctx, err, ErrUnknown)
	}
	result.Rebound = mapped3

	switch {
	case mapped1.IP.Equal(mapped3.IP) && mapped1.Port == mapped3.Port:
		result.Type = FullCone
	case mapped1.Port == mapped3.Port:
		result.Type = RestrictedCone
	default:
		result.Type = PortRestrictedCone
	}
	return result, nil
}

// probe makes up to c.retries attempts, each bounded by c.timeout
func (c *Classifier) probe(ctx context.Context, conn *net.UDPConn, server *net.UDPAddr) (*net.UDPAddr, error) {
	var lastErr error
	for attempt := 1; attempt <= c.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		mapped, err := c.prober.Probe(attemptCtx, conn, server)
		cancel()
		if err == nil {
			return mapped, nil
		}

		lastErr = err
		c.logger.Debug().
			Err(err).
			Str("server", server.String()).
			Int("attempt", attempt).
			Msg("STUN probe failed")
	}
	return nil, lastErr
}

func (c *Classifier) probeFailure(ctx context.Context, err, sentinel error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("%w: %v", sentinel, err)
}

func resolveIPv4(ctx context.Context, server string) (*net.UDPAddr, error) {
	host, portStr, err := net.SplitHostPort(server)
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port %q", portStr)
	}

	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	for _, addr := range addrs {
		if ip4 := addr.IP.To4(); ip4 != nil {
			return &net.UDPAddr{IP: ip4, Port: port}, nil
		}
	}
	return nil, fmt.Errorf("no IPv4 address for %s", host)
}

func listenWildcard() (*net.UDPConn, error) {
	return net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero})
}

// routeLocalIP returns the source address the host would use towards server.
// A wildcard socket reports 0.0.0.0, so the route is asked instead. No
// packet is sent.
func routeLocalIP(server *net.UDPAddr) (net.IP, error) {
	conn, err := net.DialUDP("udp4", nil, server)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP, nil
}
