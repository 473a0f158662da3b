package control

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/lanlink/pkg/log"
	"github.com/cuemby/lanlink/pkg/metrics"
	"github.com/cuemby/lanlink/pkg/types"
	"github.com/rs/zerolog"
)

const (
	// DefaultAddress is where the edge management port listens
	DefaultAddress = "127.0.0.1"

	// DefaultTimeout bounds every request/response exchange
	DefaultTimeout = 3 * time.Second

	// tagModulo is where the request tag counter wraps
	tagModulo = 1000

	maxDatagram = 64 * 1024
)

// MsgType selects between read and write requests
type MsgType string

const (
	Read  MsgType = "r"
	Write MsgType = "w"
)

// Response types sent by the management port
const (
	typeError        = "error"
	typeEnd          = "end"
	typeRow          = "row"
	typeEvent        = "event"
	typeBegin        = "begin"
	typeSubscribed   = "subscribed"
	typeUnsubscribed = "unsubscribed"
)

// Row is the payload of one row or event response, without the _tag and
// _type keys
type Row map[string]any

// String returns the value at key when it is a non-empty string
func (r Row) String(key string) (string, bool) {
	v, ok := r[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// response is one decoded datagram
type response struct {
	Tag     string
	Type    string
	Payload Row
}

// Option configures a Client
type Option func(*Client)

// WithKey sets the shared secret sent with every request
func WithKey(key string) Option {
	return func(c *Client) {
		c.key = key
	}
}

// WithTimeout overrides the per-call receive timeout
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithAddress overrides the management host (loopback by default)
func WithAddress(host string) Option {
	return func(c *Client) {
		c.host = host
	}
}

// Client speaks the edge management protocol. Calls are serialized: tag
// matching assumes a single outstanding request.
type Client struct {
	host    string
	port    int
	key     string
	timeout time.Duration
	logger  zerolog.Logger

	mu     sync.Mutex
	remote *net.UDPAddr
	conn   *net.UDPConn
	tag    int
}

// New binds an ephemeral UDP socket for talking to the management port
func New(port int, opts ...Option) (*Client, error) {
	c := &Client{
		host:    DefaultAddress,
		port:    port,
		timeout: DefaultTimeout,
		logger:  log.WithComponent("control"),
	}
	for _, opt := range opts {
		opt(c)
	}

	remote, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(c.host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve management address: %w", err)
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero})
	if err != nil {
		return nil, fmt.Errorf("failed to bind control socket: %w", err)
	}

	c.remote = remote
	c.conn = conn
	return c, nil
}

// Port returns the management port this client talks to
func (c *Client) Port() int {
	return c.port
}

// Close releases the UDP socket
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) nextTag() string {
	tag := strconv.Itoa(c.tag)
	c.tag = (c.tag + 1) % tagModulo
	return tag
}

// request builds "<msgtype> <tag>[:1:<key>] <cmdline>"
func (c *Client) request(msgType MsgType, cmdline string) (string, string) {
	tag := c.nextTag()
	options := []string{tag}
	if c.key != "" {
		options = append(options, "1", c.key)
	}
	return tag, fmt.Sprintf("%s %s %s", msgType, strings.Join(options, ":"), cmdline)
}

// Call sends one request and collects row and event payloads until the
// terminal response for its tag arrives
func (c *Client) Call(ctx context.Context, msgType MsgType, cmdline string) ([]Row, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	command := strings.Fields(cmdline)
	label := cmdline
	if len(command) > 0 {
		label = command[0]
	}

	timer := metrics.NewTimer()
	rows, err := c.call(ctx, msgType, cmdline)
	timer.ObserveDurationVec(metrics.ControlRequestDuration, label)
	metrics.ControlRequestsTotal.WithLabelValues(label, resultLabel(err)).Inc()

	return rows, err
}

func (c *Client) call(ctx context.Context, msgType MsgType, cmdline string) ([]Row, error) {
	if c.conn == nil {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tag, line := c.request(msgType, cmdline)

	deadline := time.Now().Add(c.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	c.logger.Debug().Str("request", redact(line, c.key)).Msg("Sending management request")

	if _, err := c.conn.WriteToUDP([]byte(line), c.remote); err != nil {
		return nil, fmt.Errorf("%w: send: %v", ErrTransport, err)
	}

	return c.receive(tag)
}

func (c *Client) receive(tag string) ([]Row, error) {
	buf := make([]byte, maxDatagram)
	rows := []Row{}

	for {
		n, _, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil, ErrTimeout
			}
			return nil, fmt.Errorf("%w: receive: %v", ErrTransport, err)
		}

		resp, err := decode(buf[:n])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}

		if resp.Tag != tag {
			metrics.StaleDatagramsTotal.Inc()
			c.logger.Debug().
				Str("want", tag).
				Str("got", resp.Tag).
				Msg("Discarding response with stale tag")
			continue
		}

		switch resp.Type {
		case typeError:
			msg, ok := resp.Payload.String("error")
			if !ok {
				msg = "unspecified management error"
			}
			return nil, &RemoteError{Message: msg}
		case typeEnd:
			return rows, nil
		case typeRow, typeEvent:
			rows = append(rows, resp.Payload)
		case typeBegin, typeSubscribed, typeUnsubscribed:
			c.logger.Debug().Str("type", resp.Type).Msg("Management acknowledgement")
		default:
			return nil, &ProtocolError{Type: resp.Type}
		}
	}
}

func decode(data []byte) (*response, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errors.New("response is not an object")
	}

	tag, err := field(obj, "_tag")
	if err != nil {
		return nil, err
	}
	typ, err := field(obj, "_type")
	if err != nil {
		return nil, err
	}

	delete(obj, "_tag")
	delete(obj, "_type")
	return &response{Tag: tag, Type: typ, Payload: Row(obj)}, nil
}

func field(obj map[string]any, key string) (string, error) {
	switch v := obj[key].(type) {
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case nil:
		return "", fmt.Errorf("missing %s", key)
	default:
		return "", fmt.Errorf("%s has unexpected type %T", key, v)
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	default:
		return "error"
	}
}

func redact(line, key string) string {
	if key == "" {
		return line
	}
	return strings.Replace(line, ":1:"+key, ":1:***", 1)
}

// VirtualAddress returns the overlay IPv4 address of the edge. An edge that
// has not joined a network yet reports no address; that yields "0.0.0.0".
func (c *Client) VirtualAddress(ctx context.Context) (string, error) {
	rows, err := c.Call(ctx, Read, "info")
	if err != nil {
		return "", err
	}
	for _, row := range rows {
		if addr, ok := row.String("ip4addr"); ok {
			return addr, nil
		}
	}
	c.logger.Warn().Msg("Edge reported no virtual address")
	return types.UnsetAddress, nil
}

// Shutdown asks the edge to stop itself
func (c *Client) Shutdown(ctx context.Context) error {
	_, err := c.Call(ctx, Write, "stop")
	return err
}

// Test reports whether the management port answered at all
func (c *Client) Test(ctx context.Context) bool {
	_, err := c.Call(ctx, Read, "help")
	if err != nil {
		c.logger.Debug().Err(err).Msg("Management port test failed")
		return false
	}
	return true
}

// Edges lists the peers the edge currently knows about
func (c *Client) Edges(ctx context.Context) ([]types.Member, error) {
	rows, err := c.Call(ctx, Read, "edges")
	if err != nil {
		return nil, err
	}

	members := make([]types.Member, 0, len(rows))
	for _, row := range rows {
		members = append(members, types.Member{
			Address: stringOr(row, "ip4addr", types.UnknownAddress),
			Name:    stringOr(row, "desc", types.UnknownName),
			Mode:    stringOr(row, "mode", types.UnknownMode),
		})
	}
	return members, nil
}

// CurrentGroup returns the community the edge has joined, or "None"
func (c *Client) CurrentGroup(ctx context.Context) (string, error) {
	rows, err := c.Call(ctx, Read, "communities")
	if err != nil {
		return "", err
	}
	for _, row := range rows {
		if community, ok := row.String("community"); ok {
			return community, nil
		}
	}
	c.logger.Warn().Msg("Edge reported no community")
	return "None", nil
}

func stringOr(row Row, key, fallback string) string {
	if s, ok := row.String(key); ok {
		return s
	}
	return fallback
}
