package nat

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/pion/stun"
)

var errNoMappedAddress = errors.New("no mapped address in response")

// STUNProber sends RFC 5389 binding requests
type STUNProber struct{}

// Probe sends one binding request and waits for the matching response until
// the context deadline. Datagrams for other transactions are skipped.
func (p *STUNProber) Probe(ctx context.Context, conn *net.UDPConn, server *net.UDPAddr) (*net.UDPAddr, error) {
	req, err := stun.Build(stun.TransactionID, stun.BindingRequest, stun.Fingerprint)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(DefaultTimeout)
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	defer conn.SetReadDeadline(time.Time{})

	if _, err := conn.WriteToUDP(req.Raw, server); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	buf := make([]byte, 1500)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		if !stun.IsMessage(buf[:n]) {
			continue
		}

		res := &stun.Message{Raw: append([]byte(nil), buf[:n]...)}
		if err := res.Decode(); err != nil {
			continue
		}
		if res.TransactionID != req.TransactionID {
			continue
		}
		if res.Type != stun.BindingSuccess {
			return nil, fmt.Errorf("unexpected response %s", res.Type)
		}
		return extractMappedAddress(res)
	}
}

// extractMappedAddress prefers XOR-MAPPED-ADDRESS and falls back to the
// legacy MAPPED-ADDRESS
func extractMappedAddress(msg *stun.Message) (*net.UDPAddr, error) {
	var xorAddr stun.XORMappedAddress
	if err := xorAddr.GetFrom(msg); err == nil {
		return &net.UDPAddr{IP: xorAddr.IP, Port: xorAddr.Port}, nil
	}

	var mapped stun.MappedAddress
	if err := mapped.GetFrom(msg); err == nil {
		return &net.UDPAddr{IP: mapped.IP, Port: mapped.Port}, nil
	}

	return nil, errNoMappedAddress
}
