/*
Package nat classifies the host's NAT behaviour with STUN binding requests.

Classification uses two servers and three probes. Each probe is retried up
to three times with a two second timeout per attempt.

	probe 1: socket S1 → server A ──── no answer ──► ErrUDPBlocked
	   │ mapped IP == local IP ─────────────────────► OpenInternet
	probe 2: socket S1 → server B ──── no answer ──► ErrSymmetricFirewall
	   │ IP(1) != IP(2) ────────────────────────────► Symmetric
	probe 3: socket S2 → server A ──── no answer ──► ErrUnknown
	   │ addr(1) == addr(3) ────────────────────────► FullCone
	   │ port(1) == port(3) ────────────────────────► RestrictedCone
	   └────────────────────────────────────────────► PortRestrictedCone

The local IP of a wildcard socket is taken from the route towards server A.

Probes go through the Prober interface. STUNProber is the default and speaks
RFC 5389 via github.com/pion/stun, preferring XOR-MAPPED-ADDRESS over
MAPPED-ADDRESS. Tests substitute a scripted prober.

	c := nat.NewClassifier("stun.nextcloud.com:3478", "stun.miwifi.com:3478")
	result, err := c.Detect(ctx)
	if errors.Is(err, nat.ErrUDPBlocked) {
		// no UDP path to the outside
	}
*/
package nat
