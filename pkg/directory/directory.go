package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cuemby/lanlink/pkg/log"
	"github.com/cuemby/lanlink/pkg/types"
	"github.com/rs/zerolog"
)

// DefaultTimeout bounds one directory request
const DefaultTimeout = 10 * time.Second

var (
	// ErrUnavailable is returned for transport failures and non-2xx replies
	ErrUnavailable = errors.New("directory: member server unavailable")

	// ErrRejected is returned when the directory answers with status false
	ErrRejected = errors.New("directory: member server rejected the request")

	// ErrMalformed is returned when the reply does not have the expected shape
	ErrMalformed = errors.New("directory: malformed member list")
)

// Record is one member as listed by the directory
type Record struct {
	Address string
	Name    string
}

type memberList struct {
	Status  *bool `json:"status"`
	Members *[]struct {
		IP4Addr *string `json:"ip4addr"`
		Desc    *string `json:"desc"`
	} `json:"members"`
}

// Client queries the group membership directory
type Client struct {
	// BaseURL is the member server root, e.g. "http://members.example.com"
	BaseURL string

	// HTTPClient performs the requests
	HTTPClient *http.Client

	logger zerolog.Logger
}

// NewClient creates a directory client for the given member server
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger: log.WithComponent("directory"),
	}
}

// Members fetches GET <base>/members/<group>
func (c *Client) Members(ctx context.Context, group string) ([]Record, error) {
	endpoint := fmt.Sprintf("%s/members/%s", c.BaseURL, url.PathEscape(group))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: HTTP %d %s", ErrUnavailable, resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	records, err := parse(body)
	if err != nil {
		return nil, err
	}

	c.logger.Debug().
		Str("group", group).
		Int("members", len(records)).
		Msg("Fetched member list")
	return records, nil
}

func parse(body []byte) ([]Record, error) {
	var list memberList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if list.Status == nil {
		return nil, fmt.Errorf("%w: missing status", ErrMalformed)
	}
	if !*list.Status {
		return nil, ErrRejected
	}
	if list.Members == nil {
		return nil, fmt.Errorf("%w: missing members", ErrMalformed)
	}

	records := make([]Record, 0, len(*list.Members))
	for i, m := range *list.Members {
		if m.IP4Addr == nil {
			return nil, fmt.Errorf("%w: member %d has no ip4addr", ErrMalformed, i)
		}
		name := types.DefaultName
		if m.Desc != nil {
			name = *m.Desc
		}
		records = append(records, Record{Address: *m.IP4Addr, Name: name})
	}
	return records, nil
}

// HostAddress strips a "/prefix" suffix from an address
func HostAddress(addr string) string {
	if i := strings.IndexByte(addr, '/'); i >= 0 {
		return addr[:i]
	}
	return addr
}

// Reconcile merges directory records with the edges the control plane
// reports. The local address is excluded. The directory decides membership
// and display names; an edge with the same address supplies the mode.
func Reconcile(records []Record, self string, edges []types.Member) []types.Member {
	self = HostAddress(self)

	members := make([]types.Member, 0, len(records))
	for _, r := range records {
		address := HostAddress(r.Address)
		if address == self {
			continue
		}
		members = append(members, types.Member{
			Address: address,
			Name:    r.Name,
			Mode:    types.NoMode,
		})
	}

	for _, edge := range edges {
		address := HostAddress(edge.Address)
		for i := range members {
			if members[i].Address == address {
				members[i].Mode = edge.Mode
				break
			}
		}
	}

	return types.DedupMembers(members)
}
