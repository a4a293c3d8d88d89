// Package addr parses and builds the parsec:// URL scheme (spec §6.4): a
// server address plus an optional organization id and action. The http(s)
// redirection form (host/redirect/<org>?params) is accepted and produced
// symmetrically, for environments where a bare custom scheme can't survive a
// mail client or browser.
package addr

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/parsec-cloud/parsec-client-go/pkg/types"
)

// ActionKind names the action query parameter's value (spec §6.4).
type ActionKind string

const (
	ActionNone                ActionKind = ""
	ActionBootstrapOrg        ActionKind = "bootstrap_organization"
	ActionClaimUser           ActionKind = "claim_user"
	ActionClaimDevice         ActionKind = "claim_device"
	ActionFileLink            ActionKind = "file_link"
	ActionPKIEnrollment       ActionKind = "pki_enrollment"
)

// Address is a parsed parsec:// (or http(s) redirection) URL.
type Address struct {
	Host  string
	Port  int // 0 means "use the scheme's default port"
	NoSSL bool

	OrganizationID types.OrganizationID // zero value: no organization segment
	Action         ActionKind

	Token       types.InvitationToken // bootstrap_organization, claim_user, claim_device
	WorkspaceID types.VlobID          // file_link
	Path        string                // file_link
}

func defaultPort(noSSL bool) int {
	if noSSL {
		return 80
	}
	return 443
}

// netloc renders host[:port], omitting the port when it's the scheme default.
func (a Address) netloc() string {
	if a.Port == 0 || a.Port == defaultPort(a.NoSSL) {
		return a.Host
	}
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// Parse accepts either a parsec:// URL or its http(s)/redirect form.
func Parse(raw string) (*Address, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("addr: %w", err)
	}
	switch u.Scheme {
	case "parsec":
		return parseParsec(u)
	case "http", "https":
		return parseRedirect(u)
	default:
		return nil, fmt.Errorf("addr: unsupported scheme %q", u.Scheme)
	}
}

func parseParsec(u *url.URL) (*Address, error) {
	a := &Address{Host: u.Hostname(), NoSSL: true}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("addr: invalid port %q", p)
		}
		a.Port = port
	}

	q := u.Query()
	if v := q.Get("no_ssl"); v != "" {
		noSSL, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("addr: invalid no_ssl value %q", v)
		}
		a.NoSSL = noSSL
	}

	if org := strings.Trim(u.Path, "/"); org != "" {
		decoded, err := url.PathUnescape(org)
		if err != nil {
			return nil, fmt.Errorf("addr: %w", err)
		}
		orgID, err := types.ParseOrganizationID(decoded)
		if err != nil {
			return nil, fmt.Errorf("addr: %w", err)
		}
		a.OrganizationID = orgID
	}

	if err := a.parseAction(q); err != nil {
		return nil, err
	}
	return a, nil
}

// parseRedirect handles http(s)://host[:port]/redirect/<org>?params, the
// mirror of parsec://host[:port]/<org>?params with the scheme itself
// carrying the SSL bit instead of no_ssl.
func parseRedirect(u *url.URL) (*Address, error) {
	const prefix = "/redirect/"
	if !strings.HasPrefix(u.Path, prefix) && u.Path != "/redirect" {
		return nil, fmt.Errorf("addr: expected path to start with %q, got %q", prefix, u.Path)
	}

	rewritten := *u
	rewritten.Scheme = "parsec"
	rewritten.Path = strings.TrimPrefix(u.Path, strings.TrimSuffix(prefix, "/"))

	a, err := parseParsec(&rewritten)
	if err != nil {
		return nil, err
	}
	a.NoSSL = u.Scheme == "http"
	return a, nil
}

func (a *Address) parseAction(q url.Values) error {
	action := ActionKind(q.Get("action"))
	a.Action = action
	switch action {
	case ActionNone:
		return nil
	case ActionBootstrapOrg, ActionClaimUser, ActionClaimDevice:
		tok := q.Get("token")
		if tok == "" {
			return fmt.Errorf("addr: action %q requires a token parameter", action)
		}
		parsed, err := uuid.Parse(tok)
		if err != nil {
			return fmt.Errorf("addr: invalid token %q: %w", tok, err)
		}
		a.Token = types.InvitationToken(parsed)
		return nil
	case ActionFileLink:
		wid := q.Get("workspace_id")
		if wid == "" {
			return fmt.Errorf("addr: action file_link requires a workspace_id parameter")
		}
		parsed, err := uuid.Parse(wid)
		if err != nil {
			return fmt.Errorf("addr: invalid workspace_id %q: %w", wid, err)
		}
		a.WorkspaceID = types.VlobID(parsed)
		a.Path = q.Get("path")
		return nil
	case ActionPKIEnrollment:
		return nil
	default:
		return fmt.Errorf("addr: unknown action %q", action)
	}
}

func (a Address) query() url.Values {
	q := url.Values{}
	switch a.Action {
	case ActionNone:
	case ActionBootstrapOrg, ActionClaimUser, ActionClaimDevice:
		q.Set("action", string(a.Action))
		q.Set("token", uuid.UUID(a.Token).String())
	case ActionFileLink:
		q.Set("action", string(a.Action))
		q.Set("workspace_id", uuid.UUID(a.WorkspaceID).String())
		q.Set("path", a.Path)
	case ActionPKIEnrollment:
		q.Set("action", string(a.Action))
	}
	return q
}

// String renders the parsec:// form, including no_ssl whenever it departs
// from the scheme's implicit default (true).
func (a Address) String() string {
	u := url.URL{Scheme: "parsec", Host: a.netloc()}
	if a.OrganizationID != "" {
		u.Path = "/" + a.OrganizationID.String()
	}
	q := a.query()
	if !a.NoSSL {
		q.Set("no_ssl", "false")
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// ToHTTPRedirectionURL renders the http(s) redirection form: the scheme
// itself (http or https) carries the SSL bit, so no_ssl is never emitted.
func (a Address) ToHTTPRedirectionURL() string {
	scheme := "https"
	if a.NoSSL {
		scheme = "http"
	}
	u := url.URL{Scheme: scheme, Host: a.netlocForScheme(scheme)}
	u.Path = "/redirect"
	if a.OrganizationID != "" {
		u.Path += "/" + a.OrganizationID.String()
	}
	u.RawQuery = a.query().Encode()
	return u.String()
}

func (a Address) netlocForScheme(scheme string) string {
	noSSL := scheme == "http"
	if a.Port == 0 || a.Port == defaultPort(noSSL) {
		return a.Host
	}
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}
