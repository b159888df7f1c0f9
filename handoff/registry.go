// Package handoff hands an authenticated browser session to a desktop
// application through a custom URI scheme, using a single-use exchange token.
package handoff

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aloks98/deskauth"
)

// Client is a desktop application that can receive a handoff.
type Client struct {
	// ID is the identifier used in ?client= (e.g. "vscode").
	ID string `yaml:"id" json:"id"`

	// Name is the human-readable application name.
	Name string `yaml:"name" json:"name"`

	// Scheme is the custom URI scheme the application registers.
	Scheme string `yaml:"scheme" json:"scheme"`
}

// HandoffURI returns <scheme>://auth?token=<exchangeToken>.
func (c Client) HandoffURI(exchangeToken string) string {
	u := url.URL{
		Scheme:   c.Scheme,
		Host:     "auth",
		RawQuery: url.Values{"token": {exchangeToken}}.Encode(),
	}
	return u.String()
}

// DefaultClients returns the built-in desktop clients.
func DefaultClients() []Client {
	return []Client{
		{ID: "vscode", Name: "VS Code", Scheme: "vscode"},
		{ID: "cursor", Name: "Cursor", Scheme: "cursor"},
		{ID: "windsurf", Name: "Windsurf", Scheme: "windsurf"},
		{ID: "tera", Name: "Tera", Scheme: "tera"},
	}
}

var (
	clientIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,31}$`)
	schemePattern   = regexp.MustCompile(`^[a-z][a-z0-9+.-]*$`)
)

// Schemes a browser would load itself; a handoff must leave the browser.
var forbiddenSchemes = map[string]bool{
	"http":       true,
	"https":      true,
	"javascript": true,
	"data":       true,
	"file":       true,
	"blob":       true,
	"vbscript":   true,
	"about":      true,
}

// Registry is the closed allow-list of desktop clients. It is immutable
// after construction and safe for concurrent use.
type Registry struct {
	clients map[string]Client
}

// NewRegistry builds a registry from clients. IDs are matched
// case-insensitively and must be unique.
func NewRegistry(clients ...Client) (*Registry, error) {
	r := &Registry{clients: make(map[string]Client, len(clients))}
	for _, c := range clients {
		c.ID = strings.ToLower(strings.TrimSpace(c.ID))
		c.Scheme = strings.ToLower(strings.TrimSpace(c.Scheme))
		if err := validateClient(c); err != nil {
			return nil, err
		}
		if _, dup := r.clients[c.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate desktop client %q", deskauth.ErrConfigInvalid, c.ID)
		}
		if c.Name == "" {
			c.Name = c.ID
		}
		r.clients[c.ID] = c
	}
	return r, nil
}

// DefaultRegistry returns a registry holding DefaultClients.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultClients()...)
	if err != nil {
		panic(err)
	}
	return r
}

// clientsFile is the YAML layout accepted by LoadRegistry.
type clientsFile struct {
	Clients []Client `yaml:"clients"`
}

// LoadRegistry returns the default clients plus those listed in the YAML
// file at path. An empty path yields the defaults.
//
//	clients:
//	  - id: zed
//	    name: Zed
//	    scheme: zed
func LoadRegistry(path string) (*Registry, error) {
	clients := DefaultClients()
	if path == "" {
		return NewRegistry(clients...)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read clients file: %w", err)
	}
	extra, err := ParseClients(data)
	if err != nil {
		return nil, err
	}
	return NewRegistry(append(clients, extra...)...)
}

// ParseClients decodes a YAML clients document.
func ParseClients(data []byte) ([]Client, error) {
	var f clientsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: parse clients file: %v", deskauth.ErrConfigInvalid, err)
	}
	return f.Clients, nil
}

func validateClient(c Client) error {
	if !clientIDPattern.MatchString(c.ID) {
		return fmt.Errorf("%w: invalid desktop client id %q", deskauth.ErrConfigInvalid, c.ID)
	}
	if !schemePattern.MatchString(c.Scheme) {
		return fmt.Errorf("%w: invalid URI scheme %q for client %q", deskauth.ErrConfigInvalid, c.Scheme, c.ID)
	}
	if forbiddenSchemes[c.Scheme] {
		return fmt.Errorf("%w: scheme %q cannot be used for a desktop handoff", deskauth.ErrConfigInvalid, c.Scheme)
	}
	return nil
}

// Lookup returns the client registered under id.
func (r *Registry) Lookup(id string) (Client, bool) {
	c, ok := r.clients[strings.ToLower(strings.TrimSpace(id))]
	return c, ok
}

// Clients returns all registered clients sorted by ID.
func (r *Registry) Clients() []Client {
	out := make([]Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of registered clients.
func (r *Registry) Len() int {
	return len(r.clients)
}
