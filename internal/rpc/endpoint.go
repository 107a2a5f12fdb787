package rpc

import (
	"net"
	"strconv"
	"strings"

	ferrors "git.home.luguber.info/inful/buildmesh/internal/foundation/errors"
)

// Role selects how an endpoint description is interpreted.
type Role int

const (
	// RoleServer descriptions name an address to listen on.
	RoleServer Role = iota
	// RoleClient descriptions name an address to connect to.
	RoleClient
)

// Endpoint is a parsed endpoint description.
type Endpoint struct {
	// Description is the original string; hubs key connections by it.
	Description string
	Network     string
	Address     string
}

// ParseEndpoint parses desc for role. Supported forms:
//
//	server: tcp:PORT  tcp:port=PORT[:interface=ADDR]  unix:PATH  unix:path=PATH
//	client: tcp:host=HOST:port=PORT  tcp:HOST:PORT   unix:PATH  unix:path=PATH
//
// A backslash escapes a colon inside a value.
func ParseEndpoint(desc string, role Role) (Endpoint, error) {
	parts := splitDescription(desc)
	if len(parts) < 2 {
		return Endpoint{}, invalidEndpoint(desc, "missing transport arguments")
	}

	var positional []string
	keyword := make(map[string]string)
	for _, p := range parts[1:] {
		if k, v, ok := strings.Cut(p, "="); ok {
			keyword[k] = v
			continue
		}
		positional = append(positional, p)
	}
	arg := func(key string, pos int) string {
		if v, ok := keyword[key]; ok {
			return v
		}
		if pos < len(positional) {
			return positional[pos]
		}
		return ""
	}

	ep := Endpoint{Description: desc}
	switch parts[0] {
	case "tcp":
		ep.Network = "tcp"
		var host, port string
		if role == RoleServer {
			port, host = arg("port", 0), arg("interface", 1)
		} else {
			host, port = arg("host", 0), arg("port", 1)
			if host == "" {
				return Endpoint{}, invalidEndpoint(desc, "client endpoint needs a host")
			}
		}
		n, err := strconv.Atoi(port)
		if err != nil || n < 0 || n > 65535 {
			return Endpoint{}, invalidEndpoint(desc, "invalid port "+strconv.Quote(port))
		}
		ep.Address = net.JoinHostPort(host, strconv.Itoa(n))
	case "unix":
		ep.Network = "unix"
		ep.Address = arg("path", 0)
		if ep.Address == "" {
			return Endpoint{}, invalidEndpoint(desc, "unix endpoint needs a path")
		}
	default:
		return Endpoint{}, invalidEndpoint(desc, "unsupported transport "+strconv.Quote(parts[0]))
	}
	return ep, nil
}

func (e Endpoint) String() string { return e.Description }

func splitDescription(desc string) []string {
	var (
		parts []string
		cur   strings.Builder
	)
	for i := 0; i < len(desc); i++ {
		switch c := desc[i]; {
		case c == '\\' && i+1 < len(desc):
			i++
			cur.WriteByte(desc[i])
		case c == ':':
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	return append(parts, cur.String())
}

func invalidEndpoint(desc, reason string) error {
	return ferrors.ValidationError("invalid endpoint description: "+reason).
		WithContext("endpoint", desc).
		Build()
}
