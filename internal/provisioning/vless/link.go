// Package vless renders client connection links for VLESS inbounds.
package vless

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/pavelzhukov/raylink/pkg/config"
	"github.com/google/uuid"
)

const (
	defaultFlow        = "xtls-rprx-vision"
	defaultFingerprint = "chrome"
)

// RealityLink builds the vless:// URL for the server's Reality inbound.
func RealityLink(clientID uuid.UUID, server config.Server, label string) string {
	flow := server.Flow
	if flow == "" {
		flow = defaultFlow
	}
	fingerprint := server.Fingerprint
	if fingerprint == "" {
		fingerprint = defaultFingerprint
	}

	// Parameter order matches what the common clients export, which keeps
	// links diffable against ones issued elsewhere.
	params := []string{
		"security=reality",
		"encryption=none",
		"flow=" + flow,
		"type=tcp",
		"sni=" + server.SNI,
		"fp=" + fingerprint,
		"pbk=" + server.PublicKey,
		"sid=" + server.ShortID,
	}

	return fmt.Sprintf("vless://%s@%s:%d?%s#%s",
		clientID, server.Address, server.Port, strings.Join(params, "&"), url.PathEscape(label))
}

// WebSocketLink builds the vless:// URL for the server's WebSocket+TLS
// inbound. Returns "" when the server does not offer one.
func WebSocketLink(clientID uuid.UUID, server config.Server, label string) string {
	if server.WSPath == "" {
		return ""
	}

	params := []string{
		"security=tls",
		"encryption=none",
		"type=ws",
		"path=" + url.QueryEscape(server.WSPath),
	}

	return fmt.Sprintf("vless://%s@%s:%d?%s#%s",
		clientID, server.Address, server.WSPort, strings.Join(params, "&"), url.PathEscape(label))
}
