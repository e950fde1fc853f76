// Package xray edits the clients of a local Xray server configuration.
package xray

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

const realityFlow = "xtls-rprx-vision"

const lockRetryDelay = 50 * time.Millisecond

// Client is one entry in a VLESS inbound's clients array.
type Client struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Flow  string `json:"flow,omitempty"`
}

// Manager rewrites the clients of every VLESS inbound in one config file.
// Writes go through a file lock and an atomic rename, so a concurrent
// provision and deprovision cannot tear the config, and xray never reads a
// half-written file.
type Manager struct {
	path     string
	lock     *flock.Flock
	reloader Reloader
	logger   *slog.Logger
}

// NewManager creates a manager for the config file at path.
func NewManager(path string, reloader Reloader, logger *slog.Logger) *Manager {
	return &Manager{
		path:     path,
		lock:     flock.New(path + ".lock"),
		reloader: reloader,
		logger:   logger,
	}
}

// UpsertClient adds the client to every VLESS inbound, replacing an existing
// entry with the same email. Reality inbounds get the vision flow, other
// transports none. Reloads only when the file actually changed.
func (m *Manager) UpsertClient(ctx context.Context, email string, clientID uuid.UUID) (bool, error) {
	return m.rewrite(ctx, func(security string, clients []Client) ([]Client, bool) {
		flow := ""
		if security == "reality" {
			flow = realityFlow
		}
		for i := range clients {
			if clients[i].Email != email {
				continue
			}
			if clients[i].ID == clientID.String() && clients[i].Flow == flow {
				return clients, false
			}
			clients[i].ID = clientID.String()
			clients[i].Flow = flow
			return clients, true
		}
		return append(clients, Client{ID: clientID.String(), Email: email, Flow: flow}), true
	})
}

// RemoveClient strips the client with the given email from every inbound.
func (m *Manager) RemoveClient(ctx context.Context, email string) (bool, error) {
	return m.rewrite(ctx, func(security string, clients []Client) ([]Client, bool) {
		kept := clients[:0]
		for _, c := range clients {
			if c.Email != email {
				kept = append(kept, c)
			}
		}
		return kept, len(kept) != len(clients)
	})
}

// rewrite runs one locked read-transform-write-reload cycle.
func (m *Manager) rewrite(ctx context.Context, fn func(security string, clients []Client) ([]Client, bool)) (bool, error) {
	locked, err := m.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return false, fmt.Errorf("lock %s: %w", m.path, err)
	}
	if !locked {
		return false, fmt.Errorf("lock %s: not acquired", m.path)
	}
	defer m.lock.Unlock()

	raw, err := os.ReadFile(m.path)
	if err != nil {
		return false, fmt.Errorf("read xray config: %w", err)
	}

	updated, changed, err := transformClients(raw, fn)
	if err != nil {
		return false, err
	}
	if !changed {
		return false, nil
	}

	if err := m.writeAtomic(updated); err != nil {
		return false, err
	}

	if err := m.reloader.Reload(ctx); err != nil {
		// The config on disk is already correct; the next reload picks it up.
		m.logger.Error("xray reload failed after config write", "path", m.path, "error", err)
		return true, err
	}

	return true, nil
}

// writeAtomic replaces the config via a temp file in the same directory,
// keeping the original's permissions.
func (m *Manager) writeAtomic(data []byte) error {
	mode := fs.FileMode(0o644)
	if info, err := os.Stat(m.path); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(m.path), ".xray-config-*")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp config: %w", err)
	}
	if err := os.Rename(tmpName, m.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace xray config: %w", err)
	}
	return nil
}

// transformClients applies fn to the clients of every VLESS inbound and
// re-marshals the document. Inbounds of other protocols, and every key the
// editor does not understand, pass through untouched.
func transformClients(raw []byte, fn func(security string, clients []Client) ([]Client, bool)) ([]byte, bool, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, false, fmt.Errorf("parse xray config: %w", err)
	}

	inboundsRaw, ok := top["inbounds"]
	if !ok {
		return raw, false, nil
	}
	var inbounds []json.RawMessage
	if err := json.Unmarshal(inboundsRaw, &inbounds); err != nil {
		return nil, false, fmt.Errorf("parse inbounds: %w", err)
	}

	changed := false
	for i, inboundRaw := range inbounds {
		var inbound map[string]json.RawMessage
		if err := json.Unmarshal(inboundRaw, &inbound); err != nil {
			return nil, false, fmt.Errorf("parse inbound %d: %w", i, err)
		}

		var protocol string
		if protocolRaw, ok := inbound["protocol"]; ok {
			if err := json.Unmarshal(protocolRaw, &protocol); err != nil {
				return nil, false, fmt.Errorf("parse inbound %d protocol: %w", i, err)
			}
		}
		if protocol != "vless" {
			continue
		}

		var settings map[string]json.RawMessage
		if settingsRaw, ok := inbound["settings"]; ok {
			if err := json.Unmarshal(settingsRaw, &settings); err != nil {
				return nil, false, fmt.Errorf("parse inbound %d settings: %w", i, err)
			}
		}
		if settings == nil {
			settings = map[string]json.RawMessage{}
		}

		var clients []Client
		if clientsRaw, ok := settings["clients"]; ok {
			if err := json.Unmarshal(clientsRaw, &clients); err != nil {
				return nil, false, fmt.Errorf("parse inbound %d clients: %w", i, err)
			}
		}

		next, edited := fn(inboundSecurity(inbound), clients)
		if !edited {
			continue
		}

		clientsRaw, err := json.Marshal(next)
		if err != nil {
			return nil, false, fmt.Errorf("encode inbound %d clients: %w", i, err)
		}
		settings["clients"] = clientsRaw
		settingsRaw, err := json.Marshal(settings)
		if err != nil {
			return nil, false, fmt.Errorf("encode inbound %d settings: %w", i, err)
		}
		inbound["settings"] = settingsRaw
		inbounds[i], err = json.Marshal(inbound)
		if err != nil {
			return nil, false, fmt.Errorf("encode inbound %d: %w", i, err)
		}
		changed = true
	}

	if !changed {
		return raw, false, nil
	}

	joined, err := json.Marshal(inbounds)
	if err != nil {
		return nil, false, fmt.Errorf("encode inbounds: %w", err)
	}
	top["inbounds"] = joined

	// Operators hand-edit this file; keep it readable.
	out, err := json.MarshalIndent(top, "", "  ")
	if err != nil {
		return nil, false, fmt.Errorf("encode xray config: %w", err)
	}
	return out, true, nil
}

// inboundSecurity reads streamSettings.security, "" when absent.
func inboundSecurity(inbound map[string]json.RawMessage) string {
	streamRaw, ok := inbound["streamSettings"]
	if !ok {
		return ""
	}
	var stream struct {
		Security string `json:"security"`
	}
	if err := json.Unmarshal(streamRaw, &stream); err != nil {
		return ""
	}
	return stream.Security
}
