package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCatalogYAML = `
default_server: nl-1
servers:
  - id: nl-1
    label: Amsterdam
    address: 203.0.113.10
    port: 443
    sni: yahoo.com
    public_key: pubkey-base64
    short_id: ab12
    fingerprint: chrome
    flow: xtls-rprx-vision
  - id: de-1
    label: Frankfurt
    address: 203.0.113.20
    port: 8443
    sni: cdn.example.org
    public_key: other-key
    short_id: cd34
    fingerprint: chrome
    flow: xtls-rprx-vision
plans:
  - id: month-1
    title: 1 month
    days: 30
    price:
      amount: 15000
      currency: RUB
    stars: 150
  - id: month-6
    title: 6 months
    days: 180
    price:
      amount: 70000
      currency: RUB
    stars: 700
`

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadCatalog(t *testing.T) {
	path := writeCatalog(t, testCatalogYAML)

	catalog, err := LoadCatalog(path)
	require.NoError(t, err)

	assert.Equal(t, "nl-1", catalog.DefaultServer)
	assert.Len(t, catalog.Servers, 2)
	assert.Len(t, catalog.Plans, 2)

	server, ok := catalog.ServerByID("de-1")
	require.True(t, ok)
	assert.Equal(t, "Frankfurt", server.Label)
	assert.Equal(t, 8443, server.Port)
	assert.Equal(t, "cdn.example.org", server.SNI)

	plan, ok := catalog.PlanByID("month-6")
	require.True(t, ok)
	assert.Equal(t, 180, plan.Days)
	assert.Equal(t, int64(70000), plan.Price.Amount)
	assert.Equal(t, "RUB", plan.Price.Currency)
	assert.Equal(t, 700, plan.Stars)

	_, ok = catalog.PlanByID("missing")
	assert.False(t, ok)
}

func TestLoadCatalog_MissingFile(t *testing.T) {
	_, err := LoadCatalog(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestCatalogValidate(t *testing.T) {
	t.Run("rejects empty server list", func(t *testing.T) {
		path := writeCatalog(t, "servers: []\n")
		_, err := LoadCatalog(path)
		assert.ErrorContains(t, err, "no servers")
	})

	t.Run("rejects duplicate server ids", func(t *testing.T) {
		path := writeCatalog(t, `
servers:
  - id: a
    address: 203.0.113.10
    port: 443
  - id: a
    address: 203.0.113.11
    port: 443
`)
		_, err := LoadCatalog(path)
		assert.ErrorContains(t, err, "duplicate server id")
	})

	t.Run("rejects unknown default server", func(t *testing.T) {
		path := writeCatalog(t, `
default_server: missing
servers:
  - id: a
    address: 203.0.113.10
    port: 443
`)
		_, err := LoadCatalog(path)
		assert.ErrorContains(t, err, "default server")
	})

	t.Run("defaults to first server when unset", func(t *testing.T) {
		path := writeCatalog(t, `
servers:
  - id: solo
    address: 203.0.113.10
    port: 443
`)
		catalog, err := LoadCatalog(path)
		require.NoError(t, err)
		assert.Equal(t, "solo", catalog.DefaultServer)
	})

	t.Run("rejects plan without days", func(t *testing.T) {
		path := writeCatalog(t, `
servers:
  - id: a
    address: 203.0.113.10
    port: 443
plans:
  - id: p1
    title: broken
    days: 0
`)
		_, err := LoadCatalog(path)
		assert.ErrorContains(t, err, "non-positive days")
	})
}
