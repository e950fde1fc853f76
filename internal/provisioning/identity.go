package provisioning

import "github.com/google/uuid"

// clientNamespace salts derived client IDs so they cannot collide with UUIDs
// minted anywhere else. Changing it orphans every client already provisioned.
var clientNamespace = uuid.MustParse("9f2b7c64-51d3-4be2-a8e0-7d1f0c3a5b42")

// DeriveClientID returns the Xray client ID for an account on a server.
//
// The ID is name-based, so granting and withdrawing access reproduce the
// same ID from the event payload alone with nothing extra persisted.
func DeriveClientID(accountID uuid.UUID, serverID string) uuid.UUID {
	return uuid.NewSHA1(clientNamespace, []byte(accountID.String()+":"+serverID))
}

// ClientEmail returns the label a client is tracked under in the Xray config.
// Xray removes clients by email, so this doubles as the deprovision key.
func ClientEmail(accountID uuid.UUID) string {
	return accountID.String() + "@raylink"
}
