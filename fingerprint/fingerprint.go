// Package fingerprint derives a stable content checksum for a device snapshot.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/st-keller/dust-client/types"
)

// Of returns the hex SHA-256 of the snapshot's JSON encoding with the address
// record left out, so the same device hashes identically across networks.
func Of(device types.DeviceSnapshot) string {
	device.IPAddress = nil

	data, err := json.Marshal(device)
	if err != nil {
		return ""
	}

	sum := sha256.Sum256(data)

	return hex.EncodeToString(sum[:])
}
