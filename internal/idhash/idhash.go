package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ComputeDeploymentID computes a deterministic deployment_id using SHA256.
// Formula: SHA256(factory|vault|gauge|block)
// Addresses are lower-case hex. Returns hex-encoded hash (64 characters).
func ComputeDeploymentID(factory, vault, gauge common.Address, block uint64) string {
	data := fmt.Sprintf("%s|%s|%s|%d",
		lower(factory),
		lower(vault),
		lower(gauge),
		block,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// ComputeHarvestOutcomeID computes a deterministic outcome_id using SHA256.
// Formula: SHA256(strategy|block)
// A strategy is harvested at most once per block.
func ComputeHarvestOutcomeID(strategy common.Address, block uint64) string {
	data := fmt.Sprintf("%s|%d", lower(strategy), block)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

func lower(a common.Address) string {
	return strings.ToLower(a.Hex())
}
