package translog

import (
	"fmt"
	"strconv"

	shardengine "github.com/sop-labs/shardengine"
)

// Commit userData keys, bit-exact per spec §6.
const (
	KeyTranslogUUID       = "translog_uuid"
	KeyTranslogGeneration = "translog_generation"
	KeySyncCommitID       = "sync_commit_id"
	// KeyLegacyTranslogID is accepted on read for backward compatibility
	// only; SOP-era commits occasionally wrote only this key. This
	// engine never writes it (spec §6, §9 Open Question a).
	KeyLegacyTranslogID = "translog_id"
)

// EncodeUserData builds the commit userData map for gen, optionally
// including a sync-commit marker.
func EncodeUserData(gen Generation, syncCommitID string) map[string]string {
	m := map[string]string{
		KeyTranslogUUID:       gen.UUID.String(),
		KeyTranslogGeneration: strconv.FormatUint(gen.FileGen, 10),
	}
	if syncCommitID != "" {
		m[KeySyncCommitID] = syncCommitID
	}
	return m
}

// DecodeGeneration recovers a Generation from commit userData.
//
// Per §9 Open Question (a), this engine resolves the ambiguity in the
// source material (which both synthesizes a null-UUID generation from a
// legacy-only commit AND rejects it as "too old" depending on call
// site) by picking ONE policy everywhere: a commit carrying only the
// legacy translog_id key, with no translog_uuid, is always rejected.
// The caller must treat that as RecoveryFailure and require re-indexing
// rather than attempting a partial recovery against an unidentified
// translog instance.
func DecodeGeneration(userData map[string]string) (Generation, error) {
	uuidStr, hasUUID := userData[KeyTranslogUUID]
	genStr, hasGen := userData[KeyTranslogGeneration]

	if !hasUUID {
		if _, legacy := userData[KeyLegacyTranslogID]; legacy {
			return Generation{}, fmt.Errorf("translog: commit carries only legacy %q key, no %q: reindex required", KeyLegacyTranslogID, KeyTranslogUUID)
		}
		return Generation{}, fmt.Errorf("translog: commit userData missing %q", KeyTranslogUUID)
	}
	if !hasGen {
		return Generation{}, fmt.Errorf("translog: commit userData missing %q", KeyTranslogGeneration)
	}

	id, err := shardengine.ParseUUID(uuidStr)
	if err != nil {
		return Generation{}, fmt.Errorf("translog: parse %q: %w", KeyTranslogUUID, err)
	}
	gen, err := strconv.ParseUint(genStr, 10, 64)
	if err != nil {
		return Generation{}, fmt.Errorf("translog: parse %q: %w", KeyTranslogGeneration, err)
	}
	return Generation{UUID: id, FileGen: gen}, nil
}
