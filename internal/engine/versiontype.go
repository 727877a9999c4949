package engine

// IsVersionConflictForWrites reports whether op.version conflicts with
// current under vt's semantics (spec §4.1 step 3). notFoundOrDeleted
// means there is no live current version to compare against.
func (vt VersionType) IsVersionConflictForWrites(current int64, opVersion int64, notFoundOrDeleted bool) bool {
	switch vt {
	case VersionForce:
		return false
	case VersionExternal:
		if notFoundOrDeleted {
			return false
		}
		return opVersion <= current
	case VersionExternalGTE:
		if notFoundOrDeleted {
			return false
		}
		return opVersion < current
	default: // VersionInternal
		if notFoundOrDeleted {
			return opVersion != MatchAny
		}
		return opVersion != MatchAny && opVersion != current
	}
}

// UpdateVersion computes versionForIndexing given the resolved current
// version (spec §4.1 step 4).
func (vt VersionType) UpdateVersion(current int64, opVersion int64) int64 {
	switch vt {
	case VersionInternal:
		return current + 1
	default:
		return opVersion
	}
}
