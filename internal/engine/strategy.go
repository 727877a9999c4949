package engine

// IndexingStrategy is the planner's decision record for an index() call
// (spec §3, §9 "tagged variants over inheritance"). The kind field and
// the five constructors below are the only way to build one; callers
// never set fields directly.
type IndexingStrategy struct {
	kind                     string
	CurrentNotFoundOrDeleted bool
	UseUpdate                bool
	IndexIntoLucene          bool
	SkipVersionMapUpdate     bool
	VersionForIndexing       int64
	Created                  bool
	EarlyResult              *IndexResult
}

func optimizedAppendOnly(version int64) IndexingStrategy {
	return IndexingStrategy{
		kind:                     "optimized_append_only",
		CurrentNotFoundOrDeleted: true,
		UseUpdate:                false,
		IndexIntoLucene:          true,
		VersionForIndexing:       version,
		Created:                  true,
	}
}

func skipDueToVersionConflict(err error, currentVersion int64, tookNanos int64) IndexingStrategy {
	return IndexingStrategy{
		kind:            "skip_due_to_version_conflict",
		IndexIntoLucene: false,
		EarlyResult: &IndexResult{
			Version:   currentVersion,
			TookNanos: tookNanos,
			Failure:   err,
		},
	}
}

func processNormally(currentNotFoundOrDeleted bool, versionForIndexing int64) IndexingStrategy {
	return IndexingStrategy{
		kind:                     "process_normally",
		CurrentNotFoundOrDeleted: currentNotFoundOrDeleted,
		UseUpdate:                !currentNotFoundOrDeleted,
		IndexIntoLucene:          true,
		VersionForIndexing:       versionForIndexing,
		Created:                  currentNotFoundOrDeleted,
	}
}

// overrideExistingAsIfNotThere backs a retried (or possibly-retried)
// auto-id delivery: the doc may already physically exist from an earlier,
// unacknowledged attempt, so it must go through updateDocument rather than
// addDocument to avoid duplicating it in the segment store, but from the
// caller's point of view this was never a fresh create.
func overrideExistingAsIfNotThere(version int64) IndexingStrategy {
	return IndexingStrategy{
		kind:                     "override_existing_as_if_not_there",
		CurrentNotFoundOrDeleted: true,
		UseUpdate:                true,
		IndexIntoLucene:          true,
		VersionForIndexing:       version,
		Created:                  false,
	}
}

func processButSkipLuceneIndex(versionForIndexing int64) IndexingStrategy {
	return IndexingStrategy{
		kind:                 "process_but_skip_lucene",
		IndexIntoLucene:      false,
		SkipVersionMapUpdate: true,
		VersionForIndexing:   versionForIndexing,
		EarlyResult:          &IndexResult{Version: versionForIndexing, Created: false},
	}
}

// DeletionStrategy is the planner's decision record for a delete() call.
type DeletionStrategy struct {
	kind                 string
	DeleteFromLucene     bool
	Found                bool
	SkipVersionMapUpdate bool
	VersionOfDeletion    int64
	EarlyResult          *DeleteResult
}

func deleteSkipDueToVersionConflict(err error, currentVersion int64, tookNanos int64) DeletionStrategy {
	return DeletionStrategy{
		kind:             "skip_due_to_version_conflict",
		DeleteFromLucene: false,
		EarlyResult: &DeleteResult{
			Version:   currentVersion,
			TookNanos: tookNanos,
			Failure:   err,
		},
	}
}

func deleteProcessNormally(notFoundOrDeleted bool, versionOfDeletion int64) DeletionStrategy {
	return DeletionStrategy{
		kind:              "process_normally",
		DeleteFromLucene:  !notFoundOrDeleted,
		Found:             !notFoundOrDeleted,
		VersionOfDeletion: versionOfDeletion,
	}
}

func deleteProcessButSkipLucene(found bool, versionOfDeletion int64) DeletionStrategy {
	return DeletionStrategy{
		kind:                 "process_but_skip_lucene",
		DeleteFromLucene:     false,
		Found:                found,
		SkipVersionMapUpdate: true,
		VersionOfDeletion:    versionOfDeletion,
		EarlyResult:          &DeleteResult{Version: versionOfDeletion, Found: found},
	}
}

// opComparison is compareOpToLuceneDocBasedOnVersions's result (spec
// §4.1 "Planning (replica / recovery)").
type opComparison int

const (
	opStaleOrEqual opComparison = iota
	luceneDocNotFound
	opNewer
)

func compareOpToLuceneDocBasedOnVersions(opVersion, current int64, notFoundOrDeleted bool) opComparison {
	if notFoundOrDeleted {
		return luceneDocNotFound
	}
	if opVersion <= current {
		return opStaleOrEqual
	}
	return opNewer
}
