// Package planner implements the Planner (spec §4.7, C7): diffs the
// Catalogue's local and remote maps and produces an ordered PlanAction
// list for one of the three sync modes, applying the configured
// conflict-resolution strategy for two-way runs.
//
// Grounded on the teacher's internal/sync/planner.go (diff-and-plan
// shape, priority grouping) and conflict.go (conflict-strategy
// dispatch), rebuilt against this spec's path-key Catalogue and
// PlanAction variant set instead of the teacher's OneDrive delta model.
package planner

import (
	"time"

	"github.com/google/uuid"
)

// Variant tags the kind of work a PlanAction performs (spec §3).
type Variant string

const (
	CreateDirectory Variant = "create_directory"
	CopyFile        Variant = "copy_file"
	UpdateFile      Variant = "update_file"
	DeleteFile      Variant = "delete_file"
	DeleteDirectory Variant = "delete_directory"
	RenameFile      Variant = "rename_file"
)

// Priority returns the execution-order priority for this variant (spec
// §4.7's priority table — lower runs first).
func (v Variant) Priority() int {
	switch v {
	case CreateDirectory:
		return 1
	case CopyFile, UpdateFile:
		return 2
	case RenameFile:
		return 3
	case DeleteFile:
		return 4
	case DeleteDirectory:
		return 5
	default:
		return 0
	}
}

// Direction records which side is authoritative for one action.
type Direction string

const (
	SourceToTarget Direction = "source_to_target"
	TargetToSource Direction = "target_to_source"
)

// Status is a PlanAction's execution state, mutated by the Executor.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ConflictTag records which two-way conflict-resolution rule produced
// this action, for the conflict ledger (spec's supplemented
// conflicts/resolve CLI feature).
type ConflictTag string

// Action is one unit of work the Executor will run (spec §3, PlanAction).
type Action struct {
	ID            string
	Variant       Variant
	Source        string // absolute local path or remote path-key, per Direction
	Target        string
	RelativeKey   string
	Size          int64
	Direction     Direction
	ConflictTag   ConflictTag
	Status        Status
	Error         string
	RenameOldName string // RenameFile only: the name being replaced
	RenameNewName string // RenameFile only: the new name post-KeepBoth
}

// ExecutionPriority is normally Variant.Priority(), with one documented
// exception: a KeepBoth RenameFile must run before its paired CopyFile
// even though RenameFile's general table priority (3) sorts after
// CopyFile's (2) — otherwise the copy would land on the still-present
// original instead of the path the rename just vacated. Giving it
// CopyFile's priority puts both in the same sort tier, where the
// stable sort preserves the [rename, copy] order keepBoth() emits them in.
func (a Action) ExecutionPriority() int {
	if a.Variant == RenameFile && a.ConflictTag == ConflictTag(keepBothTag) {
		return CopyFile.Priority()
	}

	return a.Variant.Priority()
}

const keepBothTag = "keep_both"

// newAction mints an Action with a fresh id and Pending status.
func newAction(variant Variant, relKey string, size int64, dir Direction) Action {
	return Action{
		ID:          uuid.NewString(),
		Variant:     variant,
		RelativeKey: relKey,
		Size:        size,
		Direction:   dir,
		Status:      StatusPending,
	}
}

// keepBothName computes the KeepBoth rename target per spec §4.7:
// "<stem> (yyyyMMdd_HHmmss)<ext>".
func keepBothName(name string, at time.Time) string {
	ext := extOf(name)
	stem := name[:len(name)-len(ext)]

	return stem + " (" + at.UTC().Format("20060102_150405") + ")" + ext
}

func extOf(name string) string {
	for i := len(name) - 1; i >= 0 && name[i] != '/'; i-- {
		if name[i] == '.' {
			return name[i:]
		}
	}

	return ""
}
