// Package recovery reconstructs a cluster at a point in time: pick a
// snapshot, unpack it, hand the engine a replay window, watch the result.
package recovery

import (
	"fmt"
	"time"

	errs "walvault/internal/errors"
)

// TargetKind selects how the base snapshot and replay bound are chosen.
type TargetKind int

const (
	// TargetLatest restores the newest complete snapshot and replays
	// everything the archive holds.
	TargetLatest TargetKind = iota

	// TargetTimestamp restores the newest snapshot taken at or before
	// the requested instant and replays up to it.
	TargetTimestamp

	// TargetNamed restores one specific snapshot by id.
	TargetNamed
)

func (k TargetKind) String() string {
	switch k {
	case TargetLatest:
		return "latest"
	case TargetTimestamp:
		return "timestamp"
	case TargetNamed:
		return "backup"
	default:
		return "unknown"
	}
}

// Target names the point recovery should reach.
type Target struct {
	Kind      TargetKind
	Timestamp time.Time // TargetTimestamp only
	BackupID  string    // TargetNamed only
}

// Latest targets the newest complete snapshot plus all archived WAL.
func Latest() Target {
	return Target{Kind: TargetLatest}
}

// AtTime targets a past instant.
func AtTime(t time.Time) Target {
	return Target{Kind: TargetTimestamp, Timestamp: t}
}

// Backup targets one snapshot by id, replaying only its own WAL span.
func Backup(id string) Target {
	return Target{Kind: TargetNamed, BackupID: id}
}

// Validate rejects targets whose kind and fields disagree.
func (t Target) Validate() error {
	switch t.Kind {
	case TargetLatest:
		return nil
	case TargetTimestamp:
		if t.Timestamp.IsZero() {
			return errs.NewConfigError(errs.ErrCodeInvalidTarget,
				"timestamp target without a timestamp",
				"pass --time with an RFC3339 instant")
		}
		return nil
	case TargetNamed:
		if t.BackupID == "" {
			return errs.NewConfigError(errs.ErrCodeInvalidTarget,
				"named target without a backup id",
				"pass --backup-id, or use walvault catalog list to find one")
		}
		return nil
	default:
		return errs.NewConfigError(errs.ErrCodeInvalidTarget,
			fmt.Sprintf("unknown target kind %d", t.Kind),
			"use latest, a timestamp, or a backup id")
	}
}

func (t Target) String() string {
	switch t.Kind {
	case TargetTimestamp:
		return "time " + t.Timestamp.Format(time.RFC3339)
	case TargetNamed:
		return "backup " + t.BackupID
	default:
		return "latest"
	}
}
