package planner

import (
	"encoding/json"
	"time"

	"github.com/yuya-takeyama/sumcompare/internal/checksum"
)

// PathResolver maps a SOURCE path to its destination under TARGET.
type PathResolver interface {
	Resolve(sourcePath string) string
}

type Decision string

const (
	// DecisionCopy: the file claimed its fingerprint and must be copied.
	DecisionCopy Decision = "copy"
	// DecisionDuplicate: the content is already owned and the match is reported.
	DecisionDuplicate Decision = "duplicate"
	// DecisionSuppressed: same content under the same name, silently skipped.
	DecisionSuppressed Decision = "suppressed"
)

// CopyPlan is a SOURCE file whose content is new to TARGET.
type CopyPlan struct {
	Source      string               `json:"source"`
	Destination string               `json:"destination"`
	Fingerprint checksum.Fingerprint `json:"-"`
	Size        int64                `json:"size"`
}

// DuplicateMatch is a SOURCE file whose content is already owned by Existing.
type DuplicateMatch struct {
	Source      string               `json:"source"`
	Existing    string               `json:"existing"`
	Fingerprint checksum.Fingerprint `json:"-"`
}

// CollisionRecord is a pair of TARGET files that share content.
type CollisionRecord struct {
	Current     string               `json:"current"`
	Existing    string               `json:"existing"`
	Fingerprint checksum.Fingerprint `json:"-"`
}

// Failure is a per-file error that did not stop the run.
type Failure struct {
	Path  string `json:"path"`
	Phase string `json:"phase"`
	Err   error  `json:"-"`
}

func (f Failure) Error() string {
	if f.Err == nil {
		return f.Phase + ": " + f.Path
	}
	return f.Phase + " " + f.Path + ": " + f.Err.Error()
}

type fingerprinted struct {
	Checksum string `json:"checksum"`
}

func (p CopyPlan) MarshalJSON() ([]byte, error) {
	type alias CopyPlan
	return json.Marshal(struct {
		alias
		fingerprinted
	}{alias(p), fingerprinted{p.Fingerprint.Hex()}})
}

func (d DuplicateMatch) MarshalJSON() ([]byte, error) {
	type alias DuplicateMatch
	return json.Marshal(struct {
		alias
		fingerprinted
	}{alias(d), fingerprinted{d.Fingerprint.Hex()}})
}

func (c CollisionRecord) MarshalJSON() ([]byte, error) {
	type alias CollisionRecord
	return json.Marshal(struct {
		alias
		fingerprinted
	}{alias(c), fingerprinted{c.Fingerprint.Hex()}})
}

func (f Failure) MarshalJSON() ([]byte, error) {
	msg := ""
	if f.Err != nil {
		msg = f.Err.Error()
	}
	return json.Marshal(struct {
		Path  string `json:"path"`
		Phase string `json:"phase"`
		Error string `json:"error"`
	}{f.Path, f.Phase, msg})
}

// State is the orchestrator's lifecycle position. DONE, ABORTED, FAILED and
// CANCELLED are terminal. ABORTED means configuration validation failed and
// nothing was read or written.
type State string

const (
	StateInit       State = "INIT"
	StateBackup     State = "BACKUP"
	StateScanning   State = "SCANNING"
	StateProcessing State = "PROCESSING"
	StateReporting  State = "REPORTING"
	StateDone       State = "DONE"
	StateAborted    State = "ABORTED"
	StateFailed     State = "FAILED"
	StateCancelled  State = "CANCELLED"
)

// Summary holds the counts of a run.
type Summary struct {
	State       State         `json:"state"`
	DryRun      bool          `json:"dry_run"`
	SourceFiles int           `json:"source_files"`
	TargetFiles int           `json:"target_files"`
	Copied      int           `json:"copied"`
	BytesCopied int64         `json:"bytes_copied"`
	Duplicates  int           `json:"duplicates"`
	Suppressed  int           `json:"suppressed"`
	Collisions  int           `json:"collisions"`
	Errors      int           `json:"errors"`
	Skipped     int64         `json:"skipped"`
	Cancelled   int64         `json:"cancelled"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
	Duration    time.Duration `json:"duration_ns"`
}

// Report is everything a run produced.
type Report struct {
	RunID      string            `json:"run_id"`
	Source     string            `json:"source"`
	Target     string            `json:"target"`
	Algorithm  string            `json:"algorithm"`
	Summary    Summary           `json:"summary"`
	Copies     []CopyPlan        `json:"copies"`
	Duplicates []DuplicateMatch  `json:"duplicates"`
	Collisions []CollisionRecord `json:"collisions"`
	Failures   []Failure         `json:"failures"`
}
