package stage

import (
	"bytes"
	"context"
	"fmt"
)

// NoDriftMarker is the phrase the migration generator prints when the
// committed migrations already cover every model change.
const NoDriftMarker = "No changes detected"

// DriftMessage is the fixed, user-actionable failure emitted when the
// dry run would generate migrations that are not committed.
const DriftMessage = "uncommitted migrations detected: run the migration generator and commit the result"

// driftStage runs the migration generator in dry-run mode and requires its
// output to report no pending changes. The contract is idempotence of
// migration generation: against committed migrations the dry run is a no-op.
type driftStage struct {
	info Info
	argv []string
}

// NewDriftCheck builds the schema-drift stage around the configured dry-run
// command.
func NewDriftCheck(info Info, argv []string) (Stage, error) {
	if err := info.Validate(); err != nil {
		return nil, err
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("stage %s: a dry-run command is required", info.ID)
	}
	return &driftStage{info: info, argv: argv}, nil
}

func (s *driftStage) Info() Info { return s.info }

func (s *driftStage) Run(ctx context.Context, sc *Context) (Result, error) {
	execution, err := runLegCommand(ctx, sc, s.argv, nil)
	if err != nil {
		return Result{Status: StatusFailed}, err
	}
	// The verdict comes from the output match, not the tool's exit code:
	// some generator versions exit non-zero in dry-run mode even when
	// nothing is pending.
	if bytes.Contains(execution.Stdout, []byte(NoDriftMarker)) ||
		bytes.Contains(execution.Stderr, []byte(NoDriftMarker)) {
		return Result{Status: StatusOK, Message: NoDriftMarker}, nil
	}
	sc.Logf("drift-check: dry run reported pending migrations")
	return Result{Status: StatusFailed, Message: DriftMessage}, nil
}
