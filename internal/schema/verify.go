package schema

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrVerification matches a DiscrepancyError.
var ErrVerification = errors.New("schema verification failed")

// DiscrepancyError wraps a non-empty discrepancy list.
type DiscrepancyError struct {
	Discrepancies []Discrepancy
}

func (e *DiscrepancyError) Error() string {
	parts := make([]string, 0, len(e.Discrepancies))
	for _, d := range e.Discrepancies {
		parts = append(parts, d.String())
	}
	return fmt.Sprintf("schema verification found %d discrepancies: %s",
		len(e.Discrepancies), strings.Join(parts, "; "))
}

func (e *DiscrepancyError) Is(target error) bool {
	return target == ErrVerification
}

// Result is the outcome of Verify.
type Result struct {
	Snapshot      Snapshot
	Discrepancies []Discrepancy
}

// Err returns a *DiscrepancyError when there are discrepancies, nil
// otherwise.
func (r Result) Err() error {
	if len(r.Discrepancies) == 0 {
		return nil
	}
	return &DiscrepancyError{Discrepancies: r.Discrepancies}
}

// Verify snapshots the tables named by expected and diffs them. The error is
// only set when the catalog could not be read; discrepancies are part of
// the result.
func (v *Verifier) Verify(ctx context.Context, expected Snapshot) (Result, error) {
	actual, err := v.Snapshot(ctx, expected.Tables())
	if err != nil {
		return Result{}, err
	}
	result := Result{Snapshot: actual, Discrepancies: Diff(expected, actual)}

	for _, d := range result.Discrepancies {
		v.logger.WarnContext(ctx, "schema discrepancy",
			"kind", d.Kind.String(),
			"table", d.Table,
			"column", d.Column,
			"expected", d.Expected,
			"actual", d.Actual,
		)
	}
	v.logger.InfoContext(ctx, "schema verified",
		"tables", len(expected),
		"discrepancies", len(result.Discrepancies),
	)
	return result, nil
}
