package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/felixgeelhaar/dispatch/internal/errors"
	"github.com/felixgeelhaar/dispatch/internal/eval"
	"github.com/felixgeelhaar/dispatch/internal/finding"
)

// ErrChainBroken reports a gap, reordering or modification in a request's
// events.
var ErrChainBroken = errors.New(errors.ErrCodeAuditChainBroken, "audit chain broken")

// Replay is a run reconstructed from its audit events.
type Replay struct {
	RequestID   string
	Events      []Event
	Plan        *PlanPayload
	Findings    []finding.Finding
	Evaluations []eval.Report
	// Recorded is the aggregate written at the end of the run, nil if the
	// run never reached aggregation.
	Recorded *finding.Aggregate
	// Recomputed is derived from the plan and findings alone.
	Recomputed finding.Aggregate
	// Consistent reports whether Recorded and Recomputed agree.
	Consistent bool
}

// Verify checks that events form an intact chain starting at seq 1.
func Verify(events []Event) error {
	prev := ""
	for i, e := range events {
		if e.Seq != int64(i+1) {
			return fmt.Errorf("%w: expected seq %d, found %d", ErrChainBroken, i+1, e.Seq)
		}
		if e.PrevHash != prev {
			return fmt.Errorf("%w: seq %d does not follow its predecessor", ErrChainBroken, e.Seq)
		}
		hash, err := e.ComputeHash()
		if err != nil {
			return err
		}
		if hash != e.Hash {
			return fmt.Errorf("%w: seq %d was modified", ErrChainBroken, e.Seq)
		}
		prev = e.Hash
	}
	return nil
}

// ReplayRun reads, verifies and reconstructs the run requestID.
func ReplayRun(ctx context.Context, r Reader, requestID string) (*Replay, error) {
	events, err := r.Events(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if err := Verify(events); err != nil {
		return nil, err
	}

	rep := &Replay{RequestID: requestID, Events: events}
	store := finding.NewStore()
	runErr := ""

	for _, e := range events {
		switch e.Type {
		case EventPlan:
			p, err := DecodePayload[PlanPayload](e)
			if err != nil {
				return nil, err
			}
			rep.Plan = &p
		case EventValidation:
			p, err := DecodePayload[ValidationPayload](e)
			if err != nil {
				return nil, err
			}
			if err := store.Put(p.Finding); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrChainBroken, err)
			}
			rep.Findings = append(rep.Findings, p.Finding)
		case EventEvaluation:
			report, err := DecodePayload[eval.Report](e)
			if err != nil {
				return nil, err
			}
			rep.Evaluations = append(rep.Evaluations, report)
		case EventError:
			if e.TaskName == "" {
				p, err := DecodePayload[ErrorPayload](e)
				if err != nil {
					return nil, err
				}
				runErr = p.Message
			}
		case EventAggregate:
			p, err := DecodePayload[AggregatePayload](e)
			if err != nil {
				return nil, err
			}
			rep.Recorded = &p.Aggregate
		}
	}

	if rep.Plan == nil {
		// Rejected plans leave a single run-level error event.
		rep.Recomputed = finding.NewFailedToStart(requestID, fmt.Errorf("%s", runErr))
		rep.Consistent = len(events) == 1 && events[0].Type == EventError
		return rep, nil
	}

	rep.Recomputed = finding.NewAggregate(requestID, rep.Plan.PlanHash, rep.Plan.Layers, store, runErr)
	if rep.Recorded != nil {
		rep.Consistent, err = sameJSON(*rep.Recorded, rep.Recomputed)
		if err != nil {
			return nil, err
		}
	}
	return rep, nil
}

func sameJSON(a, b any) (bool, error) {
	x, err := json.Marshal(a)
	if err != nil {
		return false, err
	}
	y, err := json.Marshal(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(x, y), nil
}
