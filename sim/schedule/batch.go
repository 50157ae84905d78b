package schedule

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/hydro-sim/hydro-sim/sim/lp"
	"github.com/hydro-sim/hydro-sim/sim/solver"
)

// runLockstep advances every active scenario one timestep at a time and
// solves each timestep as one batch. Resolution and compilation still run
// concurrently per scenario; only the solve is shared.
func (s *Scheduler) runLockstep(ctx context.Context, cancel context.CancelFunc, bs solver.BatchSolver, runs []*scenarioRun) {
	ctxs := make([]context.Context, len(runs))
	for i, r := range runs {
		ctxs[i] = r.begin(ctx)
	}
	defer func() {
		for _, r := range runs {
			r.end()
		}
	}()

	for _, ts := range s.cfg.Timesteps {
		var active []*scenarioRun
		for i, r := range runs {
			if r.state == Ready && !r.checkCancel(ctxs[i], ts) {
				active = append(active, r)
			}
		}
		if len(active) == 0 {
			return
		}

		var g errgroup.Group
		g.SetLimit(s.cfg.Workers)
		for _, r := range active {
			g.Go(func() error {
				r.prepare(ts)
				return nil
			})
		}
		_ = g.Wait()

		var solving []*scenarioRun
		var insts []*lp.Instance
		for _, r := range active {
			if r.state == Solving {
				solving = append(solving, r)
				insts = append(insts, r.inst)
			}
		}
		if len(solving) > 0 {
			bctx, span := otel.Tracer(tracerName).Start(ctx, "schedule.SolveBatch")
			span.SetAttributes(attribute.Int("timestep.index", ts.Index), attribute.Int("batch.size", len(insts)))
			start := time.Now()
			results, errs := bs.SolveBatch(bctx, insts)
			if rec := s.cfg.Recorder; rec != nil {
				rec.ObserveSolveCall(bs.Name(), time.Since(start))
			}
			span.End()
			for i, r := range solving {
				r.apply(ts, results[i], errs[i], true)
			}
		}

		if s.cfg.AbortOnFailure {
			for _, r := range active {
				if r.state == Failed {
					cancel()
					break
				}
			}
		}
	}
}
