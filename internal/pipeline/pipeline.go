// Package pipeline drives a project run: validate, order, then for each entity
// extract, append, link and reshape, publishing results into a run-scoped store.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"shapeshifter/internal/dataset"
	"shapeshifter/internal/extract"
	"shapeshifter/internal/link"
	"shapeshifter/internal/merge"
	"shapeshifter/internal/model"
	"shapeshifter/internal/reshape"
	"shapeshifter/internal/resolve"
	"shapeshifter/internal/validate"
)

// Runner: оркестратор. Один прогон выполняется синхронно в одной горутине.
type Runner struct {
	Extractor      *extract.Extractor
	Logger         *zap.Logger
	SkipValidation bool
}

func New(x *extract.Extractor, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{Extractor: x, Logger: logger}
}

// Result: все разрешённые сущности прогона и порядок их обработки.
type Result struct {
	RunID  string                      `json:"run_id"`
	Order  []string                    `json:"order"`
	Tables map[string]*dataset.Dataset `json:"tables"`
}

type run struct {
	id    string
	p     *model.Project
	root  *dataset.Dataset
	store *dataset.Store
	log   *zap.Logger
}

func (r *Runner) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

// Validate проверяет проект с учётом зарегистрированных фильтров.
func (r *Runner) Validate(p *model.Project) *validate.Report {
	var filters []string
	if r.Extractor != nil && r.Extractor.Filters != nil {
		filters = r.Extractor.Filters.Names()
	}
	return validate.New(filters...).Validate(p)
}

// Run разрешает весь проект. Либо все сущности разрешены, либо возвращается *Error
// и ничего из прогона не публикуется.
func (r *Runner) Run(ctx context.Context, p *model.Project, root *dataset.Dataset) (*Result, error) {
	return r.execute(ctx, p, root, nil)
}

// Preview разрешает только entity и её предков.
func (r *Runner) Preview(ctx context.Context, p *model.Project, root *dataset.Dataset, entity string) (*dataset.Dataset, error) {
	res, err := r.execute(ctx, p, root, []string{entity})
	if err != nil {
		return nil, err
	}
	return res.Tables[entity], nil
}

func (r *Runner) execute(ctx context.Context, p *model.Project, root *dataset.Dataset, targets []string) (*Result, error) {
	rn := &run{
		id:    uuid.NewString(),
		p:     p,
		root:  root,
		store: dataset.NewStore(),
	}
	rn.log = r.logger().With(zap.String("run_id", rn.id))
	started := time.Now()

	if r.Extractor == nil {
		return nil, newError(rn.id, "", StageExtract, fmt.Errorf("no extractor configured"))
	}

	var (
		order []string
		err   error
	)
	if len(targets) == 0 {
		order, err = resolve.Order(p)
	} else {
		order, err = resolve.OrderFor(p, targets...)
	}

	if !r.SkipValidation {
		if verr := r.gate(rn, order, targets); verr != nil {
			return nil, verr
		}
	}
	if err != nil {
		rn.log.Error("resolve failed", zap.Error(err))
		return nil, newError(rn.id, "", StageResolve, err)
	}
	rn.log.Info("run started", zap.Int("entities", len(order)), zap.Strings("order", order))

	for _, name := range order {
		if err := ctx.Err(); err != nil {
			return nil, newError(rn.id, name, StageExtract, err)
		}
		e, _ := p.Entity(name)
		t := time.Now()
		ds, perr := r.entity(ctx, rn, e)
		if perr != nil {
			rn.log.Error("entity failed",
				zap.String("entity", name),
				zap.String("stage", string(perr.Stage)),
				zap.Error(perr.Err))
			return nil, perr
		}
		if err := rn.store.Put(name, ds); err != nil {
			return nil, newError(rn.id, name, StageExtract, err)
		}
		rn.log.Debug("entity resolved",
			zap.String("entity", name),
			zap.Int("rows", ds.Len()),
			zap.Int("columns", len(ds.Columns)),
			zap.Duration("took", time.Since(t)))
	}

	published := rn.store.Names()
	rn.log.Info("run finished", zap.Int("entities", len(published)), zap.Duration("took", time.Since(started)))
	return &Result{RunID: rn.id, Order: published, Tables: rn.store.Map()}, nil
}

// gate не пускает прогон при ошибках валидатора. В режиме превью учитываются только
// ошибки затронутых сущностей и общие (без сущности).
func (r *Runner) gate(rn *run, order, targets []string) error {
	report := r.Validate(rn.p)
	for _, w := range report.Warnings() {
		rn.log.Warn("validation warning", zap.String("issue", w.String()))
	}

	scope := map[string]bool{}
	for _, n := range order {
		scope[n] = true
	}
	blocking := &validate.Report{}
	for _, is := range report.Errors() {
		if len(targets) > 0 && is.Entity != "" && len(order) > 0 && !scope[is.Entity] {
			continue
		}
		blocking.Issues = append(blocking.Issues, is)
	}
	err := blocking.Err()
	if err == nil {
		return nil
	}
	issues := make([]string, len(blocking.Issues))
	for i, is := range blocking.Issues {
		issues[i] = is.String()
	}
	e := newError(rn.id, "", StageValidate,
		fmt.Errorf("project has %d validation error(s): %w", len(issues), err))
	e.Context = map[string]any{"issues": issues}
	return e
}

// entity: extract -> append -> surrogate id -> foreign keys -> unnest.
func (r *Runner) entity(ctx context.Context, rn *run, e *model.Entity) (*dataset.Dataset, *Error) {
	ds, err := r.Extractor.Extract(ctx, rn.p, e, rn.root, rn.store)
	if err != nil {
		return nil, newError(rn.id, e.Name, StageExtract, err)
	}

	if len(e.Append) > 0 {
		frags := make([]merge.Fragment, 0, len(e.Append))
		for i := range e.Append {
			fe := e.Fragment(i)
			if fe == nil {
				continue
			}
			fds, perr := r.fragment(ctx, rn, fe)
			if perr != nil {
				return nil, perr
			}
			frags = append(frags, merge.Fragment{Name: fe.Name, Data: fds})
		}
		if ds, err = merge.Merge(ds, frags, e.AppendMode); err != nil {
			return nil, newError(rn.id, e.Name, StageMerge, err)
		}
	}

	ds = ds.PrependIdentity(e.SurrogateID)

	if ds, err = r.link(rn, e, ds); err != nil {
		return nil, newError(rn.id, e.Name, StageLink, err)
	}

	if e.Unnest != nil {
		if ds, err = reshape.Melt(ds, *e.Unnest); err != nil {
			return nil, newError(rn.id, e.Name, StageReshape, err)
		}
	}
	return ds, nil
}

// fragment разрешается полностью, включая собственные foreign keys, до склейки.
func (r *Runner) fragment(ctx context.Context, rn *run, f *model.Entity) (*dataset.Dataset, *Error) {
	ds, err := r.Extractor.Extract(ctx, rn.p, f, rn.root, rn.store)
	if err != nil {
		return nil, newError(rn.id, f.Name, StageExtract, err)
	}
	if ds, err = r.link(rn, f, ds); err != nil {
		return nil, newError(rn.id, f.Name, StageLink, err)
	}
	return ds, nil
}

func (r *Runner) link(rn *run, e *model.Entity, ds *dataset.Dataset) (*dataset.Dataset, error) {
	for i, fk := range e.ForeignKeys {
		right, ok := rn.p.Entity(fk.Entity)
		if !ok {
			return nil, fmt.Errorf("foreign_keys[%d]: unknown entity %q", i, fk.Entity)
		}
		rds, ok := rn.store.Get(fk.Entity)
		if !ok {
			return nil, fmt.Errorf("foreign_keys[%d]: entity %q is not resolved", i, fk.Entity)
		}
		spec, err := link.SpecFor(e.Name, right, fk)
		if err != nil {
			return nil, fmt.Errorf("foreign_keys[%d]: %w", i, err)
		}
		out, stats, err := link.Link(ds, rds, spec)
		if err != nil {
			return nil, err
		}
		rn.log.Debug("linked",
			zap.String("entity", e.Name),
			zap.String("remote", fk.Entity),
			zap.String("how", string(spec.How)),
			zap.Int("rows_in", stats.LeftRows),
			zap.Int("rows_out", stats.OutputRows),
			zap.Float64("match_rate", stats.MatchRate))
		ds = out
	}
	return ds, nil
}
