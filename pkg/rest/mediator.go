package rest

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/edgeflare/pgcrud/pkg/access"
	"github.com/edgeflare/pgcrud/pkg/apierr"
	"github.com/edgeflare/pgcrud/pkg/events"
	"github.com/edgeflare/pgcrud/pkg/httputil"
	"github.com/edgeflare/pgcrud/pkg/model"
	"github.com/edgeflare/pgcrud/pkg/query"
	"github.com/edgeflare/pgcrud/pkg/resource"
	"github.com/edgeflare/pgcrud/pkg/store"
	"github.com/edgeflare/pgcrud/pkg/transfer"
	"go.uber.org/zap"
)

// mediator performs object lookups and writes on behalf of route handlers.
// Every lookup is confined to the caller's tenant and to the parent objects
// named in the request path; anything outside is reported as not found.
type mediator struct {
	store     store.Store
	publisher events.Publisher
	logger    *zap.Logger
}

func tenantOf(acc *access.Access) string {
	if acc == nil {
		return ""
	}
	return acc.TenantID
}

// scope returns the predicate confining res to the caller's tenant and to the
// parent object of the path.
func (m *mediator) scope(ctx context.Context, res *resource.Resource, args httputil.Args) (query.Predicate, error) {
	mdl := res.Model()
	var ps []query.Predicate
	if res.TenantScoped() {
		ps = append(ps, query.Where(query.MustResolve(mdl, model.TenantField), query.Exact, tenantOf(args.Access())))
	}
	if parent := res.Parent(); parent != nil {
		key, err := m.parentKey(ctx, res, args)
		if err != nil {
			return query.Predicate{}, err
		}
		ps = append(ps, query.Where(query.MustResolve(mdl, res.ParentField().Name), query.Exact, key))
	}
	return query.And(ps...), nil
}

// parentKey resolves the parent object of res named in the path and returns
// its primary key.
func (m *mediator) parentKey(ctx context.Context, res *resource.Resource, args httputil.Args) (any, error) {
	parent := res.Parent()
	obj, err := m.object(ctx, parent, args)
	if err != nil {
		return nil, err
	}
	return obj.Get(parent.Model().PrimaryKey().Name), nil
}

// object loads the object of res named by its id path parameter.
func (m *mediator) object(ctx context.Context, res *resource.Resource, args httputil.Args) (*store.Record, error) {
	where, err := m.scope(ctx, res, args)
	if err != nil {
		return nil, err
	}
	mdl := res.Model()
	id := args[res.IDField()]
	recs, err := m.store.Find(ctx, query.Select{
		Model: mdl,
		Where: query.And(where, query.Where(query.MustResolve(mdl, mdl.PrimaryKey().Name), query.Exact, id)),
		Limit: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", res.Name(), err)
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%s %v: %w", res.Name(), id, apierr.ErrNotFound)
	}
	return recs[0], nil
}

// hydrate loads the sub-objects and many-to-many keys s renders.
func (m *mediator) hydrate(ctx context.Context, s *resource.Schema, mdl *model.Model, recs ...*store.Record) error {
	if len(recs) == 0 {
		return nil
	}
	pk := mdl.PrimaryKey().Name
	for _, sf := range s.Fields {
		f, ok := mdl.Field(sf.Name)
		if !ok {
			continue
		}
		switch {
		case sf.Object != nil && f.Relation == model.RelationOneToMany:
			target, rev := f.Related(), f.Reverse()
			for _, rec := range recs {
				sel := query.Page{}.Apply(query.Select{
					Model: target,
					Where: query.Where(query.MustResolve(target, rev.Name), query.Exact, rec.Get(pk)),
				})
				subs, err := m.store.Find(ctx, sel)
				if err != nil {
					return fmt.Errorf("load %s.%s: %w", mdl.Name, sf.Name, err)
				}
				if err := m.hydrate(ctx, sf.Object, target, subs...); err != nil {
					return err
				}
				rec.SetRelated(sf.Name, subs)
			}
		case sf.List && f.Relation == model.RelationManyToMany:
			for _, rec := range recs {
				keys, err := m.store.LinkedKeys(ctx, f, rec.Get(pk))
				if err != nil {
					return fmt.Errorf("load %s.%s: %w", mdl.Name, sf.Name, err)
				}
				rec.SetLinks(sf.Name, keys)
			}
		}
	}
	return nil
}

// create stores a new object of res under the parent named in the path. The
// tenant and the parent key are taken from the request, never from the
// payload.
func (m *mediator) create(ctx context.Context, res *resource.Resource, args httputil.Args, p resource.Payload) (*store.Record, error) {
	mdl := res.Model()
	acc := args.Access()
	rec := store.NewRecord()
	if err := transfer.Transfer(res.Config().Create, mdl, p, rec, transfer.Create, false, acc); err != nil {
		return nil, err
	}
	if res.TenantScoped() {
		rec.Set(model.TenantField, tenantOf(acc))
	}
	if res.Parent() != nil {
		key, err := m.parentKey(ctx, res, args)
		if err != nil {
			return nil, err
		}
		rec.Set(res.ParentField().Name, key)
	}
	if err := m.checkRefs(ctx, mdl, rec, fixedKeys(res, rec), tenantOf(acc)); err != nil {
		return nil, err
	}

	if err := m.store.Insert(ctx, mdl, rec); err != nil {
		return nil, fmt.Errorf("insert %s: %w", res.Name(), err)
	}
	m.publish(ctx, res, acc, events.OpCreate, nil, rec.Values)
	return rec, nil
}

// update applies p to the object named in the path. Patch transfers scalar
// fields that were sent; put synchronizes every field of the update schema
// including sub-objects. The object stays under the parent named in the path.
func (m *mediator) update(ctx context.Context, res *resource.Resource, args httputil.Args, p resource.Payload, mode transfer.Mode) (*store.Record, error) {
	obj, err := m.object(ctx, res, args)
	if err != nil {
		return nil, err
	}
	before := maps.Clone(obj.Values)
	acc := args.Access()
	if err := transfer.Transfer(res.Config().Update, res.Model(), p, obj, mode, mode == transfer.NoSubobjects, acc); err != nil {
		return nil, err
	}
	if pf := res.ParentField(); pf != nil {
		obj.Set(pf.Name, before[pf.Name])
	}
	if err := m.checkRefs(ctx, res.Model(), obj, before, tenantOf(acc)); err != nil {
		return nil, err
	}
	if err := m.save(ctx, res, obj); err != nil {
		return nil, err
	}
	m.publish(ctx, res, acc, events.OpUpdate, before, obj.Values)
	return obj, nil
}

// delete removes the object named in the path, or sets its status to the
// resource's delete status.
func (m *mediator) delete(ctx context.Context, res *resource.Resource, args httputil.Args) error {
	obj, err := m.object(ctx, res, args)
	if err != nil {
		return err
	}
	before := maps.Clone(obj.Values)
	acc := args.Access()
	cfg := res.Config()

	if cfg.DeleteStatus != "" {
		obj.Set(cfg.StatusField, cfg.DeleteStatus)
		if err := m.save(ctx, res, obj); err != nil {
			return err
		}
		m.publish(ctx, res, acc, events.OpUpdate, before, obj.Values)
		return nil
	}

	if err := m.store.Delete(ctx, res.Model(), obj); err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return fmt.Errorf("delete %s: %w", res.Name(), apierr.ErrNotFound)
		}
		return fmt.Errorf("delete %s: %w", res.Name(), err)
	}
	m.publish(ctx, res, acc, events.OpDelete, before, nil)
	return nil
}

// fixedKeys returns the keys of rec set from the request path rather than the
// payload.
func fixedKeys(res *resource.Resource, rec *store.Record) map[string]any {
	pf := res.ParentField()
	if pf == nil {
		return nil
	}
	return map[string]any{pf.Name: rec.Get(pf.Name)}
}

// checkRefs verifies that every many-to-one key and many-to-many link key set
// on rec, its sub-objects included, names an object of the caller's tenant.
// Many-to-one keys equal to their value in kept are not checked.
func (m *mediator) checkRefs(ctx context.Context, mdl *model.Model, rec *store.Record, kept map[string]any, tenant string) error {
	verr := &apierr.ValidationError{}
	if err := m.refs(ctx, mdl, rec, kept, tenant, []string{apierr.LocBody}, verr); err != nil {
		return err
	}
	return verr.Err()
}

func (m *mediator) refs(ctx context.Context, mdl *model.Model, rec *store.Record, kept map[string]any, tenant string, loc []string, verr *apierr.ValidationError) error {
	for _, f := range mdl.Fields {
		floc := append(slices.Clip(loc), f.Name)
		switch f.Relation {
		case model.RelationManyToOne:
			v := rec.Get(f.Name)
			if v == nil {
				continue
			}
			if old, ok := kept[f.Name]; ok && fmt.Sprint(old) == fmt.Sprint(v) {
				continue
			}
			if err := m.visible(ctx, f.Related(), []any{v}, tenant, floc, false, verr); err != nil {
				return err
			}
		case model.RelationManyToMany:
			if keys := rec.Links[f.Name]; len(keys) > 0 {
				if err := m.visible(ctx, f.Related(), keys, tenant, floc, true, verr); err != nil {
					return err
				}
			}
		case model.RelationOneToMany:
			rev := f.Reverse()
			for i, child := range rec.Related[f.Name] {
				var ckept map[string]any
				if rev != nil {
					ckept = map[string]any{rev.Name: child.Get(rev.Name)}
				}
				if err := m.refs(ctx, f.Related(), child, ckept, tenant, append(slices.Clip(floc), fmt.Sprint(i)), verr); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// visible adds a field error for every key not naming an object of target
// within the tenant. With indexed the location of a miss ends in its position.
func (m *mediator) visible(ctx context.Context, target *model.Model, keys []any, tenant string, loc []string, indexed bool, verr *apierr.ValidationError) error {
	pk := target.PrimaryKey().Name
	where := query.Where(query.MustResolve(target, pk), query.In, keys)
	if target.TenantField() != nil {
		where = query.And(query.Where(query.MustResolve(target, model.TenantField), query.Exact, tenant), where)
	}
	recs, err := m.store.Find(ctx, query.Select{Model: target, Where: where})
	if err != nil {
		return fmt.Errorf("find %s: %w", target.Name, err)
	}
	found := make(map[string]bool, len(recs))
	for _, r := range recs {
		found[fmt.Sprint(r.Get(pk))] = true
	}
	for i, k := range keys {
		if found[fmt.Sprint(k)] {
			continue
		}
		kloc := loc
		if indexed {
			kloc = append(slices.Clip(loc), fmt.Sprint(i))
		}
		verr.Add(kloc, fmt.Sprintf("%s %v does not exist", target.Name, k), "value_error.reference")
	}
	return nil
}

func (m *mediator) save(ctx context.Context, res *resource.Resource, obj *store.Record) error {
	if err := m.store.Update(ctx, res.Model(), obj); err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return fmt.Errorf("update %s: %w", res.Name(), apierr.ErrNotFound)
		}
		return fmt.Errorf("update %s: %w", res.Name(), err)
	}
	return nil
}

// publish emits a change event. Delivery failures are logged; the write has
// already been committed.
func (m *mediator) publish(ctx context.Context, res *resource.Resource, acc *access.Access, op events.Op, before, after map[string]any) {
	mdl := res.Model()
	src := events.Source{Resource: res.Path(), Schema: mdl.Schema, Table: mdl.Table}
	if acc != nil {
		src.TenantID, src.Subject = acc.TenantID, acc.Subject
	}
	if after != nil {
		after = maps.Clone(after)
	}
	if err := m.publisher.Publish(ctx, events.New(op, src, before, after)); err != nil {
		m.logger.Warn("change event not delivered", zap.String("resource", res.Path()), zap.String("op", string(op)), zap.Error(err))
	}
}
