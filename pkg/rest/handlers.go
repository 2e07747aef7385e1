package rest

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/edgeflare/pgcrud/pkg/aggregate"
	"github.com/edgeflare/pgcrud/pkg/apierr"
	"github.com/edgeflare/pgcrud/pkg/httputil"
	"github.com/edgeflare/pgcrud/pkg/metrics"
	"github.com/edgeflare/pgcrud/pkg/query"
	"github.com/edgeflare/pgcrud/pkg/resource"
	"github.com/edgeflare/pgcrud/pkg/store"
	"github.com/edgeflare/pgcrud/pkg/transfer"
	"go.uber.org/zap"
)

// ListResponse is the body of a list route.
type ListResponse struct {
	Items []map[string]any `json:"items"`
}

// endpoint serves a request whose parameters are already bound. It writes
// the response on success and returns the status written.
type endpoint func(w http.ResponseWriter, r *http.Request, args httputil.Args) (int, error)

type handlers struct {
	m   *mediator
	res *resource.Resource
}

func endpointFor(m *mediator, logger *zap.Logger, rt Route) http.Handler {
	h := &handlers{m: m, res: rt.Resource}
	var ep endpoint
	switch rt.Op {
	case resource.OpList:
		ep = h.list
	case resource.OpAggregate:
		ep = h.aggregate
	case resource.OpCreate:
		ep = h.create
	case resource.OpRead:
		ep = h.read
	case resource.OpPatch:
		ep = h.patch
	case resource.OpPut:
		ep = h.put
	case resource.OpDelete:
		ep = h.delete
	}

	label := rt.Resource.Path()
	op := string(rt.Op)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		status, err := func() (int, error) {
			args, err := httputil.Bind(r, rt.Params)
			if err != nil {
				return 0, err
			}
			return ep(w, r, args)
		}()
		if err != nil {
			status = apierr.Status(err)
			httputil.WriteError(w, r, err, logger.With(zap.String("route", rt.String())))
		}
		metrics.RouteRequests.WithLabelValues(label, op, strconv.Itoa(status)).Inc()
		metrics.RouteDuration.WithLabelValues(label, op).Observe(time.Since(start).Seconds())
	})
}

func (h *handlers) cacheControl(w http.ResponseWriter) {
	if cc := h.res.Config().CacheControl; cc != "" {
		w.Header().Set("Cache-Control", cc)
	}
}

// ref returns the item path of the object with key id, with the ancestor ids
// taken from args.
func (h *handlers) ref(args httputil.Args, id any) string {
	var b strings.Builder
	for _, a := range h.res.Ancestors() {
		fmt.Fprintf(&b, "/%s/%s", a.Name(), url.PathEscape(fmt.Sprint(args[a.IDField()])))
	}
	fmt.Fprintf(&b, "/%s/%s", h.res.Name(), url.PathEscape(fmt.Sprint(id)))
	return b.String()
}

func (h *handlers) render(args httputil.Args, rec *store.Record) map[string]any {
	return h.res.ReadSchema().Render(rec, h.ref(args, rec.Get(h.res.Model().PrimaryKey().Name)))
}

func (h *handlers) list(w http.ResponseWriter, r *http.Request, args httputil.Args) (int, error) {
	ctx := r.Context()
	where, err := h.m.scope(ctx, h.res, args)
	if err != nil {
		return 0, err
	}
	page, err := h.res.Page(args)
	if err != nil {
		return 0, err
	}
	sel := query.Select{Model: h.res.Model(), Where: query.And(where, h.res.CompileSearch(args))}

	recs, err := h.m.store.Find(ctx, page.Apply(sel))
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", h.res.Name(), err)
	}
	if err := h.m.hydrate(ctx, h.res.ReadSchema(), h.res.Model(), recs...); err != nil {
		return 0, err
	}

	if parsePrefer(r).WantsCountExact() {
		total, err := h.m.store.Count(ctx, sel)
		if err != nil {
			return 0, fmt.Errorf("count %s: %w", h.res.Name(), err)
		}
		w.Header().Set("Content-Range", contentRange(page.Offset, len(recs), total))
		applied(w, "count=exact")
	}

	items := make([]map[string]any, len(recs))
	for i, rec := range recs {
		items[i] = h.render(args, rec)
	}
	h.cacheControl(w)
	httputil.JSON(w, http.StatusOK, ListResponse{Items: items})
	return http.StatusOK, nil
}

func (h *handlers) aggregate(w http.ResponseWriter, r *http.Request, args httputil.Args) (int, error) {
	ctx := r.Context()
	where, err := h.m.scope(ctx, h.res, args)
	if err != nil {
		return 0, err
	}
	page, err := h.res.Page(args)
	if err != nil {
		return 0, err
	}

	field, _ := h.res.Field(args.String(resource.ParamField))
	var groupBy []query.Expr
	for _, name := range args.Strings(resource.ParamGroupBy) {
		g, ok := h.res.Field(name)
		if !ok {
			return 0, apierr.NewValidationError([]string{apierr.LocQuery, resource.ParamGroupBy}, "unknown group key "+name, "type_error.enum")
		}
		groupBy = append(groupBy, g.Expr)
	}

	sel := query.Select{Model: h.res.Model(), Where: query.And(where, h.res.CompileSearch(args))}
	values, err := aggregate.Run(ctx, h.m.store, sel, query.AggFunc(args.String(resource.ParamAggFunction)), field.Expr, groupBy, page)
	if err != nil {
		return 0, err
	}
	h.cacheControl(w)
	httputil.JSON(w, http.StatusOK, aggregate.Response{Values: values})
	return http.StatusOK, nil
}

func (h *handlers) create(w http.ResponseWriter, r *http.Request, args httputil.Args) (int, error) {
	ctx := r.Context()
	p, _ := args[resource.ParamData].(resource.Payload)
	rec, err := h.m.create(ctx, h.res, args, p)
	if err != nil {
		return 0, err
	}
	ref := h.ref(args, rec.Get(h.res.Model().PrimaryKey().Name))
	w.Header().Set("Location", ref)
	return h.respond(w, r, args, rec, http.StatusCreated)
}

func (h *handlers) read(w http.ResponseWriter, r *http.Request, args httputil.Args) (int, error) {
	ctx := r.Context()
	obj, err := h.m.object(ctx, h.res, args)
	if err != nil {
		return 0, err
	}
	if err := h.m.hydrate(ctx, h.res.ReadSchema(), h.res.Model(), obj); err != nil {
		return 0, err
	}
	h.cacheControl(w)
	httputil.JSON(w, http.StatusOK, h.render(args, obj))
	return http.StatusOK, nil
}

func (h *handlers) patch(w http.ResponseWriter, r *http.Request, args httputil.Args) (int, error) {
	return h.update(w, r, args, transfer.NoSubobjects)
}

func (h *handlers) put(w http.ResponseWriter, r *http.Request, args httputil.Args) (int, error) {
	return h.update(w, r, args, transfer.Sync)
}

func (h *handlers) update(w http.ResponseWriter, r *http.Request, args httputil.Args, mode transfer.Mode) (int, error) {
	p, _ := args[resource.ParamData].(resource.Payload)
	obj, err := h.m.update(r.Context(), h.res, args, p, mode)
	if err != nil {
		return 0, err
	}
	return h.respond(w, r, args, obj, http.StatusOK)
}

// respond renders a written object, or only the status line when the client
// prefers a minimal response.
func (h *handlers) respond(w http.ResponseWriter, r *http.Request, args httputil.Args, rec *store.Record, status int) (int, error) {
	if parsePrefer(r).WantsMinimal() {
		applied(w, "return=minimal")
		if status == http.StatusOK {
			status = http.StatusNoContent
		}
		w.WriteHeader(status)
		return status, nil
	}
	if err := h.m.hydrate(r.Context(), h.res.ReadSchema(), h.res.Model(), rec); err != nil {
		return 0, err
	}
	httputil.JSON(w, status, h.render(args, rec))
	return status, nil
}

func (h *handlers) delete(w http.ResponseWriter, r *http.Request, args httputil.Args) (int, error) {
	if err := h.m.delete(r.Context(), h.res, args); err != nil {
		return 0, err
	}
	w.WriteHeader(http.StatusNoContent)
	return http.StatusNoContent, nil
}
