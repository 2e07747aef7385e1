package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/edgeflare/pgcrud/pkg/access"
	"github.com/edgeflare/pgcrud/pkg/apierr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type upper struct{}

func (upper) Decode(v any) (any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, apierr.NewValidationError([]string{apierr.LocBody}, "value is not a valid dict", "type_error.dict")
	}
	return strings.ToUpper(m["name"].(string)), nil
}

func TestBind(t *testing.T) {
	params := []Param{
		{Name: "customer_id", In: InPath, Type: TypeString, MinLength: 2, MaxLength: 2},
		{Name: "access", In: InAccess, Scopes: []string{"invoice:read"}},
		{Name: "status__in", In: InQuery, Type: TypeString, List: true, Enum: []string{"draft", "void"}},
		{Name: "total__gte", In: InQuery, Type: TypeNumber},
		{Name: "issued__gte", In: InQuery, Type: TypeDate},
		{Name: "paid", In: InQuery, Type: TypeBoolean},
		{Name: "limit", In: InQuery, Type: TypeInteger, Default: int64(50), Minimum: Int64(1), Maximum: Int64(100)},
	}
	acc := &access.Access{Subject: "u1", TenantID: "t1", Scopes: []string{"invoice:read"}}

	newRequest := func(target string, acc *access.Access) *http.Request {
		r := httptest.NewRequest(http.MethodGet, target, nil)
		r.SetPathValue("customer_id", "c1")
		if acc != nil {
			r = r.WithContext(access.NewContext(r.Context(), acc))
		}
		return r
	}

	t.Run("binds and converts", func(t *testing.T) {
		args, err := Bind(newRequest("/?status__in=draft,void&status__in=&total__gte=1.5&issued__gte=2024-01-31&paid=true", acc), params)
		require.NoError(t, err)
		assert.Equal(t, "c1", args.String("customer_id"))
		assert.Equal(t, []string{"draft", "void"}, args.Strings("status__in"))
		assert.Equal(t, 1.5, args["total__gte"])
		assert.Equal(t, time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), args["issued__gte"])
		assert.Equal(t, true, args["paid"])
		assert.Equal(t, 50, args.Int("limit"), "default applies")
		assert.Same(t, acc, args.Access())
	})

	t.Run("repeated list keys keep commas", func(t *testing.T) {
		search := []Param{{Name: "name__in", In: InQuery, Type: TypeString, List: true}}
		args, err := Bind(newRequest("/?name__in=Acme,+Inc&name__in=Beta", acc), search)
		require.NoError(t, err)
		assert.Equal(t, []string{"Acme, Inc", "Beta"}, args.Strings("name__in"))

		args, err = Bind(newRequest("/?name__in=Acme,+Inc", acc), search)
		require.NoError(t, err)
		assert.Equal(t, []string{"Acme", "Inc"}, args.Strings("name__in"), "a single value is split")
	})

	t.Run("empty list is absent", func(t *testing.T) {
		args, err := Bind(newRequest("/?status__in=", acc), params)
		require.NoError(t, err)
		assert.False(t, args.Has("status__in"))
	})

	t.Run("collects validation errors", func(t *testing.T) {
		_, err := Bind(newRequest("/?status__in=paid&total__gte=x&limit=1000", acc), params)
		var verr *apierr.ValidationError
		require.ErrorAs(t, err, &verr)
		require.Len(t, verr.Errors, 3)
		assert.Equal(t, []string{"query", "status__in", "0"}, verr.Errors[0].Loc)
		assert.Equal(t, "type_error.enum", verr.Errors[0].Type)
		assert.Equal(t, "type_error.float", verr.Errors[1].Type)
		assert.Equal(t, "value_error.number.not_le", verr.Errors[2].Type)
	})

	t.Run("authentication before validation", func(t *testing.T) {
		_, err := Bind(newRequest("/?limit=x", nil), params)
		assert.ErrorIs(t, err, apierr.ErrUnauthorized)

		_, err = Bind(newRequest("/", &access.Access{Subject: "u2"}), params)
		assert.ErrorIs(t, err, apierr.ErrForbidden)
	})

	t.Run("path length", func(t *testing.T) {
		r := newRequest("/", acc)
		r.SetPathValue("customer_id", "toolong")
		_, err := Bind(r, params)
		var verr *apierr.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "value_error.any_str.max_length", verr.Errors[0].Type)
	})
}

func TestBindBody(t *testing.T) {
	params := []Param{{Name: "data", In: InBody, Required: true, Body: upper{}}}

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name": "acme"}`))
	args, err := Bind(r, params)
	require.NoError(t, err)
	assert.Equal(t, "ACME", args["data"])

	for _, body := range []string{``, `{`, `[1]`} {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		_, err := Bind(r, params)
		var verr *apierr.ValidationError
		require.ErrorAs(t, err, &verr, body)
		assert.Equal(t, []string{"body"}, verr.Errors[0].Loc)
	}
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		err       error
		status    int
		errorCode string
		detail    int
		message   string
	}{
		{apierr.NewValidationError([]string{"path", "aggregation_function"}, "unsupported", "value_error"), 422, "", 1, "validation error"},
		{&apierr.PolicyError{Code: "create_multi_disabled"}, 422, "create_multi_disabled", 0, "create_multi_disabled"},
		{apierr.ErrNotFound, 404, "", 0, "Not Found"},
		{apierr.ErrUnauthorized, 401, "", 0, "authentication required"},
		{errors.New(`pgstore: find invoice: relation "invoice" does not exist`), 500, "", 0, "Internal Server Error"},
	}
	for _, tt := range tests {
		core, logs := observer.New(zap.ErrorLevel)
		w := httptest.NewRecorder()
		WriteError(w, httptest.NewRequest(http.MethodGet, "/invoice", nil), tt.err, zap.New(core))
		assert.Equal(t, tt.status, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, tt.status, resp.Code)
		assert.Equal(t, tt.errorCode, resp.ErrorCode)
		assert.Len(t, resp.Detail, tt.detail)
		assert.Equal(t, tt.message, resp.Message)

		if tt.status < http.StatusInternalServerError {
			assert.Zero(t, logs.Len())
			continue
		}
		assert.NotContains(t, w.Body.String(), "relation")
		entries := logs.FilterMessage("request failed").All()
		require.Len(t, entries, 1)
		assert.Equal(t, tt.err.Error(), entries[0].ContextMap()["error"])
		assert.Equal(t, "/invoice", entries[0].ContextMap()["path"])
	}
}
