package rest

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePrefer(t *testing.T) {
	tests := []struct {
		name    string
		headers []string
		want    *Prefer
	}{
		{"absent", nil, nil},
		{"minimal", []string{"return=minimal"}, &Prefer{Return: "minimal"}},
		{"both", []string{"return=representation, count=exact"}, &Prefer{Return: "representation", Count: "exact"}},
		{"quoted upper case", []string{`Count="EXACT"`}, &Prefer{Count: "exact"}},
		{"unsupported values", []string{"return=headers-only, count=planned"}, &Prefer{}},
		{"no value", []string{"respond-async"}, &Prefer{}},
		{"parameters dropped", []string{"return=minimal; foo=bar"}, &Prefer{Return: "minimal"}},
		{"first instance wins", []string{"return=minimal, return=representation"}, &Prefer{Return: "minimal"}},
		{"several headers", []string{"count=exact", "return=minimal"}, &Prefer{Return: "minimal", Count: "exact"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			for _, h := range tt.headers {
				r.Header.Add("Prefer", h)
			}
			got := parsePrefer(r)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want != nil && tt.want.Return == "minimal", got.WantsMinimal())
			assert.Equal(t, tt.want != nil && tt.want.Count == "exact", got.WantsCountExact())
		})
	}
}

func TestContentRange(t *testing.T) {
	assert.Equal(t, "0-24/3573", contentRange(0, 25, 3573))
	assert.Equal(t, "10-10/11", contentRange(10, 1, 11))
	assert.Equal(t, "*/0", contentRange(0, 0, 0))
}
