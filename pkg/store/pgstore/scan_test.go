package pgstore

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	id := uuid.MustParse("11111111-1111-4111-8111-111111111111")
	tests := []struct {
		name string
		in   any
		want any
	}{
		{"int32", int32(7), int64(7)},
		{"float32", float32(0.5), float64(0.5)},
		{"uuid", [16]byte(id), id.String()},
		{"decimal", pgtype.Numeric{Int: big.NewInt(1234567890123456789), Exp: -2, Valid: true}, json.Number("12345678901234567.89")},
		{"small decimal", pgtype.Numeric{Int: big.NewInt(1), Exp: -20, Valid: true}, json.Number("0.00000000000000000001")},
		{"null decimal", pgtype.Numeric{}, nil},
		{"nan", pgtype.Numeric{NaN: true, Valid: true}, "NaN"},
		{"infinity", pgtype.Numeric{InfinityModifier: pgtype.Infinity, Valid: true}, "Infinity"},
		{"negative infinity", pgtype.Numeric{InfinityModifier: pgtype.NegativeInfinity, Valid: true}, "-Infinity"},
		{"text", "abc", "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalize(tt.in))
		})
	}
}
