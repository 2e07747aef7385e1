package wal

import (
	"testing"
	"time"

	"github.com/edgeflare/pgcrud/pkg/events"
	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestConfig(t *testing.T) {
	cfg := Config{Tables: []string{"invoice"}}.withDefaults()
	assert.Equal(t, "pgcrud_pub", cfg.Publication)
	assert.Equal(t, "pgcrud_slot", cfg.Slot)
	assert.Equal(t, 10*time.Second, cfg.StandbyUpdateInterval)
	require.NoError(t, cfg.validate())

	tests := []struct {
		name string
		cfg  Config
	}{
		{"no tables", Config{}},
		{"short interval", Config{Tables: []string{"invoice"}, StandbyUpdateInterval: time.Millisecond}},
		{"bad slot", Config{Tables: []string{"invoice"}, Slot: "x'; DROP"}},
		{"bad table", Config{Tables: []string{"public.Invoice"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.cfg.withDefaults().validate())
		})
	}
}

func TestPublicationSQL(t *testing.T) {
	tests := []struct {
		tables []string
		want   string
	}{
		{[]string{"invoice", "public.customer"}, "CREATE PUBLICATION p FOR TABLE invoice, public.customer"},
		{[]string{"billing.*"}, "CREATE PUBLICATION p FOR TABLES IN SCHEMA billing"},
		{[]string{"billing.*", "invoice"}, "CREATE PUBLICATION p FOR TABLES IN SCHEMA billing, TABLE invoice"},
		{[]string{"invoice", "*"}, "CREATE PUBLICATION p FOR ALL TABLES"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Config{Publication: "p", Tables: tt.tables}.publicationSQL())
	}
}

func relation() *pglogrepl.RelationMessageV2 {
	return &pglogrepl.RelationMessageV2{RelationMessage: pglogrepl.RelationMessage{
		RelationID:   7,
		Namespace:    "public",
		RelationName: "invoice",
		Columns: []*pglogrepl.RelationMessageColumn{
			{Name: "id", DataType: pgtype.Int8OID},
			{Name: "status", DataType: pgtype.TextOID},
			{Name: "note", DataType: pgtype.TextOID},
		},
	}}
}

func tuple(cols ...*pglogrepl.TupleDataColumn) *pglogrepl.TupleData {
	return &pglogrepl.TupleData{ColumnNum: uint16(len(cols)), Columns: cols}
}

func text(s string) *pglogrepl.TupleDataColumn {
	return &pglogrepl.TupleDataColumn{DataType: pglogrepl.TupleDataTypeText, Length: uint32(len(s)), Data: []byte(s)}
}

var (
	null  = &pglogrepl.TupleDataColumn{DataType: pglogrepl.TupleDataTypeNull}
	toast = &pglogrepl.TupleDataColumn{DataType: pglogrepl.TupleDataTypeToast}
)

func TestDecoder(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	d := newDecoder(zap.New(core))
	assert.Empty(t, d.handle(relation()))

	insert := d.handle(&pglogrepl.InsertMessageV2{InsertMessage: pglogrepl.InsertMessage{
		RelationID: 7,
		Tuple:      tuple(text("42"), text("draft"), null),
	}})
	require.Len(t, insert, 1)
	assert.Equal(t, events.OpCreate, insert[0].Op)
	assert.Equal(t, events.Source{Schema: "public", Table: "invoice"}, insert[0].Source)
	assert.Nil(t, insert[0].Before)
	assert.Equal(t, map[string]any{"id": int64(42), "status": "draft", "note": nil}, insert[0].After)
	assert.Equal(t, "pgcrud.public.invoice.c", insert[0].Topic("pgcrud", "."))

	update := d.handle(&pglogrepl.UpdateMessageV2{UpdateMessage: pglogrepl.UpdateMessage{
		RelationID: 7,
		OldTuple:   tuple(text("42"), text("draft"), null),
		NewTuple:   tuple(text("42"), text("sent"), toast),
	}})
	require.Len(t, update, 1)
	assert.Equal(t, events.OpUpdate, update[0].Op)
	assert.Equal(t, "draft", update[0].Before["status"])
	assert.Equal(t, map[string]any{"id": int64(42), "status": "sent"}, update[0].After, "unchanged toast values are omitted")

	del := d.handle(&pglogrepl.DeleteMessageV2{DeleteMessage: pglogrepl.DeleteMessage{
		RelationID: 7,
		OldTuple:   tuple(text("42")),
	}})
	require.Len(t, del, 1)
	assert.Equal(t, events.OpDelete, del[0].Op)
	assert.Equal(t, map[string]any{"id": int64(42)}, del[0].Before)
	assert.Nil(t, del[0].After)

	trunc := d.handle(&pglogrepl.TruncateMessageV2{TruncateMessage: pglogrepl.TruncateMessage{
		RelationNum: 2,
		RelationIDs: []uint32{7, 8},
	}})
	require.Len(t, trunc, 1)
	assert.Equal(t, events.OpTruncate, trunc[0].Op)

	assert.Empty(t, d.handle(&pglogrepl.InsertMessageV2{InsertMessage: pglogrepl.InsertMessage{RelationID: 99, Tuple: tuple()}}))
	assert.Equal(t, 2, logs.FilterMessage("unknown relation").Len())
}

func TestDecoderStreaming(t *testing.T) {
	d := newDecoder(zap.NewNop())
	d.handle(&pglogrepl.StreamStartMessageV2{})
	assert.True(t, d.inStream)
	d.handle(&pglogrepl.StreamStopMessageV2{})
	assert.False(t, d.inStream)

	_, err := d.decode([]byte{'?'})
	assert.Error(t, err)
}

func TestDecoderUnknownType(t *testing.T) {
	d := newDecoder(zap.NewNop())
	assert.Equal(t, "abc", d.text(999999, []byte("abc")))
	assert.Equal(t, "x", d.text(pgtype.Int8OID, []byte("x")), "undecodable values fall back to text")
}
