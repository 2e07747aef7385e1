package wal

import (
	"fmt"

	"github.com/edgeflare/pgcrud/pkg/events"
	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"
)

// decoder keeps the relation metadata announced by the server and turns
// row messages into events.
type decoder struct {
	relations map[uint32]*pglogrepl.RelationMessageV2
	typeMap   *pgtype.Map
	inStream  bool
	logger    *zap.Logger
}

func newDecoder(logger *zap.Logger) *decoder {
	return &decoder{
		relations: make(map[uint32]*pglogrepl.RelationMessageV2),
		typeMap:   pgtype.NewMap(),
		logger:    logger,
	}
}

// decode parses one XLogData payload.
func (d *decoder) decode(walData []byte) ([]events.Event, error) {
	msg, err := pglogrepl.ParseV2(walData, d.inStream)
	if err != nil {
		return nil, fmt.Errorf("parse logical replication message: %w", err)
	}
	return d.handle(msg), nil
}

func (d *decoder) handle(msg pglogrepl.Message) []events.Event {
	switch msg := msg.(type) {
	case *pglogrepl.RelationMessageV2:
		d.relations[msg.RelationID] = msg

	case *pglogrepl.InsertMessageV2:
		if rel, ok := d.relation(msg.RelationID); ok {
			return []events.Event{events.New(events.OpCreate, source(rel), nil, d.tuple(rel, msg.Tuple))}
		}

	case *pglogrepl.UpdateMessageV2:
		if rel, ok := d.relation(msg.RelationID); ok {
			return []events.Event{events.New(events.OpUpdate, source(rel), d.tuple(rel, msg.OldTuple), d.tuple(rel, msg.NewTuple))}
		}

	case *pglogrepl.DeleteMessageV2:
		if rel, ok := d.relation(msg.RelationID); ok {
			return []events.Event{events.New(events.OpDelete, source(rel), d.tuple(rel, msg.OldTuple), nil)}
		}

	case *pglogrepl.TruncateMessageV2:
		var out []events.Event
		for _, id := range msg.RelationIDs {
			if rel, ok := d.relation(id); ok {
				out = append(out, events.New(events.OpTruncate, source(rel), nil, nil))
			}
		}
		return out

	case *pglogrepl.StreamStartMessageV2:
		d.inStream = true

	case *pglogrepl.StreamStopMessageV2:
		d.inStream = false
	}
	return nil
}

func (d *decoder) relation(id uint32) (*pglogrepl.RelationMessageV2, bool) {
	rel, ok := d.relations[id]
	if !ok {
		d.logger.Error("unknown relation", zap.Uint32("relation_id", id))
	}
	return rel, ok
}

// tuple decodes the columns of t; a nil tuple yields nil. Unchanged TOAST
// values are left out.
func (d *decoder) tuple(rel *pglogrepl.RelationMessageV2, t *pglogrepl.TupleData) map[string]any {
	if t == nil {
		return nil
	}
	row := make(map[string]any, len(t.Columns))
	for i, col := range t.Columns {
		if i >= len(rel.Columns) {
			break
		}
		rc := rel.Columns[i]
		switch col.DataType {
		case pglogrepl.TupleDataTypeNull:
			row[rc.Name] = nil
		case pglogrepl.TupleDataTypeText:
			row[rc.Name] = d.text(rc.DataType, col.Data)
		case pglogrepl.TupleDataTypeToast:
		default:
			d.logger.Warn("unsupported tuple data type", zap.String("column", rc.Name), zap.Uint8("type", col.DataType))
		}
	}
	return row
}

func (d *decoder) text(oid uint32, data []byte) any {
	dt, ok := d.typeMap.TypeForOID(oid)
	if !ok {
		return string(data)
	}
	v, err := dt.Codec.DecodeValue(d.typeMap, oid, pgtype.TextFormatCode, data)
	if err != nil {
		d.logger.Warn("decode column", zap.Uint32("oid", oid), zap.Error(err))
		return string(data)
	}
	return v
}

func source(rel *pglogrepl.RelationMessageV2) events.Source {
	return events.Source{Schema: rel.Namespace, Table: rel.RelationName}
}
