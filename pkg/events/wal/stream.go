package wal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/edgeflare/pgcrud/pkg/events"
	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"
	"go.uber.org/zap"
)

// Connect opens a replication connection to the database of connString.
func Connect(ctx context.Context, connString string) (*pgconn.PgConn, error) {
	cfg, err := pgconn.ParseConfig(connString)
	if err != nil {
		return nil, err
	}
	cfg.RuntimeParams["replication"] = "database"
	return pgconn.ConnectConfig(ctx, cfg)
}

// Stream starts logical replication on conn and returns the decoded
// changes. The channel is closed when ctx is done or replication fails.
func Stream(ctx context.Context, conn *pgconn.PgConn, cfg Config, logger *zap.Logger) (<-chan events.Event, error) {
	if conn == nil {
		return nil, errors.New("nil connection")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid replication config: %w", err)
	}
	if err := setup(ctx, conn, cfg); err != nil {
		return nil, err
	}

	ch := make(chan events.Event, cfg.BufferSize)
	go receive(ctx, conn, cfg, newDecoder(logger), ch, logger)
	return ch, nil
}

// Relay publishes every event of ch until ch is closed. Publish errors are
// logged and do not stop the relay.
func Relay(ctx context.Context, ch <-chan events.Event, pub events.Publisher, logger *zap.Logger) {
	for e := range ch {
		if err := pub.Publish(ctx, e); err != nil {
			logger.Warn("publish replicated change", zap.String("table", e.Source.Table), zap.Error(err))
		}
	}
}

func setup(ctx context.Context, conn *pgconn.PgConn, cfg Config) error {
	ok, err := exists(ctx, conn, "SELECT EXISTS (SELECT 1 FROM pg_publication WHERE pubname = '"+cfg.Publication+"')")
	if err != nil {
		return err
	}
	if !ok {
		if _, err := conn.Exec(ctx, cfg.publicationSQL()).ReadAll(); err != nil {
			return fmt.Errorf("create publication: %w", err)
		}
	}

	ok, err = exists(ctx, conn, "SELECT EXISTS (SELECT 1 FROM pg_replication_slots WHERE slot_name = '"+cfg.Slot+"')")
	if err != nil {
		return err
	}
	if !ok {
		if _, err := pglogrepl.CreateReplicationSlot(ctx, conn, cfg.Slot, plugin, pglogrepl.CreateReplicationSlotOptions{}); err != nil {
			return fmt.Errorf("create replication slot: %w", err)
		}
	}

	// A zero position resumes from the slot's confirmed position.
	err = pglogrepl.StartReplication(ctx, conn, cfg.Slot, 0, pglogrepl.StartReplicationOptions{
		PluginArgs: []string{
			"proto_version '2'",
			fmt.Sprintf("publication_names '%s'", cfg.Publication),
			"streaming 'true'",
		},
	})
	if err != nil {
		return fmt.Errorf("start replication: %w", err)
	}
	return nil
}

// exists runs a single-boolean query; replication connections only speak
// the simple protocol, so callers pass validated identifiers.
func exists(ctx context.Context, conn *pgconn.PgConn, sql string) (bool, error) {
	res, err := conn.Exec(ctx, sql).ReadAll()
	if err != nil {
		return false, fmt.Errorf("check exists: %w", err)
	}
	return len(res) > 0 && len(res[0].Rows) > 0 && string(res[0].Rows[0][0]) == "t", nil
}

func receive(ctx context.Context, conn *pgconn.PgConn, cfg Config, d *decoder, out chan<- events.Event, logger *zap.Logger) {
	defer close(out)
	var pos pglogrepl.LSN
	nextStandby := time.Now().Add(cfg.StandbyUpdateInterval)

	for {
		if time.Now().After(nextStandby) {
			if err := pglogrepl.SendStandbyStatusUpdate(ctx, conn, pglogrepl.StandbyStatusUpdate{WALWritePosition: pos}); err != nil {
				logger.Error("standby status update", zap.Error(err))
				return
			}
			nextStandby = time.Now().Add(cfg.StandbyUpdateInterval)
		}

		msgCtx, cancel := context.WithDeadline(ctx, nextStandby)
		msg, err := conn.ReceiveMessage(msgCtx)
		cancel()
		if err != nil {
			if pgconn.Timeout(err) {
				continue
			}
			if ctx.Err() == nil {
				logger.Error("receive replication message", zap.Error(err))
			}
			return
		}

		switch msg := msg.(type) {
		case *pgproto3.ErrorResponse:
			logger.Error("replication error", zap.String("message", msg.Message), zap.String("code", msg.Code))
			return
		case *pgproto3.CopyData:
			if len(msg.Data) == 0 {
				continue
			}
			switch msg.Data[0] {
			case pglogrepl.PrimaryKeepaliveMessageByteID:
				pkm, err := pglogrepl.ParsePrimaryKeepaliveMessage(msg.Data[1:])
				if err != nil {
					logger.Warn("parse keepalive", zap.Error(err))
					continue
				}
				if pkm.ServerWALEnd > pos {
					pos = pkm.ServerWALEnd
				}
				if pkm.ReplyRequested {
					nextStandby = time.Time{}
				}

			case pglogrepl.XLogDataByteID:
				xld, err := pglogrepl.ParseXLogData(msg.Data[1:])
				if err != nil {
					logger.Warn("parse xlog data", zap.Error(err))
					continue
				}
				evs, err := d.decode(xld.WALData)
				if err != nil {
					logger.Warn("decode wal data", zap.Error(err))
				}
				for _, e := range evs {
					select {
					case out <- e:
					case <-ctx.Done():
						return
					}
				}
				if end := xld.WALStart + pglogrepl.LSN(len(xld.WALData)); end > pos {
					pos = end
				}
			}
		}
	}
}
