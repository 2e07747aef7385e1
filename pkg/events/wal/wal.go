// Package wal turns PostgreSQL logical replication into change events.
//
// It creates the publication and slot when missing, decodes pgoutput
// messages with github.com/jackc/pglogrepl and relays the changes to an
// events.Publisher. Changes made outside the API are captured too.
package wal

import (
	"cmp"
	"fmt"
	"strings"
	"time"
)

const (
	defaultStandbyUpdateInterval = 10 * time.Second
	defaultBufferSize            = 1000
	defaultPublication           = "pgcrud_pub"
	defaultSlot                  = "pgcrud_slot"
	plugin                       = "pgoutput"
)

// Config configures replication.
type Config struct {
	Publication string `mapstructure:"publication"`
	Slot        string `mapstructure:"slot"`
	// Tables to publish: "table", "schema.table", "schema.*", or "*" for
	// every table.
	Tables                []string      `mapstructure:"tables"`
	StandbyUpdateInterval time.Duration `mapstructure:"standbyUpdateInterval"`
	BufferSize            int           `mapstructure:"bufferSize"`
}

func (c Config) withDefaults() Config {
	c.Publication = cmp.Or(c.Publication, defaultPublication)
	c.Slot = cmp.Or(c.Slot, defaultSlot)
	c.StandbyUpdateInterval = cmp.Or(c.StandbyUpdateInterval, defaultStandbyUpdateInterval)
	c.BufferSize = cmp.Or(c.BufferSize, defaultBufferSize)
	return c
}

func (c Config) validate() error {
	if len(c.Tables) == 0 {
		return fmt.Errorf("no tables to publish")
	}
	if c.StandbyUpdateInterval < time.Second {
		return fmt.Errorf("standby update interval must be at least 1 second")
	}
	for _, name := range []string{c.Publication, c.Slot} {
		if !isIdent(name) {
			return fmt.Errorf("invalid identifier %q", name)
		}
	}
	for _, t := range c.Tables {
		for _, part := range strings.Split(t, ".") {
			if part != "*" && !isIdent(part) {
				return fmt.Errorf("invalid table %q", t)
			}
		}
	}
	return nil
}

// publicationSQL returns the CREATE PUBLICATION statement of c.
func (c Config) publicationSQL() string {
	var (
		schemas []string
		tables  []string
	)
	for _, p := range c.Tables {
		switch {
		case p == "*" || p == "*.*":
			return fmt.Sprintf("CREATE PUBLICATION %s FOR ALL TABLES", c.Publication)
		case strings.HasSuffix(p, ".*"):
			schemas = append(schemas, strings.TrimSuffix(p, ".*"))
		default:
			tables = append(tables, p)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE PUBLICATION %s FOR ", c.Publication)
	if len(schemas) > 0 {
		fmt.Fprintf(&b, "TABLES IN SCHEMA %s", strings.Join(schemas, ", "))
		if len(tables) > 0 {
			b.WriteString(", ")
		}
	}
	if len(tables) > 0 {
		fmt.Fprintf(&b, "TABLE %s", strings.Join(tables, ", "))
	}
	return b.String()
}

// isIdent reports whether s is a plain lower-case SQL identifier.
func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r == '_':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
