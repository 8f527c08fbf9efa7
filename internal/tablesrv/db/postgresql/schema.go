package postgresql

import (
	"context"
	_ "embed"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/floorbook/floorbook/internal/common/apperrors"
	"github.com/floorbook/floorbook/internal/tablesrv/db/dberror"
)

//go:embed schema.sql
var schemaSQL string

// SchemaStatements returns the DDL statements of the schema, in order.
func SchemaStatements() []string {
	var lines []string
	for _, line := range strings.Split(schemaSQL, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		lines = append(lines, line)
	}
	var out []string
	for _, stmt := range strings.Split(strings.Join(lines, "\n"), ";\n") {
		stmt = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(stmt), ";"))
		if stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

// ApplySchema creates or updates every relation and policy in one
// transaction.
func (cm *ConnectionManager) ApplySchema(ctx context.Context) (err apperrors.Error) {
	txm, err := cm.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			txm.Conn.Rollback(ctx)
		}
	}()

	for i, stmt := range SchemaStatements() {
		if _, errdb := txm.Conn.s.tx.ExecContext(ctx, stmt); errdb != nil {
			log.Ctx(ctx).Error().Err(errdb).Int("statement", i).Msg("failed to apply schema")
			return dberror.ErrDatabase.Err(errdb)
		}
	}
	return txm.Conn.Commit(ctx)
}
