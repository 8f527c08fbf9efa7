package models

import (
	"time"

	"github.com/floorbook/floorbook/internal/tablesrv/tablecommon"
)

/*
CREATE TABLE tenants (
  tenant_id VARCHAR(10) PRIMARY KEY,
  name VARCHAR(255) NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
*/

type Tenant struct {
	TenantID  tablecommon.TenantId `db:"tenant_id"`
	Name      string               `db:"name"`
	CreatedAt time.Time            `db:"created_at"`
}
