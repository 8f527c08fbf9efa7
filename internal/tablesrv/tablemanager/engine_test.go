package tablemanager

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floorbook/floorbook/internal/common/uuid"
	"github.com/floorbook/floorbook/internal/tablesrv/blobstore"
	"github.com/floorbook/floorbook/internal/tablesrv/cellvalue"
	"github.com/floorbook/floorbook/internal/tablesrv/db/dberror"
	"github.com/floorbook/floorbook/internal/tablesrv/db/models"
	"github.com/floorbook/floorbook/internal/tablesrv/tablecommon"
)

const (
	tenantA tablecommon.TenantId = "TACME01"
	tenantB tablecommon.TenantId = "TBETA02"
)

var (
	alice = tablecommon.Actor{TenantID: tenantA, UserID: "UALICE1"}
	bob   = tablecommon.Actor{TenantID: tenantA, UserID: "UBOB002"}
	carol = tablecommon.Actor{TenantID: tenantA, UserID: "UCAROL3"}
	mallo = tablecommon.Actor{TenantID: tenantB, UserID: "UMALLO4"}
)

type testEnv struct {
	ctx   context.Context
	e     *Engine
	store *fakeStore
	blobs *blobstore.MemoryStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := newFakeStore()
	store.addTenant(tenantA)
	store.addTenant(tenantB)
	blobs := blobstore.NewMemoryStore()
	env := &testEnv{
		ctx:   context.Background(),
		e:     New(WithConnector(store.connect), WithBlobStore(blobs), WithMaxBulkRows(100)),
		store: store,
		blobs: blobs,
	}
	t.Cleanup(func() {
		assert.Equal(t, store.opened, store.closed, "every connection must be released")
	})
	return env
}

// newTab creates a table owned by actor with one tab holding cols and
// returns the tab snapshot.
func (env *testEnv) newTab(t *testing.T, actor tablecommon.Actor, cols ...ColumnSpec) (*models.Table, *TabSnapshot) {
	t.Helper()
	table, err := env.e.CreateTable(env.ctx, actor, &CreateTableRequest{
		Name: "Warehouse",
		Tabs: []TabSpec{{Name: "Intake", Columns: cols}},
	})
	require.NoError(t, err)
	detail, err := env.e.GetTableDetail(env.ctx, actor, table.TableID)
	require.NoError(t, err)
	require.Len(t, detail.Tabs, 1)
	return table, &detail.Tabs[0]
}

func (env *testEnv) snapshot(t *testing.T, actor tablecommon.Actor, tabID uuid.UUID) *TabSnapshot {
	t.Helper()
	snap, err := env.e.GetTabSnapshot(env.ctx, actor, tabID)
	require.NoError(t, err)
	return snap
}

func columnIDs(snap *TabSnapshot) []uuid.UUID {
	ids := make([]uuid.UUID, len(snap.Columns))
	for i := range snap.Columns {
		ids[i] = snap.Columns[i].ColumnID
	}
	return ids
}

func TestCreateTable(t *testing.T) {
	t.Run("creates tabs, columns and creator share", func(t *testing.T) {
		env := newTestEnv(t)
		table, err := env.e.CreateTable(env.ctx, alice, &CreateTableRequest{
			Name: "  Warehouse ",
			Tabs: []TabSpec{
				{Name: "Intake", Columns: []ColumnSpec{
					{Name: "SKU", Kind: cellvalue.KindSKU},
					{Name: "Qty", Kind: cellvalue.KindNumber},
				}},
				{Name: "Outgoing"},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, "Warehouse", table.Name)
		assert.Equal(t, alice.UserID, table.CreatedBy)

		detail, err := env.e.GetTableDetail(env.ctx, alice, table.TableID)
		require.NoError(t, err)
		require.Len(t, detail.Tabs, 2)
		assert.Equal(t, "Intake", detail.Tabs[0].Name)
		assert.Equal(t, 0, detail.Tabs[0].TabIndex)
		assert.Equal(t, "Outgoing", detail.Tabs[1].Name)
		assert.Equal(t, 1, detail.Tabs[1].TabIndex)
		require.Len(t, detail.Tabs[0].Columns, 2)
		assert.Equal(t, "SKU", detail.Tabs[0].Columns[0].Name)
		assert.Equal(t, "Qty", detail.Tabs[0].Columns[1].Name)
		require.Len(t, detail.Shares, 1)
		assert.Equal(t, alice.UserID, detail.Shares[0].UserID)
	})

	t.Run("rows go through the bulk path", func(t *testing.T) {
		env := newTestEnv(t)
		table, err := env.e.CreateTable(env.ctx, alice, &CreateTableRequest{
			Name: "Warehouse",
			Tabs: []TabSpec{{
				Name:    "Intake",
				Columns: []ColumnSpec{{Name: "SKU", Kind: cellvalue.KindSKU}, {Name: "Qty", Kind: cellvalue.KindNumber}},
				Rows:    [][]any{{"SKU1", "10"}, {"SKU2", 7}, {"SKU3", "n/a"}},
			}},
		})
		require.NoError(t, err)
		assert.Equal(t, 1, env.store.callCount("BulkCreateRecords"))
		assert.Equal(t, 1, env.store.callCount("BulkInsertCells"))
		assert.Equal(t, 0, env.store.callCount("UpsertCell"))

		detail, err := env.e.GetTableDetail(env.ctx, alice, table.TableID)
		require.NoError(t, err)
		snap := detail.Tabs[0]
		assert.Equal(t, []any{"SKU1", "SKU2", "SKU3"}, snap.Column("SKU").Values)
		assert.Equal(t, []any{10.0, 7.0, nil}, snap.Column("Qty").Values)
	})

	t.Run("names are NFC normalized", func(t *testing.T) {
		env := newTestEnv(t)
		table, err := env.e.CreateTable(env.ctx, alice, &CreateTableRequest{Name: "Cafe\u0301"})
		require.NoError(t, err)
		assert.Equal(t, "Caf\u00e9", table.Name)
	})

	t.Run("validation", func(t *testing.T) {
		tests := []struct {
			name string
			req  *CreateTableRequest
		}{
			{"nil request", nil},
			{"blank name", &CreateTableRequest{Name: "   "}},
			{"blank tab name", &CreateTableRequest{Name: "T", Tabs: []TabSpec{{Name: ""}}}},
			{"unknown kind", &CreateTableRequest{Name: "T", Tabs: []TabSpec{{
				Name: "Tab", Columns: []ColumnSpec{{Name: "Colour", Kind: "colour"}},
			}}}},
			{"ragged rows", &CreateTableRequest{Name: "T", Tabs: []TabSpec{{
				Name:    "Tab",
				Columns: []ColumnSpec{{Name: "A", Kind: cellvalue.KindText}},
				Rows:    [][]any{{"x"}, {"y", "z"}},
			}}}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				env := newTestEnv(t)
				_, err := env.e.CreateTable(env.ctx, alice, tt.req)
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrValidation)
				assert.Equal(t, 0, env.store.callCount("CreateTable"))
			})
		}
	})

	t.Run("too many rows", func(t *testing.T) {
		env := newTestEnv(t)
		rows := make([][]any, 101)
		for i := range rows {
			rows[i] = []any{i}
		}
		_, err := env.e.CreateTable(env.ctx, alice, &CreateTableRequest{Name: "T", Tabs: []TabSpec{{
			Name: "Tab", Columns: []ColumnSpec{{Name: "N", Kind: cellvalue.KindNumber}}, Rows: rows,
		}}})
		assert.ErrorIs(t, err, ErrTooManyRows)
	})

	t.Run("failure rolls everything back", func(t *testing.T) {
		env := newTestEnv(t)
		env.store.failOn("BulkInsertCells", dberror.ErrDatabase)
		_, err := env.e.CreateTable(env.ctx, alice, &CreateTableRequest{Name: "T", Tabs: []TabSpec{{
			Name: "Tab", Columns: []ColumnSpec{{Name: "N", Kind: cellvalue.KindNumber}}, Rows: [][]any{{1}, {2}},
		}}})
		assert.ErrorIs(t, err, ErrStorage)
		assert.ErrorIs(t, err, dberror.ErrDatabase)
		assert.Equal(t, 0, env.store.tableCount())
		assert.Equal(t, 0, env.store.recordCount())
		assert.Equal(t, 0, env.store.shareCount())

		tables, err := env.e.ListTables(env.ctx, alice)
		require.NoError(t, err)
		assert.Empty(t, tables)
	})

	t.Run("actor is required", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.e.CreateTable(env.ctx, tablecommon.Actor{TenantID: tenantA}, &CreateTableRequest{Name: "T"})
		assert.ErrorIs(t, err, ErrInvalidActor)
		assert.Equal(t, 0, env.store.opened)
	})
}

func TestCreateTabIndexNotReused(t *testing.T) {
	env := newTestEnv(t)
	table, first := env.newTab(t, alice)
	assert.Equal(t, 0, first.TabIndex)

	second, err := env.e.CreateTab(env.ctx, alice, table.TableID, &TabSpec{Name: "Outgoing"})
	require.NoError(t, err)
	assert.Equal(t, 1, second.TabIndex)

	ok, err := env.e.DeleteTab(env.ctx, alice, second.TabID)
	require.NoError(t, err)
	assert.True(t, ok)

	third, err := env.e.CreateTab(env.ctx, alice, table.TableID, &TabSpec{
		Name:    "Returns",
		Columns: []ColumnSpec{{Name: "Reason", Kind: cellvalue.KindLongText}},
		Rows:    [][]any{{"damaged"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, third.TabIndex)
	assert.Equal(t, []any{"damaged"}, env.snapshot(t, alice, third.TabID).Column("Reason").Values)

	_, err = env.e.CreateTab(env.ctx, alice, uuid.New(), &TabSpec{Name: "Lost"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateAndRenameColumn(t *testing.T) {
	env := newTestEnv(t)
	_, tab := env.newTab(t, alice, ColumnSpec{Name: "SKU", Kind: cellvalue.KindSKU})

	col, err := env.e.CreateColumn(env.ctx, alice, tab.TabID, ColumnSpec{Name: "Lot", Kind: cellvalue.KindLotNumber})
	require.NoError(t, err)
	assert.Equal(t, cellvalue.KindLotNumber, col.Kind)

	_, err = env.e.CreateColumn(env.ctx, alice, tab.TabID, ColumnSpec{Name: "Bad", Kind: "colour"})
	assert.ErrorIs(t, err, ErrValidation)

	renamed, err := env.e.RenameColumn(env.ctx, alice, col.ColumnID, " Lot number ")
	require.NoError(t, err)
	assert.Equal(t, "Lot number", renamed.Name)
	assert.Equal(t, cellvalue.KindLotNumber, renamed.Kind)

	snap := env.snapshot(t, alice, tab.TabID)
	require.Len(t, snap.Columns, 2)
	assert.Equal(t, "SKU", snap.Columns[0].Name)
	assert.Equal(t, "Lot number", snap.Columns[1].Name)
}

func TestRename(t *testing.T) {
	env := newTestEnv(t)
	table, tab := env.newTab(t, alice)

	renamed, err := env.e.RenameTable(env.ctx, alice, table.TableID, "Stores")
	require.NoError(t, err)
	assert.Equal(t, "Stores", renamed.Name)

	renamedTab, err := env.e.RenameTab(env.ctx, alice, tab.TabID, "Inbound")
	require.NoError(t, err)
	assert.Equal(t, "Inbound", renamedTab.Name)

	got, err := env.e.GetTable(env.ctx, alice, table.TableID)
	require.NoError(t, err)
	assert.Equal(t, "Stores", got.Name)

	_, err = env.e.RenameTable(env.ctx, alice, table.TableID, " \t")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = env.e.RenameTable(env.ctx, alice, uuid.New(), "Ghost")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = env.e.RenameTab(env.ctx, alice, uuid.New(), "Ghost")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = env.e.RenameColumn(env.ctx, alice, uuid.New(), "Ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTenantIsolation(t *testing.T) {
	env := newTestEnv(t)
	table, tab := env.newTab(t, alice, ColumnSpec{Name: "Qty", Kind: cellvalue.KindNumber})
	qty := tab.Columns[0].ColumnID
	cell, err := env.e.WriteCell(env.ctx, alice, tab.TabID, qty, uuid.Nil, 3)
	require.NoError(t, err)

	// same ids, other tenant
	_, err = env.e.GetTable(env.ctx, mallo, table.TableID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = env.e.RenameTable(env.ctx, mallo, table.TableID, "Mine")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = env.e.RenameTab(env.ctx, mallo, tab.TabID, "Mine")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = env.e.GetTabSnapshot(env.ctx, mallo, tab.TabID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = env.e.WriteCell(env.ctx, mallo, tab.TabID, qty, cell.RecordID, 4)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = env.e.BulkInsert(env.ctx, mallo, tab.TabID, []uuid.UUID{qty}, [][]any{{5}})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = env.e.MigrateColumnType(env.ctx, mallo, qty, cellvalue.KindText)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = env.e.ShareTable(env.ctx, mallo, table.TableID, []tablecommon.UserId{mallo.UserID})
	assert.ErrorIs(t, err, ErrNotFound)

	for name, del := range map[string]func() (bool, error){
		"table":  func() (bool, error) { return env.e.DeleteTable(env.ctx, mallo, table.TableID) },
		"tab":    func() (bool, error) { return env.e.DeleteTab(env.ctx, mallo, tab.TabID) },
		"column": func() (bool, error) { return env.e.DeleteColumn(env.ctx, mallo, qty) },
		"record": func() (bool, error) { return env.e.DeleteRecord(env.ctx, mallo, cell.RecordID) },
	} {
		ok, err := del()
		assert.NoError(t, err, name)
		assert.False(t, ok, name)
	}

	has, err := env.e.UserHasAccess(env.ctx, tenantB, alice.UserID, table.TableID)
	require.NoError(t, err)
	assert.False(t, has)

	tables, err := env.e.ListTables(env.ctx, mallo)
	require.NoError(t, err)
	assert.Empty(t, tables)

	snap := env.snapshot(t, alice, tab.TabID)
	assert.Equal(t, []any{3.0}, snap.Column("Qty").Values)
}

func TestAccessGate(t *testing.T) {
	env := newTestEnv(t)
	table, tab := env.newTab(t, alice, ColumnSpec{Name: "Qty", Kind: cellvalue.KindNumber})

	_, err := env.e.GetTable(env.ctx, bob, table.TableID)
	assert.ErrorIs(t, err, ErrAccessDenied)
	_, err = env.e.GetTabSnapshot(env.ctx, bob, tab.TabID)
	assert.ErrorIs(t, err, ErrNotShared)
	_, err = env.e.WriteCell(env.ctx, bob, tab.TabID, tab.Columns[0].ColumnID, uuid.Nil, 1)
	assert.ErrorIs(t, err, ErrAccessDenied)
	_, err = env.e.DeleteTab(env.ctx, bob, tab.TabID)
	assert.ErrorIs(t, err, ErrAccessDenied)

	_, err = env.e.ShareTable(env.ctx, alice, table.TableID, []tablecommon.UserId{bob.UserID})
	require.NoError(t, err)

	_, err = env.e.WriteCell(env.ctx, bob, tab.TabID, tab.Columns[0].ColumnID, uuid.Nil, 1)
	require.NoError(t, err)

	// shared, but not the creator
	_, err = env.e.DeleteTable(env.ctx, bob, table.TableID)
	assert.ErrorIs(t, err, ErrNotCreator)
	assert.ErrorIs(t, err, ErrAccessDenied)

	tables, err := env.e.ListTables(env.ctx, bob)
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, table.TableID, tables[0].TableID)
}

func TestDeleteCascade(t *testing.T) {
	env := newTestEnv(t)
	table, tab := env.newTab(t, alice,
		ColumnSpec{Name: "SKU", Kind: cellvalue.KindSKU},
		ColumnSpec{Name: "Qty", Kind: cellvalue.KindNumber},
	)
	ids := columnIDs(tab)
	_, err := env.e.BulkInsert(env.ctx, alice, tab.TabID, ids, [][]any{{"A", 1}, {"B", 2}, {"C", 3}})
	require.NoError(t, err)
	require.Equal(t, 6, env.store.cellCount())

	t.Run("column", func(t *testing.T) {
		ok, err := env.e.DeleteColumn(env.ctx, alice, ids[1])
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 3, env.store.cellCount())

		ok, err = env.e.DeleteColumn(env.ctx, alice, ids[1])
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("record", func(t *testing.T) {
		snap := env.snapshot(t, alice, tab.TabID)
		first := snap.Columns[0].RecordIDs[0]
		ok, err := env.e.DeleteRecord(env.ctx, alice, first)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 2, env.store.cellCount())
		assert.Equal(t, []any{"B", "C"}, env.snapshot(t, alice, tab.TabID).Column("SKU").Values)
	})

	t.Run("table", func(t *testing.T) {
		ok, err := env.e.DeleteTable(env.ctx, alice, table.TableID)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 0, env.store.cellCount())
		assert.Equal(t, 0, env.store.recordCount())
		assert.Equal(t, 0, env.store.tableCount())
		assert.Equal(t, 0, env.store.shareCount())

		_, err = env.e.GetTabSnapshot(env.ctx, alice, tab.TabID)
		assert.ErrorIs(t, err, ErrNotFound)

		ok, err = env.e.DeleteTable(env.ctx, alice, table.TableID)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
