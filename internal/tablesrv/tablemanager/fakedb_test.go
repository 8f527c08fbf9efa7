package tablemanager

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/floorbook/floorbook/internal/common/apperrors"
	"github.com/floorbook/floorbook/internal/common/uuid"
	"github.com/floorbook/floorbook/internal/tablesrv/cellvalue"
	"github.com/floorbook/floorbook/internal/tablesrv/db"
	"github.com/floorbook/floorbook/internal/tablesrv/db/dberror"
	"github.com/floorbook/floorbook/internal/tablesrv/db/models"
	"github.com/floorbook/floorbook/internal/tablesrv/tablecommon"
)

// fakeState is the content of the in-memory database. Values are stored by
// value so a transaction can snapshot and restore the whole state.
type fakeState struct {
	tenants     map[tablecommon.TenantId]models.Tenant
	tables      map[uuid.UUID]models.Table
	tabCounters map[uuid.UUID]int
	tabs        map[uuid.UUID]models.Tab
	recCounters map[uuid.UUID]int64
	columns     map[uuid.UUID]models.Column
	records     map[uuid.UUID]models.Record
	cells       map[uuid.UUID]models.Cell
	shares      map[uuid.UUID]models.Share
}

func newFakeState() fakeState {
	return fakeState{
		tenants:     map[tablecommon.TenantId]models.Tenant{},
		tables:      map[uuid.UUID]models.Table{},
		tabCounters: map[uuid.UUID]int{},
		tabs:        map[uuid.UUID]models.Tab{},
		recCounters: map[uuid.UUID]int64{},
		columns:     map[uuid.UUID]models.Column{},
		records:     map[uuid.UUID]models.Record{},
		cells:       map[uuid.UUID]models.Cell{},
		shares:      map[uuid.UUID]models.Share{},
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s fakeState) clone() fakeState {
	return fakeState{
		tenants:     cloneMap(s.tenants),
		tables:      cloneMap(s.tables),
		tabCounters: cloneMap(s.tabCounters),
		tabs:        cloneMap(s.tabs),
		recCounters: cloneMap(s.recCounters),
		columns:     cloneMap(s.columns),
		records:     cloneMap(s.records),
		cells:       cloneMap(s.cells),
		shares:      cloneMap(s.shares),
	}
}

// fakeStore is shared by every connection of a test.
type fakeStore struct {
	mu     sync.Mutex
	state  fakeState
	clock  time.Time
	calls  map[string]int
	fail   map[string]apperrors.Error
	opened int
	closed int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		state: newFakeState(),
		clock: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC),
		calls: map[string]int{},
		fail:  map[string]apperrors.Error{},
	}
}

// connect is a Connector over the store.
func (s *fakeStore) connect(_ context.Context, tenantID tablecommon.TenantId) (db.Database, apperrors.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened++
	return &fakeConn{s: s, tenant: tenantID}, nil
}

func (s *fakeStore) addTenant(id tablecommon.TenantId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.tenants[id] = models.Tenant{TenantID: id, Name: string(id), CreatedAt: s.clock}
}

func (s *fakeStore) failOn(method string, err apperrors.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[method] = err
}

func (s *fakeStore) callCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

func (s *fakeStore) resetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = map[string]int{}
}

func (s *fakeStore) cellCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.cells)
}

func (s *fakeStore) shareCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.shares)
}

// fakeConn implements db.Database for one tenant scope.
type fakeConn struct {
	s      *fakeStore
	tenant tablecommon.TenantId
	inTx   bool
}

var _ db.Database = (*fakeConn)(nil)

// enter locks the store, counts the call and returns the injected failure
// for method, if any. The caller must unlock.
func (c *fakeConn) enter(method string) apperrors.Error {
	c.s.mu.Lock()
	c.s.calls[method]++
	return c.s.fail[method]
}

func (c *fakeConn) now() time.Time {
	c.s.clock = c.s.clock.Add(time.Millisecond)
	return c.s.clock
}

// visible emulates the row level security policy of a scoped connection.
func (c *fakeConn) visible(tenantID tablecommon.TenantId) bool {
	return tenantID != "" && (c.tenant == "" || c.tenant == tenantID)
}

func (c *fakeConn) Transact(ctx context.Context, fn func(tx db.Database) apperrors.Error) apperrors.Error {
	if c.inTx {
		return fn(c)
	}
	c.s.mu.Lock()
	saved := c.s.state.clone()
	c.s.mu.Unlock()

	tx := &fakeConn{s: c.s, tenant: c.tenant, inTx: true}
	if err := fn(tx); err != nil {
		c.s.mu.Lock()
		c.s.state = saved
		c.s.mu.Unlock()
		return err
	}
	return nil
}

func (c *fakeConn) Close(context.Context) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	c.s.closed++
}

// Tenants

func (c *fakeConn) CreateTenant(_ context.Context, tenant *models.Tenant) apperrors.Error {
	defer c.s.mu.Unlock()
	if err := c.enter("CreateTenant"); err != nil {
		return err
	}
	if _, ok := c.s.state.tenants[tenant.TenantID]; ok {
		return dberror.ErrAlreadyExists
	}
	tenant.CreatedAt = c.now()
	c.s.state.tenants[tenant.TenantID] = *tenant
	return nil
}

func (c *fakeConn) GetTenant(_ context.Context, tenantID tablecommon.TenantId) (*models.Tenant, apperrors.Error) {
	defer c.s.mu.Unlock()
	if err := c.enter("GetTenant"); err != nil {
		return nil, err
	}
	t, ok := c.s.state.tenants[tenantID]
	if !ok {
		return nil, dberror.ErrNotFound
	}
	return &t, nil
}

func (c *fakeConn) DeleteTenant(_ context.Context, tenantID tablecommon.TenantId) apperrors.Error {
	defer c.s.mu.Unlock()
	if err := c.enter("DeleteTenant"); err != nil {
		return err
	}
	delete(c.s.state.tenants, tenantID)
	for id, t := range c.s.state.tables {
		if t.TenantID == tenantID {
			c.deleteTableLocked(id)
		}
	}
	return nil
}

// Tables

func (c *fakeConn) CreateTable(_ context.Context, table *models.Table) apperrors.Error {
	defer c.s.mu.Unlock()
	if err := c.enter("CreateTable"); err != nil {
		return err
	}
	if _, ok := c.s.state.tenants[table.TenantID]; !ok || !c.visible(table.TenantID) {
		return dberror.ErrConstraint
	}
	if table.TableID == uuid.Nil {
		table.TableID = uuid.New()
	}
	table.CreatedAt = c.now()
	c.s.state.tables[table.TableID] = *table
	return nil
}

func (c *fakeConn) GetTable(_ context.Context, tenantID tablecommon.TenantId, tableID uuid.UUID) (*models.Table, apperrors.Error) {
	defer c.s.mu.Unlock()
	if err := c.enter("GetTable"); err != nil {
		return nil, err
	}
	t, ok := c.s.state.tables[tableID]
	if !ok || t.TenantID != tenantID || !c.visible(tenantID) {
		return nil, dberror.ErrNotFound
	}
	return &t, nil
}

func (c *fakeConn) ListTablesForUser(_ context.Context, tenantID tablecommon.TenantId, userID tablecommon.UserId) ([]models.Table, apperrors.Error) {
	defer c.s.mu.Unlock()
	if err := c.enter("ListTablesForUser"); err != nil {
		return nil, err
	}
	var out []models.Table
	if !c.visible(tenantID) {
		return out, nil
	}
	for _, sh := range c.s.state.shares {
		if sh.TenantID == tenantID && sh.UserID == userID {
			out = append(out, c.s.state.tables[sh.TableID])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (c *fakeConn) UpdateTableName(_ context.Context, tenantID tablecommon.TenantId, tableID uuid.UUID, name string) apperrors.Error {
	defer c.s.mu.Unlock()
	if err := c.enter("UpdateTableName"); err != nil {
		return err
	}
	t, ok := c.s.state.tables[tableID]
	if !ok || t.TenantID != tenantID || !c.visible(tenantID) {
		return dberror.ErrNotFound
	}
	t.Name = name
	c.s.state.tables[tableID] = t
	return nil
}

func (c *fakeConn) DeleteTable(_ context.Context, tenantID tablecommon.TenantId, tableID uuid.UUID) (bool, apperrors.Error) {
	defer c.s.mu.Unlock()
	if err := c.enter("DeleteTable"); err != nil {
		return false, err
	}
	t, ok := c.s.state.tables[tableID]
	if !ok || t.TenantID != tenantID || !c.visible(tenantID) {
		return false, nil
	}
	c.deleteTableLocked(tableID)
	return true, nil
}

func (c *fakeConn) deleteTableLocked(tableID uuid.UUID) {
	for id, tab := range c.s.state.tabs {
		if tab.TableID == tableID {
			c.deleteTabLocked(id)
		}
	}
	for id, sh := range c.s.state.shares {
		if sh.TableID == tableID {
			delete(c.s.state.shares, id)
		}
	}
	delete(c.s.state.tables, tableID)
	delete(c.s.state.tabCounters, tableID)
}

// Tabs

func (c *fakeConn) CreateTab(_ context.Context, tab *models.Tab) apperrors.Error {
	defer c.s.mu.Unlock()
	if err := c.enter("CreateTab"); err != nil {
		return err
	}
	t, ok := c.s.state.tables[tab.TableID]
	if !ok || t.TenantID != tab.TenantID || !c.visible(tab.TenantID) {
		return dberror.ErrNotFound
	}
	if tab.TabID == uuid.Nil {
		tab.TabID = uuid.New()
	}
	tab.TabIndex = c.s.state.tabCounters[tab.TableID]
	c.s.state.tabCounters[tab.TableID]++
	tab.CreatedAt = c.now()
	c.s.state.tabs[tab.TabID] = *tab
	return nil
}

func (c *fakeConn) GetTab(_ context.Context, tenantID tablecommon.TenantId, tabID uuid.UUID) (*models.Tab, apperrors.Error) {
	defer c.s.mu.Unlock()
	if err := c.enter("GetTab"); err != nil {
		return nil, err
	}
	t, ok := c.s.state.tabs[tabID]
	if !ok || t.TenantID != tenantID || !c.visible(tenantID) {
		return nil, dberror.ErrNotFound
	}
	return &t, nil
}

func (c *fakeConn) ListTabs(_ context.Context, tenantID tablecommon.TenantId, tableID uuid.UUID) ([]models.Tab, apperrors.Error) {
	defer c.s.mu.Unlock()
	if err := c.enter("ListTabs"); err != nil {
		return nil, err
	}
	var out []models.Tab
	for _, t := range c.s.state.tabs {
		if t.TableID == tableID && t.TenantID == tenantID && c.visible(tenantID) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TabIndex < out[j].TabIndex })
	return out, nil
}

func (c *fakeConn) UpdateTabName(_ context.Context, tenantID tablecommon.TenantId, tabID uuid.UUID, name string) apperrors.Error {
	defer c.s.mu.Unlock()
	if err := c.enter("UpdateTabName"); err != nil {
		return err
	}
	t, ok := c.s.state.tabs[tabID]
	if !ok || t.TenantID != tenantID || !c.visible(tenantID) {
		return dberror.ErrNotFound
	}
	t.Name = name
	c.s.state.tabs[tabID] = t
	return nil
}

func (c *fakeConn) DeleteTab(_ context.Context, tenantID tablecommon.TenantId, tabID uuid.UUID) (bool, apperrors.Error) {
	defer c.s.mu.Unlock()
	if err := c.enter("DeleteTab"); err != nil {
		return false, err
	}
	t, ok := c.s.state.tabs[tabID]
	if !ok || t.TenantID != tenantID || !c.visible(tenantID) {
		return false, nil
	}
	c.deleteTabLocked(tabID)
	return true, nil
}

func (c *fakeConn) deleteTabLocked(tabID uuid.UUID) {
	for id, col := range c.s.state.columns {
		if col.TabID == tabID {
			c.deleteColumnLocked(id)
		}
	}
	for id, rec := range c.s.state.records {
		if rec.TabID == tabID {
			c.deleteRecordLocked(id)
		}
	}
	delete(c.s.state.tabs, tabID)
	delete(c.s.state.recCounters, tabID)
}

// Columns

func (c *fakeConn) CreateColumns(_ context.Context, tenantID tablecommon.TenantId, columns []models.Column) apperrors.Error {
	defer c.s.mu.Unlock()
	if err := c.enter("CreateColumns"); err != nil {
		return err
	}
	ids := uuid.NewBatch(len(columns))
	for i := range columns {
		tab, ok := c.s.state.tabs[columns[i].TabID]
		if !ok || tab.TenantID != tenantID || !c.visible(tenantID) {
			return dberror.ErrConstraint
		}
		if !columns[i].Kind.IsValid() {
			return dberror.ErrInvalidInput
		}
		columns[i].ColumnID = ids[i]
		columns[i].TenantID = tenantID
		columns[i].CreatedAt = c.now()
	}
	for _, col := range columns {
		c.s.state.columns[col.ColumnID] = col
	}
	return nil
}

func (c *fakeConn) GetColumn(_ context.Context, tenantID tablecommon.TenantId, columnID uuid.UUID) (*models.Column, apperrors.Error) {
	defer c.s.mu.Unlock()
	if err := c.enter("GetColumn"); err != nil {
		return nil, err
	}
	return c.columnLocked(tenantID, columnID)
}

func (c *fakeConn) LockColumn(_ context.Context, tenantID tablecommon.TenantId, columnID uuid.UUID, exclusive bool) (*models.Column, apperrors.Error) {
	method := "LockColumnShare"
	if exclusive {
		method = "LockColumnExclusive"
	}
	defer c.s.mu.Unlock()
	if err := c.enter(method); err != nil {
		return nil, err
	}
	return c.columnLocked(tenantID, columnID)
}

func (c *fakeConn) columnLocked(tenantID tablecommon.TenantId, columnID uuid.UUID) (*models.Column, apperrors.Error) {
	col, ok := c.s.state.columns[columnID]
	if !ok || col.TenantID != tenantID || !c.visible(tenantID) {
		return nil, dberror.ErrNotFound
	}
	return &col, nil
}

func (c *fakeConn) ListColumns(_ context.Context, tenantID tablecommon.TenantId, tabID uuid.UUID) ([]models.Column, apperrors.Error) {
	defer c.s.mu.Unlock()
	if err := c.enter("ListColumns"); err != nil {
		return nil, err
	}
	var out []models.Column
	for _, col := range c.s.state.columns {
		if col.TabID == tabID && col.TenantID == tenantID && c.visible(tenantID) {
			out = append(out, col)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return bytes.Compare(out[i].ColumnID[:], out[j].ColumnID[:]) < 0
	})
	return out, nil
}

func (c *fakeConn) UpdateColumnName(_ context.Context, tenantID tablecommon.TenantId, columnID uuid.UUID, name string) apperrors.Error {
	defer c.s.mu.Unlock()
	if err := c.enter("UpdateColumnName"); err != nil {
		return err
	}
	col, err := c.columnLocked(tenantID, columnID)
	if err != nil {
		return err
	}
	col.Name = name
	c.s.state.columns[columnID] = *col
	return nil
}

func (c *fakeConn) SetColumnKind(_ context.Context, tenantID tablecommon.TenantId, columnID uuid.UUID, kind cellvalue.Kind) apperrors.Error {
	defer c.s.mu.Unlock()
	if err := c.enter("SetColumnKind"); err != nil {
		return err
	}
	col, err := c.columnLocked(tenantID, columnID)
	if err != nil {
		return err
	}
	col.Kind = kind
	c.s.state.columns[columnID] = *col
	return nil
}

func (c *fakeConn) DeleteColumn(_ context.Context, tenantID tablecommon.TenantId, columnID uuid.UUID) (bool, apperrors.Error) {
	defer c.s.mu.Unlock()
	if err := c.enter("DeleteColumn"); err != nil {
		return false, err
	}
	if _, err := c.columnLocked(tenantID, columnID); err != nil {
		return false, nil
	}
	c.deleteColumnLocked(columnID)
	return true, nil
}

func (c *fakeConn) deleteColumnLocked(columnID uuid.UUID) {
	for id, cell := range c.s.state.cells {
		if cell.ColumnID == columnID {
			delete(c.s.state.cells, id)
		}
	}
	delete(c.s.state.columns, columnID)
}

// Records

func (c *fakeConn) createRecordLocked(tenantID tablecommon.TenantId, tabID, recordID uuid.UUID) (*models.Record, apperrors.Error) {
	tab, ok := c.s.state.tabs[tabID]
	if !ok || tab.TenantID != tenantID || !c.visible(tenantID) {
		return nil, dberror.ErrConstraint
	}
	if _, ok := c.s.state.records[recordID]; ok {
		return nil, dberror.ErrAlreadyExists
	}
	c.s.state.recCounters[tabID]++
	rec := models.Record{
		RecordID:  recordID,
		TenantID:  tenantID,
		TabID:     tabID,
		Seq:       c.s.state.recCounters[tabID],
		CreatedAt: c.now(),
	}
	c.s.state.records[recordID] = rec
	return &rec, nil
}

func (c *fakeConn) CreateRecord(_ context.Context, tenantID tablecommon.TenantId, tabID, recordID uuid.UUID) (*models.Record, apperrors.Error) {
	defer c.s.mu.Unlock()
	if err := c.enter("CreateRecord"); err != nil {
		return nil, err
	}
	return c.createRecordLocked(tenantID, tabID, recordID)
}

func (c *fakeConn) GetRecord(_ context.Context, tenantID tablecommon.TenantId, recordID uuid.UUID) (*models.Record, apperrors.Error) {
	defer c.s.mu.Unlock()
	if err := c.enter("GetRecord"); err != nil {
		return nil, err
	}
	rec, ok := c.s.state.records[recordID]
	if !ok || rec.TenantID != tenantID || !c.visible(tenantID) {
		return nil, dberror.ErrNotFound
	}
	return &rec, nil
}

func (c *fakeConn) ListRecords(_ context.Context, tenantID tablecommon.TenantId, tabID uuid.UUID) ([]models.Record, apperrors.Error) {
	defer c.s.mu.Unlock()
	if err := c.enter("ListRecords"); err != nil {
		return nil, err
	}
	var out []models.Record
	for _, rec := range c.s.state.records {
		if rec.TabID == tabID && rec.TenantID == tenantID && c.visible(tenantID) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (c *fakeConn) DeleteRecord(_ context.Context, tenantID tablecommon.TenantId, recordID uuid.UUID) (bool, apperrors.Error) {
	defer c.s.mu.Unlock()
	if err := c.enter("DeleteRecord"); err != nil {
		return false, err
	}
	rec, ok := c.s.state.records[recordID]
	if !ok || rec.TenantID != tenantID || !c.visible(tenantID) {
		return false, nil
	}
	c.deleteRecordLocked(recordID)
	return true, nil
}

func (c *fakeConn) deleteRecordLocked(recordID uuid.UUID) {
	for id, cell := range c.s.state.cells {
		if cell.RecordID == recordID {
			delete(c.s.state.cells, id)
		}
	}
	delete(c.s.state.records, recordID)
}

func (c *fakeConn) BulkCreateRecords(_ context.Context, tenantID tablecommon.TenantId, tabID uuid.UUID, recordIDs []uuid.UUID) ([]models.Record, apperrors.Error) {
	defer c.s.mu.Unlock()
	if err := c.enter("BulkCreateRecords"); err != nil {
		return nil, err
	}
	out := make([]models.Record, 0, len(recordIDs))
	for _, id := range recordIDs {
		rec, err := c.createRecordLocked(tenantID, tabID, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, nil
}

// Cells

func (c *fakeConn) GetCell(_ context.Context, tenantID tablecommon.TenantId, tabID, columnID, recordID uuid.UUID) (*models.Cell, apperrors.Error) {
	defer c.s.mu.Unlock()
	if err := c.enter("GetCell"); err != nil {
		return nil, err
	}
	if cell := c.cellAtLocked(tenantID, tabID, columnID, recordID); cell != nil {
		return cell, nil
	}
	return nil, dberror.ErrNotFound
}

func (c *fakeConn) cellAtLocked(tenantID tablecommon.TenantId, tabID, columnID, recordID uuid.UUID) *models.Cell {
	if !c.visible(tenantID) {
		return nil
	}
	for _, cell := range c.s.state.cells {
		if cell.TenantID == tenantID && cell.TabID == tabID && cell.ColumnID == columnID && cell.RecordID == recordID {
			return &cell
		}
	}
	return nil
}

func (c *fakeConn) ListCellsForRecord(_ context.Context, tenantID tablecommon.TenantId, recordID uuid.UUID) ([]models.Cell, apperrors.Error) {
	defer c.s.mu.Unlock()
	if err := c.enter("ListCellsForRecord"); err != nil {
		return nil, err
	}
	var out []models.Cell
	for _, cell := range c.s.state.cells {
		if cell.RecordID == recordID && cell.TenantID == tenantID && c.visible(tenantID) {
			out = append(out, cell)
		}
	}
	return out, nil
}

func (c *fakeConn) ListCellsByColumn(_ context.Context, tenantID tablecommon.TenantId, tabID, columnID uuid.UUID) ([]models.Cell, apperrors.Error) {
	defer c.s.mu.Unlock()
	if err := c.enter("ListCellsByColumn"); err != nil {
		return nil, err
	}
	var out []models.Cell
	for _, cell := range c.s.state.cells {
		if cell.TabID == tabID && cell.ColumnID == columnID && cell.TenantID == tenantID && c.visible(tenantID) {
			out = append(out, cell)
		}
	}
	return out, nil
}

func (c *fakeConn) ListCellsByTab(_ context.Context, tenantID tablecommon.TenantId, tabID uuid.UUID) ([]models.OrderedCell, apperrors.Error) {
	defer c.s.mu.Unlock()
	if err := c.enter("ListCellsByTab"); err != nil {
		return nil, err
	}
	var out []models.OrderedCell
	for _, cell := range c.s.state.cells {
		if cell.TabID == tabID && cell.TenantID == tenantID && c.visible(tenantID) {
			out = append(out, models.OrderedCell{Cell: cell, Seq: c.s.state.records[cell.RecordID].Seq})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Seq != out[j].Seq {
			return out[i].Seq < out[j].Seq
		}
		return bytes.Compare(out[i].ColumnID[:], out[j].ColumnID[:]) < 0
	})
	return out, nil
}

// checkCellLocked emulates the foreign keys and the single slot check of
// the cell relation.
func (c *fakeConn) checkCellLocked(tenantID tablecommon.TenantId, cell *models.Cell) apperrors.Error {
	col, ok := c.s.state.columns[cell.ColumnID]
	if !ok || col.TenantID != tenantID || col.TabID != cell.TabID {
		return dberror.ErrConstraint
	}
	rec, ok := c.s.state.records[cell.RecordID]
	if !ok || rec.TenantID != tenantID || rec.TabID != cell.TabID {
		return dberror.ErrConstraint
	}
	if len(cell.Slots.Populated()) > 1 {
		return dberror.ErrInvalidInput
	}
	return nil
}

func (c *fakeConn) UpsertCell(_ context.Context, cell *models.Cell) apperrors.Error {
	defer c.s.mu.Unlock()
	if err := c.enter("UpsertCell"); err != nil {
		return err
	}
	if !c.visible(cell.TenantID) {
		return dberror.ErrNotFound
	}
	if err := c.checkCellLocked(cell.TenantID, cell); err != nil {
		return err
	}
	if existing := c.cellAtLocked(cell.TenantID, cell.TabID, cell.ColumnID, cell.RecordID); existing != nil {
		cell.CellID = existing.CellID
	} else {
		cell.CellID = uuid.New()
	}
	c.s.state.cells[cell.CellID] = *cell
	return nil
}

func (c *fakeConn) BulkInsertCells(_ context.Context, tenantID tablecommon.TenantId, tabID uuid.UUID, cells []models.Cell) apperrors.Error {
	defer c.s.mu.Unlock()
	if err := c.enter("BulkInsertCells"); err != nil {
		return err
	}
	ids := uuid.NewBatch(len(cells))
	seen := map[[2]uuid.UUID]bool{}
	for i := range cells {
		cells[i].TenantID = tenantID
		cells[i].TabID = tabID
		if err := c.checkCellLocked(tenantID, &cells[i]); err != nil {
			return err
		}
		key := [2]uuid.UUID{cells[i].ColumnID, cells[i].RecordID}
		if seen[key] || c.cellAtLocked(tenantID, tabID, key[0], key[1]) != nil {
			return dberror.ErrAlreadyExists
		}
		seen[key] = true
		cells[i].CellID = ids[i]
	}
	for _, cell := range cells {
		c.s.state.cells[cell.CellID] = cell
	}
	return nil
}

func (c *fakeConn) BulkUpdateCellSlots(_ context.Context, tenantID tablecommon.TenantId, cells []models.Cell) apperrors.Error {
	defer c.s.mu.Unlock()
	if err := c.enter("BulkUpdateCellSlots"); err != nil {
		return err
	}
	for _, cell := range cells {
		existing, ok := c.s.state.cells[cell.CellID]
		if !ok || existing.TenantID != tenantID || !c.visible(tenantID) {
			return dberror.ErrNotFound
		}
		if len(cell.Slots.Populated()) > 1 {
			return dberror.ErrInvalidInput
		}
	}
	for _, cell := range cells {
		existing := c.s.state.cells[cell.CellID]
		existing.Slots = cell.Slots
		c.s.state.cells[cell.CellID] = existing
	}
	return nil
}

// Shares

func (c *fakeConn) CreateShares(_ context.Context, tenantID tablecommon.TenantId, tableID uuid.UUID, userIDs []tablecommon.UserId) ([]models.Share, apperrors.Error) {
	defer c.s.mu.Unlock()
	if err := c.enter("CreateShares"); err != nil {
		return nil, err
	}
	t, ok := c.s.state.tables[tableID]
	if !ok || t.TenantID != tenantID || !c.visible(tenantID) {
		return nil, dberror.ErrConstraint
	}
	var added []models.Share
	for _, u := range userIDs {
		if c.shareLocked(tenantID, tableID, u) {
			continue
		}
		sh := models.Share{
			ShareID:  uuid.New(),
			TenantID: tenantID,
			TableID:  tableID,
			UserID:   u,
			SharedAt: c.now(),
		}
		c.s.state.shares[sh.ShareID] = sh
		added = append(added, sh)
	}
	return added, nil
}

func (c *fakeConn) shareLocked(tenantID tablecommon.TenantId, tableID uuid.UUID, userID tablecommon.UserId) bool {
	if !c.visible(tenantID) {
		return false
	}
	for _, sh := range c.s.state.shares {
		if sh.TenantID == tenantID && sh.TableID == tableID && sh.UserID == userID {
			return true
		}
	}
	return false
}

func (c *fakeConn) ListShares(_ context.Context, tenantID tablecommon.TenantId, tableID uuid.UUID) ([]models.Share, apperrors.Error) {
	defer c.s.mu.Unlock()
	if err := c.enter("ListShares"); err != nil {
		return nil, err
	}
	var out []models.Share
	for _, sh := range c.s.state.shares {
		if sh.TableID == tableID && sh.TenantID == tenantID && c.visible(tenantID) {
			out = append(out, sh)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SharedAt.Before(out[j].SharedAt) })
	return out, nil
}

func (c *fakeConn) DeleteShares(_ context.Context, tenantID tablecommon.TenantId, tableID uuid.UUID, userIDs []tablecommon.UserId) (int64, apperrors.Error) {
	defer c.s.mu.Unlock()
	if err := c.enter("DeleteShares"); err != nil {
		return 0, err
	}
	drop := map[tablecommon.UserId]bool{}
	for _, u := range userIDs {
		drop[u] = true
	}
	var n int64
	for id, sh := range c.s.state.shares {
		if sh.TableID == tableID && sh.TenantID == tenantID && c.visible(tenantID) && drop[sh.UserID] {
			delete(c.s.state.shares, id)
			n++
		}
	}
	return n, nil
}

func (c *fakeConn) ShareExists(_ context.Context, tenantID tablecommon.TenantId, tableID uuid.UUID, userID tablecommon.UserId) (bool, apperrors.Error) {
	defer c.s.mu.Unlock()
	if err := c.enter("ShareExists"); err != nil {
		return false, err
	}
	return c.shareLocked(tenantID, tableID, userID), nil
}

func (s *fakeStore) recordCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.records)
}

func (s *fakeStore) tableCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.tables) + len(s.state.tabs) + len(s.state.columns)
}
