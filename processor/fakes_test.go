package processor

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-sql-driver/mysql"

	"ch-ferry/database"
	"ch-ferry/schema"
	"ch-ferry/tsv"
)

type fakeTable struct {
	columns []schema.ColumnDescriptor
	rows    []schema.Row
}

// fakeSource serves rows from memory in insertion order.
type fakeSource struct {
	mu          sync.Mutex
	tables      map[string]*fakeTable
	describeErr map[string]error
	readErrs    map[string]int
	readErrFrom map[string]uint64
	selects     map[string][]uint64
	countShift  map[string]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		tables:      make(map[string]*fakeTable),
		describeErr: make(map[string]error),
		readErrs:    make(map[string]int),
		readErrFrom: make(map[string]uint64),
		selects:     make(map[string][]uint64),
		countShift:  make(map[string]int),
	}
}

func (s *fakeSource) addTable(name string, columns []schema.ColumnDescriptor, rows []schema.Row) {
	s.tables[name] = &fakeTable{columns: columns, rows: rows}
}

func (s *fakeSource) Close() error { return nil }

func (s *fakeSource) DescribeTable(ctx context.Context, table string) ([]schema.ColumnDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.describeErr[table]; err != nil {
		return nil, err
	}
	t, ok := s.tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", database.ErrTableNotFound, table)
	}
	return append([]schema.ColumnDescriptor(nil), t.columns...), nil
}

func (s *fakeSource) CountRows(ctx context.Context, table string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[table]
	if !ok {
		return 0, fmt.Errorf("%w: %s", database.ErrTableNotFound, table)
	}
	return uint64(len(t.rows) + s.countShift[table]), nil
}

func (s *fakeSource) SelectBatch(ctx context.Context, table string, columns []schema.ColumnDescriptor, orderBy string, limit, offset uint64) ([]schema.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selects[table] = append(s.selects[table], offset)
	if s.readErrs[table] > 0 && offset >= s.readErrFrom[table] {
		s.readErrs[table]--
		// the MySQL source classifies a dropped connection this way
		return nil, fmt.Errorf("%w: %w", database.ErrSourceUnavailable, mysql.ErrInvalidConn)
	}
	t := s.tables[table]
	if offset >= uint64(len(t.rows)) {
		return nil, nil
	}
	end := offset + limit
	if end > uint64(len(t.rows)) {
		end = uint64(len(t.rows))
	}
	return t.rows[offset:end], nil
}

type fakeSinkTable struct {
	def     schema.TableDefinition
	records [][]tsv.Field
}

// fakeTarget decodes every payload it accepts so tests can inspect what was written.
type fakeTarget struct {
	mu         sync.Mutex
	tables     map[string]*fakeSinkTable
	createErr  error
	failLoads  map[string]int
	loadCalls  map[string]int
	countCalls map[string]int
	extraRows  map[string]int
}

const failForever = -1

func newFakeTarget() *fakeTarget {
	return &fakeTarget{
		tables:     make(map[string]*fakeSinkTable),
		failLoads:  make(map[string]int),
		loadCalls:  make(map[string]int),
		countCalls: make(map[string]int),
		extraRows:  make(map[string]int),
	}
}

func (t *fakeTarget) Close() error { return nil }

func (t *fakeTarget) CreateTable(ctx context.Context, def schema.TableDefinition) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.createErr != nil {
		return t.createErr
	}
	t.tables[def.Name] = &fakeSinkTable{def: def}
	return nil
}

func (t *fakeTarget) InsertBatch(ctx context.Context, table string, columns []string, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.loadCalls[table]++

	switch n := t.failLoads[table]; {
	case n == failForever:
		return &database.SinkError{StatusCode: 500, Code: "241", Message: "Code: 241. DB::Exception: Memory limit exceeded"}
	case n > 0:
		t.failLoads[table]--
		return &database.SinkError{StatusCode: 500, Code: "241", Message: "Code: 241. DB::Exception: Memory limit exceeded"}
	}

	st, ok := t.tables[table]
	if !ok {
		return &database.SinkError{StatusCode: 404, Code: "60", Message: "Table does not exist"}
	}
	records, err := tsv.Decode(payload)
	if err != nil {
		return err
	}
	for _, record := range records {
		if len(record) != len(columns) {
			return fmt.Errorf("record has %d fields, want %d", len(record), len(columns))
		}
	}
	st.records = append(st.records, records...)
	return nil
}

func (t *fakeTarget) GetTableRowCount(ctx context.Context, table string) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.countCalls[table]++
	st, ok := t.tables[table]
	if !ok {
		return 0, &database.SinkError{StatusCode: 404, Code: "60", Message: "Table does not exist"}
	}
	return uint64(len(st.records) + t.extraRows[table]), nil
}

func (t *fakeTarget) records(table string) [][]tsv.Field {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.tables[table]; ok {
		return st.records
	}
	return nil
}

type fakeConnections struct {
	source    database.SourceDB
	target    database.TargetDB
	sourceErr error
	targetErr error
}

func (c *fakeConnections) Source(ctx context.Context) (database.SourceDB, error) {
	if c.sourceErr != nil {
		return nil, c.sourceErr
	}
	return c.source, nil
}

func (c *fakeConnections) Target(ctx context.Context) (database.TargetDB, error) {
	if c.targetErr != nil {
		return nil, c.targetErr
	}
	return c.target, nil
}
