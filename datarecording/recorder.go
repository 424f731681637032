// Package datarecording persists simulation output into SQLite
// databases, one table per record type.
package datarecording

import (
	"database/sql"
	"fmt"
	"os"
	"reflect"
	"strings"
	"sync"

	"github.com/fatih/structs"
	"github.com/rs/xid"
	"github.com/tebeka/atexit"

	// SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// A Recorder is a backend that can record and store flat record
// structs.
type Recorder interface {
	// CreateTable creates a table whose columns are the fields of the
	// sample entry.
	CreateTable(tableName string, sampleEntry any) error

	// InsertData buffers one entry for a table that already exists.
	InsertData(tableName string, entry any) error

	// ListTables returns the names of all created tables.
	ListTables() []string

	// Flush writes all buffered entries into the database.
	Flush() error

	// Close flushes and releases the database.
	Close() error
}

// NewSQLiteRecorder creates a Recorder that writes into the SQLite
// database at path (".sqlite3" is appended). An empty path selects a
// generated unique name. Buffered entries are flushed at process exit.
func NewSQLiteRecorder(path string) (Recorder, error) {
	if path == "" {
		path = "devsim_run_" + xid.New().String()
	}

	filename := path + ".sqlite3"
	if _, err := os.Stat(filename); err == nil {
		return nil, fmt.Errorf("output file %s already exists", filename)
	}

	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", filename, err)
	}

	w := &sqliteRecorder{
		db:        db,
		batchSize: 100000,
		tables:    make(map[string]*table),
	}

	atexit.Register(func() { _ = w.Flush() })

	return w, nil
}

type table struct {
	structType reflect.Type
	entries    []any
}

type sqliteRecorder struct {
	mu sync.Mutex

	db        *sql.DB
	tables    map[string]*table
	batchSize int
	buffered  int
}

func (w *sqliteRecorder) CreateTable(tableName string, sampleEntry any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, exists := w.tables[tableName]; exists {
		return fmt.Errorf("table %s already exists", tableName)
	}

	if err := checkStructFields(sampleEntry); err != nil {
		return err
	}

	fields := strings.Join(structs.Names(sampleEntry), ",\n\t")
	ddl := "CREATE TABLE " + tableName + " (\n\t" + fields + "\n);"

	if _, err := w.db.Exec(ddl); err != nil {
		return fmt.Errorf("creating table %s: %w", tableName, err)
	}

	w.tables[tableName] = &table{
		structType: reflect.TypeOf(sampleEntry),
	}

	return nil
}

func (w *sqliteRecorder) InsertData(tableName string, entry any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	t, exists := w.tables[tableName]
	if !exists {
		return fmt.Errorf("table %s does not exist", tableName)
	}

	if reflect.TypeOf(entry) != t.structType {
		return fmt.Errorf("entry type %T does not match table %s",
			entry, tableName)
	}

	t.entries = append(t.entries, entry)
	w.buffered++

	if w.buffered >= w.batchSize {
		return w.flushLocked()
	}

	return nil
}

func (w *sqliteRecorder) ListTables() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	names := make([]string, 0, len(w.tables))
	for name := range w.tables {
		names = append(names, name)
	}

	return names
}

func (w *sqliteRecorder) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.flushLocked()
}

func (w *sqliteRecorder) flushLocked() error {
	if w.buffered == 0 {
		return nil
	}

	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	for tableName, t := range w.tables {
		if err := flushTable(tx, tableName, t); err != nil {
			_ = tx.Rollback()

			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}

	w.buffered = 0

	return nil
}

func flushTable(tx *sql.Tx, tableName string, t *table) error {
	if len(t.entries) == 0 {
		return nil
	}

	marks := make([]string, t.structType.NumField())
	for i := range marks {
		marks[i] = "?"
	}

	stmt, err := tx.Prepare(
		"INSERT INTO " + tableName +
			" VALUES (" + strings.Join(marks, ", ") + ")")
	if err != nil {
		return fmt.Errorf("preparing insert for %s: %w", tableName, err)
	}
	defer stmt.Close()

	for _, entry := range t.entries {
		v := reflect.ValueOf(entry)
		args := make([]any, 0, v.NumField())

		for i := 0; i < v.NumField(); i++ {
			args = append(args, v.Field(i).Interface())
		}

		if _, err := stmt.Exec(args...); err != nil {
			return fmt.Errorf("inserting into %s: %w", tableName, err)
		}
	}

	t.entries = nil

	return nil
}

func (w *sqliteRecorder) Close() error {
	if err := w.Flush(); err != nil {
		return err
	}

	return w.db.Close()
}

func checkStructFields(entry any) error {
	t := reflect.TypeOf(entry)
	if t == nil || t.Kind() != reflect.Struct {
		return fmt.Errorf("entry must be a struct, got %T", entry)
	}

	for i := 0; i < t.NumField(); i++ {
		if !isAllowedType(t.Field(i).Type.Kind()) {
			return fmt.Errorf("field %s has unsupported type %s",
				t.Field(i).Name, t.Field(i).Type)
		}
	}

	return nil
}

func isAllowedType(kind reflect.Kind) bool {
	switch kind {
	case
		reflect.Bool,
		reflect.Int,
		reflect.Int8,
		reflect.Int16,
		reflect.Int32,
		reflect.Int64,
		reflect.Uint,
		reflect.Uint8,
		reflect.Uint16,
		reflect.Uint32,
		reflect.Uint64,
		reflect.Float32,
		reflect.Float64,
		reflect.String:
		return true
	default:
		return false
	}
}
