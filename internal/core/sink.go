package core

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/copybook/internal/codec"
	"github.com/JonMunkholm/copybook/internal/copybook"
	"github.com/JonMunkholm/copybook/internal/record"
)

// Sink receives the records decoded by a job.
type Sink interface {
	Write(ctx context.Context, rec *record.Record) error
	// Close flushes buffered records. It is called once, also when the
	// job fails, so partial output is kept.
	Close(ctx context.Context) error
}

// JobStarter is implemented by sinks that label their output with the job
// id. The service calls StartJob before the first Write.
type JobStarter interface {
	StartJob(jobID string)
}

// JSONLinesSink writes one JSON object per record.
type JSONLinesSink struct {
	w *bufio.Writer
	n int
}

// NewJSONLinesSink returns a sink writing to w.
func NewJSONLinesSink(w io.Writer) *JSONLinesSink {
	return &JSONLinesSink{w: bufio.NewWriter(w)}
}

func (s *JSONLinesSink) Write(_ context.Context, rec *record.Record) error {
	b, err := RecordToJSON(rec)
	if err != nil {
		return err
	}
	if _, err := s.w.Write(b); err != nil {
		return fmt.Errorf("write json record: %w", err)
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("write json record: %w", err)
	}
	s.n++
	return nil
}

func (s *JSONLinesSink) Close(context.Context) error {
	return s.w.Flush()
}

// Count returns the number of records written.
func (s *JSONLinesSink) Count() int { return s.n }

// DBTX is the subset of *pgxpool.Pool the Postgres sink needs.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// recordColumns is the column order of the records table.
var recordColumns = []string{"job_id", "record_number", "shape", "field", "text_value", "numeric_value"}

// TableIdentifier splits "schema.table" into a pgx identifier.
func TableIdentifier(table string) pgx.Identifier {
	return pgx.Identifier(strings.Split(table, "."))
}

// EnsureTable creates the records table if it does not exist. Each row
// holds one top-level field of one record.
func EnsureTable(ctx context.Context, db DBTX, table string) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	job_id        uuid   NOT NULL,
	record_number bigint NOT NULL,
	shape         text   NOT NULL,
	field         text   NOT NULL,
	text_value    text,
	numeric_value numeric,
	PRIMARY KEY (job_id, record_number, field)
)`, TableIdentifier(table).Sanitize())
	if _, err := db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	return nil
}

// PostgresSink bulk loads records with the COPY protocol, batchSize rows
// at a time. Numeric fields land in numeric_value, everything else in
// text_value: alpha as-is, bytes as hex and groups as a JSON array.
type PostgresSink struct {
	db        DBTX
	table     pgx.Identifier
	batchSize int

	jobID  pgtype.UUID
	rows   [][]any
	copied int64
}

// NewPostgresSink returns a sink copying into table.
func NewPostgresSink(db DBTX, table string, batchSize int) *PostgresSink {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &PostgresSink{
		db:        db,
		table:     TableIdentifier(table),
		batchSize: batchSize,
	}
}

// StartJob sets the job_id written with every row.
func (s *PostgresSink) StartJob(jobID string) {
	s.jobID = ToPgUUID(jobID)
}

// Copied returns the number of rows committed by COPY so far.
func (s *PostgresSink) Copied() int64 { return s.copied }

func (s *PostgresSink) Write(ctx context.Context, rec *record.Record) error {
	if !s.jobID.Valid {
		return fmt.Errorf("postgres sink: no job id")
	}
	rows, err := recordRows(s.jobID, rec)
	if err != nil {
		return err
	}
	s.rows = append(s.rows, rows...)
	if len(s.rows) >= s.batchSize {
		return s.flush(ctx)
	}
	return nil
}

func (s *PostgresSink) Close(ctx context.Context) error {
	return s.flush(ctx)
}

func (s *PostgresSink) flush(ctx context.Context) error {
	if len(s.rows) == 0 {
		return nil
	}
	n, err := s.db.CopyFrom(ctx, s.table, recordColumns, pgx.CopyFromRows(s.rows))
	s.copied += n
	s.rows = s.rows[:0]
	if err != nil {
		return fmt.Errorf("copy into %s: %w", s.table.Sanitize(), err)
	}
	return nil
}

func recordRows(jobID pgtype.UUID, rec *record.Record) ([][]any, error) {
	fields, err := record.Fields(rec.Shape.Elements, rec.Values)
	if err != nil {
		return nil, fmt.Errorf("record %d: %w", rec.Number, err)
	}

	num := ToPgInt8(rec.Number)
	shape := rec.Shape.Name
	rows := make([][]any, 0, len(fields))
	for _, f := range fields {
		var (
			text    = pgtype.Text{}
			numeric = pgtype.Numeric{}
		)
		switch el := f.Element.(type) {
		case *copybook.Group:
			b, err := appendGroup(nil, el, f.Value)
			if err != nil {
				return nil, fmt.Errorf("record %d: %w", rec.Number, err)
			}
			text = pgtype.Text{String: string(b), Valid: true}
		case *copybook.Leaf:
			switch v := f.Value.(type) {
			case nil:
			case string:
				text = ToPgText(v)
			case []byte:
				text = pgtype.Text{String: hex.EncodeToString(v), Valid: true}
			default:
				d, ok := codec.AsDecimal(v)
				if !ok {
					return nil, &codec.ValueTypeMismatchError{Field: el.Name, Want: "string, []byte or decimal", Value: v}
				}
				numeric = ToPgNumeric(d)
			}
		}
		rows = append(rows, []any{jobID, num, shape, f.Element.ElementName(), text, numeric})
	}
	return rows, nil
}
