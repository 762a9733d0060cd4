package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	_ "github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	dbTracer = otel.Tracer("bankfeed/db")
	dbMeter  = otel.Meter("bankfeed/db")

	queryDuration, _ = dbMeter.Float64Histogram("db.query.duration",
		metric.WithDescription("Statement latency by SQL verb"),
		metric.WithUnit("s"),
	)
)

// Pool sizes the connection pool.
type Pool struct {
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
}

// DB is a *sql.DB whose query methods open a span per statement.
type DB struct {
	*sql.DB
}

// New opens and pings a PostgreSQL pool.
func New(connStr string, pool Pool) (*DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(pool.MaxOpen)
	db.SetMaxIdleConns(pool.MaxIdle)
	db.SetConnMaxLifetime(pool.MaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{db}, nil
}

func (db *DB) Close() error {
	return db.DB.Close()
}

// statement is one traced and timed database call.
type statement struct {
	span  trace.Span
	verb  string
	start time.Time
}

func startStatement(ctx context.Context, name, query string) (context.Context, *statement) {
	verb := extractSQLVerb(query)
	ctx, span := dbTracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", verb),
			attribute.String("db.statement", sanitizeQuery(query)),
		),
	)
	return ctx, &statement{span: span, verb: verb, start: time.Now()}
}

// end closes the span. sql.ErrNoRows is an answer, not a failure.
func (s *statement) end(ctx context.Context, err error) {
	outcome := "ok"
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		outcome = "error"
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	}
	queryDuration.Record(ctx, time.Since(s.start).Seconds(), metric.WithAttributes(
		attribute.String("db.operation", s.verb),
		attribute.String("outcome", outcome),
	))
	s.span.End()
}

// WithTx runs fn inside a transaction, committing when fn returns nil.
func (db *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	ctx, stmt := startStatement(ctx, "db.Tx", "BEGIN")
	defer func() { stmt.end(ctx, err) }()

	tx, err := db.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	ctx, stmt := startStatement(ctx, "db.Query", query)
	rows, err := db.DB.QueryContext(ctx, query, args...)
	stmt.end(ctx, err)
	return rows, err
}

// tracedRow keeps the statement open until Scan, where sql.Row reports
// every error including sql.ErrNoRows.
type tracedRow struct {
	ctx  context.Context
	row  *sql.Row
	stmt *statement
}

func (r *tracedRow) Scan(dest ...any) error {
	err := r.row.Scan(dest...)
	if r.stmt != nil {
		r.stmt.end(r.ctx, err)
		r.stmt = nil
	}
	return err
}

func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *tracedRow {
	ctx, stmt := startStatement(ctx, "db.QueryRow", query)
	return &tracedRow{
		ctx:  ctx,
		row:  db.DB.QueryRowContext(ctx, query, args...),
		stmt: stmt,
	}
}

func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx, stmt := startStatement(ctx, "db.Exec", query)
	result, err := db.DB.ExecContext(ctx, query, args...)
	stmt.end(ctx, err)
	return result, err
}

// sanitizeQuery replaces string literals and bare numeric literals with '?'
// so that sensitive values (PII, tokens, etc.) are never stored in traces.
// Parameterized queries using $1, $2, ... are left as-is since they carry no data.
func sanitizeQuery(q string) string {
	var b strings.Builder
	b.Grow(len(q))

	i := 0
	for i < len(q) {
		ch := q[i]

		// Replace quoted string literals: 'value' → '?'
		if ch == '\'' {
			b.WriteString("'?'")
			i++
			for i < len(q) {
				if q[i] == '\'' {
					if i+1 < len(q) && q[i+1] == '\'' {
						i += 2 // escaped quote ''
						continue
					}
					i++ // closing quote
					break
				}
				i++
			}
			continue
		}

		// Replace bare numeric literals that aren't $N parameters
		if unicode.IsDigit(rune(ch)) && (i == 0 || !isIdentChar(q[i-1])) {
			// Check it's not a $N placeholder
			if i > 0 && q[i-1] == '$' {
				b.WriteByte(ch)
				i++
				continue
			}
			b.WriteByte('?')
			for i < len(q) && (unicode.IsDigit(rune(q[i])) || q[i] == '.') {
				i++
			}
			continue
		}

		b.WriteByte(ch)
		i++
	}

	s := b.String()
	if len(s) > 256 {
		return s[:256] + "..."
	}
	return s
}

func isIdentChar(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_' || c == '$'
}

func extractSQLVerb(q string) string {
	q = strings.TrimSpace(q)
	if idx := strings.IndexByte(q, ' '); idx > 0 {
		return strings.ToUpper(q[:idx])
	}
	return strings.ToUpper(q)
}
