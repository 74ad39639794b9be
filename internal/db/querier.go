package db

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zhaokao/eduquery/internal/sqlsafety"
)

// Result holds one executed query's rows, grounded on
// workflow.QueryResult's shape (SQL text, columns, row maps, count).
type Result struct {
	SQL     string
	Columns []string
	Rows    []map[string]any
}

// Querier executes read-only SQL against the MySQL pool, converting every
// value to a JSON-safe representation (spec §4.5 step 3).
type Querier struct {
	DB *sql.DB
}

// NewQuerier wraps a connection pool.
func NewQuerier(conn *sql.DB) *Querier {
	return &Querier{DB: conn}
}

// Query executes sql after re-checking the read-only gate (defense in
// depth: every caller already checked it, but the querier never trusts a
// caller blindly with write access).
func (q *Querier) Query(ctx context.Context, query string) (Result, error) {
	if _, ok := sqlsafety.Check(query); !ok {
		return Result{}, fmt.Errorf("db: refusing non-readonly statement")
	}

	rows, err := q.DB.QueryContext(ctx, query)
	if err != nil {
		return Result{SQL: query}, fmt.Errorf("db: query failed: %w", err)
	}
	defer rows.Close()

	return scanRows(query, rows)
}

func scanRows(query string, rows *sql.Rows) (Result, error) {
	cols, err := rows.Columns()
	if err != nil {
		return Result{SQL: query}, fmt.Errorf("db: columns: %w", err)
	}
	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return Result{SQL: query}, fmt.Errorf("db: column types: %w", err)
	}

	result := Result{SQL: query, Columns: cols}

	for rows.Next() {
		scanArgs := make([]any, len(cols))
		for i, ct := range colTypes {
			scanArgs[i] = reflect.New(ct.ScanType()).Interface()
		}
		if err := rows.Scan(scanArgs...); err != nil {
			return Result{SQL: query}, fmt.Errorf("db: scan: %w", err)
		}

		row := make(map[string]any, len(cols))
		for i, ct := range colTypes {
			row[cols[i]] = convertValue(ct, scanArgs[i])
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return Result{SQL: query}, fmt.Errorf("db: row iteration: %w", err)
	}
	return result, nil
}

// convertValue converts one scanned cell to a JSON-safe representation:
// datetime/date become ISO strings, Decimal becomes int when integral
// else float, NaN/Inf are sanitized to nil (spec §4.5 step 3).
func convertValue(ct *sql.ColumnType, v any) any {
	dbType := strings.ToUpper(ct.DatabaseTypeName())

	switch val := v.(type) {
	case *sql.NullString:
		if !val.Valid {
			return nil
		}
		if dbType == "DECIMAL" || dbType == "NEWDECIMAL" {
			return decimalToNumber(val.String)
		}
		return val.String
	case *sql.RawBytes:
		if *val == nil {
			return nil
		}
		s := string(*val)
		switch dbType {
		case "DECIMAL", "NEWDECIMAL":
			return decimalToNumber(s)
		case "DATE":
			return s
		case "DATETIME", "TIMESTAMP":
			if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
				return t.UTC().Format(time.RFC3339)
			}
			return s
		default:
			return s
		}
	case *sql.NullInt64:
		if !val.Valid {
			return nil
		}
		return val.Int64
	case *sql.NullFloat64:
		if !val.Valid {
			return nil
		}
		return sanitizeFloat(val.Float64)
	case *sql.NullBool:
		if !val.Valid {
			return nil
		}
		return val.Bool
	case *sql.NullTime:
		if !val.Valid {
			return nil
		}
		return val.Time.UTC().Format(time.RFC3339)
	case *time.Time:
		return val.UTC().Format(time.RFC3339)
	case *any:
		return *val
	default:
		if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && !rv.IsNil() {
			switch elem := rv.Elem().Interface().(type) {
			case float32:
				return sanitizeFloat(float64(elem))
			case float64:
				return sanitizeFloat(elem)
			default:
				return elem
			}
		}
		return fmt.Sprintf("%v", v)
	}
}

func decimalToNumber(s string) any {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return s
	}
	if d.IsInteger() {
		return d.IntPart()
	}
	f, _ := d.Float64()
	return sanitizeFloat(f)
}

func sanitizeFloat(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}
