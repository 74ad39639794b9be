package sqlsafety

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheck_ReadOnlySafety(t *testing.T) {
	cases := []struct {
		name string
		sql  string
		ok   bool
	}{
		{"plain select", "SELECT 1", true},
		{"cte", "WITH x AS (SELECT 1) SELECT * FROM x", true},
		{"delete inside cte", "WITH x AS (DELETE FROM student) SELECT 1", false},
		{"update statement", "update student set gender = '男'", false},
		{"drop table", "WITH x AS (SELECT 1) DROP TABLE student", false},
		{"column named deleted is not a keyword", "SELECT is_deleted FROM student", true},
		{"empty", "  ", false},
		{"not select or with", "EXPLAIN SELECT 1", false},
		{"grant whole word", "WITH x AS (SELECT 1) SELECT grant_date FROM x", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, ok := Check(tc.sql)
			assert.Equal(t, tc.ok, ok)
		})
	}
}

func TestCheck_ViolationReason(t *testing.T) {
	reason, ok := Check("DELETE FROM student")
	assert.False(t, ok)
	assert.Equal(t, ErrReadonlyViolation, reason)
}
