package graph

import (
	"context"
	"errors"

	"github.com/zhaokao/eduquery/internal/db"
	"github.com/zhaokao/eduquery/internal/kb"
)

// errBoom is a shared sentinel error for node tests that need to force an
// executor or LLM failure.
var errBoom = errors.New("boom")

// testSchema is the shared KB fixture for graph node tests: a student
// table and a class table, matching the shape most spec examples use.
func testSchema() kb.Schema {
	return kb.Schema{
		Tables: []kb.Table{
			{
				Name:        "student",
				Description: "students",
				Aliases:     []string{"s"},
				Columns: []kb.Column{
					{Name: "id", Description: "学生ID"},
					{Name: "student_no", Description: "学号"},
					{Name: "real_name", Description: "姓名", Aliases: []string{"姓名", "name"}},
					{Name: "class_id", Description: "班级ID"},
					{Name: "grade", Description: "年级", Aliases: []string{"年级"}},
					{Name: "is_deleted", Description: "是否删除"},
				},
			},
			{
				Name:        "class",
				Description: "classes",
				Aliases:     []string{"c"},
				Columns: []kb.Column{
					{Name: "id", Description: "班级ID"},
					{Name: "name", Description: "班级名称", Aliases: []string{"班级"}},
					{Name: "grade", Description: "年级"},
					{Name: "is_deleted", Description: "是否删除"},
				},
			},
		},
	}
}

func testKB() *kb.KB {
	return kb.FromSchema(testSchema())
}

// fakeExecutor is a scriptable SQLExecutor used by node tests in place of
// a live MySQL connection.
type fakeExecutor struct {
	Result db.Result
	Err    error
	Calls  []string
}

func (f *fakeExecutor) Query(ctx context.Context, sql string) (db.Result, error) {
	f.Calls = append(f.Calls, sql)
	if f.Err != nil {
		return db.Result{}, f.Err
	}
	return f.Result, nil
}
