package kb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema() Schema {
	return Schema{Tables: []Table{
		{
			Name:    "student",
			Aliases: []string{"学生"},
			Columns: []Column{
				{Name: "student_no", Description: "学号"},
				{Name: "real_name", Description: "姓名"},
				{Name: "enroll_year", Description: "入学年份", Aliases: []string{"年级", "届别"}},
				{Name: "gender", Description: "性别"},
			},
		},
		{
			Name: "class",
			Columns: []Column{
				{Name: "class_name", Description: "班级名称"},
				{Name: "id", Description: "主键"},
			},
		},
	}}
}

func TestKB_WhitelistClosure(t *testing.T) {
	k := FromSchema(testSchema())
	assert.True(t, k.IsWhitelisted("student.enroll_year"))
	assert.True(t, k.IsWhitelisted("class.class_name"))
	assert.False(t, k.IsWhitelisted("student.grade_year"))

	all := k.Whitelist()
	require.Len(t, all, 6)
	assert.Contains(t, all, "student.student_no")
}

func TestKB_ResolveAlias(t *testing.T) {
	k := FromSchema(testSchema())

	fields := k.ResolveAlias("年级")
	require.Len(t, fields, 1)
	assert.Equal(t, "student.enroll_year", fields[0])

	// Case-insensitive and whitespace-tolerant.
	fields = k.ResolveAlias("  ENROLL_YEAR ")
	require.Len(t, fields, 1)
	assert.Equal(t, "student.enroll_year", fields[0])

	assert.Empty(t, k.ResolveAlias("nonexistent"))
}

func TestKB_CandidatesWithSuffix(t *testing.T) {
	k := FromSchema(testSchema())

	candidates := k.CandidatesWithSuffix("_no")
	require.Len(t, candidates, 1)
	assert.Equal(t, "student.student_no", candidates[0])
}

func TestKB_Description(t *testing.T) {
	k := FromSchema(testSchema())
	assert.Equal(t, "学号", k.Description("student.student_no"))
	assert.Equal(t, "", k.Description("student.unknown"))
}
