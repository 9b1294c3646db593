package executor

import (
	"regexp"
	"strings"

	"github.com/simpleflo/lattice/pkg/models"
)

// forbiddenSQLPattern matches statement keywords that must never reach
// the database. xp_ and sp_ cover SQL Server procedure prefixes.
var forbiddenSQLPattern = regexp.MustCompile(
	`(?i)\b(DROP|DELETE|UPDATE|INSERT|TRUNCATE|ALTER|CREATE|GRANT|REVOKE|EXEC|EXECUTE|XP_\w*|SP_\w*)\b`)

// ValidateSQL rejects anything that is not a single read-only statement.
// Applied to every template and LLM path; the precompiled direct
// templates are exempt.
func ValidateSQL(sql string) error {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return models.NewError(models.ErrSQLUnsafe, "안전하지 않은 SQL: 빈 질의")
	}
	upper := strings.ToUpper(trimmed)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return models.NewError(models.ErrSQLUnsafe, "안전하지 않은 SQL: SELECT/WITH 문만 허용")
	}
	if strings.Contains(trimmed, "--") || strings.Contains(trimmed, "/*") {
		return models.NewError(models.ErrSQLUnsafe, "안전하지 않은 SQL: 주석 포함")
	}
	if strings.Count(trimmed, ";") > 1 {
		return models.NewError(models.ErrSQLUnsafe, "안전하지 않은 SQL: 다중 구문")
	}
	if m := forbiddenSQLPattern.FindString(trimmed); m != "" {
		return models.NewError(models.ErrSQLUnsafe, "안전하지 않은 SQL: 금지 키워드 "+strings.ToUpper(m))
	}
	return nil
}
