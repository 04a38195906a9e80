package filterplan

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/dataflowhq/control-plane/internal/models"
)

// emit renders the SQL predicate for the chosen column and class.
func emit(col models.Column, class filterClass, values []string, phrase string) (*models.FilterConfig, error) {
	cfg := &models.FilterConfig{Column: col.Name}

	switch class {
	case classBoolean:
		negated := negatedRe.MatchString(phrase) &&
			negationApplies(phrase)
		cfg.Operator = "="
		if negated {
			// Treat missing values as false for negated boolean filters.
			cfg.Values = []string{"false"}
			cfg.SQLWhere = fmt.Sprintf("%s = false OR %s IS NULL", col.Name, col.Name)
			cfg.Description = fmt.Sprintf("rows where %s is false or unset", col.Name)
		} else {
			cfg.Values = []string{"true"}
			cfg.SQLWhere = fmt.Sprintf("%s = true", col.Name)
			cfg.Description = fmt.Sprintf("rows where %s is true", col.Name)
		}

	case classTemporal:
		n, unit := temporalWindow(phrase)
		cfg.Operator = ">="
		cfg.Values = []string{fmt.Sprintf("%d %s", n, unit)}
		cfg.SQLWhere = fmt.Sprintf("%s >= NOW() - INTERVAL '%d %s'", col.Name, n, unit)
		cfg.Description = fmt.Sprintf("rows where %s is within the last %d %s", col.Name, n, unit)

	case classExclusion:
		if len(values) == 0 {
			return nil, fmt.Errorf("%w: exclusion filter without values", models.ErrNoSuitableColumn)
		}
		cfg.Values = values
		if len(values) == 1 {
			cfg.Operator = "!="
			cfg.SQLWhere = fmt.Sprintf("%s != '%s'", col.Name, escape(values[0]))
		} else {
			cfg.Operator = "NOT IN"
			cfg.SQLWhere = fmt.Sprintf("%s NOT IN (%s)", col.Name, quoteList(values))
		}
		cfg.Description = fmt.Sprintf("rows where %s is not one of: %s", col.Name, strings.Join(values, ", "))

	default: // inclusion
		if len(values) == 0 {
			return nil, fmt.Errorf("%w: inclusion filter without values", models.ErrNoSuitableColumn)
		}
		cfg.Values = values
		if len(values) == 1 {
			cfg.Operator = "="
			cfg.SQLWhere = fmt.Sprintf("%s = '%s'", col.Name, escape(values[0]))
		} else {
			cfg.Operator = "IN"
			cfg.SQLWhere = fmt.Sprintf("%s IN (%s)", col.Name, quoteList(values))
		}
		cfg.Description = fmt.Sprintf("rows where %s is one of: %s", col.Name, strings.Join(values, ", "))
	}

	return cfg, nil
}

// negationApplies distinguishes "inactive users" (negated) from
// "active users" where the boolean regex matched a negated surface word.
func negationApplies(phrase string) bool {
	lp := strings.ToLower(phrase)
	for _, w := range []string{"inactive", "disabled", "unverified", "not active", "non-active", "deleted", "archived"} {
		if strings.Contains(lp, w) {
			return true
		}
	}
	return false
}

func temporalWindow(phrase string) (int, string) {
	m := temporalRe.FindStringSubmatch(phrase)
	n, unit := 7, "days"
	if len(m) >= 3 && m[2] != "" {
		fmt.Sscanf(m[2], "%d", &n)
	}
	if len(m) >= 4 && m[3] != "" {
		unit = strings.ToLower(m[3]) + "s"
	}
	return n, unit
}

func escape(v string) string {
	return strings.ReplaceAll(v, "'", "''")
}

func quoteList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = "'" + escape(v) + "'"
	}
	return strings.Join(quoted, ", ")
}

// validatePredicate compiles an expression-language rendition of the
// predicate against a typed default environment, catching emission bugs
// (bad identifiers, type confusion) before the predicate reaches live SQL.
// Temporal predicates reference NOW() and are skipped.
func validatePredicate(cfg *models.FilterConfig, columns []models.Column) error {
	if cfg.Operator == ">=" {
		return nil
	}

	env := make(map[string]any, len(columns))
	for _, c := range columns {
		switch columnTypeFamily(c.Type) {
		case familyBoolean:
			env[c.Name] = false
		case familyNumeric:
			env[c.Name] = 0
		default:
			env[c.Name] = ""
		}
	}

	exprSrc, err := predicateToExpr(cfg)
	if err != nil {
		return err
	}

	program, err := expr.Compile(exprSrc, expr.Env(env), expr.AsBool())
	if err != nil {
		return fmt.Errorf("compile predicate: %w", err)
	}

	if _, err := expr.Run(program, env); err != nil {
		return fmt.Errorf("eval predicate: %w", err)
	}

	return nil
}

func predicateToExpr(cfg *models.FilterConfig) (string, error) {
	col := cfg.Column

	switch cfg.Operator {
	case "=":
		if len(cfg.Values) == 1 && (cfg.Values[0] == "true" || cfg.Values[0] == "false") {
			if strings.Contains(cfg.SQLWhere, "IS NULL") {
				return fmt.Sprintf("%s == false || %s == false", col, col), nil
			}
			return fmt.Sprintf("%s == %s", col, cfg.Values[0]), nil
		}
		return fmt.Sprintf("%s == %q", col, cfg.Values[0]), nil
	case "!=":
		return fmt.Sprintf("%s != %q", col, cfg.Values[0]), nil
	case "IN", "NOT IN":
		quoted := make([]string, len(cfg.Values))
		for i, v := range cfg.Values {
			quoted[i] = fmt.Sprintf("%q", v)
		}
		src := fmt.Sprintf("%s in [%s]", col, strings.Join(quoted, ", "))
		if cfg.Operator == "NOT IN" {
			src = "!(" + src + ")"
		}
		return src, nil
	default:
		return "", fmt.Errorf("unsupported operator %q", cfg.Operator)
	}
}
