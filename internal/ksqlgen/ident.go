// Package ksqlgen renders stream-processor DDL fragments. The processor
// upper-cases unquoted identifiers while the Avro schema binds exact-case
// lowercase names, so every emitted identifier is back-tick-quoted
// lowercase.
package ksqlgen

import (
	"strings"
	"unicode"
)

// Quote back-tick-quotes a single identifier, preserving its case.
func Quote(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "") + "`"
}

// QuoteQualified quotes a dotted reference part by part (alias.column).
func QuoteQualified(ref string) string {
	parts := strings.Split(ref, ".")
	for i, p := range parts {
		parts[i] = Quote(p)
	}
	return strings.Join(parts, ".")
}

// sqlKeywords are left unquoted by the predicate rewriter.
var sqlKeywords = map[string]bool{
	"and": true, "or": true, "not": true, "in": true, "is": true,
	"null": true, "true": true, "false": true, "like": true,
	"between": true, "case": true, "when": true, "then": true,
	"else": true, "end": true, "interval": true, "now": true,
}

// QuotePredicate rewrites a SQL predicate so that every bare identifier is
// back-tick-quoted while keywords, numbers and string literals pass through
// verbatim.
func QuotePredicate(predicate string) string {
	var out strings.Builder
	runes := []rune(predicate)

	for i := 0; i < len(runes); {
		r := runes[i]

		// String literals are preserved byte for byte, including quotes.
		if r == '\'' {
			out.WriteRune(r)
			i++
			for i < len(runes) {
				out.WriteRune(runes[i])
				if runes[i] == '\'' {
					// '' is an escaped quote inside the literal.
					if i+1 < len(runes) && runes[i+1] == '\'' {
						i++
						out.WriteRune(runes[i])
					} else {
						i++
						break
					}
				}
				i++
			}
			continue
		}

		if unicode.IsLetter(r) || r == '_' {
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_') {
				i++
			}
			word := string(runes[start:i])

			if sqlKeywords[strings.ToLower(word)] {
				out.WriteString(word)
			} else {
				out.WriteString(Quote(strings.ToLower(word)))
			}
			continue
		}

		out.WriteRune(r)
		i++
	}

	return out.String()
}

// KsqlType maps a source (Postgres-family) column type to the processor's
// SQL type.
func KsqlType(sourceType string) string {
	t := strings.ToLower(strings.TrimSpace(sourceType))

	switch {
	case strings.HasPrefix(t, "smallint"), strings.HasPrefix(t, "int2"):
		return "INT"
	case strings.HasPrefix(t, "integer"), strings.HasPrefix(t, "int4"), t == "int", strings.HasPrefix(t, "serial"):
		return "INT"
	case strings.HasPrefix(t, "bigint"), strings.HasPrefix(t, "int8"), strings.HasPrefix(t, "bigserial"):
		return "BIGINT"
	case strings.HasPrefix(t, "real"), strings.HasPrefix(t, "float4"):
		return "DOUBLE"
	case strings.HasPrefix(t, "double"), strings.HasPrefix(t, "float8"), strings.HasPrefix(t, "numeric"), strings.HasPrefix(t, "decimal"):
		return "DOUBLE"
	case strings.HasPrefix(t, "bool"):
		return "BOOLEAN"
	case strings.HasPrefix(t, "timestamp"), strings.HasPrefix(t, "date"), strings.HasPrefix(t, "time"):
		return "TIMESTAMP"
	default:
		return "VARCHAR"
	}
}

// CompatibleJoinTypes reports whether two processor types can be compared
// in a join condition. Integer widths are one equivalence class, as are
// VARCHAR/STRING; everything else requires an exact match.
func CompatibleJoinTypes(a, b string) bool {
	ua, ub := strings.ToUpper(a), strings.ToUpper(b)
	if ua == ub {
		return true
	}

	ints := map[string]bool{"BIGINT": true, "INTEGER": true, "INT": true, "SMALLINT": true, "TINYINT": true}
	if ints[ua] && ints[ub] {
		return true
	}

	strs := map[string]bool{"VARCHAR": true, "STRING": true}
	return strs[ua] && strs[ub]
}
