package batch

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/jacentio/lattice/record"
)

// Request is the JSON body of an OrientDB-style batch call.
type Request struct {
	Transaction bool        `json:"transaction"`
	Operations  []Operation `json:"operations"`
}

// Operation is one entry of Request.Operations.
type Operation struct {
	Type     string   `json:"type"`
	Language string   `json:"language"`
	Script   []string `json:"script"`
}

// NewRequest wraps the rendered script of b in a transactional request.
func NewRequest(b *Batch) Request {
	return Request{
		Transaction: true,
		Operations: []Operation{{
			Type:     "script",
			Language: "sql",
			Script:   b.Script(),
		}},
	}
}

// Script renders the batch as SQL statements. Insertions bind their record
// to a variable ("LET r0 = INSERT ...") so later statements can reference it
// as "$r0"; the final statement returns the inserted records in position
// order.
func (b *Batch) Script() []string {
	lines := make([]string, 0, len(b.Statements)+1)
	for _, st := range b.Statements {
		lines = append(lines, st.SQL())
	}
	if b.insertions > 0 {
		vars := make([]string, b.insertions)
		for i := range vars {
			vars[i] = "$" + Placeholder(i).Variable()
		}
		lines = append(lines, "RETURN ["+strings.Join(vars, ", ")+"]")
	}
	return lines
}

// SQL renders a single statement.
func (s Statement) SQL() string {
	switch s.Kind {
	case Insert:
		stmt := "INSERT INTO " + Identifier(s.Class)
		if len(s.Fields) > 0 {
			stmt += " SET " + renderAssignments(s.Fields)
		}
		return "LET " + Placeholder(s.Position).Variable() + " = " + stmt
	case Update:
		if s.Target.Pending {
			return "UPDATE $" + s.Target.Placeholder.Variable() + " SET " + renderAssignments(s.Fields)
		}
		return "UPDATE " + Identifier(s.Class) + " SET " + renderAssignments(s.Fields) + " WHERE @rid = " + renderRID(s.Target.RID)
	case Delete:
		return "DELETE FROM " + Identifier(s.Class) + " WHERE @rid = " + renderRID(s.Target.RID)
	}
	return ""
}

func renderAssignments(fields []Assignment) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = Identifier(f.Name) + " = " + Literal(f.Value)
	}
	return strings.Join(parts, ", ")
}

var plainIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Identifier renders a class or property name. Plain identifiers are left
// as is; anything else is wrapped in backticks with inner backticks escaped.
func Identifier(name string) string {
	if plainIdentifier.MatchString(name) {
		return name
	}
	return "`" + strings.NewReplacer(`\`, `\\`, "`", "\\`").Replace(name) + "`"
}

// Literal renders a wire value as an SQL literal.
func Literal(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case Placeholder:
		return "$" + x.Variable()
	case record.RID:
		return renderRID(x)
	case string:
		return quote(x)
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = Literal(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = quote(k) + ": " + Literal(x[k])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return quote(fmt.Sprint(v))
	}
	return string(b)
}

func renderRID(rid record.RID) string {
	if rid.IsCluster() {
		return rid.String()
	}
	return quote(rid.String())
}

func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(s) + "'"
}
