package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/atelierhq/atelier/internal/ids"
)

var _ Store = (*PG)(nil)

// PG implements Store on PostgreSQL, one row per document with the body
// held in a jsonb column. Filters compile to jsonb path expressions with
// every client-supplied value passed as a bind parameter.
type PG struct {
	db *sql.DB
}

// NewPG wraps an open database handle.
func NewPG(db *sql.DB) *PG {
	return &PG{db: db}
}

func (s *PG) Collection(name string) Collection {
	return &pgCollection{db: s.db, name: name}
}

func (s *PG) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type pgCollection struct {
	db   *sql.DB
	name string
}

func (c *pgCollection) Insert(ctx context.Context, doc Document) (Document, error) {
	stored := doc.Clone()
	if stored == nil {
		stored = Document{}
	}
	if stored.ID() == "" {
		stored["id"] = ids.New()
	}
	now := Now()
	if _, ok := stored["createdAt"]; !ok {
		stored["createdAt"] = now
	}
	stored["updatedAt"] = now

	body, err := json.Marshal(stored)
	if err != nil {
		return nil, err
	}
	_, err = c.db.ExecContext(ctx,
		`insert into documents(collection, id, doc) values($1,$2,$3)`,
		c.name, stored.ID(), body,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return stored, nil
}

func (c *pgCollection) Find(ctx context.Context, filter Filter, opts FindOptions) ([]Document, error) {
	where, args := compileFilter(filter, []any{c.name})
	query := `select doc from documents where collection=$1` + where
	query += compileSort(opts.Sort)
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" limit $%d", len(args))
	}
	if opts.Skip > 0 {
		args = append(args, opts.Skip)
		query += fmt.Sprintf(" offset $%d", len(args))
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var doc Document
		if err := json.Unmarshal(body, &doc); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (c *pgCollection) FindOne(ctx context.Context, filter Filter) (Document, error) {
	where, args := compileFilter(filter, []any{c.name})
	row := c.db.QueryRowContext(ctx,
		`select doc from documents where collection=$1`+where+` limit 1`, args...)
	return scanDocument(row)
}

func (c *pgCollection) FindByID(ctx context.Context, id string) (Document, error) {
	row := c.db.QueryRowContext(ctx,
		`select doc from documents where collection=$1 and id=$2`, c.name, id)
	return scanDocument(row)
}

func (c *pgCollection) Update(ctx context.Context, id string, changes Document) (Document, error) {
	merged := changes.Clone()
	if merged == nil {
		merged = Document{}
	}
	delete(merged, "id")
	delete(merged, "createdAt")
	merged["updatedAt"] = Now()
	body, err := json.Marshal(merged)
	if err != nil {
		return nil, err
	}
	row := c.db.QueryRowContext(ctx,
		`update documents set doc = doc || $3::jsonb where collection=$1 and id=$2 returning doc`,
		c.name, id, body,
	)
	return scanDocument(row)
}

func (c *pgCollection) Delete(ctx context.Context, id string) (Document, error) {
	row := c.db.QueryRowContext(ctx,
		`delete from documents where collection=$1 and id=$2 returning doc`, c.name, id)
	return scanDocument(row)
}

func (c *pgCollection) DeleteMany(ctx context.Context, filter Filter) (int, error) {
	where, args := compileFilter(filter, []any{c.name})
	res, err := c.db.ExecContext(ctx,
		`delete from documents where collection=$1`+where, args...)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	return int(affected), err
}

func (c *pgCollection) Count(ctx context.Context, filter Filter) (int, error) {
	where, args := compileFilter(filter, []any{c.name})
	var count int
	err := c.db.QueryRowContext(ctx,
		`select count(*) from documents where collection=$1`+where, args...).Scan(&count)
	return count, err
}

func scanDocument(row *sql.Row) (Document, error) {
	var body []byte
	if err := row.Scan(&body); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// compileFilter renders the filter as an " and ..." SQL fragment. Field
// paths travel as text[] bind parameters, so arbitrary filter keys from
// the query DSL never reach the SQL text.
func compileFilter(filter Filter, args []any) (string, []any) {
	clauses, args := compileConds(filter.Conds, args)
	if len(filter.Or) > 0 {
		branches := make([]string, 0, len(filter.Or))
		for _, branch := range filter.Or {
			branchSQL, branchArgs := compileFilter(branch, args)
			args = branchArgs
			branchSQL = strings.TrimPrefix(branchSQL, " and ")
			if branchSQL == "" {
				branchSQL = "true"
			}
			branches = append(branches, "("+branchSQL+")")
		}
		clauses = append(clauses, "("+strings.Join(branches, " or ")+")")
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " and " + strings.Join(clauses, " and "), args
}

func compileConds(conds []Cond, args []any) ([]string, []any) {
	clauses := make([]string, 0, len(conds))
	for _, cond := range conds {
		path := fieldPath(cond.Field)
		switch cond.Op {
		case OpExists:
			args = append(args, path)
			clauses = append(clauses, fmt.Sprintf("doc#>$%d::text[] is not null", len(args)))
		case OpNotExists:
			args = append(args, path)
			clauses = append(clauses, fmt.Sprintf("doc#>$%d::text[] is null", len(args)))
		case OpEq, OpNe:
			op := "="
			if cond.Op == OpNe {
				op = "is distinct from"
			}
			args = append(args, path, textValue(cond.Value))
			clauses = append(clauses,
				fmt.Sprintf("doc#>>$%d::text[] %s $%d", len(args)-1, op, len(args)))
		case OpGt, OpGte, OpLt, OpLte:
			op := map[Op]string{OpGt: ">", OpGte: ">=", OpLt: "<", OpLte: "<="}[cond.Op]
			if number, ok := toFloat(cond.Value); ok {
				args = append(args, path, number)
				clauses = append(clauses,
					fmt.Sprintf("(doc#>>$%d::text[])::numeric %s $%d", len(args)-1, op, len(args)))
			} else {
				args = append(args, path, textValue(cond.Value))
				clauses = append(clauses,
					fmt.Sprintf("doc#>>$%d::text[] %s $%d", len(args)-1, op, len(args)))
			}
		case OpIn:
			values, _ := cond.Value.([]any)
			if len(values) == 0 {
				clauses = append(clauses, "false")
				continue
			}
			parts := make([]string, 0, len(values))
			for _, v := range values {
				args = append(args, path, textValue(v))
				parts = append(parts,
					fmt.Sprintf("doc#>>$%d::text[] = $%d", len(args)-1, len(args)))
			}
			clauses = append(clauses, "("+strings.Join(parts, " or ")+")")
		case OpRegex:
			args = append(args, path, textValue(cond.Value))
			clauses = append(clauses,
				fmt.Sprintf("doc#>>$%d::text[] ~* $%d", len(args)-1, len(args)))
		}
	}
	return clauses, args
}

func compileSort(fields []SortField) string {
	if len(fields) == 0 {
		return ""
	}
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		dir := "asc"
		if field.Desc {
			dir = "desc"
		}
		// Sort fields come from the query DSL; quote the literal path
		// rather than interpolating raw input.
		path := strings.ReplaceAll(field.Field, "'", "")
		path = strings.ReplaceAll(path, ".", ",")
		parts = append(parts, fmt.Sprintf("doc#>>'{%s}' %s", path, dir))
	}
	return " order by " + strings.Join(parts, ", ")
}

// fieldPath renders a dotted field path as a Postgres text[] literal,
// bound as a parameter and cast in SQL. Array syntax characters are
// stripped so client field names cannot change the literal's shape.
func fieldPath(field string) string {
	clean := strings.NewReplacer("{", "", "}", "", ",", "", `"`, "").Replace(field)
	return "{" + strings.ReplaceAll(clean, ".", ",") + "}"
}

func textValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		return strings.TrimSuffix(fmt.Sprintf("%v", t), ".0")
	default:
		return fmt.Sprintf("%v", t)
	}
}
