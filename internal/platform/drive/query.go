package drive

import "strings"

type op int

const (
	opInParents op = iota
	opNameEquals
	opNameContains
	opMimeType
	opNotMimeType
	opNotTrashed
)

type clause struct {
	op    op
	value string
}

// Query is a structured Drive search filter. Values are quoted and escaped
// when rendered, so names containing quotes or backslashes cannot break out
// of their clause.
type Query struct {
	clauses []clause
}

func (q Query) with(c clause) Query {
	out := make([]clause, len(q.clauses), len(q.clauses)+1)
	copy(out, q.clauses)
	return Query{clauses: append(out, c)}
}

// InParents matches items whose parent list contains folderID.
func (q Query) InParents(folderID string) Query {
	return q.with(clause{opInParents, folderID})
}

// NameEquals matches items named exactly name.
func (q Query) NameEquals(name string) Query {
	return q.with(clause{opNameEquals, name})
}

// NameContains matches items whose name contains s.
func (q Query) NameContains(s string) Query {
	return q.with(clause{opNameContains, s})
}

// MimeType matches items of the given MIME type.
func (q Query) MimeType(mimeType string) Query {
	return q.with(clause{opMimeType, mimeType})
}

// NotMimeType excludes items of the given MIME type.
func (q Query) NotMimeType(mimeType string) Query {
	return q.with(clause{opNotMimeType, mimeType})
}

// Folders restricts the query to folders.
func (q Query) Folders() Query {
	return q.MimeType(FolderMimeType)
}

// Files excludes folders.
func (q Query) Files() Query {
	return q.NotMimeType(FolderMimeType)
}

// NotTrashed excludes trashed items.
func (q Query) NotTrashed() Query {
	return q.with(clause{op: opNotTrashed})
}

// String renders the query in Drive's search syntax.
func (q Query) String() string {
	parts := make([]string, 0, len(q.clauses))
	for _, c := range q.clauses {
		switch c.op {
		case opInParents:
			parts = append(parts, quote(c.value)+" in parents")
		case opNameEquals:
			parts = append(parts, "name = "+quote(c.value))
		case opNameContains:
			parts = append(parts, "name contains "+quote(c.value))
		case opMimeType:
			parts = append(parts, "mimeType = "+quote(c.value))
		case opNotMimeType:
			parts = append(parts, "mimeType != "+quote(c.value))
		case opNotTrashed:
			parts = append(parts, "trashed = false")
		}
	}
	return strings.Join(parts, " and ")
}

// Matches evaluates the query against f locally. Name containment is
// case-insensitive, as in Drive.
func (q Query) Matches(f File) bool {
	for _, c := range q.clauses {
		var ok bool
		switch c.op {
		case opInParents:
			for _, p := range f.Parents {
				if p == c.value {
					ok = true
					break
				}
			}
		case opNameEquals:
			ok = f.Name == c.value
		case opNameContains:
			ok = strings.Contains(strings.ToLower(f.Name), strings.ToLower(c.value))
		case opMimeType:
			ok = f.MimeType == c.value
		case opNotMimeType:
			ok = f.MimeType != c.value
		case opNotTrashed:
			ok = !f.Trashed
		}
		if !ok {
			return false
		}
	}
	return true
}

var escaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

func quote(s string) string {
	return "'" + escaper.Replace(s) + "'"
}
