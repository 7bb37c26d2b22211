// Package schema describes how pipeline rows map onto parquet columns.
//
// A Description is an ordered list of FieldMappings. Each mapping binds a
// dot-separated column path ("address.city") to a pipeline field name and a
// SemanticType. From the mappings the package derives the nested columnar
// schema (arrow and parquet views of the same tree) and, in the other
// direction, infers mappings from the schema of an existing file.
package schema

import (
	"strings"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	pqschema "github.com/apache/arrow-go/v18/parquet/schema"

	"github.com/ajitpratap0/pqshim/pkg/errors"
)

// FieldMapping binds one leaf column to one pipeline field.
type FieldMapping struct {
	ColumnPath   string       `yaml:"column" json:"column"`
	PipelineName string       `yaml:"name" json:"name"`
	Type         SemanticType `yaml:"type" json:"type"`
	Nullable     bool         `yaml:"nullable" json:"nullable"`
}

// Segments returns the column path split on dots.
func (m FieldMapping) Segments() []string {
	return strings.Split(m.ColumnPath, ".")
}

// FieldOption customizes a mapping added with AddField.
type FieldOption func(*FieldMapping)

// WithNullable sets whether the leaf column may hold nulls. Mappings are
// nullable unless told otherwise.
func WithNullable(nullable bool) FieldOption {
	return func(m *FieldMapping) {
		m.Nullable = nullable
	}
}

// Description is the ordered set of field mappings for one reader or writer.
// It may be shared between goroutines. It is frozen the first time a
// columnar schema is derived from it; AddField fails afterwards.
type Description struct {
	mu       sync.Mutex
	fields   []FieldMapping
	byColumn map[string]int
	byName   map[string]int
	frozen   bool

	arrowSchema   *arrow.Schema
	parquetSchema *pqschema.Schema
}

// NewDescription creates an empty description.
func NewDescription() *Description {
	return &Description{
		byColumn: make(map[string]int),
		byName:   make(map[string]int),
	}
}

// AddField appends a mapping. Both the column path and the pipeline name must
// be unique, and no column path may be a prefix group of another.
func (d *Description) AddField(columnPath, pipelineName string, t SemanticType, opts ...FieldOption) error {
	m := FieldMapping{
		ColumnPath:   columnPath,
		PipelineName: pipelineName,
		Type:         t,
		Nullable:     true,
	}
	for _, opt := range opts {
		opt(&m)
	}
	return d.add(m)
}

// MustAddField is AddField for literals; it panics on error.
func (d *Description) MustAddField(columnPath, pipelineName string, t SemanticType, opts ...FieldOption) *Description {
	if err := d.AddField(columnPath, pipelineName, t, opts...); err != nil {
		panic(err)
	}
	return d
}

func (d *Description) add(m FieldMapping) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.frozen {
		return errors.New(errors.ErrorTypeValidation, "description is frozen: it is already in use by a reader or writer").
			WithDetail("column", m.ColumnPath)
	}
	if m.PipelineName == "" {
		return errors.New(errors.ErrorTypeValidation, "pipeline name must not be empty").
			WithDetail("column", m.ColumnPath)
	}
	if err := validatePath(m.ColumnPath); err != nil {
		return err
	}
	if !m.Type.Valid() {
		return errors.Newf(errors.ErrorTypeValidation, "unknown semantic type %q", string(m.Type)).
			WithDetail("column", m.ColumnPath)
	}
	if _, ok := d.byColumn[m.ColumnPath]; ok {
		return errors.Newf(errors.ErrorTypeDuplicateField, "column path %q is already mapped", m.ColumnPath)
	}
	if _, ok := d.byName[m.PipelineName]; ok {
		return errors.Newf(errors.ErrorTypeDuplicateField, "pipeline field %q is already mapped", m.PipelineName)
	}
	for existing := range d.byColumn {
		if strings.HasPrefix(existing, m.ColumnPath+".") || strings.HasPrefix(m.ColumnPath, existing+".") {
			return errors.Newf(errors.ErrorTypeValidation,
				"column path %q conflicts with %q: a column cannot be both a leaf and a group", m.ColumnPath, existing)
		}
	}

	d.byColumn[m.ColumnPath] = len(d.fields)
	d.byName[m.PipelineName] = len(d.fields)
	d.fields = append(d.fields, m)
	return nil
}

func validatePath(path string) error {
	if path == "" {
		return errors.New(errors.ErrorTypeValidation, "column path must not be empty")
	}
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			return errors.Newf(errors.ErrorTypeValidation, "column path %q has an empty segment", path)
		}
	}
	return nil
}

// Fields returns a copy of the mappings in declaration order.
func (d *Description) Fields() []FieldMapping {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]FieldMapping, len(d.fields))
	copy(out, d.fields)
	return out
}

// Len returns the number of mappings.
func (d *Description) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.fields)
}

// FieldByPipelineName looks a mapping up by pipeline field name.
func (d *Description) FieldByPipelineName(name string) (FieldMapping, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i, ok := d.byName[name]
	if !ok {
		return FieldMapping{}, false
	}
	return d.fields[i], true
}

// FieldByColumnPath looks a mapping up by column path.
func (d *Description) FieldByColumnPath(path string) (FieldMapping, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i, ok := d.byColumn[path]
	if !ok {
		return FieldMapping{}, false
	}
	return d.fields[i], true
}

// Freeze prevents further AddField calls. Readers and writers freeze the
// description they are given.
func (d *Description) Freeze() {
	d.mu.Lock()
	d.frozen = true
	d.mu.Unlock()
}

// Frozen reports whether the description has been frozen.
func (d *Description) Frozen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frozen
}

// ToArrowSchema returns the arrow view of the columnar schema. Groups are
// non-nullable structs; leaves are nullable when their mapping is. The
// result is built once and the description is frozen.
func (d *Description) ToArrowSchema() (*arrow.Schema, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.deriveLocked(); err != nil {
		return nil, err
	}
	return d.arrowSchema, nil
}

// ToColumnarSchema returns the parquet schema a writer emits for this
// description. The result is built once and the description is frozen.
func (d *Description) ToColumnarSchema() (*pqschema.Schema, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.deriveLocked(); err != nil {
		return nil, err
	}
	return d.parquetSchema, nil
}

func (d *Description) deriveLocked() error {
	if d.parquetSchema != nil {
		return nil
	}
	if len(d.fields) == 0 {
		return errors.New(errors.ErrorTypeValidation, "description has no fields")
	}

	root := buildTree(d.fields)
	fields := make([]arrow.Field, 0, len(root.children))
	for _, child := range root.children {
		fields = append(fields, child.arrowField())
	}
	sc := arrow.NewSchema(fields, nil)

	pq, err := pqarrow.ToParquet(sc, nil, pqarrow.DefaultWriterProps())
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to derive parquet schema")
	}

	d.arrowSchema = sc
	d.parquetSchema = pq
	d.frozen = true
	return nil
}

// treeNode is a group (children set) or a leaf (mapping set) of the nested
// column tree. Children keep the order of their first leaf.
type treeNode struct {
	name     string
	children []*treeNode
	byName   map[string]*treeNode
	mapping  *FieldMapping
}

func buildTree(fields []FieldMapping) *treeNode {
	root := &treeNode{byName: map[string]*treeNode{}}
	for i := range fields {
		m := &fields[i]
		segs := m.Segments()
		cur := root
		for depth, seg := range segs {
			next, ok := cur.byName[seg]
			if !ok {
				next = &treeNode{name: seg, byName: map[string]*treeNode{}}
				cur.byName[seg] = next
				cur.children = append(cur.children, next)
			}
			if depth == len(segs)-1 {
				next.mapping = m
			}
			cur = next
		}
	}
	return root
}

func (n *treeNode) arrowField() arrow.Field {
	if n.mapping != nil {
		return arrow.Field{Name: n.name, Type: n.mapping.Type.ArrowType(), Nullable: n.mapping.Nullable}
	}
	children := make([]arrow.Field, 0, len(n.children))
	for _, c := range n.children {
		children = append(children, c.arrowField())
	}
	return arrow.Field{Name: n.name, Type: arrow.StructOf(children...), Nullable: false}
}
