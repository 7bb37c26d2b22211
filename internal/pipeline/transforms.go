package pipeline

import (
	"context"

	"github.com/ajitpratap0/pqshim/pkg/models"
)

// Transform modifies a row on its way from the readers to the writer.
// Returning a nil row drops it; returning an error fails the run.
type Transform func(ctx context.Context, row *models.Row) (*models.Row, error)

// FieldMapperTransform creates a transform that renames fields according to
// mapping (old name to new name). Unmapped fields keep their name and order.
//
// Example:
//
//	mapper := FieldMapperTransform(map[string]string{
//	    "Name": "full_name",
//	    "Age":  "age",
//	})
func FieldMapperTransform(mapping map[string]string) Transform {
	return func(ctx context.Context, row *models.Row) (*models.Row, error) {
		out := models.NewRow(row.Len())
		out.Source = row.Source

		names, values := row.Names(), row.Values()
		for i, name := range names {
			if renamed, ok := mapping[name]; ok {
				name = renamed
			}
			out.Set(name, values[i])
		}
		return out, nil
	}
}

// FilterTransform creates a transform that keeps rows for which predicate
// returns true.
func FilterTransform(predicate func(*models.Row) bool) Transform {
	return func(ctx context.Context, row *models.Row) (*models.Row, error) {
		if predicate(row) {
			return row, nil
		}
		return nil, nil // Filtered out - returning nil removes the row
	}
}

// ProjectTransform creates a transform that keeps only the named fields, in
// the given order. Fields absent from a row stay absent.
func ProjectTransform(fields ...string) Transform {
	return func(ctx context.Context, row *models.Row) (*models.Row, error) {
		out := models.NewRow(len(fields))
		out.Source = row.Source
		for _, name := range fields {
			if v, ok := row.Get(name); ok {
				out.Set(name, v)
			}
		}
		return out, nil
	}
}

// chain applies transforms in order, stopping at the first drop or error.
func chain(transforms []Transform) Transform {
	return func(ctx context.Context, row *models.Row) (*models.Row, error) {
		var err error
		for _, t := range transforms {
			if row, err = t(ctx, row); err != nil || row == nil {
				return nil, err
			}
		}
		return row, nil
	}
}
