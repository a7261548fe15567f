package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rendis/autoprogress/internal/record"
	"github.com/rendis/autoprogress/pkg/schema"
)

// DirLoader loads records stored as JSON objects at <Root>/<entityType>/<entityID>.json.
type DirLoader struct {
	Root string
}

// LoadRecord implements RecordLoader. The record is returned as a *record.Document
// whose id defaults to entityID.
func (l DirLoader) LoadRecord(_ context.Context, entityType, entityID string) (any, error) {
	if !safeSegment(entityType) || !safeSegment(entityID) {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid record reference %s/%s", entityType, entityID)
	}
	path := filepath.Join(l.Root, entityType, entityID+".json")
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	data, err := record.DecodeObject(b)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if data == nil {
		data = map[string]any{}
	}
	if _, ok := data[record.IDAttribute]; !ok {
		data[record.IDAttribute] = entityID
	}
	return &record.Document{Type: entityType, Data: data}, nil
}

func safeSegment(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`)
}
