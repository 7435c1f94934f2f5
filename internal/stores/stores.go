package stores

import (
	"context"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/maltedev/clearance-scraper/internal/models"
	"github.com/titanous/json5"
)

// Directory lists the stores a catalog is replicated to.
type Directory interface {
	Stores(ctx context.Context) ([]models.StoreIdentity, error)
}

// FileDirectory reads a branches file of the form
// [{"id": 19, "name": "Saint-Jérôme", "address": "..."}].
type FileDirectory struct {
	Path string
}

func NewFileDirectory(path string) *FileDirectory {
	return &FileDirectory{Path: path}
}

type branch struct {
	ID      any    `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

// branchID accepts both numeric and string ids.
func branchID(v any) (string, error) {
	switch id := v.(type) {
	case nil:
		return "", nil
	case string:
		return strings.TrimSpace(id), nil
	case int64:
		return strconv.FormatInt(id, 10), nil
	case float64:
		if id != math.Trunc(id) {
			return "", fmt.Errorf("store id %v is not an integer", id)
		}
		return strconv.FormatFloat(id, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("store id must be a number or a string, got %T", v)
	}
}

func (d *FileDirectory) Stores(ctx context.Context) ([]models.StoreIdentity, error) {
	data, err := os.ReadFile(d.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read stores file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a branches document. Entries without an id or a name are
// rejected, as are duplicate ids.
func Parse(data []byte) ([]models.StoreIdentity, error) {
	var branches []branch
	if err := json5.Unmarshal(data, &branches); err != nil {
		return nil, fmt.Errorf("failed to parse stores: %w", err)
	}

	seen := make(map[string]struct{}, len(branches))
	stores := make([]models.StoreIdentity, 0, len(branches))
	for i, b := range branches {
		id, err := branchID(b.ID)
		if err != nil {
			return nil, fmt.Errorf("store %d: %w", i, err)
		}
		if id == "" || strings.TrimSpace(b.Name) == "" {
			return nil, fmt.Errorf("store %d: id and name are required", i)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("store %d: duplicate id %s", i, id)
		}
		seen[id] = struct{}{}

		stores = append(stores, models.NewStoreIdentity(id, strings.TrimSpace(b.Name), b.Address))
	}

	return stores, nil
}

// Static is an in-memory directory.
type Static []models.StoreIdentity

func (s Static) Stores(ctx context.Context) ([]models.StoreIdentity, error) {
	return s, nil
}
