package faceid

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/cases"
)

// Identity is one enrolled person.
type Identity struct {
	Name      string    `json:"name"`
	Embedding []float64 `json:"embedding"`
}

// Table is the ordered set of enrolled identities. Order is significant: it
// decides ties during identification.
type Table struct {
	identities []Identity
}

type tableFile struct {
	Identities []Identity `json:"identities"`
}

// LoadTable reads an enrollment file. A missing file yields an empty table.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Table{}, nil
		}
		return nil, fmt.Errorf("read enrollment table: %w", err)
	}
	var file tableFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse enrollment table: %w", err)
	}
	table := &Table{}
	for _, identity := range file.Identities {
		name := strings.TrimSpace(identity.Name)
		if name == "" || len(identity.Embedding) == 0 {
			continue
		}
		table.identities = append(table.identities, Identity{Name: name, Embedding: identity.Embedding})
	}
	return table, nil
}

// Save writes the table atomically.
func (t *Table) Save(path string) error {
	data, err := json.MarshalIndent(tableFile{Identities: t.Identities()}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode enrollment table: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create enrollment directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write enrollment table: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace enrollment table: %w", err)
	}
	return nil
}

// Len returns the number of enrolled identities.
func (t *Table) Len() int {
	return len(t.identities)
}

// Identities returns a copy of the table in order.
func (t *Table) Identities() []Identity {
	out := make([]Identity, len(t.identities))
	for i, identity := range t.identities {
		out[i] = Identity{Name: identity.Name, Embedding: append([]float64(nil), identity.Embedding...)}
	}
	return out
}

// Enroll stores the mean of samples under name. Re-enrolling an existing name
// (compared case-insensitively) replaces its embedding in place.
func (t *Table) Enroll(name string, samples [][]float64) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("identity name required")
	}
	mean, err := Average(samples)
	if err != nil {
		return err
	}
	if len(t.identities) > 0 && len(t.identities[0].Embedding) != len(mean) {
		return fmt.Errorf("embedding has %d dimensions, table uses %d", len(mean), len(t.identities[0].Embedding))
	}
	if idx := t.index(name); idx >= 0 {
		t.identities[idx] = Identity{Name: name, Embedding: mean}
		return nil
	}
	t.identities = append(t.identities, Identity{Name: name, Embedding: mean})
	return nil
}

// Remove deletes name from the table and reports whether it was present.
func (t *Table) Remove(name string) bool {
	idx := t.index(strings.TrimSpace(name))
	if idx < 0 {
		return false
	}
	t.identities = append(t.identities[:idx], t.identities[idx+1:]...)
	return true
}

func (t *Table) index(name string) int {
	fold := cases.Fold()
	key := fold.String(name)
	for i, identity := range t.identities {
		if fold.String(identity.Name) == key {
			return i
		}
	}
	return -1
}

// Average returns the element-wise mean of equally sized embeddings.
func Average(samples [][]float64) ([]float64, error) {
	if len(samples) == 0 {
		return nil, errors.New("at least one embedding sample required")
	}
	dim := len(samples[0])
	if dim == 0 {
		return nil, errors.New("empty embedding")
	}
	mean := make([]float64, dim)
	for _, sample := range samples {
		if len(sample) != dim {
			return nil, fmt.Errorf("embedding samples differ in dimension: %d vs %d", len(sample), dim)
		}
		for i, v := range sample {
			mean[i] += v
		}
	}
	for i := range mean {
		mean[i] /= float64(len(samples))
	}
	return mean, nil
}
