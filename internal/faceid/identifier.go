package faceid

import "math"

// DefaultThreshold is the distance below which a face counts as a match.
const DefaultThreshold = 0.6

// Match is the nearest enrolled identity for one face.
type Match struct {
	Name     string
	Distance float64
}

// Identifier resolves embeddings to enrolled names.
type Identifier struct {
	identities []Identity
	threshold  float64
}

// NewIdentifier snapshots table. Later changes to table are not observed.
func NewIdentifier(table *Table, threshold float64) *Identifier {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	var identities []Identity
	if table != nil {
		identities = table.Identities()
	}
	return &Identifier{identities: identities, threshold: threshold}
}

// Len returns the number of enrolled identities.
func (id *Identifier) Len() int {
	return len(id.identities)
}

// Identify returns the nearest enrolled identity when its distance is below
// the threshold. Embeddings whose dimension differs from an entry never match
// that entry.
func (id *Identifier) Identify(embedding []float64) (Match, bool) {
	best := Match{Distance: math.Inf(1)}
	found := false
	for _, identity := range id.identities {
		d, ok := Distance(embedding, identity.Embedding)
		if !ok {
			continue
		}
		if d < best.Distance {
			best = Match{Name: identity.Name, Distance: d}
			found = true
		}
	}
	if !found || best.Distance >= id.threshold {
		return Match{}, false
	}
	return best, true
}

// IdentifyAll returns the distinct names recognised among embeddings, in the
// order they were first seen. Unknown faces contribute nothing.
func (id *Identifier) IdentifyAll(embeddings [][]float64) []string {
	var names []string
	seen := make(map[string]struct{})
	for _, embedding := range embeddings {
		match, ok := id.Identify(embedding)
		if !ok {
			continue
		}
		if _, dup := seen[match.Name]; dup {
			continue
		}
		seen[match.Name] = struct{}{}
		names = append(names, match.Name)
	}
	return names
}

// Distance is the Euclidean distance between a and b. It reports false when
// the dimensions differ or either vector is empty.
func Distance(a, b []float64) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	var sum float64
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return math.Sqrt(sum), true
}
