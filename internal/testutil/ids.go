package testutil

// FixedIDGenerator returns the same session id every time.
//
// A node opened with it stamps identical session ids on every journaled
// command, which keeps golden snapshots byte-identical across runs.
//
// Thread-safety: FixedIDGenerator is stateless and safe for concurrent use.
type FixedIDGenerator struct {
	id string
}

// NewFixedIDGenerator creates a generator returning id.
// If id is empty, Generate() returns "test-session".
func NewFixedIDGenerator(id string) *FixedIDGenerator {
	if id == "" {
		id = "test-session"
	}
	return &FixedIDGenerator{id: id}
}

// Generate returns the fixed id. Implements node.IDGenerator.
func (g *FixedIDGenerator) Generate() string {
	return g.id
}
