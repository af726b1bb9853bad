package testutil

// FixedQueryIDGenerator generates the same query ID every time.
//
// This enables deterministic test execution and golden snapshot comparison:
// the same scenario produces byte-identical output.
//
// Thread-safety: FixedQueryIDGenerator is stateless and safe for concurrent use.
type FixedQueryIDGenerator struct {
	id string
}

// NewFixedQueryIDGenerator creates a new fixed query ID generator.
// If id is empty, Generate() returns "test-query-default".
func NewFixedQueryIDGenerator(id string) *FixedQueryIDGenerator {
	if id == "" {
		id = "test-query-default"
	}
	return &FixedQueryIDGenerator{id: id}
}

// Generate returns the fixed query ID.
//
// Implements engine.QueryIDGenerator interface.
func (g *FixedQueryIDGenerator) Generate() string {
	return g.id
}
