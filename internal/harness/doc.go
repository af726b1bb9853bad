// Package harness runs conformance scenarios against the query engine.
//
// A scenario is a YAML file naming a sequence of programs to run against
// one fresh store, what each run is expected to produce, and assertions on
// the stored relations left behind:
//
//	name: stored_closure
//	description: "closure over a stored edge relation"
//	backend: sqlite
//	steps:
//	  - program: programs/store_edges.cue
//	    expect:
//	      persisted: 3
//	  - source: |
//	      output: "path"
//	      rules: [...]
//	    expect:
//	      tuples: [[1, 2], [1, 3], [2, 3]]
//	  - program: programs/bad.cue
//	    expect:
//	      error: stratification
//	assertions:
//	  - type: relation_contains
//	    relation: edge
//	    tuples: [[1, 2]]
//	  - type: relation_count
//	    relation: edge
//	    count: 3
//
// Program paths are relative to the scenario file. Steps run with a fixed
// query ID, so the step trace is byte-identical across runs and backends
// and can be compared against a golden file (see RunWithGolden).
//
// # Assertion Types
//
//   - relation_contains: the stored relation holds every listed tuple
//   - relation_equals: the stored relation holds exactly the listed tuples
//   - relation_count: the stored relation holds exactly count tuples
//   - relation_absent: no relation of that name is stored
//   - relations: the catalog lists exactly these relation names
package harness
