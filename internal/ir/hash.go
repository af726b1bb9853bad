package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// DomainProgram prefixes program fingerprints.
// Version suffix enables future algorithm migration.
const DomainProgram = "strata/program/v1"

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint computes a stable content hash of a program: its rules in
// declaration order, declared schemas sorted by relation, output, persistence
// directive and budget. Two programs with equal fingerprints evaluate
// identically against the same snapshot.
func Fingerprint(p *Program) string {
	var sb strings.Builder
	for _, r := range p.Rules {
		sb.WriteString(r.String())
		for _, f := range r.Facts {
			sb.WriteString(f.String())
		}
		if r.Fixed != nil {
			writeOptions(&sb, r.Fixed.Options)
		}
		sb.WriteByte('\n')
	}

	names := make([]string, 0, len(p.Schemas))
	for name := range p.Schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&sb, "schema %s", name)
		for _, c := range p.Schemas[name].Columns {
			fmt.Fprintf(&sb, " %s:%s:%t:%t", c.Name, c.Type, c.Key, c.Nullable)
		}
		sb.WriteByte('\n')
	}

	fmt.Fprintf(&sb, "output %s\n", p.Output)
	if p.Persist != nil {
		fmt.Fprintf(&sb, "persist %s %s\n", p.Persist.Mode, p.Persist.Target(p.Output))
	}
	fmt.Fprintf(&sb, "budget %d %d %s\n", p.Budget.MaxIterations, p.Budget.MaxDerived, p.Budget.Timeout)

	return hashWithDomain(DomainProgram, []byte(sb.String()))
}

func writeOptions(sb *strings.Builder, opts map[string]Value) {
	keys := make([]string, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(sb, " %s=%s", k, FormatValue(opts[k]))
	}
}
