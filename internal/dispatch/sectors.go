package dispatch

import (
	"strings"

	"github.com/contalink/bandeja/internal/registry"
)

// SectorPatterns maps an uppercase sector name to the substrings a machine
// name must contain (case-insensitive) to belong to that sector. Static
// configuration; a sector without an entry falls back to its own name as the
// single pattern.
type SectorPatterns map[string][]string

// DefaultSectorPatterns encodes the office machine naming convention.
var DefaultSectorPatterns = SectorPatterns{
	"ADMIN":           {"ADMIN"},
	"BPO":             {"BPO"},
	"COMERCIAL":       {"COMER", "COMERCIAL", "COMERC"},
	"CONTABIL":        {"CONTAB", "CONTABIL"},
	"CONSULTORIA":     {"CONSULT", "CONSULTOR"},
	"DESENVOLVIMENTO": {"DEV", "DESENV", "DESENVOLVIMENTO"},
	"DP":              {"DP"},
	"FINANCEIRO":      {"FINAN", "FINANCEIRO"},
	"FISCAL":          {"FISC", "FISCAL"},
	"MARKETING":       {"MARK", "MARKETING", "MKT"},
	"SOCIETARIO":      {"SOC", "SOCIETARIO"},
	"TI":              {"TI"},
	"OUTROS":          {"OUTRO", "OUTROS", "UNICO"},
}

// Patterns returns the match substrings for a sector.
func (p SectorPatterns) Patterns(sector string) []string {
	key := strings.ToUpper(sector)
	if pats, ok := p[key]; ok {
		return pats
	}
	return []string{key}
}

// MatchSector resolves a sector name to the currently registered sessions
// whose machine name contains one of the sector's patterns. Zero matches is
// a normal outcome.
func (d *Dispatcher) MatchSector(sector string) []registry.Session {
	pats := d.patterns.Patterns(sector)
	var out []registry.Session
	for _, s := range d.reg.Snapshot() {
		machine := strings.ToUpper(s.Machine)
		for _, pat := range pats {
			if strings.Contains(machine, pat) {
				out = append(out, s)
				break
			}
		}
	}
	return out
}
