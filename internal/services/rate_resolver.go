package services

import (
	"strings"

	"oee-platform/internal/models"
)

// ResolveRate picks the standard rate for one aggregated run out of the
// active candidates for its part. Resolution never fails: nil means no rate
// exists and the caller degrades to a zero-rate, low-confidence metric.
//
// Tie-break order when more than one candidate exists:
//  1. exact machine-name match (trimmed, case-insensitive)
//  2. coarse machine-class match (assembly vs non-assembly)
//  3. first candidate in catalog iteration order
func ResolveRate(candidates []*models.StandardRate, machine string) *models.StandardRate {
	switch len(candidates) {
	case 0:
		return nil
	case 1:
		return candidates[0]
	}

	runMachine := normalizeMachine(machine)
	for _, c := range candidates {
		if normalizeMachine(c.MachineName()) == runMachine {
			return c
		}
	}

	runClass := machineClass(machine)
	for _, c := range candidates {
		if machineClass(c.MachineName()) == runClass {
			return c
		}
	}

	return candidates[0]
}

func normalizeMachine(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// machineClass buckets a machine name into a coarse class by token presence.
// Vendor naming is inconsistent ("ASY-01", "Assembly Line 2"), so only the
// assembly vs non-assembly distinction is reliable.
func machineClass(name string) bool {
	n := normalizeMachine(name)
	return strings.Contains(n, "assembly") || strings.Contains(n, "asy")
}
