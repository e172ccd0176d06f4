package services

import (
	"testing"

	"oee-platform/internal/models"
)

func rateFor(id int64, part, machine string) *models.StandardRate {
	r := &models.StandardRate{ID: id, PartNumber: part, Active: true}
	if machine != "" {
		r.Machine = &machine
	}
	return r
}

func TestResolveRate(t *testing.T) {
	tests := []struct {
		name       string
		candidates []*models.StandardRate
		machine    string
		wantID     int64
		wantNil    bool
	}{
		{
			name:    "no candidates",
			machine: "Press 1",
			wantNil: true,
		},
		{
			name:       "single candidate wins regardless of machine",
			candidates: []*models.StandardRate{rateFor(1, "P-1", "Press 9")},
			machine:    "Press 1",
			wantID:     1,
		},
		{
			name: "exact machine match beats class match",
			candidates: []*models.StandardRate{
				rateFor(1, "P-1", "ASY-01"),
				rateFor(2, "P-1", "Press 3"),
			},
			machine: "Press 3",
			wantID:  2,
		},
		{
			name: "exact match is case-insensitive and trimmed",
			candidates: []*models.StandardRate{
				rateFor(1, "P-1", "Press 9"),
				rateFor(2, "P-1", "  press 3  "),
			},
			machine: "PRESS 3",
			wantID:  2,
		},
		{
			name: "assembly class match when no exact",
			candidates: []*models.StandardRate{
				rateFor(1, "P-1", "Press 9"),
				rateFor(2, "P-1", "ASY-02"),
			},
			machine: "Assembly Line 4",
			wantID:  2,
		},
		{
			name: "non-assembly class match when run is not assembly",
			candidates: []*models.StandardRate{
				rateFor(1, "P-1", "Assembly 1"),
				rateFor(2, "P-1", "Press 9"),
			},
			machine: "Press 3",
			wantID:  2,
		},
		{
			name: "fallback to first in catalog order",
			candidates: []*models.StandardRate{
				rateFor(7, "P-1", "ASY-01"),
				rateFor(8, "P-1", "ASY-02"),
			},
			machine: "Assembly 9",
			wantID:  7,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveRate(tt.candidates, tt.machine)
			if tt.wantNil {
				if got != nil {
					t.Fatalf("Expected nil, got rate %d", got.ID)
				}
				return
			}
			if got == nil {
				t.Fatal("Expected a rate, got nil")
			}
			if got.ID != tt.wantID {
				t.Errorf("Expected rate %d, got %d", tt.wantID, got.ID)
			}
		})
	}
}

func TestCycleSeconds(t *testing.T) {
	cycle := 12.5
	units := 720.0

	tests := []struct {
		name string
		rate models.StandardRate
		want float64
	}{
		{"stored cycle wins", models.StandardRate{IdealCycleTimeSeconds: &cycle, IdealUnitsPerHour: &units}, 12.5},
		{"derived from units per hour", models.StandardRate{IdealUnitsPerHour: &units}, 5.0},
		{"nothing stored", models.StandardRate{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rate.CycleSeconds(); got != tt.want {
				t.Errorf("CycleSeconds() = %f, want %f", got, tt.want)
			}
		})
	}
}
