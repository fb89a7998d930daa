package deduplication

import (
	"math"
	"testing"

	"github.com/A-ryanVAT-S/Provify/internal/types"
)

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical", "App crashes when uploading photo", "App crashes when uploading photo", 1.0},
		{"case insensitive", "LOGIN button not responding", "login BUTTON not responding", 1.0},
		{"extra whitespace", "  login   button\tbroken ", "login button broken", 1.0},
		{"disjoint", "login broken", "photo upload crash", 0.0},
		{"half overlap", "a b", "b c", 1.0 / 3.0},
		{"empty left", "", "login broken", 0.0},
		{"empty right", "login broken", "   ", 0.0},
		{"both empty", "", "", 0.0},
		{"duplicate words collapse", "crash crash crash", "crash", 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Similarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Similarity(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
			if rev := Similarity(tt.b, tt.a); rev != got {
				t.Errorf("Similarity is not symmetric: %v vs %v", got, rev)
			}
		})
	}
}

func TestThresholdIsStrict(t *testing.T) {
	// 7 shared words, union of 10: exactly 0.7
	a := "w1 w2 w3 w4 w5 w6 w7 w8"
	b := "w1 w2 w3 w4 w5 w6 w7 x1 x2"
	if got := Similarity(a, b); got != 0.7 {
		t.Fatalf("Similarity = %v, want exactly 0.7", got)
	}
	if IsDuplicate(a, b) {
		t.Error("similarity equal to the threshold must not count as duplicate")
	}

	// 9 shared words, union of 11: ~0.818
	c := "w1 w2 w3 w4 w5 w6 w7 w8 w9 w10"
	d := "w1 w2 w3 w4 w5 w6 w7 w8 w9 x1"
	if !IsDuplicate(c, d) {
		t.Errorf("similarity %v should count as duplicate", Similarity(c, d))
	}
}

func TestCheckDuplicate(t *testing.T) {
	existing := []*types.Bug{
		{ID: "aaaa1111", AppPackage: "com.whatsapp", Description: "app crashes when uploading a photo from gallery"},
		{ID: "bbbb2222", AppPackage: "com.instagram.android", Description: "login button not responding on first tap"},
		nil,
	}
	dedup := NewJaccardDeduplicator()

	tests := []struct {
		name         string
		pkg          string
		description  string
		wantDup      bool
		wantID       string
		wantCompared int
	}{
		{
			name:         "near duplicate same package",
			pkg:          "com.whatsapp",
			description:  "App crashes when uploading a photo from the gallery",
			wantDup:      true,
			wantID:       "aaaa1111",
			wantCompared: 1,
		},
		{
			name:         "same text different package",
			pkg:          "com.example.myapp",
			description:  "login button not responding on first tap",
			wantDup:      false,
			wantCompared: 0,
		},
		{
			name:         "different bug same package",
			pkg:          "com.instagram.android",
			description:  "stories freeze after rotating device",
			wantDup:      false,
			wantCompared: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision := dedup.CheckDuplicate(tt.pkg, tt.description, existing)
			if decision.IsDuplicate != tt.wantDup {
				t.Fatalf("IsDuplicate = %v, want %v (similarity %.3f)", decision.IsDuplicate, tt.wantDup, decision.Similarity)
			}
			if decision.DuplicateOf != tt.wantID {
				t.Errorf("DuplicateOf = %q, want %q", decision.DuplicateOf, tt.wantID)
			}
			if decision.ComparedCount != tt.wantCompared {
				t.Errorf("ComparedCount = %d, want %d", decision.ComparedCount, tt.wantCompared)
			}
			if err := decision.Validate(); err != nil {
				t.Errorf("decision failed validation: %v", err)
			}
		})
	}
}

func TestDuplicateDecisionValidation(t *testing.T) {
	tests := []struct {
		name     string
		decision DuplicateDecision
		wantErr  bool
	}{
		{"valid duplicate", DuplicateDecision{IsDuplicate: true, DuplicateOf: "abc", Similarity: 0.9, ComparedCount: 3}, false},
		{"valid unique", DuplicateDecision{Similarity: 0.4, ComparedCount: 3}, false},
		{"similarity above one", DuplicateDecision{Similarity: 1.2}, true},
		{"negative similarity", DuplicateDecision{Similarity: -0.1}, true},
		{"duplicate without id", DuplicateDecision{IsDuplicate: true, Similarity: 0.9}, true},
		{"id without duplicate", DuplicateDecision{DuplicateOf: "abc", Similarity: 0.2}, true},
		{"duplicate at threshold", DuplicateDecision{IsDuplicate: true, DuplicateOf: "abc", Similarity: Threshold}, true},
		{"negative compared", DuplicateDecision{ComparedCount: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.decision.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
