package transform

import "testing"

func TestNormalizeDescription(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"lowercase and trim", "  PADARIA XYZ  ", "padaria xyz"},
		{"diacritics stripped", "PADARIA São João", "padaria sao joao"},
		{"cedilla", "AÇOUGUE DO ZÉ", "acougue do ze"},
		{"internal whitespace collapsed", "PIX   RECEBIDO\tLOJA", "pix recebido loja"},
		{"already normalized", "posto de gas", "posto de gas"},
		{"empty", "", ""},
		{"only whitespace", "   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeDescription(tt.input); got != tt.expected {
				t.Errorf("NormalizeDescription(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestContainsNormalized(t *testing.T) {
	tests := []struct {
		name     string
		haystack string
		needle   string
		expected bool
	}{
		{"case-insensitive substring", "PADARIA XYZ LTDA 123", "Padaria XYZ", true},
		{"accents ignored both sides", "ACOUGUE SAO JOAO", "Açougue São João", true},
		{"no match", "POSTO DE GAS", "padaria", false},
		{"empty needle never matches", "anything", "", false},
		{"whitespace-only needle never matches", "anything", "  ", false},
		{"needle longer than haystack", "abc", "abcdef", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ContainsNormalized(tt.haystack, tt.needle); got != tt.expected {
				t.Errorf("ContainsNormalized(%q, %q) = %v, want %v",
					tt.haystack, tt.needle, got, tt.expected)
			}
		})
	}
}
