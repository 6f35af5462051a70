package sqlutil

import "testing"

func TestQuoteIdentifier(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"users", "`users`"},
		{"select", "`select`"},
		{"first name", "`first name`"},
		{"user`data", "`user``data`"},
		{"blog.post", "`blog.post`"},
		{"", "``"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := QuoteIdentifier(tt.input)
			if result != tt.expected {
				t.Errorf("QuoteIdentifier(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestQuoteQualified(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"post", "`post`"},
		{"blog.post", "`blog`.`post`"},
		{"p.*", "`p`.*"},
		{"a`b.c", "`a``b`.`c`"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := QuoteQualified(tt.input)
			if result != tt.expected {
				t.Errorf("QuoteQualified(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestQuoteOrderTerm(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"id", "`id`"},
		{"id desc", "`id` DESC"},
		{" p.created_at ASC ", "`p`.`created_at` ASC"},
		{"first name", "`first name`"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := QuoteOrderTerm(tt.input)
			if result != tt.expected {
				t.Errorf("QuoteOrderTerm(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}
