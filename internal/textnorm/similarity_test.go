package textnorm

import "testing"

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		want float64
	}{
		{
			name: "identical raw strings",
			a:    "Strobe",
			b:    "Strobe",
			want: 1.0,
		},
		{
			name: "identical after normalization",
			a:    "MIDNIGHT CITY!!!",
			b:    "midnight city",
			want: 1.0,
		},
		{
			name: "first empty",
			a:    "",
			b:    "Strobe",
			want: 0.0,
		},
		{
			name: "second empty",
			a:    "Strobe",
			b:    "",
			want: 0.0,
		},
		{
			name: "normalizes to empty",
			a:    "!!!",
			b:    "Strobe",
			want: 0.0,
		},
		{
			name: "live edit qualifier contains base title",
			a:    "Midnight City (Live Edit)",
			b:    "Midnight City",
			want: 0.9,
		},
		{
			name: "containment is symmetric",
			a:    "Midnight City",
			b:    "Midnight City (Live Edit)",
			want: 0.9,
		},
		{
			name: "remix suffix",
			a:    "One More Time",
			b:    "One More Time (Remix)",
			want: 0.9,
		},
		{
			name: "shared tokens without containment",
			a:    "Midnight Sun City Lights",
			b:    "Midnight City Lights",
			want: 0.75,
		},
		{
			name: "half the tokens shared",
			a:    "Sunset Lover",
			b:    "Sunset Drive",
			want: 0.5,
		},
		{
			name: "no shared tokens",
			a:    "Strobe",
			b:    "Levels",
			want: 0.0,
		},
		{
			name: "different artists",
			a:    "Daft Punk",
			b:    "Deadmau5",
			want: 0.0,
		},
		{
			name: "score capped at one",
			a:    "Art Artist",
			b:    "Artistry Heart",
			want: 1.0,
		},
		{
			name: "only short tokens",
			a:    "A of to",
			b:    "It is",
			want: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Similarity(tt.a, tt.b)
			if got != tt.want {
				t.Errorf("Similarity(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestSimilaritySymmetric(t *testing.T) {
	pairs := [][2]string{
		{"Midnight City (Live Edit)", "Midnight City"},
		{"Sunset Lover", "Sunset Drive"},
		{"One More Time", "One Last Time"},
	}
	for _, p := range pairs {
		ab := Similarity(p[0], p[1])
		ba := Similarity(p[1], p[0])
		if ab != ba {
			t.Errorf("Similarity(%q, %q) = %v but reversed = %v", p[0], p[1], ab, ba)
		}
	}
}

func TestSimilarityRange(t *testing.T) {
	pairs := [][2]string{
		{"Midnight City", "Midnight City"},
		{"Midnight City (Live Edit)", "Midnight City"},
		{"One More Time", "One Last Time"},
		{"Art Artist", "Artistry Heart"},
		{"", ""},
		{"Strobe", "Levels"},
	}
	for _, p := range pairs {
		got := Similarity(p[0], p[1])
		if got < 0 || got > 1 {
			t.Errorf("Similarity(%q, %q) = %v, want value in [0, 1]", p[0], p[1], got)
		}
	}
}
