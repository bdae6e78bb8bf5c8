package asr

import "testing"

func TestStitch(t *testing.T) {
	tests := []struct {
		name     string
		segments []string
		want     string
	}{
		{"empty", nil, ""},
		{"single", []string{"hello world"}, "hello world"},
		{"one word overlap", []string{"hello world", "world peace"}, "hello world peace"},
		{"full duplicate", []string{"a b c", "a b c"}, "a b c"},
		{"multi word overlap", []string{"turn on the kitchen", "the kitchen lights please"}, "turn on the kitchen lights please"},
		{"punctuation preserved", []string{"Hello, world", "world peace!"}, "Hello, world peace!"},
		{"case insensitive overlap", []string{"Hello World", "world peace"}, "Hello World peace"},
		{"character overlap", []string{"abcdef", "defxyz"}, "abcdefxyz"},
		{"cjk character overlap", []string{"今天天气真不错呀", "真不错呀我们出去玩"}, "今天天气真不错呀我们出去玩"},
		{"containment skipped", []string{"the quick brown fox", "quick brown"}, "the quick brown fox"},
		{"no overlap appended", []string{"hello there", "general kenobi"}, "hello there general kenobi"},
		{"blank segment ignored", []string{"hello", "   ", "hello again"}, "hello again"},
		{"growing window", []string{"set a", "set a timer", "set a timer for five", "timer for five minutes"}, "set a timer for five minutes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Stitch(tt.segments); got != tt.want {
				t.Fatalf("Stitch(%q) = %q, want %q", tt.segments, got, tt.want)
			}
		})
	}
}

func TestStitchIdempotentOnStitched(t *testing.T) {
	once := Stitch([]string{"hello world", "world peace"})
	again := Stitch([]string{once})
	if once != again {
		t.Fatalf("expected idempotence, got %q then %q", once, again)
	}
}

func TestStitchOrderSensitive(t *testing.T) {
	forward := Stitch([]string{"hello world", "world peace"})
	reverse := Stitch([]string{"world peace", "hello world"})
	if forward == reverse {
		t.Fatalf("expected order sensitivity, both produced %q", forward)
	}
}

func TestFindWordIndexMultibyteNeighbors(t *testing.T) {
	// "ve" inside "naïve" sits after a multi-byte rune; byte-wise boundary
	// checks would accept it and anchor the stitch mid-word.
	if idx := findWordIndex("naïve ve here", "ve"); idx != 7 {
		t.Fatalf("expected standalone match at 7, got %d", idx)
	}
	if idx := findWordIndex("naïve venture", "ve"); idx != -1 {
		t.Fatalf("expected no standalone match, got %d", idx)
	}
}
