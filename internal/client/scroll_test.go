package client

import "testing"

func TestViewportPrependPreservesAnchor(t *testing.T) {
	v := Viewport{ContentHeight: 4000, Offset: 1200, WindowHeight: 600}

	// a history page renders above the current content
	v.PrependContent(800)

	if v.ContentHeight != 4800 {
		t.Fatalf("content height = %v, want 4800", v.ContentHeight)
	}
	if v.Offset != 2000 {
		t.Fatalf("offset = %v, want 2000 (grew by exactly the added height)", v.Offset)
	}
}

func TestViewportAppendFollowsOnlyWhenPinned(t *testing.T) {
	tests := []struct {
		name       string
		offset     float64
		wantOffset float64
	}{
		{name: "pinned to bottom follows", offset: 3400, wantOffset: 3600},
		{name: "scrolled up stays put", offset: 1000, wantOffset: 1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Viewport{ContentHeight: 4000, Offset: tt.offset, WindowHeight: 600}
			v.AppendContent(200)
			if v.Offset != tt.wantOffset {
				t.Fatalf("offset = %v, want %v", v.Offset, tt.wantOffset)
			}
		})
	}
}
