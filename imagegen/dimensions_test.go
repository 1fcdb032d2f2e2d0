package imagegen

import (
	"fmt"
	"testing"

	"pgregory.net/rapid"
)

func TestResolveDimensions(t *testing.T) {
	tests := []struct {
		label         string
		width, height int
	}{
		{"1:1", 1024, 1024},
		{"4:3", 1408, 1024},
		{"3:4", 1024, 1408},
		{"16:9", 1408, 800},
		{"9:16", 800, 1408},
		{"21:9", 1408, 608},
		{"9:21", 608, 1408},
		{"", 1408, 800},
		{"2:1", 1408, 800},
		{"16x9", 1408, 800},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			w, h := ResolveDimensions(tt.label)
			if w != tt.width || h != tt.height {
				t.Errorf("ResolveDimensions(%q) = (%d, %d), want (%d, %d)", tt.label, w, h, tt.width, tt.height)
			}
		})
	}
}

func TestAspectRatios_AllResolve(t *testing.T) {
	if len(AspectRatios) != 7 {
		t.Fatalf("expected 7 aspect ratios, got %d", len(AspectRatios))
	}
	for _, label := range AspectRatios {
		if !IsAspectRatio(label) {
			t.Errorf("IsAspectRatio(%q) = false", label)
		}
	}
}

func TestResolveDimensions_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		label := rapid.String().Draw(t, "label")
		w, h := ResolveDimensions(label)

		if !IsAspectRatio(label) {
			if w != DefaultWidth || h != DefaultHeight {
				t.Fatalf("unknown label %q resolved to (%d, %d)", label, w, h)
			}
			return
		}
		if w%32 != 0 || h%32 != 0 {
			t.Fatalf("label %q resolved to (%d, %d), not multiples of 32", label, w, h)
		}
	})
}

func TestResolveDimensions_Orientation(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		label := rapid.SampledFrom(AspectRatios).Draw(t, "label")
		w, h := ResolveDimensions(label)

		var a, b int
		if _, err := fmt.Sscanf(label, "%d:%d", &a, &b); err != nil {
			t.Fatalf("bad label %q: %v", label, err)
		}
		switch {
		case a > b && w <= h:
			t.Fatalf("%q should be landscape, got (%d, %d)", label, w, h)
		case a < b && w >= h:
			t.Fatalf("%q should be portrait, got (%d, %d)", label, w, h)
		case a == b && w != h:
			t.Fatalf("%q should be square, got (%d, %d)", label, w, h)
		}
	})
}
