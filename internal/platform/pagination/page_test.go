package pagination

import "testing"

func TestClampPageSize(t *testing.T) {
	cfg := PageSizeConfig{Default: 10, Max: 50}

	cases := []struct {
		name  string
		value int
		want  int
	}{
		{"zero uses default", 0, 10},
		{"negative uses default", -3, 10},
		{"within range", 25, 25},
		{"above max clamps", 200, 50},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClampPageSize(tc.value, cfg); got != tc.want {
				t.Fatalf("clamp(%d) = %d, want %d", tc.value, got, tc.want)
			}
		})
	}
}

func TestClampPageSizeEmptyConfig(t *testing.T) {
	if got := ClampPageSize(0, PageSizeConfig{}); got != 1 {
		t.Fatalf("expected floor of 1, got %d", got)
	}
}
