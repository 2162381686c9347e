package core

import (
	"context"
	"testing"
)

func TestJobOrigin(t *testing.T) {
	if got := JobOriginFromContext(context.Background()); got != (JobOrigin{}) {
		t.Errorf("JobOriginFromContext(empty) = %+v, want zero", got)
	}

	o := JobOrigin{IP: "10.0.0.7", UserAgent: "curl/8.5"}
	ctx := WithJobOrigin(context.Background(), o)
	if got := JobOriginFromContext(context.WithoutCancel(ctx)); got != o {
		t.Errorf("JobOriginFromContext = %+v, want %+v", got, o)
	}

	tests := []struct {
		origin JobOrigin
		want   int
	}{
		{JobOrigin{}, 0},
		{JobOrigin{IP: "10.0.0.7"}, 1},
		{o, 2},
	}
	for _, tt := range tests {
		if got := len(tt.origin.logAttrs()); got != tt.want {
			t.Errorf("len(%+v.logAttrs()) = %d, want %d", tt.origin, got, tt.want)
		}
	}
}
