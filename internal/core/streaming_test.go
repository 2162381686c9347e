package core

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func TestStreamingCountingReader(t *testing.T) {
	input := strings.Repeat("x", 1000)
	reader := NewStreamingCountingReader(strings.NewReader(input), int64(len(input)))

	if reader.Progress() != 0 {
		t.Errorf("initial Progress = %d, want 0", reader.Progress())
	}

	buf := make([]byte, 100)
	totalRead := 0
	for {
		n, err := reader.Read(buf)
		totalRead += n
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if totalRead == 500 && reader.Progress() != 50 {
			t.Errorf("Progress at 500 = %d, want 50", reader.Progress())
		}
	}

	if totalRead != len(input) {
		t.Errorf("total read = %d, want %d", totalRead, len(input))
	}
	if reader.BytesRead() != int64(len(input)) {
		t.Errorf("BytesRead = %d, want %d", reader.BytesRead(), len(input))
	}
	if reader.Progress() != 100 {
		t.Errorf("Progress = %d, want 100", reader.Progress())
	}
}

func TestStreamingCountingReader_UnknownTotal(t *testing.T) {
	reader := NewStreamingCountingReader(strings.NewReader("abc"), 0)
	if _, err := io.ReadAll(reader); err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if reader.Progress() != 0 {
		t.Errorf("Progress = %d, want 0 for unknown total", reader.Progress())
	}
	if reader.BytesRead() != 3 {
		t.Errorf("BytesRead = %d, want 3", reader.BytesRead())
	}
}

func TestWrapForStreaming_SizeLimit(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		max     int64
		wantErr bool
	}{
		{"under limit", "hello", 10, false},
		{"at limit", "hello", 5, false},
		{"over limit", "hello!", 5, true},
		{"no limit", strings.Repeat("z", 4096), 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := WrapForStreaming(strings.NewReader(tt.input), 0, tt.max)
			got, err := io.ReadAll(reader)
			if tt.wantErr {
				if !errors.Is(err, ErrInputTooLarge) {
					t.Fatalf("ReadAll error = %v, want ErrInputTooLarge", err)
				}
				if int64(len(got)) != tt.max {
					t.Errorf("read %d bytes before the error, want %d", len(got), tt.max)
				}
				return
			}
			if err != nil {
				t.Fatalf("ReadAll error = %v", err)
			}
			if string(got) != tt.input {
				t.Errorf("ReadAll = %q, want %q", got, tt.input)
			}
			if reader.BytesRead() != int64(len(tt.input)) {
				t.Errorf("BytesRead = %d, want %d", reader.BytesRead(), len(tt.input))
			}
		})
	}
}
