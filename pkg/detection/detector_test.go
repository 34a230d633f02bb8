package detection

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"
)

func TestFilterByLabel(t *testing.T) {
	dets := []Detection{
		{Label: "fire"},
		{Label: "smoke"},
		{Label: "person"},
		{Label: "fire"},
	}

	got := FilterByLabel(dets, "fire", "smoke")
	if len(got) != 3 {
		t.Fatalf("FilterByLabel: got %d, want 3", len(got))
	}
	for _, d := range got {
		if d.Label == "person" {
			t.Errorf("FilterByLabel kept %q", d.Label)
		}
	}

	if got := FilterByLabel(dets); got != nil {
		t.Errorf("FilterByLabel with no labels: got %v, want nil", got)
	}
}

func TestFrame_Validate(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
		want  error
	}{
		{"ok", Frame{Width: 2, Height: 2, Channels: 3, Data: make([]byte, 12)}, nil},
		{"empty data", Frame{Width: 2, Height: 2, Channels: 3}, ErrEmptyFrame},
		{"zero width", Frame{Width: 0, Height: 2, Channels: 3, Data: make([]byte, 12)}, ErrEmptyFrame},
		{"short buffer", Frame{Width: 2, Height: 2, Channels: 3, Data: make([]byte, 11)}, ErrFrameSize},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.frame.Validate(); !errors.Is(err, tc.want) {
				t.Errorf("Validate: got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestFrame_CloneIsDeep(t *testing.T) {
	f := Frame{Width: 1, Height: 1, Channels: 3, Data: []byte{1, 2, 3}}
	c := f.Clone()
	c.Data[0] = 9
	if f.Data[0] != 1 {
		t.Error("Clone shares the pixel buffer")
	}
}

func TestLabels(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "labels.txt")
	if err := os.WriteFile(path, []byte("# classes\nfire\n\nsmoke\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	labels, err := LoadLabels(path)
	if err != nil {
		t.Fatalf("LoadLabels: %v", err)
	}
	if len(labels) != 2 || labels[0] != "fire" || labels[1] != "smoke" {
		t.Errorf("LoadLabels: got %v", labels)
	}

	if got := LabelFor(labels, 1); got != "smoke" {
		t.Errorf("LabelFor(1) = %q", got)
	}
	if got := LabelFor(labels, 7); got != "class_7" {
		t.Errorf("LabelFor(7) = %q", got)
	}

	if _, err := LoadLabels(filepath.Join(dir, "missing.txt")); err == nil {
		t.Error("expected error for missing labels file")
	}
}

func TestMock(t *testing.T) {
	box := Detection{Box: image.Rect(0, 0, 10, 10), Confidence: 0.9, Label: "fire"}
	m := NewMock(box)
	frame := Frame{Width: 1, Height: 1, Channels: 3, Data: []byte{1, 2, 3}}

	dets, err := m.Detect(context.Background(), frame, 0.35)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(dets) != 1 || dets[0] != box {
		t.Errorf("Detect: got %v", dets)
	}

	calls := m.Calls()
	if len(calls) != 1 || calls[0].Threshold != 0.35 {
		t.Errorf("Calls: got %+v", calls)
	}

	empty := NewMock()
	if dets, _ := empty.Detect(context.Background(), frame, 0.5); len(dets) != 0 {
		t.Errorf("empty mock returned %v", dets)
	}

	if err := m.Close(); err != nil || !m.Closed() {
		t.Error("Close did not mark mock closed")
	}
}

func TestOnlyLabels(t *testing.T) {
	m := NewMock(
		Detection{Box: image.Rect(0, 0, 4, 4), Confidence: 0.9, Label: "fire"},
		Detection{Box: image.Rect(4, 4, 8, 8), Confidence: 0.8, Label: "smoke"},
	)
	frame := Frame{Width: 1, Height: 1, Channels: 3, Data: []byte{1, 2, 3}}

	d := OnlyLabels(m, "fire")
	dets, err := d.Detect(context.Background(), frame, 0.4)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(dets) != 1 || dets[0].Label != "fire" {
		t.Errorf("Detect: got %+v, want only fire", dets)
	}
	if calls := m.Calls(); len(calls) != 1 || calls[0].Threshold != 0.4 {
		t.Errorf("inner calls = %+v", calls)
	}

	if OnlyLabels(m) != Detector(m) {
		t.Error("OnlyLabels with no labels should return the detector unchanged")
	}

	if err := d.Close(); err != nil || !m.Closed() {
		t.Error("Close did not reach the wrapped detector")
	}
}

func TestOnlyLabels_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	m := &Mock{DetectFunc: func(context.Context, Frame, float64) ([]Detection, error) {
		return nil, boom
	}}
	frame := Frame{Width: 1, Height: 1, Channels: 3, Data: []byte{1, 2, 3}}
	if _, err := OnlyLabels(m, "fire").Detect(context.Background(), frame, 0.5); !errors.Is(err, boom) {
		t.Errorf("got %v, want boom", err)
	}
}
