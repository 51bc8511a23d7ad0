package detect

import (
	"context"

	"gocv.io/x/gocv"
)

// MockEngine is a canned-response Engine for tests.
type MockEngine struct {
	Detections []Detection
	Err        error
	Labels     []string
	Calls      int
}

// Detect returns the canned detections.
func (m *MockEngine) Detect(ctx context.Context, img gocv.Mat) ([]Detection, error) {
	m.Calls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Detections, nil
}

// Classes returns the canned label table.
func (m *MockEngine) Classes() []string {
	return m.Labels
}

// Close is a no-op.
func (m *MockEngine) Close() error { return nil }

// MockClassifier is a canned-response Classifier for tests.
type MockClassifier struct {
	Label string
	Score float32
	Err   error
	Calls int
}

// Classify returns the canned label.
func (m *MockClassifier) Classify(ctx context.Context, img gocv.Mat) (string, float32, error) {
	m.Calls++
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}
	if m.Err != nil {
		return "", 0, m.Err
	}
	return m.Label, m.Score, nil
}

// Close is a no-op.
func (m *MockClassifier) Close() error { return nil }
