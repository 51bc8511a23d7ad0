package verify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/dispensio/trayverify/internal/log"
	"github.com/dispensio/trayverify/internal/metrics"
	"github.com/dispensio/trayverify/pkg/detect"
)

// Precondition failures surfaced to callers. These are correctable by
// the operator and distinct from a false verdict.
var (
	ErrNotInitialized = errors.New("verification system not initialized")
	ErrNoRecipe       = errors.New("no recipe selected for verification")
)

// State is the manager lifecycle state.
type State int

// Manager states. InitFailed is terminal: the manager stays visibly not
// ready rather than crashing the process.
const (
	StateUninitialized State = iota
	StateInitialized
	StateInitFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateInitFailed:
		return "init_failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ManagerConfig wires file paths and tuning for the manager.
type ManagerConfig struct {
	GeometryPath     string
	Seg              detect.SegConfig
	Cls              detect.ClsConfig
	Artifacts        ArtifactConfig
	Layout           BayLayout
	Emptiness        EmptinessParams
	InferenceTimeout time.Duration
}

// Manager owns the verification session: geometry, engines, the active
// recipe and the gate. One active recipe at a time, replaced wholesale;
// concurrent multi-tenant sessions are out of scope.
type Manager struct {
	cfg ManagerConfig

	stateMu sync.Mutex
	state   State

	geometry   *Geometry
	engine     detect.Engine
	classifier detect.Classifier
	gate       *Gate
	artifacts  *ArtifactWriter
	layout     BayLayout
	metrics    *metrics.Metrics

	recipeMu sync.Mutex
	recipe   Recipe
}

// NewManager creates an uninitialized manager. Call Initialize before
// anything else. m may be nil.
func NewManager(cfg ManagerConfig, m *metrics.Metrics) *Manager {
	if cfg.InferenceTimeout <= 0 {
		cfg.InferenceTimeout = 10 * time.Second
	}
	return &Manager{cfg: cfg, layout: cfg.Layout, metrics: m}
}

// NewManagerFromParts assembles an initialized manager from prebuilt
// collaborators. Used by tests and by callers that manage model loading
// themselves.
func NewManagerFromParts(cfg ManagerConfig, geometry *Geometry, engine detect.Engine,
	classifier detect.Classifier, scanner QRScanner, writer *ArtifactWriter, m *metrics.Metrics,
) *Manager {
	if cfg.InferenceTimeout <= 0 {
		cfg.InferenceTimeout = 10 * time.Second
	}
	return &Manager{
		cfg:        cfg,
		state:      StateInitialized,
		geometry:   geometry,
		engine:     engine,
		classifier: classifier,
		gate:       NewGate(classifier, scanner, geometry, cfg.Emptiness),
		artifacts:  writer,
		layout:     cfg.Layout,
		metrics:    m,
	}
}

// Initialize loads the geometry file and both models. A failure leaves
// the manager in the terminal InitFailed state; re-initializing after a
// failure is allowed once the underlying files are fixed.
func (m *Manager) Initialize() error {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	if m.state == StateInitialized {
		return nil
	}

	geometry, err := LoadGeometry(m.cfg.GeometryPath)
	if err != nil {
		m.state = StateInitFailed
		return fmt.Errorf("verification initialization: %w", err)
	}

	classifier, err := detect.NewClsEngine(m.cfg.Cls)
	if err != nil {
		m.state = StateInitFailed
		return fmt.Errorf("verification initialization: %w", err)
	}

	engine, err := detect.NewSegEngine(m.cfg.Seg)
	if err != nil {
		classifier.Close()
		m.state = StateInitFailed
		return fmt.Errorf("verification initialization: %w", err)
	}

	m.geometry = geometry
	m.classifier = classifier
	m.engine = engine
	m.gate = NewGate(classifier, NewQRScanner(), geometry, m.cfg.Emptiness)
	m.artifacts = NewArtifactWriter(m.cfg.Artifacts, m.metrics)
	m.state = StateInitialized

	log.Info("verification system initialized",
		"geometry", m.cfg.GeometryPath,
		"classes", len(engine.Classes()))
	return nil
}

// State returns the lifecycle state.
func (m *Manager) State() State {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.state
}

// Close releases the loaded models.
func (m *Manager) Close() {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	if m.engine != nil {
		m.engine.Close()
	}
	if m.classifier != nil {
		m.classifier.Close()
	}
}

// AnalyzeEnvironment runs the readiness gate on one frame. Idempotent;
// never mutates manager state.
func (m *Manager) AnalyzeEnvironment(ctx context.Context, img gocv.Mat, expectedHolderID string) (GateResult, error) {
	if m.State() != StateInitialized {
		return GateResult{}, ErrNotInitialized
	}
	if m.metrics != nil {
		m.metrics.GateChecks.Add(1)
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.InferenceTimeout)
	defer cancel()

	result, err := m.gate.Check(ctx, img, expectedHolderID)
	if err != nil {
		return GateResult{}, err
	}
	if !result.Ready {
		if m.metrics != nil {
			m.metrics.GateNotReady.Add(1)
		}
		log.Info("environment not ready", "reason", result.Reason)
	}
	return result, nil
}

// SetRecipe validates and stores the recipe for the session, replacing
// any previous one wholesale.
func (m *Manager) SetRecipe(r Recipe) error {
	if err := r.Validate(); err != nil {
		return err
	}
	m.recipeMu.Lock()
	m.recipe = r
	m.recipeMu.Unlock()
	log.Info("recipe stored", "bays", len(r))
	return nil
}

// Recipe returns the active recipe, or nil if none is selected.
func (m *Manager) Recipe() Recipe {
	m.recipeMu.Lock()
	defer m.recipeMu.Unlock()
	return m.recipe
}

// Verify runs detection on one frame, assigns each instance to a bay,
// persists artifacts and compares against the active recipe. One frame
// yields one verdict; there are no retries.
func (m *Manager) Verify(ctx context.Context, img gocv.Mat) (Report, error) {
	if m.State() != StateInitialized {
		return Report{}, ErrNotInitialized
	}
	recipe := m.Recipe()
	if recipe == nil {
		return Report{}, ErrNoRecipe
	}
	if img.Empty() {
		return Report{}, fmt.Errorf("verify: empty image")
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.InferenceTimeout)
	defer cancel()

	detections, err := m.engine.Detect(ctx, img)
	if err != nil {
		return Report{}, fmt.Errorf("verify: detection: %w", err)
	}

	if m.metrics != nil {
		m.metrics.Verifications.Add(1)
		m.metrics.DetectionsTotal.Add(uint64(len(detections)))
	}

	found := make(map[Bay][]Medication)
	for _, det := range detections {
		bay := m.layout.Assign(det.Center().X, img.Cols())
		found[bay] = append(found[bay], Medication{PillName: det.ClassName, Count: 1})
		if m.artifacts != nil {
			m.artifacts.Write(img, det, bay)
		}
	}

	report := Match(recipe, found)
	if m.metrics != nil {
		if report.Passed {
			m.metrics.VerificationsPassed.Add(1)
		} else {
			m.metrics.VerificationsFailed.Add(1)
		}
	}
	log.Info("verification complete", "detections", len(detections), "passed", report.Passed)
	return report, nil
}
