package pipeline_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/dudu/inpaintd/internal/artifact"
	"github.com/dudu/inpaintd/internal/detector"
	"github.com/dudu/inpaintd/internal/inference"
	"github.com/dudu/inpaintd/internal/orchestrator"
	"github.com/dudu/inpaintd/internal/pipeline"
	"github.com/dudu/inpaintd/internal/session"
)

// fakeRunner stands in for the orchestrator and tracks how many passes
// overlap.
type fakeRunner struct {
	err      error
	delay    time.Duration
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeRunner) Device() inference.Device { return inference.DeviceCPU }

func (f *fakeRunner) Run(ctx context.Context, source, mask gocv.Mat) (*orchestrator.Result, error) {
	n := f.inFlight.Add(1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.inFlight.Add(-1)
	if f.err != nil {
		return nil, f.err
	}
	return &orchestrator.Result{
		Inpainted: gocv.NewMatWithSize(8, 8, gocv.MatTypeCV8UC3),
		Overlay:   gocv.NewMatWithSize(8, 8, gocv.MatTypeCV8UC3),
		Landmarks: detector.Landmarks{{X: 1, Y: 2}},
	}, nil
}

func uploadPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: 128, G: 128, B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return buf.Bytes()
}

func newTestPipeline(t *testing.T, orch pipeline.Runner, workers int) (*pipeline.Pipeline, *session.Manager, string) {
	t.Helper()
	root := t.TempDir()
	sessions, err := session.NewManager(root, time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return pipeline.New(sessions, artifact.NewStore(), orch, workers), sessions, root
}

func TestProcessWritesArtifacts(t *testing.T) {
	p, sessions, _ := newTestPipeline(t, &fakeRunner{}, 1)

	raw := uploadPNG(t)
	out, err := p.Process(context.Background(), raw, raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, name := range []string{pipeline.ResultName, pipeline.OverlayName, pipeline.LandmarksName} {
		data, err := p.Artifact(out.SessionID, name)
		if err != nil {
			t.Fatalf("unexpected error reading %s: %v", name, err)
		}
		if len(data) == 0 {
			t.Errorf("Expected non-empty %s, Got: 0 bytes", name)
		}
	}

	lm, err := p.Artifact(out.SessionID, pipeline.LandmarksName)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(lm) != "1 2\n" {
		t.Errorf("Expected landmark text %q, Got: %q", "1 2\n", lm)
	}

	sess, err := sessions.Resolve(out.SessionID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.Status() != session.StatusCompleted {
		t.Errorf("Expected completed, Got: %s", sess.Status())
	}
}

func TestProcessFailureLeavesNoArtifacts(t *testing.T) {
	p, sessions, root := newTestPipeline(t, &fakeRunner{err: detector.ErrNoFaceDetected}, 1)

	raw := uploadPNG(t)
	out, err := p.Process(context.Background(), raw, raw)
	if !errors.Is(err, detector.ErrNoFaceDetected) {
		t.Fatalf("Expected ErrNoFaceDetected, Got: %v", err)
	}
	if out != nil {
		t.Fatalf("Expected nil outcome, Got: %+v", out)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected empty session root, Got: %d entries", len(entries))
	}

	if _, err := sessions.Resolve("gone"); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, Got: %v", err)
	}
}

func TestProcessInvalidUpload(t *testing.T) {
	p, _, root := newTestPipeline(t, &fakeRunner{}, 1)

	_, err := p.Process(context.Background(), []byte("not an image"), uploadPNG(t))
	if err == nil {
		t.Fatal("Expected an error for undecodable source")
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected empty session root, Got: %d entries", len(entries))
	}
}

func TestProcessBoundsConcurrency(t *testing.T) {
	const workers = 2
	orch := &fakeRunner{delay: 30 * time.Millisecond}
	p, _, _ := newTestPipeline(t, orch, workers)

	raw := uploadPNG(t)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Process(context.Background(), raw, raw); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if orch.peak.Load() > workers {
		t.Errorf("Expected at most %d passes in flight, Got: %d", workers, orch.peak.Load())
	}
}

func TestArtifactResolvesThroughSessionManager(t *testing.T) {
	p, sessions, _ := newTestPipeline(t, nil, 1)

	sess, err := sessions.Create()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	store := artifact.NewStore()
	if _, err := store.Save(sess, pipeline.ResultName, []byte("jpeg")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := p.Artifact(sess.ID, pipeline.ResultName)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "jpeg" {
		t.Errorf("Expected jpeg, Got: %q", data)
	}
}

func TestArtifactUnknownSession(t *testing.T) {
	p, _, _ := newTestPipeline(t, nil, 1)

	if _, err := p.Artifact("nope", pipeline.ResultName); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, Got: %v", err)
	}
}

func TestArtifactUnsafeName(t *testing.T) {
	p, sessions, _ := newTestPipeline(t, nil, 1)

	sess, err := sessions.Create()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := p.Artifact(sess.ID, "../../etc/passwd"); !errors.Is(err, artifact.ErrUnsafeName) {
		t.Fatalf("Expected ErrUnsafeName, Got: %v", err)
	}
}

func TestReady(t *testing.T) {
	p, _, _ := newTestPipeline(t, nil, 1)
	if p.Ready() {
		t.Error("Expected not ready without an orchestrator")
	}

	ready, _, _ := newTestPipeline(t, &fakeRunner{}, 1)
	if !ready.Ready() {
		t.Error("Expected ready with an orchestrator")
	}
}
