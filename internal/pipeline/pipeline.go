// Package pipeline drives one processing request end to end: session
// allocation, upload decoding, landmark detection, inference and artifact
// persistence. The HTTP surface stays thin; everything stateful lives here.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gocv.io/x/gocv"

	"github.com/dudu/inpaintd/internal/artifact"
	"github.com/dudu/inpaintd/internal/inference"
	"github.com/dudu/inpaintd/internal/ingest"
	"github.com/dudu/inpaintd/internal/orchestrator"
	"github.com/dudu/inpaintd/internal/session"
)

// Runner executes one detect+inpaint pass. *orchestrator.Orchestrator is
// the production implementation.
type Runner interface {
	Run(ctx context.Context, source, mask gocv.Mat) (*orchestrator.Result, error)
	Device() inference.Device
}

// Artifact names a completed session always contains.
const (
	ResultName    = "result.jpg"
	OverlayName   = "landmarks.jpg"
	LandmarksName = "landmarks.txt"
)

// jpegQuality matches the original tool's output encoding.
const jpegQuality = 95

// Outcome reports where a finished request's artifacts live.
type Outcome struct {
	SessionID string
	Result    artifact.Ref
	Overlay   artifact.Ref
	Landmarks artifact.Ref
	Elapsed   time.Duration
}

// Pipeline wires the session manager, artifact store and orchestrator
// behind a bounded worker pool.
type Pipeline struct {
	sessions *session.Manager
	store    *artifact.Store
	orch     Runner
	workers  chan struct{}
}

// New builds a pipeline processing at most workers requests concurrently.
func New(sessions *session.Manager, store *artifact.Store, orch Runner, workers int) *Pipeline {
	return &Pipeline{
		sessions: sessions,
		store:    store,
		orch:     orch,
		workers:  make(chan struct{}, workers),
	}
}

// Ready reports whether the models are loaded and the pipeline can accept
// work.
func (p *Pipeline) Ready() bool {
	return p.orch != nil
}

// Process runs the whole pipeline for one (source, mask) upload pair.
// Failed requests leave no artifacts behind: the session directory is
// removed before the error propagates.
func (p *Pipeline) Process(ctx context.Context, sourceRaw, maskRaw []byte) (*Outcome, error) {
	select {
	case p.workers <- struct{}{}:
		defer func() { <-p.workers }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	start := time.Now()

	sess, err := p.sessions.Create()
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	outcome, err := p.process(ctx, sess, sourceRaw, maskRaw)
	if err != nil {
		p.sessions.Fail(sess)
		if cerr := p.sessions.Cleanup(sess.ID); cerr != nil {
			slog.Error("failed to clean up failed session", "id", sess.ID, "err", cerr)
		}
		return nil, err
	}

	p.sessions.Complete(sess)
	outcome.Elapsed = time.Since(start)
	slog.Info("request processed", "session", sess.ID, "device", p.orch.Device(), "elapsed", outcome.Elapsed)
	return outcome, nil
}

func (p *Pipeline) process(ctx context.Context, sess *session.Session, sourceRaw, maskRaw []byte) (*Outcome, error) {
	source, err := ingest.DecodeSource(sourceRaw)
	if err != nil {
		return nil, err
	}
	defer source.Close()

	mask, err := ingest.DecodeMask(maskRaw)
	if err != nil {
		return nil, err
	}
	defer mask.Close()

	res, err := p.orch.Run(ctx, source, mask)
	if err != nil {
		return nil, err
	}
	defer res.Close()

	resultJPG, err := encodeJPEG(res.Inpainted)
	if err != nil {
		return nil, err
	}
	overlayJPG, err := encodeJPEG(res.Overlay)
	if err != nil {
		return nil, err
	}

	resultRef, err := p.store.Save(sess, ResultName, resultJPG)
	if err != nil {
		return nil, err
	}
	overlayRef, err := p.store.Save(sess, OverlayName, overlayJPG)
	if err != nil {
		return nil, err
	}
	lmRef, err := p.store.Save(sess, LandmarksName, []byte(res.Landmarks.Text()))
	if err != nil {
		return nil, err
	}

	return &Outcome{
		SessionID: sess.ID,
		Result:    resultRef,
		Overlay:   overlayRef,
		Landmarks: lmRef,
	}, nil
}

// Artifact resolves a session and reads one of its artifacts.
func (p *Pipeline) Artifact(sessionID, name string) ([]byte, error) {
	sess, err := p.sessions.Resolve(sessionID)
	if err != nil {
		return nil, err
	}
	return p.store.Open(sess, name)
}

func encodeJPEG(img gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, img,
		[]int{gocv.IMWriteJpegQuality, jpegQuality})
	if err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	defer buf.Close()

	out := make([]byte, len(buf.GetBytes()))
	copy(out, buf.GetBytes())
	return out, nil
}
