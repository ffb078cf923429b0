package memstore

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/archestra-ai/gateway/pkg/collab"
	"github.com/archestra-ai/gateway/pkg/errors"
)

// pipeWriteReader adapts an io.PipeReader/io.PipeWriter pair to
// collab.WriteReader, used to fake a pod-attach stdio stream in tests.
type pipeWriteReader struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (p *pipeWriteReader) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *pipeWriteReader) Write(b []byte) (int, error) { return p.w.Write(b) }
func (p *pipeWriteReader) Close() error {
	_ = p.r.Close()
	return p.w.Close()
}

// PodOrchestrator is an in-memory collab.PodOrchestrator fake: it never
// talks to Kubernetes, it just hands back deterministic names and, for
// Attach, an in-process pipe the test can read/write against directly.
type PodOrchestrator struct {
	mu        sync.RWMutex
	endpoints map[string]string
}

// NewPodOrchestrator returns an empty PodOrchestrator fake.
func NewPodOrchestrator() *PodOrchestrator {
	return &PodOrchestrator{endpoints: map[string]string{}}
}

// SetHTTPEndpoint seeds the HTTP endpoint returned for serverID.
func (p *PodOrchestrator) SetHTTPEndpoint(serverID, endpoint string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endpoints[serverID] = endpoint
}

func (p *PodOrchestrator) GetOrLoadDeployment(_ context.Context, serverID string) (string, error) {
	return fmt.Sprintf("deployment-%s", serverID), nil
}

func (p *PodOrchestrator) GetRunningPod(_ context.Context, serverID string) (string, error) {
	return fmt.Sprintf("pod-%s", serverID), nil
}

func (p *PodOrchestrator) Attach(_ context.Context, _, _, _ string) (stdin, stdout collab.WriteReader, err error) {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	return &pipeWriteReader{r: inR, w: inW}, &pipeWriteReader{r: outR, w: outW}, nil
}

func (p *PodOrchestrator) GetHTTPEndpoint(_ context.Context, serverID string) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if ep, ok := p.endpoints[serverID]; ok {
		return ep, nil
	}
	return "", errors.NewNotFoundError(fmt.Sprintf("no http endpoint for server %q", serverID), nil)
}
