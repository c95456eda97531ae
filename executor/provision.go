package executor

import (
	"context"
	"fmt"

	"github.com/caffeineduck/datalab/engine"
)

// Fetcher retrieves interpreter artifacts. *artifact.Fetcher implements it.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Provisioner fetches an interpreter artifact and starts sessions from it.
// It satisfies adapter.Provisioner.
type Provisioner struct {
	exec    *Executor
	lang    Language
	fetcher Fetcher
	url     string
	opts    []SessionOption
}

func NewProvisioner(exec *Executor, lang Language, fetcher Fetcher, url string, opts ...SessionOption) *Provisioner {
	return &Provisioner{exec: exec, lang: lang, fetcher: fetcher, url: url, opts: opts}
}

// Fetch downloads the artifact. Errors keep the fetcher's type so transport
// failures can be told apart.
func (p *Provisioner) Fetch(ctx context.Context) ([]byte, error) {
	wasm, err := p.fetcher.Fetch(ctx, p.url)
	if err != nil {
		return nil, fmt.Errorf("%s interpreter: %w", p.lang.Name(), err)
	}
	return wasm, nil
}

// Start compiles the artifact and boots a session.
func (p *Provisioner) Start(ctx context.Context, wasm []byte) (engine.Engine, error) {
	s, err := p.exec.NewSession(ctx, p.lang, wasm, p.opts...)
	if err != nil {
		return nil, err
	}
	return s, nil
}
