package bridge

import (
	"context"
	"sync"
)

// LocalTransport delivers sign requests to validators running in this process.
type LocalTransport struct {
	validators []*Validator
}

func NewLocalTransport(validators ...*Validator) *LocalTransport {
	return &LocalTransport{validators: validators}
}

func (lt *LocalTransport) RequestSignatures(ctx context.Context, req *SignRequest) (<-chan *SignResponse, error) {
	out := make(chan *SignResponse, len(lt.validators))
	var wg sync.WaitGroup
	for _, v := range lt.validators {
		wg.Add(1)
		go func(v *Validator) {
			defer wg.Done()
			resp := v.Sign(req)
			select {
			case out <- resp:
			case <-ctx.Done():
			}
		}(v)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out, nil
}
