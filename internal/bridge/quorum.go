package bridge

import (
	"context"
	"strings"
	"time"

	"github.com/goatnetwork/bond-aevum/internal/errors"
	"github.com/goatnetwork/bond-aevum/internal/metrics"
	"github.com/goatnetwork/bond-aevum/internal/types"
	"github.com/google/uuid"
	"github.com/kelindar/bitmap"
)

// collectQuorum asks the validator set to sign tx and attaches the signatures once
// the threshold is reached. A single validator's signature is never enough on its
// own.
func (c *Coordinator) collectQuorum(ctx context.Context, lock, target types.ChainID, tx *types.Transaction) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.SigTimeout)
	defer cancel()

	start := time.Now()
	req := &SignRequest{
		RequestID: uuid.NewString(),
		Lock:      lock,
		Target:    target,
		Tx:        tx.Bytes(),
	}
	responses, err := c.transport.RequestSignatures(ctx, req)
	if err != nil {
		return err
	}

	rules := c.cfg.Rules
	hash := tx.SigningHash()
	sigs := make(map[uint32][]byte, rules.Threshold)
	var (
		signers  bitmap.Bitmap
		refusals []string
	)

collect:
	for len(sigs) < rules.Threshold {
		select {
		case resp, ok := <-responses:
			if !ok {
				break collect
			}
			if resp.RequestID != req.RequestID {
				continue
			}
			if resp.Error != "" {
				refusals = append(refusals, resp.Error)
				continue
			}
			idx := uint32(resp.Signer)
			if resp.Signer < 0 || resp.Signer >= len(rules.Validators) || signers.Contains(idx) {
				continue
			}
			if !c.cfg.Verifier.Verify(rules.Validators[idx], hash, resp.Signature) {
				c.logger.Warnf("Dropping invalid signature of validator %d for %s", idx, hash)
				continue
			}
			sigs[idx] = resp.Signature
			signers.Set(idx)
		case <-ctx.Done():
			break collect
		}
	}

	if len(sigs) < rules.Threshold {
		msg := "%d of %d signatures for %s %s"
		if len(refusals) > 0 {
			msg += ", refusals: " + strings.ReplaceAll(strings.Join(refusals, "; "), "%", "%%")
		}
		return errors.NewQuorumNotReachedError(msg, len(sigs), rules.Threshold, tx.Kind, hash)
	}

	tx.Bridge.Signers = signers
	tx.Bridge.Signatures = tx.Bridge.Signatures[:0]
	signers.Range(func(idx uint32) {
		tx.Bridge.Signatures = append(tx.Bridge.Signatures, sigs[idx])
	})
	metrics.BridgeQuorumTime.Observe(time.Since(start).Seconds())
	return nil
}
