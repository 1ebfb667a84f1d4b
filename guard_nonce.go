package oidcguard

import (
	"context"
	"time"

	"github.com/MrEthical07/oidcguard/cache"
)

// IssueNonce records value as an outstanding nonce. It can be consumed once
// within Nonce.TTL.
//
// IssueNonce returns ErrInvalidValue for an empty value or one that is not
// valid UTF-8, and wraps store failures in ErrStorageUnavailable.
func (g *Guard) IssueNonce(ctx context.Context, value string) error {
	if err := g.ready(); err != nil {
		return err
	}
	if !validValue(value) {
		g.emitAudit(ctx, auditEventNonceIssued, g.nonceBucket, "", false, ErrInvalidValue, nil)
		return ErrInvalidValue
	}

	if err := g.cache.Add(ctx, g.nonceBucket, value); err != nil {
		err = g.storageErr("issue_nonce", g.nonceBucket, err)
		g.emitAudit(ctx, auditEventNonceIssued, g.nonceBucket, value, false, err, nil)
		return err
	}

	g.metricInc(MetricNonceIssued)
	g.emitAudit(ctx, auditEventNonceIssued, g.nonceBucket, value, true, nil, nil)
	return nil
}

// NewNonce generates a random nonce, issues it, and returns it for the
// authorization request.
func (g *Guard) NewNonce(ctx context.Context) (string, error) {
	if err := g.ready(); err != nil {
		return "", err
	}
	value, err := g.generate(g.config.Nonce.ByteLength)
	if err != nil {
		return "", err
	}
	if err := g.IssueNonce(ctx, value); err != nil {
		return "", err
	}
	return value, nil
}

// ConsumeNonce describes the consumenonce operation and its observable behavior.
//
// ConsumeNonce reports true when value was issued, has not expired, and has not
// been consumed before. Every copy of value is removed in the same store update,
// so concurrent callers racing on one nonce see exactly one true.
// ConsumeNonce may return an error when the store fails; a missing nonce is
// (false, nil).
func (g *Guard) ConsumeNonce(ctx context.Context, value string) (bool, error) {
	if err := g.ready(); err != nil {
		return false, err
	}
	if !validValue(value) {
		g.metricInc(MetricNonceRejected)
		g.emitAudit(ctx, auditEventNonceRejected, g.nonceBucket, "", false, nil, rejectReason(value))
		return false, nil
	}

	start := time.Now()
	taken, err := g.cache.Take(ctx, g.nonceBucket,
		cache.ValueEquals(value),
		cache.OlderThan(g.config.Nonce.TTL),
	)
	g.metricObserve(MetricConsumeLatency, start)
	if err != nil {
		err = g.storageErr("consume_nonce", g.nonceBucket, err)
		g.emitAudit(ctx, auditEventNonceConsumed, g.nonceBucket, value, false, err, nil)
		return false, err
	}

	if len(taken) == 0 {
		g.metricInc(MetricNonceRejected)
		g.emitAudit(ctx, auditEventNonceRejected, g.nonceBucket, value, false, nil, rejectReason(value))
		return false, nil
	}

	g.metricInc(MetricNonceConsumed)
	g.emitAudit(ctx, auditEventNonceConsumed, g.nonceBucket, value, true, nil, nil)
	return true, nil
}
