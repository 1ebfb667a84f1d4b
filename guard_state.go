package oidcguard

import (
	"context"

	"github.com/MrEthical07/oidcguard/cache"
)

// AddState records value as an outstanding authorization state. Several
// states may be live at once, one per in-flight login.
func (g *Guard) AddState(ctx context.Context, value string) error {
	if err := g.ready(); err != nil {
		return err
	}
	if !validValue(value) {
		g.emitAudit(ctx, auditEventStateAdded, g.stateBucket, "", false, ErrInvalidValue, nil)
		return ErrInvalidValue
	}

	if err := g.cache.Add(ctx, g.stateBucket, value); err != nil {
		err = g.storageErr("add_state", g.stateBucket, err)
		g.emitAudit(ctx, auditEventStateAdded, g.stateBucket, value, false, err, nil)
		return err
	}

	g.metricInc(MetricStateAdded)
	g.emitAudit(ctx, auditEventStateAdded, g.stateBucket, value, true, nil, nil)
	return nil
}

// NewState generates a random state, adds it, and returns it.
func (g *Guard) NewState(ctx context.Context) (string, error) {
	if err := g.ready(); err != nil {
		return "", err
	}
	value, err := g.generate(g.config.State.ByteLength)
	if err != nil {
		return "", err
	}
	if err := g.AddState(ctx, value); err != nil {
		return "", err
	}
	return value, nil
}

// ListActiveStates returns every state younger than or exactly State.TTL.
// Expired states are purged from the store as a side effect. The result is
// never nil.
func (g *Guard) ListActiveStates(ctx context.Context) ([]string, error) {
	if err := g.ready(); err != nil {
		return nil, err
	}

	states, err := g.cache.Query(ctx, g.stateBucket, cache.Always, cache.OlderThan(g.config.State.TTL))
	if err != nil {
		return nil, g.storageErr("list_states", g.stateBucket, err)
	}
	g.metricInc(MetricStateListed)
	if states == nil {
		states = []string{}
	}
	return states, nil
}

// ValidateState reports whether value is an active state. It does not release
// the state; call RemoveState once the callback is handled.
func (g *Guard) ValidateState(ctx context.Context, value string) (bool, error) {
	if err := g.ready(); err != nil {
		return false, err
	}
	if !validValue(value) {
		g.metricInc(MetricStateRejected)
		g.emitAudit(ctx, auditEventStateRejected, g.stateBucket, "", false, nil, rejectReason(value))
		return false, nil
	}

	matches, err := g.cache.Query(ctx, g.stateBucket, cache.ValueEquals(value), cache.OlderThan(g.config.State.TTL))
	if err != nil {
		return false, g.storageErr("validate_state", g.stateBucket, err)
	}
	if len(matches) == 0 {
		g.metricInc(MetricStateRejected)
		g.emitAudit(ctx, auditEventStateRejected, g.stateBucket, value, false, nil, rejectReason(value))
		return false, nil
	}

	g.metricInc(MetricStateValidated)
	return true, nil
}

// RemoveState releases every entry holding value, whatever its age. Removing
// an unknown state is not an error.
func (g *Guard) RemoveState(ctx context.Context, value string) error {
	if err := g.ready(); err != nil {
		return err
	}
	if !validValue(value) {
		return nil
	}

	if err := g.cache.RemoveByValue(ctx, g.stateBucket, value); err != nil {
		err = g.storageErr("remove_state", g.stateBucket, err)
		g.emitAudit(ctx, auditEventStateRemoved, g.stateBucket, value, false, err, nil)
		return err
	}

	g.metricInc(MetricStateRemoved)
	g.emitAudit(ctx, auditEventStateRemoved, g.stateBucket, value, true, nil, nil)
	return nil
}
