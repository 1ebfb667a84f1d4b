package oidcguard

import (
	"context"
	"encoding/json"
	"strconv"

	"go.uber.org/zap"
)

// Storage keys shared with browser-side clients of the same store.
const (
	keyAuthResult   = "authorizationResult"
	keyAccessToken  = "authorizationData"
	keyIDToken      = "authorizationDataIdToken"
	keyIsAuthorized = "_isAuthorized"
	keyUserData     = "userData"
	keySessionState = "session_state"
	keySilentRenew  = "storage_silent_renew_running"
	keyCustomParams = "storage_custom_request_params"
)

var storageKeys = []string{
	keyAuthResult,
	keyAccessToken,
	keyIDToken,
	keyIsAuthorized,
	keyUserData,
	keySessionState,
	keySilentRenew,
	keyCustomParams,
}

// SilentRenewState marks whether a background token renewal is in flight.
type SilentRenewState string

const (
	SilentRenewIdle    SilentRenewState = ""
	SilentRenewRunning SilentRenewState = "running"
)

/*
====================================
STRING ACCESSORS
====================================
*/

// AccessToken returns the stored access token, or "" when none is stored.
func (g *Guard) AccessToken(ctx context.Context) (string, error) {
	return g.readString(ctx, keyAccessToken)
}

func (g *Guard) SetAccessToken(ctx context.Context, token string) error {
	return g.writeString(ctx, keyAccessToken, token)
}

// IDToken returns the stored raw ID token, or "" when none is stored.
func (g *Guard) IDToken(ctx context.Context) (string, error) {
	return g.readString(ctx, keyIDToken)
}

func (g *Guard) SetIDToken(ctx context.Context, token string) error {
	return g.writeString(ctx, keyIDToken, token)
}

// SessionState returns the provider's session_state value.
func (g *Guard) SessionState(ctx context.Context) (string, error) {
	return g.readString(ctx, keySessionState)
}

func (g *Guard) SetSessionState(ctx context.Context, state string) error {
	return g.writeString(ctx, keySessionState, state)
}

// SilentRenewRunning returns SilentRenewIdle unless a renewal was marked
// running. Unknown stored values read as idle.
func (g *Guard) SilentRenewRunning(ctx context.Context) (SilentRenewState, error) {
	v, err := g.readString(ctx, keySilentRenew)
	if err != nil {
		return SilentRenewIdle, err
	}
	if SilentRenewState(v) == SilentRenewRunning {
		return SilentRenewRunning, nil
	}
	return SilentRenewIdle, nil
}

func (g *Guard) SetSilentRenewRunning(ctx context.Context, state SilentRenewState) error {
	if state != SilentRenewIdle && state != SilentRenewRunning {
		return ErrInvalidValue
	}
	return g.writeString(ctx, keySilentRenew, string(state))
}

/*
====================================
STRUCTURED ACCESSORS
====================================
*/

// IsAuthorized reports the stored authorization flag. A missing or unreadable
// flag is false.
func (g *Guard) IsAuthorized(ctx context.Context) (bool, error) {
	v, err := g.readString(ctx, keyIsAuthorized)
	if err != nil || v == "" {
		return false, err
	}
	ok, parseErr := strconv.ParseBool(v)
	if parseErr != nil {
		g.logger.Warn("ignoring unreadable authorization flag", zap.String("key", g.key(keyIsAuthorized)))
		return false, nil
	}
	return ok, nil
}

func (g *Guard) SetIsAuthorized(ctx context.Context, authorized bool) error {
	return g.writeString(ctx, keyIsAuthorized, strconv.FormatBool(authorized))
}

// AuthResult returns the stored authorization response as raw JSON, or nil.
func (g *Guard) AuthResult(ctx context.Context) (json.RawMessage, error) {
	return g.readRawJSON(ctx, keyAuthResult)
}

// SetAuthResult stores result. It must be valid JSON; nil clears it.
func (g *Guard) SetAuthResult(ctx context.Context, result json.RawMessage) error {
	return g.writeRawJSON(ctx, keyAuthResult, result)
}

// UserData returns the stored user profile as raw JSON, or nil.
func (g *Guard) UserData(ctx context.Context) (json.RawMessage, error) {
	return g.readRawJSON(ctx, keyUserData)
}

func (g *Guard) SetUserData(ctx context.Context, data json.RawMessage) error {
	return g.writeRawJSON(ctx, keyUserData, data)
}

// CustomRequestParams returns extra authorization request parameters. Values
// are strings, numbers (float64), or booleans.
func (g *Guard) CustomRequestParams(ctx context.Context) (map[string]any, error) {
	raw, err := g.readRawJSON(ctx, keyCustomParams)
	if err != nil || raw == nil {
		return nil, err
	}
	var params map[string]any
	if err := json.Unmarshal(raw, &params); err != nil {
		g.logger.Warn("ignoring unreadable custom request params",
			zap.String("key", g.key(keyCustomParams)),
			zap.Error(err),
		)
		return nil, nil
	}
	return params, nil
}

// SetCustomRequestParams stores params. Nested objects are rejected.
func (g *Guard) SetCustomRequestParams(ctx context.Context, params map[string]any) error {
	if params == nil {
		return g.writeString(ctx, keyCustomParams, "")
	}
	for _, v := range params {
		switch v.(type) {
		case string, bool, float64, float32, int, int32, int64, uint, uint32, uint64:
		default:
			return ErrInvalidValue
		}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return ErrInvalidValue
	}
	return g.writeString(ctx, keyCustomParams, string(raw))
}

/*
====================================
RESET
====================================
*/

// ResetAll clears the authorization result, session state, silent-renew flag,
// tokens and user data, and marks the client unauthorized. While a silent
// renew is in progress it does nothing, so a renewal in flight keeps its
// state. Nonce and state buckets are untouched.
func (g *Guard) ResetAll(ctx context.Context, isRenewInProgress bool) error {
	if err := g.ready(); err != nil {
		return err
	}
	if isRenewInProgress {
		return nil
	}

	for _, name := range []string{
		keyAuthResult,
		keySessionState,
		keySilentRenew,
		keyAccessToken,
		keyIDToken,
		keyUserData,
	} {
		if err := g.writeString(ctx, name, ""); err != nil {
			g.emitAudit(ctx, auditEventStorageReset, "", "", false, err, nil)
			return err
		}
	}
	if err := g.SetIsAuthorized(ctx, false); err != nil {
		g.emitAudit(ctx, auditEventStorageReset, "", "", false, err, nil)
		return err
	}

	g.metricInc(MetricStorageReset)
	g.emitAudit(ctx, auditEventStorageReset, "", "", true, nil, nil)
	return nil
}

/*
====================================
HELPERS
====================================
*/

func (g *Guard) readString(ctx context.Context, name string) (string, error) {
	if err := g.ready(); err != nil {
		return "", err
	}
	key := g.key(name)
	v, ok, err := g.store.Read(ctx, key)
	if err != nil {
		return "", g.storageErr("read", key, err)
	}
	if !ok {
		return "", nil
	}
	return v, nil
}

// writeString deletes the key for an empty value so missing and cleared read
// the same.
func (g *Guard) writeString(ctx context.Context, name, value string) error {
	if err := g.ready(); err != nil {
		return err
	}
	key := g.key(name)
	var err error
	if value == "" {
		err = g.store.Delete(ctx, key)
	} else {
		err = g.store.Write(ctx, key, value)
	}
	if err != nil {
		return g.storageErr("write", key, err)
	}
	return nil
}

func (g *Guard) readRawJSON(ctx context.Context, name string) (json.RawMessage, error) {
	v, err := g.readString(ctx, name)
	if err != nil || v == "" {
		return nil, err
	}
	if !json.Valid([]byte(v)) {
		g.logger.Warn("ignoring non-JSON stored value", zap.String("key", g.key(name)))
		return nil, nil
	}
	return json.RawMessage(v), nil
}

func (g *Guard) writeRawJSON(ctx context.Context, name string, value json.RawMessage) error {
	if len(value) == 0 {
		return g.writeString(ctx, name, "")
	}
	if !json.Valid(value) {
		return ErrInvalidValue
	}
	return g.writeString(ctx, name, string(value))
}
