package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/theirongolddev/claude-usage-tracker/internal/credentials"
	"github.com/theirongolddev/claude-usage-tracker/internal/model"
)

// Snapshot error messages shown by the widget.
const (
	MsgNoCredential      = "No credentials found. Run: claude login"
	MsgNoVaultCredential = "No token in credential vault. Store one with: claude-usage-tracker vault write"
	MsgSessionExpired    = "Session expired. Run: claude login"
	MsgAccessDenied      = "Access denied. Check your subscription."
	MsgTimeout           = "Request timeout"
	MsgConnection        = "Connection error"
	MsgInvalidResponse   = "Invalid API response"
)

// TokenSource supplies bearer tokens. ForceRefresh is called at most once
// per query, after the server rejects a token.
type TokenSource interface {
	Load(ctx context.Context) (credentials.Token, error)
	ForceRefresh(ctx context.Context) (credentials.Token, error)
}

// Query loads a token, fetches usage and returns the resulting snapshot.
// Every failure is folded into the snapshot's error field.
func (c *Client) Query(ctx context.Context, src TokenSource) model.Snapshot {
	tok, err := src.Load(ctx)
	if err != nil {
		snap := model.NewSnapshot(model.UnknownSubscription, c.now())
		snap.SetError(missingMessage(src))
		c.log.Info("no usable credential", zap.Error(err))
		return snap
	}

	snap := model.NewSnapshot(tok.SubscriptionType, c.now())

	resp, err := c.Fetch(ctx, tok.AccessToken)
	if errors.Is(err, ErrUnauthorized) {
		c.log.Info("usage endpoint rejected token, forcing refresh")
		fresh, rerr := src.ForceRefresh(ctx)
		if rerr != nil {
			c.log.Info("forced refresh failed", zap.Error(rerr))
		} else {
			snap.SubscriptionType = fresh.SubscriptionType
			resp, err = c.Fetch(ctx, fresh.AccessToken)
		}
	}
	if err != nil {
		snap.SetError(ErrorMessage(err))
		c.log.Info("usage fetch failed", zap.Error(err))
		return snap
	}

	Apply(&snap, resp)
	return snap
}

// ErrorMessage maps a Fetch error to the snapshot error string.
func ErrorMessage(err error) string {
	var statusErr *StatusError
	switch {
	case errors.Is(err, ErrUnauthorized):
		return MsgSessionExpired
	case errors.Is(err, ErrForbidden):
		return MsgAccessDenied
	case errors.As(err, &statusErr):
		return fmt.Sprintf("API error: %d", statusErr.Code)
	case errors.Is(err, ErrTimeout):
		return MsgTimeout
	case errors.Is(err, ErrConnection):
		return MsgConnection
	case errors.Is(err, ErrInvalidResponse):
		return MsgInvalidResponse
	default:
		return fmt.Sprintf("Request failed: %v", err)
	}
}

// Apply copies the usage buckets of resp into snap.
func Apply(snap *model.Snapshot, resp *Response) {
	snap.Session = parseBucket(resp.FiveHour)
	snap.Weekly = parseBucket(resp.SevenDay)
	snap.Sonnet = parseBucket(resp.SevenDaySonnet)
	snap.Opus = parseBucket(resp.SevenDayOpus)
	snap.Extra = parseExtra(resp.ExtraUsage)
}

func missingMessage(src TokenSource) string {
	if v, ok := src.(interface{ VaultOnly() bool }); ok && v.VaultOnly() {
		return MsgNoVaultCredential
	}
	return MsgNoCredential
}

// parseBucket converts a raw bucket into a model.Limit. A missing or
// malformed bucket yields the zero-usage default.
func parseBucket(raw json.RawMessage) model.Limit {
	out := model.DefaultLimit()
	if isNull(raw) {
		return out
	}

	var b Bucket
	if err := json.Unmarshal(raw, &b); err != nil {
		return out
	}
	if pct, ok := parseUtilization(b.Utilization); ok {
		out.Used = pct
	}
	if b.ResetsAt != nil {
		out.ResetsAt = *b.ResetsAt
	}
	return out
}

// parseExtra returns overage usage when enabled, with credit amounts
// converted from minor to major currency units.
func parseExtra(raw json.RawMessage) *model.Extra {
	if isNull(raw) {
		return nil
	}

	var e ExtraUsage
	if err := json.Unmarshal(raw, &e); err != nil || !e.IsEnabled {
		return nil
	}
	return &model.Extra{
		Used:        deref(e.UsedCredits) / 100,
		Limit:       deref(e.MonthlyLimit) / 100,
		Utilization: deref(e.Utilization),
	}
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
