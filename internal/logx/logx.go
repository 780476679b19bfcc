package logx

import (
	"context"

	"pkt.systems/pslog"
	"pkt.systems/spacedock/schema"
)

type contextKey int

const (
	spaceKey contextKey = iota
	tabKey
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithSpace annotates the logger with the space id if present.
func WithSpace(ctx context.Context, spaceID schema.SpaceID) pslog.Logger {
	log := pslog.Ctx(ctx)
	if spaceID != "" {
		if current, ok := ctx.Value(spaceKey).(schema.SpaceID); ok && current == spaceID {
			return log
		}
		log = log.With("space", spaceID)
	}
	return log
}

// WithSpaceTab annotates the logger with space and tab identifiers.
func WithSpaceTab(ctx context.Context, spaceID schema.SpaceID, tabID schema.TabID) pslog.Logger {
	log := WithSpace(ctx, spaceID)
	if tabID != "" {
		if current, ok := ctx.Value(tabKey).(schema.TabID); ok && current == tabID {
			return log
		}
		log = log.With("tab", tabID)
	}
	return log
}

// WithSession annotates the logger with a session id when available.
func WithSession(log pslog.Logger, sessionID schema.SessionID) pslog.Logger {
	if sessionID != "" {
		log = log.With("session", sessionID)
	}
	return log
}

// WithTerminal annotates the logger with a terminal id when available.
func WithTerminal(log pslog.Logger, terminalID schema.TerminalID) pslog.Logger {
	if terminalID != "" {
		log = log.With("terminal", terminalID)
	}
	return log
}

// ContextWithSpace stores the space marker on the context for log de-duplication.
func ContextWithSpace(ctx context.Context, spaceID schema.SpaceID) context.Context {
	if ctx == nil || spaceID == "" {
		return ctx
	}
	return context.WithValue(ctx, spaceKey, spaceID)
}

// ContextWithTab stores the tab marker on the context for log de-duplication.
func ContextWithTab(ctx context.Context, tabID schema.TabID) context.Context {
	if ctx == nil || tabID == "" {
		return ctx
	}
	return context.WithValue(ctx, tabKey, tabID)
}

// ContextWithSpaceLogger attaches the logger and space marker to the context.
func ContextWithSpaceLogger(ctx context.Context, log pslog.Logger, spaceID schema.SpaceID) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithSpace(ctx, spaceID)
}

// CopyContextFields copies space/tab markers from src to dst.
func CopyContextFields(dst context.Context, src context.Context) context.Context {
	if src == nil {
		return dst
	}
	if space, ok := src.Value(spaceKey).(schema.SpaceID); ok && space != "" {
		dst = ContextWithSpace(dst, space)
	}
	if tab, ok := src.Value(tabKey).(schema.TabID); ok && tab != "" {
		dst = ContextWithTab(dst, tab)
	}
	return dst
}
