package whatsapp

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
)

// FallbackVersion is used when the latest web client version cannot be
// fetched. Negotiation failure is never fatal.
var FallbackVersion = store.WAVersionContainer{2, 3000, 1023223821}

const versionTimeout = 5 * time.Second

// VersionResolver fetches the current protocol version.
type VersionResolver func(ctx context.Context) (store.WAVersionContainer, error)

// LatestVersionResolver asks web.whatsapp.com for the current client version.
func LatestVersionResolver(httpClient *http.Client) VersionResolver {
	return func(ctx context.Context) (store.WAVersionContainer, error) {
		v, err := whatsmeow.GetLatestVersion(ctx, httpClient)
		if err != nil {
			return store.WAVersionContainer{}, err
		}
		return *v, nil
	}
}

// negotiateVersion resolves the protocol version, falling back to
// FallbackVersion on any error, and returns the version in effect.
func negotiateVersion(ctx context.Context, resolve VersionResolver) store.WAVersionContainer {
	if resolve == nil {
		return FallbackVersion
	}
	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()

	v, err := resolve(ctx)
	if err != nil || v == (store.WAVersionContainer{}) {
		slog.Warn("whatsapp version negotiation failed, using fallback",
			"fallback", FallbackVersion.String(),
			"error", err,
		)
		return FallbackVersion
	}
	return v
}
