// Package access answers "may this user touch this canvas" for token
// issuance and for the re-check at every room-join handshake. Verification
// never trusts token claims alone: a grant revoked after issuance is
// enforced at the next handshake.
package access

import "context"

type Store interface {
	// CanAccess reports whether userID currently has access to the canvas.
	CanAccess(ctx context.Context, userID, documentID string) (bool, error)
}
