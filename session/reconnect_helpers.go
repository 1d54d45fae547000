package session

import (
	"context"
	"fmt"

	"github.com/rivergate/rtspcore/liberrors"
	"github.com/rivergate/rtspcore/retry"
)

func liberrorsStreamSilent(streamIndex int) error {
	return liberrors.ErrDropped{Reason: fmt.Sprintf("stream %d: no packets within read timeout", streamIndex)}
}

// classifyFailure maps a bringUp error onto the Outcome vocabulary the
// retry controller's auto heuristic and adaptive bandit classify on.
func classifyFailure(err error) retry.Outcome {
	switch err.(type) {
	case liberrors.ErrAuthFailed:
		return retry.AuthFailed
	case liberrors.ErrRequestTimeout:
		return retry.Timeout
	case liberrors.ErrDropped:
		return retry.Dropped
	case liberrors.ErrMalformedMessage, liberrors.ErrInvalidStatusCode, liberrors.ErrTransportHeaderInvalid,
		liberrors.ErrSessionHeaderInvalid, liberrors.ErrNoUsableTransport, liberrors.ErrNoStreams:
		return retry.ProtocolError
	default:
		return retry.Refused
	}
}

// contextOrBackground returns ctx, or context.Background() if ctx is nil
// (Start was never called with one, e.g. a test driving bringUp directly).
func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
