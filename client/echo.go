package client

import (
	"context"
	"time"

	dicomerrors "github.com/caio-sobreiro/dicomkit/errors"
	"github.com/caio-sobreiro/dicomkit/types"
)

// EchoResult is the outcome of a C-ECHO.
type EchoResult struct {
	Status  uint16
	Elapsed time.Duration
}

// Echo sends a C-ECHO-RQ and waits for the response.
func (a *Association) Echo(ctx context.Context) (*EchoResult, error) {
	var result *EchoResult
	err := a.operation(ctx, func(ctx context.Context) error {
		pc, err := a.contextFor(types.VerificationSOPClass, "")
		if err != nil {
			return err
		}
		start := time.Now()
		req := &types.Message{
			CommandField:        types.CEchoRQ,
			AffectedSOPClassUID: types.VerificationSOPClass,
		}
		if err := a.request(ctx, pc, req, nil); err != nil {
			return err
		}
		rsp, err := a.awaitResponse(ctx, nil)
		if err != nil {
			return err
		}
		result = &EchoResult{Status: rsp.msg.Status, Elapsed: time.Since(start)}
		a.logger.Info("C-ECHO completed",
			"status", rsp.msg.Status,
			"elapsed", result.Elapsed)
		if rsp.msg.Status != types.StatusSuccess {
			return dicomerrors.NewRemoteRejection("C-ECHO", rsp.msg.Status, rsp.msg.ErrorComment)
		}
		return nil
	})
	return result, err
}
