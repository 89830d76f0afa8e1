package grpcapi

import (
	"encoding/json"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"xdao.co/kel/model"
)

var codeOf = map[model.ErrorCode]codes.Code{
	model.ErrInvalidRequest: codes.InvalidArgument,
	model.ErrStructural:     codes.InvalidArgument,
	model.ErrPreRotation:    codes.InvalidArgument,
	model.ErrWitness:        codes.InvalidArgument,
	model.ErrThreshold:      codes.FailedPrecondition,
	model.ErrDelegation:     codes.PermissionDenied,
	model.ErrDuplicity:      codes.AlreadyExists,
	model.ErrOutOfOrder:     codes.Aborted,
	model.ErrNotFound:       codes.NotFound,
	model.ErrInternal:       codes.Internal,
}

// mapErr carries err as a JSON CodedError in the status message.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	ce := model.FromError(err)
	code, ok := codeOf[ce.Code]
	if !ok {
		code = codes.Internal
	}
	if ce.Code == model.ErrInternal {
		logger.Errorf("internal error: %v", err)
	}
	b, jerr := json.Marshal(ce)
	if jerr != nil {
		return status.Error(code, ce.Message)
	}
	return status.Error(code, string(b))
}

// mapRPC recovers the structured error sent by mapErr.
func mapRPC(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	var ce model.CodedError
	if json.Unmarshal([]byte(st.Message()), &ce) == nil && ce.Code != "" {
		return ce.Err()
	}
	return err
}
