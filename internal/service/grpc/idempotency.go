package grpcsvc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	spb "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// IdempotencyKeyHeader: ключ metadata для повторяемой отправки платежа.
const IdempotencyKeyHeader = "idempotency-key"

const msgPreviousAttemptFailed = "previous request with the same idempotency key failed"

// withIdempotency выполняет handler не более одного раза на idempotency-key.
// Без ключа в metadata запрос выполняется как обычно.
func withIdempotency[T any](
	s *StorefrontService,
	ctx context.Context,
	method string,
	req any,
	newResp func() *T,
	handler func(context.Context) (*T, error),
) (*T, error) {
	key, ok := readIdempotencyKey(ctx)
	if s.idemRepo == nil || !ok {
		return handler(ctx)
	}
	entry := s.logger.WithFields(map[string]any{"method": method, "idempotency_key": key})

	hash, err := buildIdempotencyRequestHash(method, req)
	if err != nil {
		entry.WithError(err).Warn("failed to hash idempotent request")
		return nil, status.Error(codes.Internal, "failed to initialize idempotency request")
	}

	record, err := s.idemRepo.Reserve(ctx, key, hash, time.Now().UTC().Add(domain.DefaultIdempotencyTTL))
	if err != nil {
		return replayIdempotency(s, err, record, newResp)
	}

	resp, runErr := handler(ctx)

	outcome, encErr := idempotencyOutcome(resp, runErr)
	if encErr != nil {
		entry.WithError(encErr).Warn("failed to encode idempotent response")
	}
	// Итог сохраняется даже после отмены запроса клиентом.
	if err := s.idemRepo.Finish(context.WithoutCancel(ctx), key, outcome); err != nil {
		entry.WithError(err).Warn("failed to store idempotent response")
	}

	return resp, runErr
}

// idempotencyOutcome кодирует ответ как JSON, а ошибку как google.rpc.Status,
// чтобы при повторе вернуть тот же code и details (например, BadRequest).
func idempotencyOutcome(resp any, runErr error) (domain.IdempotencyOutcome, error) {
	if runErr == nil {
		body, err := json.Marshal(resp)
		return domain.IdempotencyOutcome{Status: domain.IdempotencyStatusDone, Body: body, Code: int(codes.OK)}, err
	}

	st := status.Convert(runErr)
	if st.Code() == codes.OK {
		st = status.New(codes.Internal, st.Message())
	}
	body, err := protojson.Marshal(st.Proto())
	return domain.IdempotencyOutcome{Status: domain.IdempotencyStatusFailed, Body: body, Code: int(st.Code())}, err
}

func replayIdempotency[T any](
	s *StorefrontService,
	reserveErr error,
	record domain.IdempotencyRecord,
	newResp func() *T,
) (*T, error) {
	switch {
	case errors.Is(reserveErr, domain.ErrIdempotencyHashMismatch):
		return nil, status.Error(codes.AlreadyExists, "idempotency key is already used with different request payload")
	case !errors.Is(reserveErr, domain.ErrIdempotencyKeyAlreadyExists):
		s.logger.WithError(reserveErr).Warn("failed to reserve idempotency key")
		return nil, status.Error(codes.Internal, "failed to initialize idempotency request")
	}

	switch record.Status {
	case domain.IdempotencyStatusProcessing:
		return nil, status.Error(codes.Aborted, "request with the same idempotency key is already processing")
	case domain.IdempotencyStatusFailed:
		return nil, decodeIdempotencyFailure(record)
	case domain.IdempotencyStatusDone:
		if !record.Replayable() {
			return nil, status.Error(codes.Internal, "idempotency cache is empty")
		}
		resp := newResp()
		if err := json.Unmarshal(record.ResponseBody, resp); err != nil {
			s.logger.WithError(err).WithField("idempotency_key", record.Key).Warn("failed to decode cached idempotency response")
			return nil, status.Error(codes.Internal, "failed to decode cached idempotency response")
		}
		return resp, nil
	default:
		return nil, status.Error(codes.Internal, "unknown idempotency record status")
	}
}

func decodeIdempotencyFailure(record domain.IdempotencyRecord) error {
	if len(record.ResponseBody) > 0 {
		var pb spb.Status
		if err := protojson.Unmarshal(record.ResponseBody, &pb); err == nil && codes.Code(pb.GetCode()) != codes.OK {
			if pb.GetMessage() == "" {
				pb.Message = msgPreviousAttemptFailed
			}
			return status.FromProto(&pb).Err()
		}
	}

	if code, ok := grpcCodeFromInt(record.ResponseCode); ok && code != codes.OK {
		return status.Error(code, msgPreviousAttemptFailed)
	}
	return status.Error(codes.Internal, msgPreviousAttemptFailed)
}

func grpcCodeFromInt(value int) (codes.Code, bool) {
	if value < int(codes.OK) || value > int(codes.Unauthenticated) {
		return codes.Internal, false
	}
	return codes.Code(uint32(value)), true
}

// readIdempotencyKey ищет ключ во входящей metadata, затем в исходящей
// (in-process вызовы без сети).
func readIdempotencyKey(ctx context.Context) (string, bool) {
	for _, read := range []func(context.Context) (metadata.MD, bool){metadata.FromIncomingContext, metadata.FromOutgoingContext} {
		md, ok := read(ctx)
		if !ok {
			continue
		}
		if values := md.Get(IdempotencyKeyHeader); len(values) > 0 {
			if key := strings.TrimSpace(values[0]); key != "" {
				return key, true
			}
		}
	}
	return "", false
}

func buildIdempotencyRequestHash(method string, req any) (string, error) {
	if req == nil {
		return "", fmt.Errorf("request is nil")
	}

	data, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{':'})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}
