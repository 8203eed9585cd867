package handler

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/stockledger/stockledger/internal/core/domain"
	"github.com/stockledger/stockledger/internal/core/service"
)

type GRPCHandler struct {
	svc Services
	log logrus.FieldLogger
}

func NewGRPCHandler(svc Services, logger logrus.FieldLogger) *GRPCHandler {
	return &GRPCHandler{svc: svc, log: logger.WithField("module", "grpc")}
}

func (h *GRPCHandler) RecordPurchase(ctx context.Context, req *RecordPurchaseRequest) (*domain.Purchase, error) {
	purchase, err := h.svc.Ledger.RecordPurchase(withRequestID(ctx, req.RequestID), req.SupplierID, req.Date, lineInputs(req.Items), req.Notes)
	if err != nil {
		return nil, h.toStatus(ctx, "RecordPurchase", err)
	}
	return &purchase, nil
}

func (h *GRPCHandler) RecordSale(ctx context.Context, req *RecordSaleRequest) (*domain.Sale, error) {
	sale, err := h.svc.Ledger.RecordSale(withRequestID(ctx, req.RequestID), req.CustomerID, req.Date, lineInputs(req.Items), req.Notes)
	if err != nil {
		return nil, h.toStatus(ctx, "RecordSale", err)
	}
	return &sale, nil
}

func (h *GRPCHandler) AdjustStock(ctx context.Context, req *AdjustStockRequest) (*domain.Item, error) {
	direction := domain.AdjustmentType(strings.ToLower(strings.TrimSpace(req.Type)))
	item, err := h.svc.Ledger.AdjustStock(ctx, req.ItemID, direction, req.Quantity, req.Reason)
	if err != nil {
		return nil, h.toStatus(ctx, "AdjustStock", err)
	}
	return &item, nil
}

func (h *GRPCHandler) Dashboard(ctx context.Context, _ *Empty) (*domain.Dashboard, error) {
	dash, err := h.svc.Summary.Dashboard(ctx)
	if err != nil {
		return nil, h.toStatus(ctx, "Dashboard", err)
	}
	return &dash, nil
}

func (h *GRPCHandler) LowStock(ctx context.Context, _ *Empty) (*LowStockReply, error) {
	items, err := h.svc.Summary.LowStock(ctx)
	if err != nil {
		return nil, h.toStatus(ctx, "LowStock", err)
	}
	return &LowStockReply{Items: items}, nil
}

func (h *GRPCHandler) toStatus(ctx context.Context, method string, err error) error {
	var (
		verr *domain.ValidationError
		rerr *domain.ReferenceError
		perr *domain.PersistenceError
	)
	switch {
	case errors.As(err, &verr):
		return status.Error(codes.InvalidArgument, verr.Error())
	case errors.As(err, &rerr):
		return status.Error(codes.NotFound, rerr.Error())
	case errors.Is(err, domain.ErrInsufficientStock):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrDuplicateRequest):
		return status.Error(codes.AlreadyExists, "duplicate request")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.As(err, &perr):
		h.log.WithFields(logrus.Fields{"method": method, "stock_applied": perr.StockApplied}).WithError(err).Error("persistence failure")
		if perr.StockApplied {
			if record, merr := json.Marshal(perr.Record); merr == nil {
				if terr := grpc.SetTrailer(ctx, metadata.Pairs(UnsavedRecordTrailer, string(record))); terr != nil {
					h.log.WithField("method", method).WithError(terr).Warn("unsaved record trailer not set")
				}
			}
			return status.Error(codes.Internal, "storage failure: stock_applied=true")
		}
		return status.Error(codes.Internal, "storage failure")
	default:
		h.log.WithField("method", method).WithError(err).Error("request failed")
		return status.Error(codes.Internal, "internal error")
	}
}

func (h *GRPCHandler) CommitPurchase(ctx context.Context, req *domain.Purchase) (*Empty, error) {
	if err := h.svc.Ledger.CommitPurchase(ctx, *req); err != nil {
		return nil, h.toStatus(ctx, "CommitPurchase", err)
	}
	return &Empty{}, nil
}

func (h *GRPCHandler) CommitSale(ctx context.Context, req *domain.Sale) (*Empty, error) {
	if err := h.svc.Ledger.CommitSale(ctx, *req); err != nil {
		return nil, h.toStatus(ctx, "CommitSale", err)
	}
	return &Empty{}, nil
}

func withRequestID(ctx context.Context, id string) context.Context {
	if id = strings.TrimSpace(id); id != "" {
		return service.WithRequestID(ctx, id)
	}
	return ctx
}

func lineInputs(lines []LineMessage) []domain.LineInput {
	out := make([]domain.LineInput, 0, len(lines))
	for _, l := range lines {
		out = append(out, domain.LineInput{ItemID: l.ItemID, Quantity: l.Quantity, Price: l.Price})
	}
	return out
}
