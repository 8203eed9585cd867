package handler

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"

	"github.com/stockledger/stockledger/internal/core/domain"
)

// CodecName is the content-subtype the Ledger service is served with.
// Clients select it with grpc.CallContentSubtype(CodecName).
const CodecName = "json"

// UnsavedRecordTrailer carries the JSON of a purchase or sale whose stock
// change was applied but whose append failed. Send it back through
// CommitPurchase or CommitSale.
const UnsavedRecordTrailer = "unsaved-record"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type LineMessage struct {
	ItemID   string `json:"itemId"`
	Quantity string `json:"quantity"`
	Price    string `json:"price"`
}

type RecordPurchaseRequest struct {
	RequestID  string        `json:"requestId"`
	SupplierID string        `json:"supplierId"`
	Date       string        `json:"date"`
	Items      []LineMessage `json:"items"`
	Notes      string        `json:"notes"`
}

type RecordSaleRequest struct {
	RequestID  string        `json:"requestId"`
	CustomerID string        `json:"customerId"`
	Date       string        `json:"date"`
	Items      []LineMessage `json:"items"`
	Notes      string        `json:"notes"`
}

type AdjustStockRequest struct {
	ItemID   string `json:"itemId"`
	Type     string `json:"type"`
	Quantity string `json:"quantity"`
	Reason   string `json:"reason"`
}

type Empty struct{}

type LowStockReply struct {
	Items []domain.Item `json:"items"`
}

type LedgerServer interface {
	RecordPurchase(context.Context, *RecordPurchaseRequest) (*domain.Purchase, error)
	RecordSale(context.Context, *RecordSaleRequest) (*domain.Sale, error)
	AdjustStock(context.Context, *AdjustStockRequest) (*domain.Item, error)
	Dashboard(context.Context, *Empty) (*domain.Dashboard, error)
	LowStock(context.Context, *Empty) (*LowStockReply, error)
	CommitPurchase(context.Context, *domain.Purchase) (*Empty, error)
	CommitSale(context.Context, *domain.Sale) (*Empty, error)
}

const ledgerServiceName = "stockledger.Ledger"

func RegisterLedgerServer(s grpc.ServiceRegistrar, srv LedgerServer) {
	s.RegisterService(&LedgerServiceDesc, srv)
}

// unary adapts a typed method to the grpc.MethodDesc handler signature.
func unary[Req any, Resp any](name string, call func(LedgerServer, context.Context, *Req) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(LedgerServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ledgerServiceName + "/" + name}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(LedgerServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var LedgerServiceDesc = grpc.ServiceDesc{
	ServiceName: ledgerServiceName,
	HandlerType: (*LedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("RecordPurchase", LedgerServer.RecordPurchase),
		unary("RecordSale", LedgerServer.RecordSale),
		unary("AdjustStock", LedgerServer.AdjustStock),
		unary("Dashboard", LedgerServer.Dashboard),
		unary("LowStock", LedgerServer.LowStock),
		unary("CommitPurchase", LedgerServer.CommitPurchase),
		unary("CommitSale", LedgerServer.CommitSale),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "stockledger/ledger",
}

// LedgerClient calls the Ledger service over a connection, always with the
// JSON content-subtype.
type LedgerClient struct {
	cc grpc.ClientConnInterface
}

func NewLedgerClient(cc grpc.ClientConnInterface) *LedgerClient {
	return &LedgerClient{cc: cc}
}

func (c *LedgerClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+ledgerServiceName+"/"+method, in, out, opts...)
}

func (c *LedgerClient) RecordPurchase(ctx context.Context, in *RecordPurchaseRequest, opts ...grpc.CallOption) (*domain.Purchase, error) {
	out := new(domain.Purchase)
	if err := c.invoke(ctx, "RecordPurchase", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *LedgerClient) RecordSale(ctx context.Context, in *RecordSaleRequest, opts ...grpc.CallOption) (*domain.Sale, error) {
	out := new(domain.Sale)
	if err := c.invoke(ctx, "RecordSale", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *LedgerClient) AdjustStock(ctx context.Context, in *AdjustStockRequest, opts ...grpc.CallOption) (*domain.Item, error) {
	out := new(domain.Item)
	if err := c.invoke(ctx, "AdjustStock", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *LedgerClient) Dashboard(ctx context.Context, opts ...grpc.CallOption) (*domain.Dashboard, error) {
	out := new(domain.Dashboard)
	if err := c.invoke(ctx, "Dashboard", &Empty{}, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *LedgerClient) LowStock(ctx context.Context, opts ...grpc.CallOption) (*LowStockReply, error) {
	out := new(LowStockReply)
	if err := c.invoke(ctx, "LowStock", &Empty{}, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *LedgerClient) CommitPurchase(ctx context.Context, in *domain.Purchase, opts ...grpc.CallOption) error {
	return c.invoke(ctx, "CommitPurchase", in, new(Empty), opts)
}

func (c *LedgerClient) CommitSale(ctx context.Context, in *domain.Sale, opts ...grpc.CallOption) error {
	return c.invoke(ctx, "CommitSale", in, new(Empty), opts)
}
