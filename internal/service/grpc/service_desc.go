package grpcsvc

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName: полное имя gRPC-сервиса витрины.
const ServiceName = "storefront.v1.StorefrontService"

const (
	methodListProducts   = "/" + ServiceName + "/ListProducts"
	methodGetProduct     = "/" + ServiceName + "/GetProduct"
	methodGetCart        = "/" + ServiceName + "/GetCart"
	methodAddItem        = "/" + ServiceName + "/AddItem"
	methodUpdateQuantity = "/" + ServiceName + "/UpdateQuantity"
	methodRemoveItem     = "/" + ServiceName + "/RemoveItem"
	methodClearCart      = "/" + ServiceName + "/ClearCart"
	methodBeginCheckout  = "/" + ServiceName + "/BeginCheckout"
	methodSubmitShipping = "/" + ServiceName + "/SubmitShipping"
	methodCheckoutBack   = "/" + ServiceName + "/CheckoutBack"
	methodSubmitPayment  = "/" + ServiceName + "/SubmitPayment"
	methodGetCheckout    = "/" + ServiceName + "/GetCheckout"
	methodCancelCheckout = "/" + ServiceName + "/CancelCheckout"
)

// StorefrontServiceServer: серверная часть API витрины.
type StorefrontServiceServer interface {
	ListProducts(context.Context, *ListProductsRequest) (*ListProductsResponse, error)
	GetProduct(context.Context, *GetProductRequest) (*GetProductResponse, error)
	GetCart(context.Context, *GetCartRequest) (*CartResponse, error)
	AddItem(context.Context, *AddItemRequest) (*CartResponse, error)
	UpdateQuantity(context.Context, *UpdateQuantityRequest) (*CartResponse, error)
	RemoveItem(context.Context, *RemoveItemRequest) (*CartResponse, error)
	ClearCart(context.Context, *ClearCartRequest) (*CartResponse, error)
	BeginCheckout(context.Context, *BeginCheckoutRequest) (*CheckoutResponse, error)
	SubmitShipping(context.Context, *SubmitShippingRequest) (*CheckoutResponse, error)
	CheckoutBack(context.Context, *CheckoutBackRequest) (*CheckoutResponse, error)
	SubmitPayment(context.Context, *SubmitPaymentRequest) (*CheckoutResponse, error)
	GetCheckout(context.Context, *GetCheckoutRequest) (*CheckoutResponse, error)
	CancelCheckout(context.Context, *CancelCheckoutRequest) (*CheckoutResponse, error)
}

// StorefrontService_ServiceDesc описывает сервис для grpc.Server.
//
//nolint:revive,stylecheck // имя повторяет соглашение protoc-gen-go-grpc.
var StorefrontService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*StorefrontServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListProducts", Handler: unaryHandler(methodListProducts, StorefrontServiceServer.ListProducts)},
		{MethodName: "GetProduct", Handler: unaryHandler(methodGetProduct, StorefrontServiceServer.GetProduct)},
		{MethodName: "GetCart", Handler: unaryHandler(methodGetCart, StorefrontServiceServer.GetCart)},
		{MethodName: "AddItem", Handler: unaryHandler(methodAddItem, StorefrontServiceServer.AddItem)},
		{MethodName: "UpdateQuantity", Handler: unaryHandler(methodUpdateQuantity, StorefrontServiceServer.UpdateQuantity)},
		{MethodName: "RemoveItem", Handler: unaryHandler(methodRemoveItem, StorefrontServiceServer.RemoveItem)},
		{MethodName: "ClearCart", Handler: unaryHandler(methodClearCart, StorefrontServiceServer.ClearCart)},
		{MethodName: "BeginCheckout", Handler: unaryHandler(methodBeginCheckout, StorefrontServiceServer.BeginCheckout)},
		{MethodName: "SubmitShipping", Handler: unaryHandler(methodSubmitShipping, StorefrontServiceServer.SubmitShipping)},
		{MethodName: "CheckoutBack", Handler: unaryHandler(methodCheckoutBack, StorefrontServiceServer.CheckoutBack)},
		{MethodName: "SubmitPayment", Handler: unaryHandler(methodSubmitPayment, StorefrontServiceServer.SubmitPayment)},
		{MethodName: "GetCheckout", Handler: unaryHandler(methodGetCheckout, StorefrontServiceServer.GetCheckout)},
		{MethodName: "CancelCheckout", Handler: unaryHandler(methodCancelCheckout, StorefrontServiceServer.CancelCheckout)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "storefront/v1/storefront_service",
}

// RegisterStorefrontServiceServer регистрирует реализацию на сервере.
func RegisterStorefrontServiceServer(s grpc.ServiceRegistrar, srv StorefrontServiceServer) {
	s.RegisterService(&StorefrontService_ServiceDesc, srv)
}

func unaryHandler[Req, Resp any](
	fullMethod string,
	call func(StorefrontServiceServer, context.Context, *Req) (*Resp, error),
) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(StorefrontServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(StorefrontServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// StorefrontServiceClient: клиент API витрины поверх JSON-кодека.
type StorefrontServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewStorefrontServiceClient создаёт клиента для соединения cc.
func NewStorefrontServiceClient(cc grpc.ClientConnInterface) *StorefrontServiceClient {
	return &StorefrontServiceClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	callOpts := append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, method, in, out, callOpts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *StorefrontServiceClient) ListProducts(ctx context.Context, in *ListProductsRequest, opts ...grpc.CallOption) (*ListProductsResponse, error) {
	return invoke[ListProductsResponse](ctx, c.cc, methodListProducts, in, opts)
}

func (c *StorefrontServiceClient) GetProduct(ctx context.Context, in *GetProductRequest, opts ...grpc.CallOption) (*GetProductResponse, error) {
	return invoke[GetProductResponse](ctx, c.cc, methodGetProduct, in, opts)
}

func (c *StorefrontServiceClient) GetCart(ctx context.Context, in *GetCartRequest, opts ...grpc.CallOption) (*CartResponse, error) {
	return invoke[CartResponse](ctx, c.cc, methodGetCart, in, opts)
}

func (c *StorefrontServiceClient) AddItem(ctx context.Context, in *AddItemRequest, opts ...grpc.CallOption) (*CartResponse, error) {
	return invoke[CartResponse](ctx, c.cc, methodAddItem, in, opts)
}

func (c *StorefrontServiceClient) UpdateQuantity(ctx context.Context, in *UpdateQuantityRequest, opts ...grpc.CallOption) (*CartResponse, error) {
	return invoke[CartResponse](ctx, c.cc, methodUpdateQuantity, in, opts)
}

func (c *StorefrontServiceClient) RemoveItem(ctx context.Context, in *RemoveItemRequest, opts ...grpc.CallOption) (*CartResponse, error) {
	return invoke[CartResponse](ctx, c.cc, methodRemoveItem, in, opts)
}

func (c *StorefrontServiceClient) ClearCart(ctx context.Context, in *ClearCartRequest, opts ...grpc.CallOption) (*CartResponse, error) {
	return invoke[CartResponse](ctx, c.cc, methodClearCart, in, opts)
}

func (c *StorefrontServiceClient) BeginCheckout(ctx context.Context, in *BeginCheckoutRequest, opts ...grpc.CallOption) (*CheckoutResponse, error) {
	return invoke[CheckoutResponse](ctx, c.cc, methodBeginCheckout, in, opts)
}

func (c *StorefrontServiceClient) SubmitShipping(ctx context.Context, in *SubmitShippingRequest, opts ...grpc.CallOption) (*CheckoutResponse, error) {
	return invoke[CheckoutResponse](ctx, c.cc, methodSubmitShipping, in, opts)
}

func (c *StorefrontServiceClient) CheckoutBack(ctx context.Context, in *CheckoutBackRequest, opts ...grpc.CallOption) (*CheckoutResponse, error) {
	return invoke[CheckoutResponse](ctx, c.cc, methodCheckoutBack, in, opts)
}

func (c *StorefrontServiceClient) SubmitPayment(ctx context.Context, in *SubmitPaymentRequest, opts ...grpc.CallOption) (*CheckoutResponse, error) {
	return invoke[CheckoutResponse](ctx, c.cc, methodSubmitPayment, in, opts)
}

func (c *StorefrontServiceClient) GetCheckout(ctx context.Context, in *GetCheckoutRequest, opts ...grpc.CallOption) (*CheckoutResponse, error) {
	return invoke[CheckoutResponse](ctx, c.cc, methodGetCheckout, in, opts)
}

func (c *StorefrontServiceClient) CancelCheckout(ctx context.Context, in *CancelCheckoutRequest, opts ...grpc.CallOption) (*CheckoutResponse, error) {
	return invoke[CheckoutResponse](ctx, c.cc, methodCancelCheckout, in, opts)
}
