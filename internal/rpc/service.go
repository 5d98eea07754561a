// internal/rpc/service.go
package rpc

import (
	"context"
	"time"

	perr "priceest/internal/errors"
	"priceest/internal/model"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	ServiceName             = "priceest.PriceEstimation"
	FullMethodEstimatePrice = "/" + ServiceName + "/EstimatePrice"
)

// Estimator 는 wire 요청 1건을 처리한다 (*estimator.Service).
type Estimator interface {
	Estimate(ctx context.Context, req *model.EstimatePriceRequest) (*model.EstimatePriceResponse, error)
}

// PriceEstimationServer 는 ServiceDesc 의 HandlerType.
type PriceEstimationServer interface {
	EstimatePrice(ctx context.Context, req *model.EstimatePriceRequest) (*model.EstimatePriceResponse, error)
}

// ServiceDesc
// ------------------------------------------------------------
// protoc 없이 손으로 작성한 서비스 정의. 메시지는 JSON codec 으로만 오간다.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PriceEstimationServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "EstimatePrice",
			Handler:    estimatePriceHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "priceest/estimate.proto",
}

func estimatePriceHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(model.EstimatePriceRequest)
	if err := dec(in); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "malformed request: %v", err)
	}
	if interceptor == nil {
		return srv.(PriceEstimationServer).EstimatePrice(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: FullMethodEstimatePrice,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PriceEstimationServer).EstimatePrice(ctx, req.(*model.EstimatePriceRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// priceService 는 Estimator 를 gRPC 메서드로 노출한다.
type priceService struct {
	est     Estimator
	timeout time.Duration
}

func (p *priceService) EstimatePrice(ctx context.Context, req *model.EstimatePriceRequest) (*model.EstimatePriceResponse, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	resp, err := p.est.Estimate(ctx, req)
	if err != nil {
		return nil, ToStatus(err)
	}
	return resp, nil
}

// ToStatus 는 perr 코드를 gRPC status 로 바꾼다.
// 코드 없는 context 에러는 Deadline/Canceled 로 보정한다.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok && perr.CodeOf(err) == perr.ErrorCodeUnknown {
		return err
	}
	if perr.CodeOf(err) == perr.ErrorCodeUnknown {
		if ctxErr := perr.FromContext(err); perr.CodeOf(ctxErr) != perr.ErrorCodeUnknown {
			err = ctxErr
		}
	}
	return status.Error(perr.GRPCCode(perr.CodeOf(err)), err.Error())
}
