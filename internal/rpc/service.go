package rpc

import (
	"context"

	"google.golang.org/grpc"
)

const (
	statsServiceName     = "relaybalancer.Stats"
	schedulerServiceName = "relaybalancer.CoreScheduler"

	getStatsMethod = "/" + statsServiceName + "/GetStats"
	scheduleMethod = "/" + schedulerServiceName + "/Schedule"
)

// StatsServer is implemented by the data plane's statistics service.
type StatsServer interface {
	GetStats(context.Context, *StatsRequest) (*StatsResponse, error)
}

// CoreSchedulerServer is implemented by the data plane's core scheduler.
type CoreSchedulerServer interface {
	Schedule(context.Context, *CoreSchedRequest) (*CoreSchedResponse, error)
}

func RegisterStatsServer(s grpc.ServiceRegistrar, srv StatsServer) {
	s.RegisterService(&statsServiceDesc, srv)
}

func RegisterCoreSchedulerServer(s grpc.ServiceRegistrar, srv CoreSchedulerServer) {
	s.RegisterService(&schedulerServiceDesc, srv)
}

var statsServiceDesc = grpc.ServiceDesc{
	ServiceName: statsServiceName,
	HandlerType: (*StatsServer)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "GetStats",
		Handler:    getStatsHandler,
	}},
	Streams: []grpc.StreamDesc{},
}

var schedulerServiceDesc = grpc.ServiceDesc{
	ServiceName: schedulerServiceName,
	HandlerType: (*CoreSchedulerServer)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "Schedule",
		Handler:    scheduleHandler,
	}},
	Streams: []grpc.StreamDesc{},
}

func getStatsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(StatsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StatsServer).GetStats(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getStatsMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(StatsServer).GetStats(ctx, req.(*StatsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func scheduleHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CoreSchedRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CoreSchedulerServer).Schedule(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: scheduleMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CoreSchedulerServer).Schedule(ctx, req.(*CoreSchedRequest))
	}
	return interceptor(ctx, in, info, handler)
}
