// Package control exposes the Process Factory's id -> status table as
// a gRPC server-streaming service, grounded on the teacher's
// DeliveryService.Stream (internal/handler/grpc/delivery.go):
// subscribe on connect, push until the client goes away.
package control

import (
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/hearthspace/hearth/internal/process"
)

// WatchRequest selects which process's status transitions to stream.
// A zero ProcessID returns one event per process from the factory-wide
// snapshot and then ends the stream; no later transitions are sent for
// it. A non-zero ProcessID sends that process's current status and then
// streams its transitions through a Subscribe channel.
type WatchRequest struct {
	ProcessID uint64 `json:"process_id"`
}

// StatusEvent is one id -> status transition, or (for ProcessID==0
// requests) one entry of the snapshot.
type StatusEvent struct {
	ProcessID uint64 `json:"process_id"`
	Status    string `json:"status"`
	Name      string `json:"name,omitempty"`
}

// Service implements the Watch RPC over a process.Factory.
type Service struct {
	logger  *slog.Logger
	factory *process.Factory
}

// NewService builds a control-plane service over factory.
func NewService(logger *slog.Logger, factory *process.Factory) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger, factory: factory}
}

func (s *Service) watch(stream grpc.ServerStream) error {
	var req WatchRequest
	if err := stream.RecvMsg(&req); err != nil {
		return status.Errorf(codes.InvalidArgument, "control: decode WatchRequest: %v", err)
	}

	if req.ProcessID == 0 {
		for id, st := range s.factory.Snapshot() {
			name := ""
			if rec, ok := s.factory.Record(id); ok {
				name = rec.Metadata.Name
			}
			if err := stream.SendMsg(&StatusEvent{ProcessID: id, Status: st.String(), Name: name}); err != nil {
				return err
			}
		}
		return nil
	}

	if st, ok := s.factory.Status(req.ProcessID); ok {
		name := ""
		if rec, ok := s.factory.Record(req.ProcessID); ok {
			name = rec.Metadata.Name
		}
		if err := stream.SendMsg(&StatusEvent{ProcessID: req.ProcessID, Status: st.String(), Name: name}); err != nil {
			return err
		}
	} else {
		return status.Errorf(codes.NotFound, "control: unknown process id %d", req.ProcessID)
	}

	ch, cancel := s.factory.Subscribe(req.ProcessID)
	defer cancel()

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case st, ok := <-ch:
			if !ok {
				return nil
			}
			if err := stream.SendMsg(&StatusEvent{ProcessID: req.ProcessID, Status: st.String()}); err != nil {
				return err
			}
		}
	}
}

// ServiceDesc is a hand-rolled grpc.ServiceDesc (no protoc-generated
// stub exists for this pack's retrieved files; see codec.go). Register
// with (*grpc.Server).RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "hearth.control.v1.Control",
	HandlerType: (*any)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName: "Watch",
			Handler: func(srv interface{}, stream grpc.ServerStream) error {
				return srv.(*Service).watch(stream)
			},
			ServerStreams: true,
		},
	},
	Metadata: "hearth/control.proto",
}

// Register attaches svc to server under ServiceDesc.
func Register(server *grpc.Server, svc *Service) {
	server.RegisterService(&ServiceDesc, svc)
}
