package api

import (
	"context"
	"io"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-investigator/internal/config"
)

type stubInvestigator struct{}

func (stubInvestigator) Investigate(req *structpb.Struct, stream InvestigateStream) error {
	for i := 0; i < 3; i++ {
		ev, err := structpb.NewStruct(map[string]any{"seq": float64(i + 1), "question": req.GetFields()["question"].GetStringValue()})
		if err != nil {
			return err
		}
		if err := stream.Send(ev); err != nil {
			return err
		}
	}
	return nil
}

func (stubInvestigator) ListRuns(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"runs": []any{}})
}

func (stubInvestigator) GetPatterns(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	panic("pattern store corrupted")
}

func (stubInvestigator) CloseInvestigation(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"accepted": true})
}

func (stubInvestigator) ListScope(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"services": []any{ServiceFromStruct(req)}})
}

func startTestServer(t *testing.T) *grpc.ClientConn {
	t.Helper()
	srv, err := NewServer(config.ServerConfig{Address: "127.0.0.1:0", GracefulTimeout: time.Second}, nil, stubInvestigator{})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	go func() { _ = srv.Start() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), srv.GracefulTimeout())
		defer cancel()
		srv.Shutdown(ctx)
	})

	conn, err := grpc.NewClient(srv.Address(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestServerUnaryMethod(t *testing.T) {
	conn := startTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	in, _ := structpb.NewStruct(map[string]any{"service": "checkout"})
	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, "/"+ServiceName+"/ListScope", in, out); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	services := out.GetFields()["services"].GetListValue().GetValues()
	if len(services) != 1 || services[0].GetStringValue() != "checkout" {
		t.Fatalf("unexpected services: %v", services)
	}
}

func TestServerInvestigateStream(t *testing.T) {
	conn := startTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	desc := &InvestigatorServiceDesc.Streams[0]
	stream, err := conn.NewStream(ctx, desc, "/"+ServiceName+"/Investigate")
	if err != nil {
		t.Fatalf("new stream: %v", err)
	}
	in, _ := structpb.NewStruct(map[string]any{"question": "why"})
	if err := stream.SendMsg(in); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := stream.CloseSend(); err != nil {
		t.Fatalf("close send: %v", err)
	}

	var seqs []float64
	for {
		ev := new(structpb.Struct)
		err := stream.RecvMsg(ev)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		seqs = append(seqs, ev.GetFields()["seq"].GetNumberValue())
	}
	if len(seqs) != 3 || seqs[0] != 1 || seqs[2] != 3 {
		t.Fatalf("unexpected events: %v", seqs)
	}
}

func TestServerRecoversPanics(t *testing.T) {
	conn := startTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	in, _ := structpb.NewStruct(map[string]any{})
	err := conn.Invoke(ctx, "/"+ServiceName+"/GetPatterns", in, new(structpb.Struct))
	if status.Code(err) != codes.Internal {
		t.Fatalf("expected internal error, got %v", err)
	}
}
