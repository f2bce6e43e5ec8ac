package grpcmw

import (
	"context"
	"net"

	"google.golang.org/grpc/peer"

	"github.com/krishna-kudari/governor/middleware"
)

func peerIP(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	if tcp, ok := p.Addr.(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	return middleware.HostIP(p.Addr.String())
}
