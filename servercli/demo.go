package servercli

import (
	"encoding/hex"
	"fmt"
	"net"

	"github.com/jzj1993/socketserver/interface/tcp"
	"github.com/jzj1993/socketserver/lib/logger"
)

// DemoHandler logs every event and answers each received chunk with a fixed reply
type DemoHandler struct {
	reply []byte
	allow map[string]struct{}
}

// NewDemoHandler decodes replyHex, allowFrom lists the peer IPs accepted, empty accepts all
func NewDemoHandler(replyHex string, allowFrom []string) (*DemoHandler, error) {
	reply, err := hex.DecodeString(replyHex)
	if err != nil {
		return nil, fmt.Errorf("decode reply-hex: %w", err)
	}
	h := &DemoHandler{reply: reply}
	if len(allowFrom) > 0 {
		h.allow = make(map[string]struct{}, len(allowFrom))
		for _, ip := range allowFrom {
			h.allow[ip] = struct{}{}
		}
	}
	return h, nil
}

func hostOf(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

func (h *DemoHandler) OnConnect(conn tcp.Conn) {
	host := hostOf(conn.RemoteAddr())
	if h.allow != nil {
		if _, ok := h.allow[host]; !ok {
			logger.Warnf("Client %s rejected", host)
			conn.Stop()
			return
		}
	}
	logger.Infof("Client %s Connect", host)
}

func (h *DemoHandler) OnConnectFailed(err error) {
	logger.Warnf("Client Connect Failed: %v", err)
}

func (h *DemoHandler) OnReceive(conn tcp.Conn, b []byte) {
	logger.Infof("Client %s Send Data: %s", hostOf(conn.RemoteAddr()), hex.EncodeToString(b))
	conn.Send(h.reply)
}

func (h *DemoHandler) OnDisconnect(conn tcp.Conn) {
	logger.Infof("Client %s Disconnect", hostOf(conn.RemoteAddr()))
}

func (h *DemoHandler) OnServerStop() {
	logger.Info("--------Server Stopped--------")
}
