package signal

import (
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/protocol"
)

// sendWelcome tells the client its member id before anything else.
func (ctl *SignalWSController) sendWelcome(sid domain.MemberID, conn *WsSignalConn) {
	ctl.sendJSON(conn, protocol.Welcome(sid))
}
