package signal

import (
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/protocol"
)

func (ctl *SignalWSController) handleJoin(
	sid domain.MemberID,
	client string,
	conn *WsSignalConn,
	msg protocol.Message,
) {
	key := client
	if key == "" {
		key = string(sid)
	}
	if !ctl.Limiter.Allow(key) {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Str("client", client).Msg("join rate limited")
		ctl.sendJSON(conn, protocol.Errorf("too many joins, slow down"))
		return
	}

	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", string(msg.Room)).Msg("join")
	if err := ctl.Relay.Join(sid, msg.Room); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("join failed")
		ctl.sendJSON(conn, protocol.Errorf("join failed: %v", err))
	}
}

// handleLeave leaves the current room; the connection stays open.
func (ctl *SignalWSController) handleLeave(sid domain.MemberID) {
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("leave")
	ctl.Relay.Leave(sid)
}
