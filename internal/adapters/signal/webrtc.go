package signal

import (
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/protocol"
)

// handleRelay forwards an offer, answer or candidate untouched. Dropped
// messages get no reply: the addressee may simply have left.
func (ctl *SignalWSController) handleRelay(sid domain.MemberID, msg protocol.Message) {
	if msg.To == "" {
		log.Debug().Str("module", "signal").Str("sid", string(sid)).Msg("signal without addressee")
		return
	}
	if !ctl.Relay.Signal(sid, msg.To, msg.Room, msg.Data) {
		log.Debug().Str("module", "signal").Str("from", string(sid)).Str("to", string(msg.To)).Msg("signal dropped")
	}
}
