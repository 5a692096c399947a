package main

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Mesh/internal/client/session"
	"github.com/dkeye/Mesh/internal/domain"
)

// inbound counts packets received per remote member.
type inbound struct {
	mu      sync.Mutex
	packets map[domain.MemberID]*atomic.Uint64
}

func newInbound() *inbound {
	return &inbound{packets: make(map[domain.MemberID]*atomic.Uint64)}
}

func (in *inbound) counter(remote domain.MemberID) *atomic.Uint64 {
	in.mu.Lock()
	defer in.mu.Unlock()
	c, ok := in.packets[remote]
	if !ok {
		c = &atomic.Uint64{}
		in.packets[remote] = c
	}
	return c
}

func (in *inbound) forget(remote domain.MemberID) {
	in.mu.Lock()
	delete(in.packets, remote)
	in.mu.Unlock()
}

func (in *inbound) count(remote domain.MemberID) uint64 {
	in.mu.Lock()
	defer in.mu.Unlock()
	if c, ok := in.packets[remote]; ok {
		return c.Load()
	}
	return 0
}

// drain reads a remote track until its link closes.
func (in *inbound) drain(remote domain.MemberID, t *webrtc.TrackRemote) {
	c := in.counter(remote)
	for {
		if _, _, err := t.ReadRTP(); err != nil {
			return
		}
		c.Add(1)
	}
}

func renderPeers(w io.Writer, snap session.Snapshot, in *inbound) {
	fmt.Fprintf(w, "%s room=%q self=%s media=%s muted=%t sharing=%t\n",
		snap.State, snap.Room, snap.Self, snap.Media.Mode, snap.Media.Muted, snap.Media.Sharing)

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "Remote", "Role", "State", "Video", "Packets in"})
	for i, l := range snap.Links {
		t.AppendRow(table.Row{i + 1, l.Remote, l.Role, l.State, l.VideoID, in.count(l.Remote)})
	}
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 6, Align: text.AlignRight}})
	t.Render()
}
