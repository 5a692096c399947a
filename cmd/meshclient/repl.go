package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/dkeye/Mesh/internal/client/session"
)

const help = `commands:
  mute        toggle microphone
  video       toggle camera
  share       share the screen
  stopshare   go back to the camera
  peers       list peer links
  rejoin      rebuild every link
  join <room> join another room after leave
  leave       leave the room
  quit        leave and exit`

// Controls is what the prompt drives; *session.Session implements it.
type Controls interface {
	Join(room string) error
	Leave() error
	Rejoin() error
	Snapshot() (session.Snapshot, error)
	ToggleMute() bool
	ToggleVideo() bool
	ShareScreen(ctx context.Context) error
	StopShare() error
}

func repl(ctx context.Context, s Controls, in *inbound, r io.Reader, w io.Writer) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	fmt.Fprintln(w, `type "help" for commands`)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := execute(ctx, s, in, w, strings.Fields(line))
			if err != nil {
				fmt.Fprintln(w, "error:", err)
			}
			if quit {
				return nil
			}
		}
	}
}

func execute(ctx context.Context, s Controls, in *inbound, w io.Writer, args []string) (bool, error) {
	if len(args) == 0 {
		return false, nil
	}
	switch args[0] {
	case "help":
		fmt.Fprintln(w, help)
	case "mute":
		fmt.Fprintln(w, "muted:", s.ToggleMute())
	case "video":
		fmt.Fprintln(w, "video:", s.ToggleVideo())
	case "share":
		return false, s.ShareScreen(ctx)
	case "stopshare":
		return false, s.StopShare()
	case "peers":
		snap, err := s.Snapshot()
		if err != nil {
			return false, err
		}
		renderPeers(w, snap, in)
	case "rejoin":
		return false, s.Rejoin()
	case "join":
		if len(args) != 2 {
			return false, fmt.Errorf("usage: join <room>")
		}
		return false, s.Join(args[1])
	case "leave":
		return false, s.Leave()
	case "quit", "exit":
		return true, s.Leave()
	default:
		return false, fmt.Errorf("unknown command %q", args[0])
	}
	return false, nil
}
