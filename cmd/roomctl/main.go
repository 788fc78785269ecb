// roomctl is a terminal client for a roundsync relay: create or join a
// room, watch its timers tick, and drive them from stdin.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/roundsync/internal/client"
	"github.com/mcdev12/roundsync/internal/room"
	"github.com/mcdev12/roundsync/internal/timer"
	"github.com/mcdev12/roundsync/internal/transport"
)

func main() {
	server := flag.String("server", "ws://localhost:8080/ws", "relay websocket URL")
	sessionPath := flag.String("session", "", "session file path (default ~/.roundsync/session.json)")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sessions, err := room.NewStore(*sessionPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open session store")
	}

	adapter := transport.NewWSAdapter(transport.Config{URL: *server}, clockwork.NewRealClock())
	engine := client.New(adapter, clockwork.NewRealClock(), sessions)
	if err := engine.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start engine")
	}
	defer engine.Stop()

	switch flag.Arg(0) {
	case "create":
		joinCtx, joinCancel := context.WithTimeout(ctx, 10*time.Second)
		defer joinCancel()
		s, err := engine.CreateRoom(joinCtx)
		if err != nil {
			log.Fatal().Err(err).Msg("create room failed")
		}
		fmt.Printf("room created\n  edit code: %s\n  view code: %s\n", s.EditCode, s.ViewCode)

	case "join":
		if flag.Arg(1) == "" {
			fmt.Fprintln(os.Stderr, "usage: roomctl join CODE")
			os.Exit(2)
		}
		joinCtx, joinCancel := context.WithTimeout(ctx, 10*time.Second)
		defer joinCancel()
		s, err := engine.JoinRoom(joinCtx, flag.Arg(1))
		if err != nil {
			log.Fatal().Err(err).Msg("join room failed")
		}
		fmt.Printf("joined room with %s access\n", s.Mode)

	case "watch", "":
		// Fall through to the watch loop with whatever session persisted.

	default:
		fmt.Fprintln(os.Stderr, "usage: roomctl [-server URL] [create|join CODE|watch]")
		os.Exit(2)
	}

	watch(ctx, engine)
}

func watch(ctx context.Context, engine *client.Engine) {
	commands := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			commands <- scanner.Text()
		}
		close(commands)
	}()

	fmt.Println(`commands: add NAME ROUNDS MINUTES | start N | pause N | next N | prev N | +N/-N (minutes, timer 1) | leave | quit`)

	render(engine)
	for {
		select {
		case <-ctx.Done():
			return
		case <-engine.Updates():
			render(engine)
		case line, ok := <-commands:
			if !ok {
				return
			}
			if quit := handleCommand(ctx, engine, line); quit {
				return
			}
			render(engine)
		}
	}
}

func render(engine *client.Engine) {
	views := engine.Snapshot()
	session := engine.SessionInfo()

	fmt.Print("\033[2J\033[H")
	if !session.InRoom() {
		fmt.Println("not in a room (roomctl create, or roomctl join CODE)")
		return
	}
	fmt.Printf("room %s (%s access)\n\n", session.ActiveCode(), session.Mode)

	if len(views) == 0 {
		fmt.Println("no timers yet")
		return
	}
	for i, v := range views {
		round := fmt.Sprintf("round %d/%d", v.CurrentRound, v.Rounds)
		if v.CurrentRound == 0 {
			round = "draft"
		}
		state := "paused"
		if v.Running {
			state = "running"
		}
		if v.Overtime {
			state += " OVERTIME"
		}
		fmt.Printf("%2d. %-24s %-12s %8s  finish ~%s  [%s]\n",
			i+1, v.EventName, round, timer.FormatRemaining(v.Remaining),
			v.EstimatedFinish.Format("15:04"), state)
	}
}

func handleCommand(ctx context.Context, engine *client.Engine, line string) (quit bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	var err error
	switch fields[0] {
	case "quit", "q":
		return true

	case "leave":
		engine.LeaveRoom()

	case "add":
		if len(fields) != 4 {
			err = fmt.Errorf("usage: add NAME ROUNDS MINUTES")
			break
		}
		rounds, _ := strconv.Atoi(fields[2])
		minutes, _ := strconv.Atoi(fields[3])
		_, err = engine.AddTimer(ctx, timer.Spec{
			EventName: fields[1],
			Rounds:    rounds,
			RoundTime: timer.Minutes(minutes),
		})

	case "start", "pause", "next", "prev":
		views := engine.Snapshot()
		n, convErr := strconv.Atoi(fields[len(fields)-1])
		if convErr != nil || n < 1 || n > len(views) {
			err = fmt.Errorf("no such timer")
			break
		}
		id := views[n-1].ID
		switch fields[0] {
		case "start":
			err = engine.StartTimer(ctx, id)
		case "pause":
			err = engine.PauseTimer(ctx, id)
		case "next":
			err = engine.NextRound(ctx, id)
		case "prev":
			err = engine.PreviousRound(ctx, id)
		}

	default:
		if minutes, convErr := strconv.Atoi(fields[0]); convErr == nil {
			views := engine.Snapshot()
			if len(views) == 0 {
				err = fmt.Errorf("no timers")
				break
			}
			err = engine.AdjustTime(ctx, views[0].ID, timer.Minutes(minutes))
		} else {
			err = fmt.Errorf("unknown command %q", fields[0])
		}
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	return false
}
