package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"
	"github.com/putto11262002/chatline/app"
	"github.com/putto11262002/chatline/core"
	"github.com/spf13/cobra"
)

const chatHelp = `Type a line to send it to the current room.
  /join <room id | #>   enter a room (leaves the current one)
  /leave                leave the current room
  /http <text>          send text with a request instead of the push channel
  /draft <text>         show <text> as being typed; /draft with no text clears it
  /rooms                list rooms
  /create <name>        create a room
  /who                  show who is online and typing
  /quit                 exit`

var errQuit = errors.New("quit")

var chatCmd = &cobra.Command{
	Use:   "chat [room id]",
	Short: "Opens an interactive chat session.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := startedApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		r := newREPL(a, cmd.InOrStdin(), cmd.OutOrStdout())
		if len(args) == 1 {
			if err := r.exec(cmd.Context(), "/join "+args[0]); err != nil {
				return err
			}
		}
		return r.run(cmd.Context())
	},
}

// repl reads commands from in and renders session changes to out.
type repl struct {
	app *app.App
	in  io.Reader

	mu  sync.Mutex
	out io.Writer
	// seen holds the ids of messages already printed for the current room.
	seen   map[string]bool
	room   string
	typing string

	torndown chan error
}

func newREPL(a *app.App, in io.Reader, out io.Writer) *repl {
	r := &repl{
		app:      a,
		in:       in,
		out:      out,
		seen:     make(map[string]bool),
		torndown: make(chan error, 1),
	}
	a.OnTeardown(func(err error) {
		select {
		case r.torndown <- err:
		default:
		}
	})
	return r
}

func (r *repl) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format, args...)
}

func (r *repl) run(ctx context.Context) error {
	session := r.app.Session()
	if session == nil {
		return core.ErrNoCredential
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go r.render(ctx, session)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	r.printf("Signed in as %s. Type /help for commands.\n", r.app.User().Username)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-r.torndown:
			r.printf("Session ended: %v\n", err)
			return err
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := r.exec(ctx, line); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				if errors.Is(err, core.ErrAuth) {
					return err
				}
				r.printf("! %v\n", err)
			}
		}
	}
}

// exec runs one input line.
func (r *repl) exec(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	session := r.app.Session()
	if session == nil {
		return core.ErrNoCredential
	}
	if !strings.HasPrefix(line, "/") {
		if session.State() == core.Idle {
			return core.ErrNotInRoom
		}
		return session.SendMessage(ctx, line, core.DeliverPush)
	}

	args, err := shellwords.Parse(line)
	if err != nil {
		return fmt.Errorf("parse command: %w", err)
	}
	rest := strings.TrimSpace(strings.TrimPrefix(line, args[0]))

	switch args[0] {
	case "/help":
		r.printf("%s\n", chatHelp)
	case "/quit", "/exit":
		return errQuit
	case "/join":
		if len(args) != 2 {
			return errors.New("usage: /join <room id | #>")
		}
		roomID := r.resolveRoom(args[1])
		if err := session.SelectRoom(ctx, roomID); err != nil {
			return err
		}
		if session.State() == core.Active {
			r.printf("Joined %s.\n", r.roomName(session.RoomID()))
		}
	case "/leave":
		if session.State() == core.Idle {
			return core.ErrNotInRoom
		}
		return session.LeaveCurrentRoom()
	case "/http":
		if session.State() == core.Idle {
			return core.ErrNotInRoom
		}
		return session.SendMessage(ctx, rest, core.DeliverRequest)
	case "/draft":
		return session.SetInput(rest)
	case "/rooms":
		rooms, err := r.app.RefreshRooms(ctx)
		if err != nil {
			return err
		}
		r.mu.Lock()
		printRooms(r.out, rooms)
		r.mu.Unlock()
	case "/create":
		if len(args) < 2 {
			return errors.New("usage: /create <name>")
		}
		room, err := r.app.CreateRoom(ctx, strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		r.printf("Created %s (%s).\n", room.Name, room.ID)
	case "/who":
		snap := session.Snapshot()
		if snap.State == core.Idle {
			return core.ErrNotInRoom
		}
		r.printf("%d online: %s\n", snap.OnlineCount(), strings.Join(onlineNames(snap), ", "))
		if typing := snap.TypingUsers(); len(typing) > 0 {
			r.printf("typing: %s\n", strings.Join(typing, ", "))
		}
	default:
		return fmt.Errorf("unknown command %s, try /help", args[0])
	}
	return nil
}

// resolveRoom accepts a room id or a 1-based index into the room list.
func (r *repl) resolveRoom(arg string) string {
	n, err := strconv.Atoi(strings.TrimPrefix(arg, "#"))
	if err != nil || core.ValidRoomID(arg) {
		return arg
	}
	rooms := r.app.Rooms()
	if n < 1 || n > len(rooms) {
		return arg
	}
	return rooms[n-1].ID
}

func (r *repl) roomName(id string) string {
	for _, room := range r.app.Rooms() {
		if room.ID == id {
			return room.Name
		}
	}
	return id
}

// render prints new messages and typing changes whenever the session
// reports an update.
func (r *repl) render(ctx context.Context, session *core.Session) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-session.Updates():
			r.draw(session.Snapshot())
		}
	}
}

func (r *repl) draw(snap core.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if snap.RoomID != r.room || snap.State == core.Idle {
		r.room = snap.RoomID
		r.typing = ""
		clear(r.seen)
	}
	for _, m := range snap.Messages {
		if r.seen[m.ID] {
			continue
		}
		r.seen[m.ID] = true
		fmt.Fprintf(r.out, "[%s] %s: %s\n", m.CreatedAt.Local().Format(time.TimeOnly), m.Sender.Username, m.Content)
	}

	typing := strings.Join(snap.TypingUsers(), ", ")
	if typing != r.typing {
		r.typing = typing
		if typing != "" {
			fmt.Fprintf(r.out, "… %s typing\n", typing)
		}
	}
}

func onlineNames(snap core.Snapshot) []string {
	names := make([]string, 0, len(snap.Presence))
	for id, name := range snap.Presence {
		if name == "" {
			name = id
		}
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
