package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/putto11262002/chatline/core"
	"github.com/spf13/cobra"
)

func printRooms(w io.Writer, rooms []core.Room) {
	if len(rooms) == 0 {
		fmt.Fprintln(w, "No rooms yet.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tID\tNAME\tMEMBERS")
	for i, r := range rooms {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\n", i+1, r.ID, r.Name, r.MemberCount())
	}
	tw.Flush()
}

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "Lists the rooms on the server.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		rooms, err := a.RefreshRooms(cmd.Context())
		if err != nil {
			return err
		}
		printRooms(cmd.OutOrStdout(), rooms)
		return nil
	},
}

var createRoomCmd = &cobra.Command{
	Use:   "create-room <name>",
	Short: "Creates a room.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		r, err := a.CreateRoom(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created %s (%s).\n", r.Name, r.ID)
		return nil
	},
}
