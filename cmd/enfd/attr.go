// cmd/enfd/attr.go
package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"accessorycard-go/bus"
	"accessorycard-go/errcode"
	"accessorycard-go/services/accessory"
	"accessorycard-go/types"
	"accessorycard-go/x/strx"

	"github.com/spf13/cobra"
)

const requestTimeout = 5 * time.Second

func waitReady(ctx context.Context, sub *bus.Subscription, done <-chan error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-done:
			if err == nil {
				err = errcode.NotReady
			}
			return err
		case m := <-sub.Channel():
			st, ok := m.Payload.(types.ServiceState)
			if !ok {
				continue
			}
			switch st.Level {
			case "ready", "degraded":
				return nil
			}
		}
	}
}

func request(ctx context.Context, conn *bus.Connection, topic bus.Topic, payload any) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	m, err := conn.RequestWait(ctx, conn.NewMessage(topic, payload, false))
	if err != nil {
		return nil, errcode.Wrap(errcode.Timeout, "request", err)
	}
	if e, ok := m.Payload.(types.ErrorReply); ok {
		return nil, errcode.Code(e.Error)
	}
	return m.Payload, nil
}

func newAttrCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attr",
		Short: "Read and write card attributes",
		Long: `Attach the configured slots, perform one attribute operation, then release
everything. Paths are relative to the platform root, e.g. enf/reset or ap2/hw-version.
A stored value lasts only while the command runs: releasing the slot returns its
lines to their default levels. Use the accessory/attr/store topic of a running
enfd to hold a value.`,
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show <path>",
		Short: "Print an attribute value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, g, func(ctx context.Context, conn *bus.Connection) error {
				r, err := request(ctx, conn, accessory.AttrTopic("show"), types.AttrShow{Path: args[0]})
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), r.(types.AttrShowReply).Value)
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "store <path> <value>",
		Short: "Write an attribute value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, g, func(ctx context.Context, conn *bus.Connection) error {
				_, err := request(ctx, conn, accessory.AttrTopic("store"), types.AttrStore{Path: args[0], Value: args[1]})
				return err
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list [path]",
		Short: "List a node's entries",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return withService(cmd, g, func(ctx context.Context, conn *bus.Connection) error {
				r, err := request(ctx, conn, accessory.AttrTopic("list"), types.AttrList{Path: path})
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), strings.Join(r.(types.AttrListReply).Entries, "\n"))
				return nil
			})
		},
	})
	return cmd
}

func newSlotsCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "slots",
		Short: "Show what each accessory slot holds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(cmd, g, func(ctx context.Context, conn *bus.Connection) error {
				r, err := request(ctx, conn, accessory.SlotTopic("list"), nil)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				for _, s := range r.([]types.SlotEvent) {
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", s.Port, s.State, strx.Coalesce(s.ProductID, "-"), strx.Coalesce(s.Alias, "-"))
				}
				return nil
			})
		},
	}
}

