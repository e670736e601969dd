package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"

	grpcadapter "github.com/recoverly/golang_services/internal/collections_service/adapters/grpc"
)

func threadCmd() *cobra.Command {
	var (
		addr       string
		references bool
		timeout    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "thread <thread-id>",
		Short: "Show a thread through the ConversationQuery gRPC service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			conn, err := grpc.DialContext(ctx, addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return fmt.Errorf("dialing %s: %w", addr, err)
			}
			defer conn.Close()
			client := grpcadapter.NewConversationQueryClient(conn)

			call := client.GetThread
			if references {
				call = client.GetReferencesChain
			}
			resp, err := call(ctx, args[0])
			if err != nil {
				return err
			}
			out, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(resp)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "localhost:50061", "collections service gRPC address")
	cmd.Flags().BoolVar(&references, "references", false, "print the References chain instead of the thread")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")
	return cmd
}
