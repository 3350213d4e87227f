package cmd

import (
	"net/http"

	"github.com/spf13/cobra"
)

// peersCmd represents the peers command
var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "Print the node's peers and remembered broadcast ids.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return send(cmd.OutOrStdout(), http.MethodGet, privateURL+"/v1/peers", nil)
	},
}

// connectCmd represents the connect command
var connectCmd = &cobra.Command{
	Use:   "connect <ws://host:port>",
	Short: "Ask the node to dial another peer.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := struct {
			Address string `json:"address"`
		}{
			Address: args[0],
		}
		return send(cmd.OutOrStdout(), http.MethodPost, privateURL+"/v1/peers", body)
	},
}

// broadcastCmd represents the broadcast command
var broadcastCmd = &cobra.Command{
	Use:   "broadcast <message>",
	Short: "Flood a message through the gossip network.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := struct {
			Message string `json:"message"`
		}{
			Message: args[0],
		}
		return send(cmd.OutOrStdout(), http.MethodPost, privateURL+"/v1/broadcast", body)
	},
}

func init() {
	rootCmd.AddCommand(peersCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(broadcastCmd)
}
