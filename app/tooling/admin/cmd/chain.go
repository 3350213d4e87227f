package cmd

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"
)

// chainCmd represents the chain command
var chainCmd = &cobra.Command{
	Use:   "chain",
	Short: "Print every block in the chain.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return send(cmd.OutOrStdout(), http.MethodGet, publicURL+"/v1/blockchain", nil)
	},
}

// blockCmd represents the block command
var blockCmd = &cobra.Command{
	Use:   "block <height>",
	Short: "Print the block at the specified height.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		height, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid height %q", args[0])
		}
		return send(cmd.OutOrStdout(), http.MethodGet, fmt.Sprintf("%s/v1/block/%d", publicURL, height), nil)
	},
}

// validateCmd represents the validate command
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the integrity of the whole chain.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return send(cmd.OutOrStdout(), http.MethodGet, publicURL+"/v1/validate", nil)
	},
}

var data string

// mineCmd represents the mine command
var mineCmd = &cobra.Command{
	Use:   "mine",
	Short: "Mine a block and append it to the chain.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if data == "" {
			return send(cmd.OutOrStdout(), http.MethodGet, publicURL+"/v1/nextblock", nil)
		}

		body := struct {
			Data string `json:"data"`
		}{
			Data: data,
		}
		return send(cmd.OutOrStdout(), http.MethodPost, publicURL+"/v1/blocks", body)
	},
}

func init() {
	rootCmd.AddCommand(chainCmd)
	rootCmd.AddCommand(blockCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(mineCmd)
	mineCmd.Flags().StringVarP(&data, "data", "d", "", "Data to store in the block, random when empty.")
}
