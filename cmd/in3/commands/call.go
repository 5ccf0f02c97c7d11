package commands

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/incubed/in3-go/config"
	"github.com/incubed/in3-go/libs/log"
	"github.com/incubed/in3-go/types"
)

// MakeCallCommand constructs a command that sends a single verified
// request and prints its result.
func MakeCallCommand(conf *config.Config, logger log.Logger, newClient ClientProvider) *cobra.Command {
	var (
		sign       bool
		historic   bool
		signatures int
		indent     bool
	)
	cmd := &cobra.Command{
		Use:   "call <method> [params...]",
		Short: "Send a request and print the verified result",
		Long: `Send a request and print the verified result.

Params that are valid JSON are sent as they are, any other param is sent
as string. The request is retried on other nodes until a response verifies.`,
		Example: `in3 call eth_getBalance 0xac1b824795e1eb1f6e609fe0da9b9af8beaab60f latest
in3 --chain btc call getblockcount`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chainID, err := conf.ChainID()
			if err != nil {
				return err
			}
			proof, err := conf.Client.ProofMode()
			if err != nil {
				return err
			}
			params, err := parseParams(args[1:])
			if err != nil {
				return err
			}

			c, err := newClient(conf, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := c.Close(); err != nil {
					logger.Error("Failed to save client state", "err", err)
				}
			}()

			res, err := c.Execute(cmd.Context(), &types.Request{
				ID:         1,
				Method:     args[0],
				Params:     params,
				ChainID:    chainID,
				Proof:      proof,
				Sign:       sign,
				Historic:   historic,
				Finality:   conf.Client.Finality,
				Signatures: signatures,
			})
			if err != nil {
				return fmt.Errorf("%s failed: %w", args[0], err)
			}
			logger.Debug("Verified", "node", res.Node, "anchor", res.Anchor)

			out := res.Value
			if indent {
				var buf bytes.Buffer
				if err := json.Indent(&buf, res.Value, "", "  "); err == nil {
					out = buf.Bytes()
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().BoolVar(&sign, "sign", false, "sign the request with the configured signer key")
	cmd.Flags().BoolVar(&historic, "historic", false, "accept proofs for blocks far behind the trust anchor")
	cmd.Flags().IntVar(&signatures, "signatures", 0, "signer nodes asked to sign the block hash (0 = client default)")
	cmd.Flags().BoolVar(&indent, "indent", false, "indent JSON output")
	cmd.Flags().String("client.proof", conf.Client.Proof, "proof requested from nodes: none | standard | full")
	cmd.Flags().Uint64("client.finality", conf.Client.Finality, "blocks the node has to deliver on top of a proven block")
	return cmd
}
