package commands

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/incubed/in3-go/config"
	"github.com/incubed/in3-go/libs/cli"
	"github.com/incubed/in3-go/libs/log"
	"github.com/incubed/in3-go/light/nodelist"
)

type nodeInfo struct {
	URL          string        `json:"url"`
	Address      string        `json:"address"`
	Weight       float64       `json:"weight"`
	Seed         bool          `json:"seed,omitempty"`
	Blacklisted  bool          `json:"blacklisted,omitempty"`
	Failures     int           `json:"failures,omitempty"`
	Responses    uint64        `json:"responses"`
	ResponseTime time.Duration `json:"avgResponseTime"`
}

func toNodeInfo(e nodelist.Entry, now time.Time) nodeInfo {
	return nodeInfo{
		URL:          e.Node.URL,
		Address:      e.Node.Address.Hex(),
		Weight:       e.Weight,
		Seed:         e.Seed,
		Blacklisted:  e.Blacklisted(now),
		Failures:     e.Failures,
		Responses:    e.Responses,
		ResponseTime: e.AvgResponseTime(),
	}
}

// MakeNodesCommand constructs a command that lists the known nodes of the
// chain together with their reputation.
func MakeNodesCommand(conf *config.Config, logger log.Logger, newClient ClientProvider) *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "nodes",
		Short: "List the nodes of the chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			chainID, err := conf.ChainID()
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

			if refresh {
				nl, err := c.RefreshNodeList(cmd.Context(), chainID)
				if err != nil {
					return fmt.Errorf("refreshing node list: %w", err)
				}
				logger.Info("Refreshed node list", "nodes", len(nl.Nodes), "block", nl.LastBlockNumber)
			}

			entries, err := c.Nodes(chainID)
			if err != nil {
				return err
			}
			now := time.Now()
			infos := make([]nodeInfo, len(entries))
			for i, e := range entries {
				infos[i] = toNodeInfo(e, now)
			}

			out, _ := cmd.Flags().GetString(cli.OutputFlag)
			if out == "json" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(infos)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "URL\tWEIGHT\tRESPONSES\tAVG TIME\tSTATE")
			for _, n := range infos {
				state := "ok"
				switch {
				case n.Blacklisted:
					state = "blacklisted"
				case n.Seed:
					state = "seed"
				}
				fmt.Fprintf(tw, "%s\t%.3f\t%d\t%v\t%s\n", n.URL, n.Weight, n.Responses, n.ResponseTime, state)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "fetch and verify the current node list first")
	cmd.Flags().StringP(cli.OutputFlag, "o", "text", "output format: text | json")
	return cmd
}
